package statscmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/quailyquaily/slackdatabot/internal/outputfmt"
	"github.com/quailyquaily/slackdatabot/internal/state"
	"github.com/quailyquaily/slackdatabot/learning"
)

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print usage stats for the last N days",
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetInt("days")
			if days < 1 {
				return fmt.Errorf("--days must be >= 1")
			}
			cfg, err := configFromViper()
			if err != nil {
				return err
			}
			if !cfg.Learning.Enabled {
				return fmt.Errorf("learning is disabled (learning.enabled=false)")
			}
			db, err := learning.Open(cmd.Context(), cfg.Learning.StorageDir)
			if err != nil {
				return err
			}
			defer db.Close()

			stats, err := learning.NewTracker(db, nil).Stats(cmd.Context(), days)
			if err != nil {
				return err
			}
			var cache *state.Stats
			if store, err := state.NewFileStore(cfg.Cache, nil); err == nil {
				s := store.Stats()
				cache = &s
			}
			return writeStats(cmd.OutOrStdout(), stats, cache)
		},
	}
	cmd.Flags().Int("days", learning.DefaultStatsDays, "Number of days to include, today counted.")
	return cmd
}

func writeStats(w io.Writer, stats learning.Stats, cache *state.Stats) error {
	doc := map[string]any{"usage": stats}
	if cache != nil {
		doc["cache"] = cache
	}
	out, err := outputfmt.JSON(doc)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, out)
	return err
}
