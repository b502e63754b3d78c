package reportcmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quailyquaily/slackdatabot/learning"
)

func newReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print the performance report with tuning recommendations",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			opt := learning.NewOptimizer(learning.NewTracker(db, nil), learning.NewFeedback(db, nil))
			report, err := opt.Report(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), report)
			return err
		},
	}
}
