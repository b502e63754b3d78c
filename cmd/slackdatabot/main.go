package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quailyquaily/slackdatabot/cmd/slackdatabot/reportcmd"
	"github.com/quailyquaily/slackdatabot/cmd/slackdatabot/runcmd"
	"github.com/quailyquaily/slackdatabot/cmd/slackdatabot/statscmd"
	"github.com/quailyquaily/slackdatabot/config"
	"github.com/quailyquaily/slackdatabot/internal/logutil"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "slackdatabot",
		Short:         "Answer data questions from Slack with reviewed, investigated drafts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			path, _ := cmd.Flags().GetString("config")
			used, err := config.Load(viper.GetViper(), path)
			if err != nil {
				return err
			}
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				viper.Set("logging.level", "debug")
			}
			if used != "" {
				viper.Set("config_path", used)
			}
			return nil
		},
	}
	root.PersistentFlags().String("config", "", "Path to config.yaml (default: $SLACK_DATA_BOT_CONFIG, ./config.yaml, ~/.slack-data-bot/config.yaml).")
	root.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging.")

	root.AddCommand(runcmd.NewCommand(runcmd.Dependencies{
		LoggerFromViper: logutil.LoggerFromViper,
		ConfigFromViper: configFromViper,
	}))
	root.AddCommand(statscmd.NewCommand(statscmd.Dependencies{
		ConfigFromViper: configFromViper,
	}))
	root.AddCommand(reportcmd.NewCommand(reportcmd.Dependencies{
		ConfigFromViper: configFromViper,
	}))
	return root
}

func configFromViper() (config.Config, error) {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	if p := strings.TrimSpace(viper.GetString("config_path")); p != "" {
		slog.Debug("config_loaded", "path", p)
	}
	return cfg, nil
}
