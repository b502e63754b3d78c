package runcmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/quailyquaily/slackdatabot/internal/configutil"
	"github.com/quailyquaily/slackdatabot/internal/httpapi"
	"github.com/quailyquaily/slackdatabot/internal/slackapi"
	"github.com/quailyquaily/slackdatabot/scheduler"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll Slack for unanswered data questions and send drafts for review",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := loggerFromViper()
			if err != nil {
				return err
			}
			cfg, err := configFromViper()
			if err != nil {
				return err
			}
			cfg.Server.Listen = strings.TrimSpace(configutil.FlagOrViperString(cmd, "listen", "server.listen"))
			schedule := strings.TrimSpace(configutil.FlagOrViperString(cmd, "schedule", "monitoring.schedule"))
			if interval := configutil.FlagOrViperDuration(cmd, "poll-interval", ""); interval > 0 {
				cfg.Monitoring.PollInterval = interval
			}

			if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
				logger.Info("run_dry_run_ok",
					"channels", len(cfg.Monitoring.Channels),
					"backend", cfg.Engine.Backend,
					"delivery_mode", cfg.Delivery.Mode,
				)
				fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
				return nil
			}
			if err := checkCredentials(cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := buildRuntime(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			me, err := rt.slack.AuthTest(ctx)
			if err != nil {
				return fmt.Errorf("slack auth.test: %w", err)
			}
			logger.Info("run_slack_identity", "team_id", me.TeamID, "user_id", me.UserID, "bot_id", me.BotID)

			if once, _ := cmd.Flags().GetBool("once"); once {
				n := rt.bot.PollCycle(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "processed %d question(s)\n", n)
				return nil
			}

			sched, err := scheduler.New(rt.bot.Run, scheduler.Config{
				Interval:       cfg.Monitoring.PollInterval,
				Schedule:       schedule,
				RunImmediately: true,
			}, logger)
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			if err := sched.Start(gctx); err != nil {
				return err
			}
			g.Go(func() error {
				sched.Wait()
				return nil
			})

			if rt.slack.HasAppToken() {
				g.Go(func() error {
					return rt.slack.Listen(gctx, logger, func(env slackapi.Envelope) error {
						return rt.handleEnvelope(gctx, env)
					})
				})
			} else {
				logger.Info("run_poll_only", "reason", "slack.app_token not set; approval buttons are inactive")
			}

			if cfg.Server.Listen != "" {
				_, err := httpapi.StartServer(gctx, logger, httpapi.ServerOptions{
					Listen: cfg.Server.Listen,
					Routes: httpapi.RoutesOptions{
						AuthToken: cfg.Server.AuthToken,
						Pending:   httpapi.PendingFunc(rt.bot.Pending),
						Stats:     statsReader(rt),
						Status: func() map[string]any {
							out := rt.status()
							out["scheduler"] = sched.Status()
							return out
						},
						Trigger: sched.Trigger,
					},
				})
				if err != nil {
					stop()
					_ = g.Wait()
					return err
				}
			}

			logger.Info("run_started",
				"poll_interval", cfg.Monitoring.PollInterval.String(),
				"schedule", schedule,
				"listen", cfg.Server.Listen,
			)
			err = g.Wait()
			logger.Info("run_stopped")
			return err
		},
	}

	cmd.Flags().Bool("once", false, "Run a single poll cycle and exit.")
	cmd.Flags().Bool("dry-run", false, "Validate configuration and exit.")
	cmd.Flags().String("listen", "", "Status API listen address, e.g. 127.0.0.1:8787 (overrides server.listen).")
	cmd.Flags().String("schedule", "", "Five-field cron expression; overrides the poll interval.")
	cmd.Flags().Duration("poll-interval", 0, "Poll interval (overrides monitoring.poll_interval).")
	return cmd
}

func statsReader(rt *runtime) httpapi.StatsReader {
	if rt.tracker == nil {
		return nil
	}
	return rt.tracker
}
