package runcmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/quailyquaily/slackdatabot/bot"
	"github.com/quailyquaily/slackdatabot/config"
	"github.com/quailyquaily/slackdatabot/delivery"
	"github.com/quailyquaily/slackdatabot/engine"
	"github.com/quailyquaily/slackdatabot/internal/slackapi"
	"github.com/quailyquaily/slackdatabot/internal/state"
	"github.com/quailyquaily/slackdatabot/learning"
	"github.com/quailyquaily/slackdatabot/monitor"
)

// runtime is everything one run of the bot owns.
type runtime struct {
	cfg     config.Config
	logger  *slog.Logger
	slack   *slackapi.Client
	bot     *bot.Bot
	store   *state.FileStore
	db      *sql.DB
	tracker *learning.Tracker
}

func (r *runtime) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func checkCredentials(cfg config.Config) error {
	var errs []error
	if cfg.Slack.BotToken == "" {
		errs = append(errs, fmt.Errorf("missing slack.bot_token (set via config or SLACK_DATA_BOT_SLACK_BOT_TOKEN)"))
	}
	if cfg.Slack.UserToken == "" {
		errs = append(errs, fmt.Errorf("missing slack.user_token (search.messages needs a user token)"))
	}
	if cfg.Slack.OwnerUserID == "" {
		errs = append(errs, fmt.Errorf("missing slack.owner_user_id (review cards are sent there)"))
	}
	return errors.Join(errs...)
}

// searcherFor adapts the Slack search API to the monitor.
func searcherFor(c *slackapi.Client) monitor.Searcher {
	return monitor.SearcherFunc(func(ctx context.Context, query string, count, page int) (monitor.SearchPage, error) {
		res, err := c.SearchMessages(ctx, query, count, page)
		if err != nil {
			return monitor.SearchPage{}, err
		}
		hits := make([]monitor.RawHit, 0, len(res.Matches))
		for _, m := range res.Matches {
			hits = append(hits, monitor.RawHit(m))
		}
		return monitor.SearchPage{Matches: hits, HasMore: res.HasMore()}, nil
	})
}

func buildRuntime(ctx context.Context, cfg config.Config, logger *slog.Logger) (*runtime, error) {
	client := slackapi.New(slackapi.Options{
		BaseURL:   cfg.Slack.APIBaseURL,
		BotToken:  cfg.Slack.BotToken,
		AppToken:  cfg.Slack.AppToken,
		UserToken: cfg.Slack.UserToken,
	})

	runner, err := engine.NewRunner(cfg.Engine)
	if err != nil {
		return nil, err
	}
	backend, err := engine.NewBackend(engine.BackendOptions{
		Config:   cfg.Engine,
		Runner:   runner,
		Criteria: cfg.Quality.Criteria,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	investigator := engine.NewInvestigator(backend, engine.NewReviewer(cfg.Quality, logger), logger)

	store, err := state.NewFileStore(cfg.Cache, logger)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, logger: logger, slack: client, store: store}
	opts := bot.Options{
		Monitor: monitor.New(monitor.Options{
			Config:   cfg.Monitoring,
			Searcher: searcherFor(client),
			Logger:   logger,
		}),
		Investigator: investigator,
		Notifier: delivery.NewNotifier(delivery.NotifierOptions{
			OwnerUserID: cfg.Slack.OwnerUserID,
			Poster:      client,
			Logger:      logger,
		}),
		Approvals: delivery.NewApprovalFlow(delivery.ApprovalOptions{
			Poster:     client,
			MaxPending: cfg.Delivery.MaxPending,
			Logger:     logger,
		}),
		State:         store,
		MaxConcurrent: cfg.Engine.MaxConcurrent,
		Delivery:      cfg.Delivery,
		Logger:        logger,
	}

	if cfg.Learning.Enabled {
		db, err := learning.Open(ctx, cfg.Learning.StorageDir)
		if err != nil {
			return nil, err
		}
		rt.db = db
		rt.tracker = learning.NewTracker(db, logger)
		opts.Tracker = rt.tracker
		if cfg.Learning.FeedbackTracking {
			opts.Feedback = learning.NewFeedback(db, logger)
		}
	}

	b, err := bot.New(opts)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.bot = b
	return rt, nil
}

// handleEnvelope routes review-card button clicks to the bot. Failures are
// logged so one bad payload does not drop the socket.
func (r *runtime) handleEnvelope(ctx context.Context, env slackapi.Envelope) error {
	if env.Type != "interactive" {
		return nil
	}
	in, ok, err := delivery.ParseInteraction(env.Payload)
	if err != nil {
		r.logger.Warn("run_interaction_decode_error", "error", err.Error())
		return nil
	}
	if !ok {
		return nil
	}
	if err := r.bot.HandleAction(ctx, in.ActionID, in.Value, in.UserID); err != nil {
		r.logger.Warn("run_interaction_error",
			"action", in.ActionID,
			"key", in.Value,
			"error", err.Error(),
		)
	}
	return nil
}

func (r *runtime) status() map[string]any {
	out := map[string]any{
		"pending": len(r.bot.Pending()),
	}
	if r.store != nil {
		st := r.store.Stats()
		out["total_questions"] = st.TotalQuestions
		out["total_answered"] = st.TotalAnswered
		if lp := r.store.Load().LastPoll; lp != nil {
			out["last_poll"] = lp.UTC()
		}
	}
	return out
}
