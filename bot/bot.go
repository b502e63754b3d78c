// Package bot ties discovery, investigation, delivery and learning into the
// poll cycle and the approval button handler.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quailyquaily/slackdatabot/delivery"
	"github.com/quailyquaily/slackdatabot/engine"
	"github.com/quailyquaily/slackdatabot/internal/state"
	"github.com/quailyquaily/slackdatabot/learning"
	"github.com/quailyquaily/slackdatabot/message"
)

const (
	emptyResultText = "Investigation produced no results."
	rejectionReason = "Rejected by reviewer"
)

type Finder interface {
	FindUnanswered(ctx context.Context, answered map[string]struct{}) []*message.Message
}

type Investigator interface {
	Investigate(ctx context.Context, msg *message.Message) engine.Result
}

type Notifier interface {
	NotifyHuman(ctx context.Context, msg *message.Message, draft string, score, total int, approvalID string) (string, error)
	NotifyError(ctx context.Context, msg *message.Message, errText string) error
}

type Approvals interface {
	Submit(msg *message.Message, draft string, score, total int) string
	Get(key string) (*delivery.PendingApproval, bool)
	Remove(key string) (*delivery.PendingApproval, bool)
	List() []delivery.PendingApproval
	ResolveAction(actionID, key, userID string) (delivery.Action, error)
	PostApproved(ctx context.Context, msg *message.Message, draft string) (string, error)
}

// State is the persisted answered set and work queue.
type State interface {
	MarkAnswered(msg *message.Message, summary string) error
	AnsweredKeys() map[string]struct{}
	Prune() (int, error)
	AddToQueue(msg *message.Message) error
	RemoveFromQueue(key string) error
	SetLastPoll(t time.Time) error
}

type Options struct {
	Monitor      Finder
	Investigator Investigator
	Notifier     Notifier
	Approvals    Approvals
	State        State
	Tracker      learning.Recorder
	Feedback     learning.FeedbackRecorder
	// MaxConcurrent caps the questions handled per cycle and how many run at once.
	MaxConcurrent int
	Delivery      delivery.Config
	Logger        *slog.Logger
	Now           func() time.Time
}

type Bot struct {
	monitor       Finder
	investigator  Investigator
	notifier      Notifier
	approvals     Approvals
	state         State
	tracker       learning.Recorder
	feedback      learning.FeedbackRecorder
	maxConcurrent int
	delivery      delivery.Config
	logger        *slog.Logger
	now           func() time.Time
}

func New(opts Options) (*Bot, error) {
	if opts.Monitor == nil {
		return nil, fmt.Errorf("monitor is required")
	}
	if opts.Investigator == nil {
		return nil, fmt.Errorf("investigator is required")
	}
	if opts.Notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if opts.Approvals == nil {
		return nil, fmt.Errorf("approval flow is required")
	}
	b := &Bot{
		monitor:       opts.Monitor,
		investigator:  opts.Investigator,
		notifier:      opts.Notifier,
		approvals:     opts.Approvals,
		state:         opts.State,
		tracker:       opts.Tracker,
		feedback:      opts.Feedback,
		maxConcurrent: opts.MaxConcurrent,
		delivery:      opts.Delivery,
		logger:        opts.Logger,
		now:           opts.Now,
	}
	if b.state == nil {
		b.state = state.Nop{}
	}
	if b.tracker == nil {
		b.tracker = learning.NopTracker{}
	}
	if b.feedback == nil {
		b.feedback = learning.NopFeedback{}
	}
	if b.maxConcurrent <= 0 {
		b.maxConcurrent = 1
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b, nil
}

// PollCycle runs one discovery and investigation pass and returns how many
// questions were processed.
func (b *Bot) PollCycle(ctx context.Context) int {
	if ctx == nil {
		ctx = context.Background()
	}
	start := b.now()
	b.logger.Info("bot_poll_cycle_start")

	if pruned, err := b.state.Prune(); err != nil {
		b.logger.Warn("bot_state_prune_error", "error", err.Error())
	} else if pruned > 0 {
		b.logger.Info("bot_state_pruned", "count", pruned)
	}
	skip := b.state.AnsweredKeys()
	// Drafts still awaiting review are not investigated again.
	for _, p := range b.approvals.List() {
		if p.Message != nil {
			skip[p.Message.ConversationKey()] = struct{}{}
		}
	}

	questions := b.monitor.FindUnanswered(ctx, skip)
	if len(questions) > b.maxConcurrent {
		b.logger.Info("bot_questions_deferred", "found", len(questions), "limit", b.maxConcurrent)
		questions = questions[:b.maxConcurrent]
	}

	var processed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.maxConcurrent)
	for _, q := range questions {
		g.Go(func() error {
			if err := b.process(gctx, q); err != nil {
				b.logger.Warn("bot_question_error",
					"key", q.ConversationKey(),
					"error", err.Error(),
				)
				return nil
			}
			processed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	if err := b.state.SetLastPoll(b.now()); err != nil {
		b.logger.Warn("bot_state_save_error", "error", err.Error())
	}
	n := int(processed.Load())
	b.logger.Info("bot_poll_cycle_done",
		"found", len(questions),
		"processed", n,
		"duration", b.now().Sub(start).String(),
	)
	return n
}

// Run is PollCycle shaped as a scheduler job.
func (b *Bot) Run(ctx context.Context) error {
	b.PollCycle(ctx)
	return ctx.Err()
}

func (b *Bot) process(ctx context.Context, msg *message.Message) error {
	if msg == nil {
		return fmt.Errorf("nil message")
	}
	key := msg.ConversationKey()
	b.logger.Info("bot_investigating",
		"key", key,
		"channel", msg.ChannelName,
		"user", msg.UserName,
		"priority", msg.Priority,
	)
	if err := b.tracker.RecordQuestion(ctx, msg, Classify(msg)); err != nil {
		b.logger.Warn("bot_track_error", "event", learning.EventQuestion, "error", err.Error())
	}

	started := b.now()
	result := b.investigator.Investigate(ctx, msg)
	failed := result.Err != nil || strings.TrimSpace(result.Draft) == ""
	if err := b.tracker.RecordInvestigation(ctx, msg, b.now().Sub(started), !failed); err != nil {
		b.logger.Warn("bot_track_error", "event", learning.EventInvestigation, "error", err.Error())
	}

	if failed {
		text := emptyResultText
		if result.Err != nil {
			text = result.Err.Error()
		}
		if err := b.notifier.NotifyError(ctx, msg, text); err != nil {
			return err
		}
		return nil
	}

	if b.delivery.AutoRespond(result.Approved, result.QualityScore, result.QualityTotal) {
		if _, err := b.approvals.PostApproved(ctx, msg, result.Draft); err != nil {
			return err
		}
		if err := b.state.MarkAnswered(msg, result.Draft); err != nil {
			b.logger.Warn("bot_state_save_error", "error", err.Error())
		}
		b.logger.Info("bot_auto_responded",
			"key", key,
			"score", result.QualityScore,
			"total", result.QualityTotal,
		)
		return nil
	}

	id := b.approvals.Submit(msg, result.Draft, result.QualityScore, result.QualityTotal)
	if _, err := b.notifier.NotifyHuman(ctx, msg, result.Draft, result.QualityScore, result.QualityTotal, id); err != nil {
		b.approvals.Remove(id)
		return err
	}
	if err := b.state.AddToQueue(msg); err != nil {
		b.logger.Warn("bot_state_save_error", "error", err.Error())
	}
	return nil
}

// HandleAction applies a reviewer's button click to the pending approval
// identified by key (approval id or conversation key).
func (b *Bot) HandleAction(ctx context.Context, actionID, key, userID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	key = strings.TrimSpace(key)
	pending, ok := b.approvals.Get(key)
	if !ok {
		b.logger.Warn("bot_pending_not_found", "key", key, "action", actionID)
		return nil
	}
	action, err := b.approvals.ResolveAction(actionID, key, userID)
	if err != nil {
		return err
	}

	msg := pending.Message
	convKey := msg.ConversationKey()
	waited := b.now().Sub(pending.CreatedAt)
	// A failed post keeps the draft pending so the reviewer can retry.
	settle := func() {
		b.approvals.Remove(pending.ID)
		if err := b.state.RemoveFromQueue(convKey); err != nil {
			b.logger.Warn("bot_state_save_error", "error", err.Error())
		}
	}

	switch action {
	case delivery.ActionApprove:
		if _, err := b.approvals.PostApproved(ctx, msg, pending.Draft); err != nil {
			return err
		}
		settle()
		if err := b.state.MarkAnswered(msg, pending.Draft); err != nil {
			b.logger.Warn("bot_state_save_error", "error", err.Error())
		}
		b.record(ctx, msg, pending.Draft, learning.OutcomeApproved, "", waited)
		b.logger.Info("bot_approved", "key", convKey, "user_id", userID)
	case delivery.ActionReject:
		settle()
		b.record(ctx, msg, pending.Draft, learning.OutcomeRejected, rejectionReason, waited)
		b.logger.Info("bot_rejected", "key", convKey, "user_id", userID)
	case delivery.ActionEdit:
		settle()
		if err := b.feedback.Record(ctx, msg, pending.Draft, learning.OutcomeEdited, "", ""); err != nil {
			b.logger.Warn("bot_feedback_error", "error", err.Error())
		}
		b.logger.Info("bot_edit_requested", "key", convKey, "user_id", userID)
	}
	return nil
}

func (b *Bot) record(ctx context.Context, msg *message.Message, draft, outcome, reason string, waited time.Duration) {
	if err := b.tracker.RecordApproval(ctx, msg, outcome, waited); err != nil {
		b.logger.Warn("bot_track_error", "event", learning.EventApproval, "error", err.Error())
	}
	if err := b.feedback.Record(ctx, msg, draft, outcome, "", reason); err != nil {
		b.logger.Warn("bot_feedback_error", "error", err.Error())
	}
}

// Pending lists drafts awaiting review, oldest first.
func (b *Bot) Pending() []delivery.PendingApproval {
	return b.approvals.List()
}

// Classify labels msg for usage stats.
func Classify(msg *message.Message) string {
	switch {
	case msg == nil:
		return "unknown"
	case msg.IsDirectMention:
		return "direct_mention"
	case msg.IsDM:
		return "direct_message"
	case msg.IsDomainQuestion:
		return "domain_keyword"
	}
	if s := msg.Strategy(); s != "" {
		return s
	}
	return "unknown"
}
