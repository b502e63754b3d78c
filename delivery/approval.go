package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quailyquaily/slackdatabot/internal/slackapi"
	"github.com/quailyquaily/slackdatabot/message"
)

type Action string

const (
	ActionApprove = "approve"
	ActionEdit    = "edit"
	ActionReject  = "reject"
)

var ErrUnknownAction = errors.New("unknown action")

// ParseAction maps a button action_id to an Action.
func ParseAction(actionID string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(actionID)) {
	case ActionApprove:
		return ActionApprove, nil
	case ActionEdit:
		return ActionEdit, nil
	case ActionReject:
		return ActionReject, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, actionID)
	}
}

type ApprovalOptions struct {
	Poster     Poster
	MaxPending int
	Logger     *slog.Logger
	Now        func() time.Time
}

// ApprovalFlow tracks drafts awaiting review and posts the approved ones.
type ApprovalFlow struct {
	pending *PendingStore
	poster  Poster
	logger  *slog.Logger
	now     func() time.Time
}

func NewApprovalFlow(opts ApprovalOptions) *ApprovalFlow {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poster := opts.Poster
	if poster == nil {
		poster = NopPoster{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &ApprovalFlow{
		pending: NewPendingStore(opts.MaxPending),
		poster:  poster,
		logger:  logger,
		now:     now,
	}
}

// Submit stores draft for review and returns its approval id.
func (f *ApprovalFlow) Submit(msg *message.Message, draft string, score, total int) string {
	if f == nil || msg == nil {
		return ""
	}
	p := &PendingApproval{
		ID:           newApprovalID(),
		Message:      msg.Clone(),
		Draft:        draft,
		QualityScore: score,
		QualityTotal: total,
		CreatedAt:    f.now().UTC(),
	}
	if evicted := f.pending.Put(p); evicted > 0 {
		f.logger.Info("delivery_pending_evicted", "count", evicted)
	}
	f.logger.Info("delivery_submitted", "approval_id", p.ID, "key", msg.ConversationKey())
	return p.ID
}

func (f *ApprovalFlow) Get(key string) (*PendingApproval, bool) {
	if f == nil {
		return nil, false
	}
	return f.pending.Get(strings.TrimSpace(key))
}

func (f *ApprovalFlow) Remove(key string) (*PendingApproval, bool) {
	if f == nil {
		return nil, false
	}
	return f.pending.Remove(strings.TrimSpace(key))
}

func (f *ApprovalFlow) List() []PendingApproval {
	if f == nil {
		return nil
	}
	return f.pending.List()
}

// ResolveAction validates actionID and logs who clicked it.
func (f *ApprovalFlow) ResolveAction(actionID, key, userID string) (Action, error) {
	action, err := ParseAction(actionID)
	if err != nil {
		return "", err
	}
	if f != nil {
		f.logger.Info("delivery_action", "action", string(action), "user_id", userID, "key", key)
	}
	return action, nil
}

// PostApproved replies to msg in its thread, or starts one from msg itself.
func (f *ApprovalFlow) PostApproved(ctx context.Context, msg *message.Message, draft string) (string, error) {
	if f == nil {
		return "", fmt.Errorf("approval flow is not initialized")
	}
	if msg == nil {
		return "", fmt.Errorf("message is required")
	}
	threadTS := msg.ThreadTS
	if threadTS == "" {
		threadTS = msg.TS
	}
	ts, err := f.poster.PostMessage(ctx, slackapi.PostMessageRequest{
		Channel:  msg.ChannelID,
		Text:     draft,
		ThreadTS: threadTS,
	})
	if err != nil {
		f.logger.Warn("delivery_post_error", "channel", msg.ChannelName, "thread_ts", threadTS, "error", err.Error())
		return "", fmt.Errorf("post approved reply: %w", err)
	}
	f.logger.Info("delivery_posted", "channel", msg.ChannelName, "thread_ts", threadTS)
	return ts, nil
}

func newApprovalID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
