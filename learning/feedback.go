package learning

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quailyquaily/slackdatabot/message"
)

const (
	CorrectionRejectionReason = "rejection_reason"
	CorrectionEditedChannel   = "frequently_edited_channel"
)

// FeedbackRecorder stores reviewer decisions on drafts.
type FeedbackRecorder interface {
	Record(ctx context.Context, msg *message.Message, draft, action, editedText, reason string) error
}

type FeedbackEntry struct {
	CreatedAt       time.Time `json:"created_at"`
	MessageTS       string    `json:"message_ts"`
	ChannelID       string    `json:"channel_id"`
	ChannelName     string    `json:"channel_name"`
	UserID          string    `json:"user_id"`
	OriginalDraft   string    `json:"original_draft"`
	Action          string    `json:"action"`
	EditedText      string    `json:"edited_text,omitempty"`
	RejectionReason string    `json:"rejection_reason,omitempty"`
}

type Correction struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	Count int    `json:"count"`
}

type Feedback struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewFeedback(db *sql.DB, logger *slog.Logger) *Feedback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feedback{db: db, logger: logger, now: time.Now}
}

func (f *Feedback) Record(ctx context.Context, msg *message.Message, draft, action, editedText, reason string) error {
	if f == nil || f.db == nil {
		return fmt.Errorf("feedback store is not initialized")
	}
	if msg == nil {
		return fmt.Errorf("message is required")
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return fmt.Errorf("action is required")
	}
	_, err := f.db.ExecContext(ctx,
		`INSERT INTO feedback (created_at, message_ts, channel_id, channel_name, user_id,
			original_draft, action, edited_text, rejection_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		formatTime(f.now()), msg.TS, msg.ChannelID, msg.ChannelName, msg.UserID,
		draft, action, strings.TrimSpace(editedText), strings.TrimSpace(reason),
	)
	if err != nil {
		f.logger.Warn("learning_feedback_error", "action", action, "error", err.Error())
		return fmt.Errorf("record feedback: %w", err)
	}
	return nil
}

// CommonCorrections lists rejection reasons by frequency, then the channels
// whose drafts get edited most, capped at limit entries overall.
func (f *Feedback) CommonCorrections(ctx context.Context, limit int) ([]Correction, error) {
	if f == nil || f.db == nil {
		return nil, fmt.Errorf("feedback store is not initialized")
	}
	if limit <= 0 {
		limit = topLimit
	}
	out := []Correction{}

	reasons, err := f.counts(ctx, CorrectionRejectionReason,
		`SELECT rejection_reason AS value, COUNT(*) AS n FROM feedback
		WHERE action = ? AND rejection_reason != ''
		GROUP BY value ORDER BY n DESC, MIN(id) ASC LIMIT ?`, OutcomeRejected, limit)
	if err != nil {
		return nil, err
	}
	out = append(out, reasons...)

	channels, err := f.counts(ctx, CorrectionEditedChannel,
		`SELECT COALESCE(NULLIF(channel_name, ''), 'unknown') AS value, COUNT(*) AS n FROM feedback
		WHERE action = ?
		GROUP BY value ORDER BY n DESC, MIN(id) ASC LIMIT ?`, OutcomeEdited, limit)
	if err != nil {
		return nil, err
	}
	out = append(out, channels...)

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *Feedback) counts(ctx context.Context, typ, q string, args ...any) ([]Correction, error) {
	rows, err := f.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s counts: %w", typ, err)
	}
	var out []Correction
	err = scanRows(rows, func(r *sql.Rows) error {
		c := Correction{Type: typ}
		if err := r.Scan(&c.Value, &c.Count); err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s counts: %w", typ, err)
	}
	return out, nil
}

// ForChannel returns the feedback left on drafts for channelID, oldest first.
func (f *Feedback) ForChannel(ctx context.Context, channelID string) ([]FeedbackEntry, error) {
	if f == nil || f.db == nil {
		return nil, fmt.Errorf("feedback store is not initialized")
	}
	rows, err := f.db.QueryContext(ctx,
		`SELECT created_at, message_ts, channel_id, channel_name, user_id, original_draft,
			action, edited_text, rejection_reason
		FROM feedback WHERE channel_id = ? ORDER BY id ASC`, strings.TrimSpace(channelID))
	if err != nil {
		return nil, fmt.Errorf("channel feedback: %w", err)
	}
	out := []FeedbackEntry{}
	err = scanRows(rows, func(r *sql.Rows) error {
		var e FeedbackEntry
		var created string
		if err := r.Scan(&created, &e.MessageTS, &e.ChannelID, &e.ChannelName, &e.UserID,
			&e.OriginalDraft, &e.Action, &e.EditedText, &e.RejectionReason); err != nil {
			return err
		}
		if ts, err := time.Parse(timeLayout, created); err == nil {
			e.CreatedAt = ts
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("channel feedback: %w", err)
	}
	return out, nil
}

type NopFeedback struct{}

func (NopFeedback) Record(context.Context, *message.Message, string, string, string, string) error {
	return nil
}
