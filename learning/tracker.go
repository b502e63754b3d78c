package learning

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/quailyquaily/slackdatabot/message"
)

const (
	DefaultStatsDays = 30
	topLimit         = 10
)

const (
	EventQuestion      = "question"
	EventInvestigation = "investigation"
	EventApproval      = "approval"
)

// Reviewer outcomes as stored in events and feedback.
const (
	OutcomeApproved = "approved"
	OutcomeRejected = "rejected"
	OutcomeEdited   = "edited"
)

// Recorder is what the bot reports activity to.
type Recorder interface {
	RecordQuestion(ctx context.Context, msg *message.Message, classification string) error
	RecordInvestigation(ctx context.Context, msg *message.Message, duration time.Duration, success bool) error
	RecordApproval(ctx context.Context, msg *message.Message, action string, responseTime time.Duration) error
}

type Count struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type Stats struct {
	PeriodDays           int     `json:"period_days"`
	TotalQuestions       int     `json:"total_questions"`
	TotalInvestigations  int     `json:"total_investigations"`
	TotalApproved        int     `json:"total_approved"`
	TotalRejected        int     `json:"total_rejected"`
	AvgInvestigationTime float64 `json:"avg_investigation_time"`
	AvgResponseTime      float64 `json:"avg_response_time"`
	TopChannels          []Count `json:"top_channels"`
	TopQuestionTypes     []Count `json:"top_question_types"`
}

// Tracker appends activity events to the events table.
type Tracker struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewTracker(db *sql.DB, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{db: db, logger: logger, now: time.Now}
}

type event struct {
	Type           string
	Msg            *message.Message
	Classification string
	Duration       sql.NullFloat64
	Success        sql.NullBool
	Action         string
	ResponseTime   sql.NullFloat64
	Payload        map[string]any
}

func (t *Tracker) RecordQuestion(ctx context.Context, msg *message.Message, classification string) error {
	if msg == nil {
		return fmt.Errorf("message is required")
	}
	return t.insert(ctx, event{
		Type:           EventQuestion,
		Msg:            msg,
		Classification: classification,
		Payload: map[string]any{
			"user_id":     msg.UserID,
			"user_name":   msg.UserName,
			"text_length": len(msg.Text),
			"has_thread":  msg.ThreadTS != "",
			"priority":    msg.Priority,
		},
	})
}

func (t *Tracker) RecordInvestigation(ctx context.Context, msg *message.Message, duration time.Duration, success bool) error {
	if msg == nil {
		return fmt.Errorf("message is required")
	}
	return t.insert(ctx, event{
		Type:     EventInvestigation,
		Msg:      msg,
		Duration: sql.NullFloat64{Float64: round2(duration.Seconds()), Valid: true},
		Success:  sql.NullBool{Bool: success, Valid: true},
	})
}

func (t *Tracker) RecordApproval(ctx context.Context, msg *message.Message, action string, responseTime time.Duration) error {
	if msg == nil {
		return fmt.Errorf("message is required")
	}
	return t.insert(ctx, event{
		Type:         EventApproval,
		Msg:          msg,
		Action:       action,
		ResponseTime: sql.NullFloat64{Float64: round2(responseTime.Seconds()), Valid: true},
	})
}

func (t *Tracker) insert(ctx context.Context, ev event) error {
	if t == nil || t.db == nil {
		return fmt.Errorf("tracker is not initialized")
	}
	payload := "{}"
	if len(ev.Payload) > 0 {
		raw, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", ev.Type, err)
		}
		payload = string(raw)
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO events (type, created_at, message_ts, channel_id, channel_name, classification,
			duration_seconds, success, action, response_time_seconds, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Type, formatTime(t.now()), ev.Msg.TS, ev.Msg.ChannelID, ev.Msg.ChannelName, ev.Classification,
		ev.Duration, ev.Success, ev.Action, ev.ResponseTime, payload,
	)
	if err != nil {
		t.logger.Warn("learning_record_error", "type", ev.Type, "error", err.Error())
		return fmt.Errorf("record %s: %w", ev.Type, err)
	}
	return nil
}

// Stats aggregates the events of the last days calendar days (today included).
func (t *Tracker) Stats(ctx context.Context, days int) (Stats, error) {
	if t == nil || t.db == nil {
		return Stats{}, fmt.Errorf("tracker is not initialized")
	}
	if days <= 0 {
		days = DefaultStatsDays
	}
	since := formatTime(windowStart(t.now(), days))
	out := Stats{PeriodDays: days, TopChannels: []Count{}, TopQuestionTypes: []Count{}}

	rows, err := t.db.QueryContext(ctx,
		`SELECT type, COUNT(*) FROM events WHERE created_at >= ? GROUP BY type`, since)
	if err != nil {
		return Stats{}, fmt.Errorf("count events: %w", err)
	}
	err = scanRows(rows, func(r *sql.Rows) error {
		var typ string
		var n int
		if err := r.Scan(&typ, &n); err != nil {
			return err
		}
		switch typ {
		case EventQuestion:
			out.TotalQuestions = n
		case EventInvestigation:
			out.TotalInvestigations = n
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("count events: %w", err)
	}

	rows, err = t.db.QueryContext(ctx,
		`SELECT action, COUNT(*) FROM events WHERE type = ? AND created_at >= ? GROUP BY action`,
		EventApproval, since)
	if err != nil {
		return Stats{}, fmt.Errorf("count approvals: %w", err)
	}
	err = scanRows(rows, func(r *sql.Rows) error {
		var action string
		var n int
		if err := r.Scan(&action, &n); err != nil {
			return err
		}
		switch action {
		case OutcomeApproved:
			out.TotalApproved = n
		case OutcomeRejected:
			out.TotalRejected = n
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("count approvals: %w", err)
	}

	var avgInv, avgResp sql.NullFloat64
	if err := t.db.QueryRowContext(ctx,
		`SELECT AVG(duration_seconds) FROM events WHERE type = ? AND created_at >= ? AND duration_seconds IS NOT NULL`,
		EventInvestigation, since).Scan(&avgInv); err != nil {
		return Stats{}, fmt.Errorf("average investigation time: %w", err)
	}
	if err := t.db.QueryRowContext(ctx,
		`SELECT AVG(response_time_seconds) FROM events WHERE type = ? AND created_at >= ? AND response_time_seconds IS NOT NULL`,
		EventApproval, since).Scan(&avgResp); err != nil {
		return Stats{}, fmt.Errorf("average response time: %w", err)
	}
	out.AvgInvestigationTime = round2(avgInv.Float64)
	out.AvgResponseTime = round2(avgResp.Float64)

	if out.TopChannels, err = t.topQuestions(ctx, "channel_name", since); err != nil {
		return Stats{}, err
	}
	if out.TopQuestionTypes, err = t.topQuestions(ctx, "classification", since); err != nil {
		return Stats{}, err
	}
	return out, nil
}

// topQuestions groups question events by column. column is never user input.
func (t *Tracker) topQuestions(ctx context.Context, column, since string) ([]Count, error) {
	q := fmt.Sprintf(`SELECT COALESCE(NULLIF(%[1]s, ''), 'unknown') AS name, COUNT(*) AS n
		FROM events WHERE type = ? AND created_at >= ?
		GROUP BY name ORDER BY n DESC, name ASC LIMIT ?`, column)
	rows, err := t.db.QueryContext(ctx, q, EventQuestion, since, topLimit)
	if err != nil {
		return nil, fmt.Errorf("top %s: %w", column, err)
	}
	out := []Count{}
	err = scanRows(rows, func(r *sql.Rows) error {
		var c Count
		if err := r.Scan(&c.Name, &c.Count); err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("top %s: %w", column, err)
	}
	return out, nil
}

func scanRows(rows *sql.Rows, fn func(*sql.Rows) error) error {
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// NopTracker records nothing.
type NopTracker struct{}

func (NopTracker) RecordQuestion(context.Context, *message.Message, string) error { return nil }

func (NopTracker) RecordInvestigation(context.Context, *message.Message, time.Duration, bool) error {
	return nil
}

func (NopTracker) RecordApproval(context.Context, *message.Message, string, time.Duration) error {
	return nil
}
