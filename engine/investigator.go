package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quailyquaily/slackdatabot/message"
)

// FallbackDraft is returned when the first investigation fails.
const FallbackDraft = "I was unable to complete the investigation due to an internal error."

// Result is the outcome of one investigation.
type Result struct {
	Question     string
	Draft        string
	QualityScore int
	QualityTotal int
	Rounds       int
	Approved     bool
	Message      *message.Message
	// Err is set when the first draft could not be produced and Draft is FallbackDraft.
	Err error
}

type Investigator struct {
	backend  Drafter
	reviewer *Reviewer
	logger   *slog.Logger
}

func NewInvestigator(backend Drafter, reviewer *Reviewer, logger *slog.Logger) *Investigator {
	if logger == nil {
		logger = slog.Default()
	}
	if reviewer == nil {
		reviewer = NewReviewer(DefaultQualityConfig(), logger)
	}
	return &Investigator{backend: backend, reviewer: reviewer, logger: logger}
}

// Investigate drafts and quality-checks an answer for msg. It never fails: backend
// errors produce a fallback result.
func (i *Investigator) Investigate(ctx context.Context, msg *message.Message) Result {
	snapshot := msg.Clone()
	question := ""
	if snapshot != nil {
		question = snapshot.Text
	}
	base := Result{Question: question, Message: snapshot}

	if i == nil || i.backend == nil {
		base.Draft = FallbackDraft
		base.Err = fmt.Errorf("investigation backend is not configured")
		return base
	}

	logArgs := []any{"ts", tsOf(snapshot), "channel", channelOf(snapshot)}
	i.logger.Info("engine_investigation_start", logArgs...)

	draft, err := i.backend.Investigate(ctx, question, BuildContext(snapshot))
	if err != nil {
		i.logger.Error("engine_investigation_error", append(logArgs, "error", err.Error())...)
		base.Draft = FallbackDraft
		base.Err = err
		return base
	}

	final, quality, err := i.reviewer.ReviewAndImprove(ctx, question, draft, i.backend)
	if err != nil {
		i.logger.Warn("engine_quality_error", append(logArgs, "error", err.Error())...)
		base.Draft = draft
		return base
	}

	i.logger.Info("engine_investigation_done", append(logArgs,
		"score", quality.Score,
		"total", quality.Total,
		"approved", quality.Passed,
		"rounds", quality.Round,
	)...)
	base.Draft = final
	base.QualityScore = quality.Score
	base.QualityTotal = quality.Total
	base.Rounds = quality.Round
	base.Approved = quality.Passed
	return base
}

// BuildContext renders what the investigator should know about where msg came from.
func BuildContext(msg *message.Message) string {
	if msg == nil {
		return ""
	}
	var parts []string
	if msg.ChannelName != "" {
		parts = append(parts, "Channel: #"+msg.ChannelName)
	}
	if msg.IsDM {
		parts = append(parts, "This is a direct message to the bot.")
	}
	if msg.UserName != "" {
		parts = append(parts, "Asked by: "+msg.UserName)
	}
	if msg.InThread() {
		parts = append(parts, "This message is part of a thread.")
		if msg.ReplyCount != 0 {
			parts = append(parts, fmt.Sprintf("Thread has %d replies.", msg.ReplyCount))
		}
	}
	if msg.IsDirectMention {
		parts = append(parts, "The bot was directly mentioned in this message.")
	}
	if msg.Priority != 0 {
		parts = append(parts, fmt.Sprintf("Priority: %d", msg.Priority))
	}
	if msg.Permalink != "" {
		parts = append(parts, "Permalink: "+msg.Permalink)
	}
	return strings.Join(parts, "\n")
}

func tsOf(m *message.Message) string {
	if m == nil {
		return ""
	}
	return m.TS
}

func channelOf(m *message.Message) string {
	if m == nil {
		return ""
	}
	return m.ChannelName
}
