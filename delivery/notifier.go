// Package delivery sends drafted answers to the owner for review and posts the
// approved ones back into the original thread.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/quailyquaily/slackdatabot/internal/slackapi"
	"github.com/quailyquaily/slackdatabot/message"
)

const (
	quotedQuestionLimit = 500
	draftDisplayLimit   = 2900
	errorTextLimit      = 500
	fallbackTextLimit   = 120
)

// Poster is the part of the Slack client delivery needs.
type Poster interface {
	PostMessage(ctx context.Context, req slackapi.PostMessageRequest) (string, error)
}

type NopPoster struct{}

func (NopPoster) PostMessage(context.Context, slackapi.PostMessageRequest) (string, error) {
	return "", nil
}

type NotifierOptions struct {
	OwnerUserID string
	Poster      Poster
	Logger      *slog.Logger
	Now         func() time.Time
}

type Notifier struct {
	owner  string
	poster Poster
	logger *slog.Logger
	now    func() time.Time
}

func NewNotifier(opts NotifierOptions) *Notifier {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poster := opts.Poster
	if poster == nil {
		logger.Warn("delivery_poster_missing")
		poster = NopPoster{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Notifier{
		owner:  strings.TrimSpace(opts.OwnerUserID),
		poster: poster,
		logger: logger,
		now:    now,
	}
}

// NotifyHuman DMs the owner a review card for draft. approvalID becomes the
// value of every action button.
func (n *Notifier) NotifyHuman(ctx context.Context, msg *message.Message, draft string, score, total int, approvalID string) (string, error) {
	if n == nil {
		return "", fmt.Errorf("notifier is not initialized")
	}
	if msg == nil {
		return "", fmt.Errorf("message is required")
	}
	if n.owner == "" {
		return "", fmt.Errorf("owner user id is required")
	}

	blocks := n.ReviewBlocks(msg, draft, score, total, approvalID)
	fallback := fmt.Sprintf("New question from %s in #%s: %s", msg.UserName, msg.ChannelName, truncate(msg.Text, fallbackTextLimit))
	ts, err := n.poster.PostMessage(ctx, slackapi.PostMessageRequest{
		Channel: n.owner,
		Text:    fallback,
		Blocks:  blocks,
	})
	if err != nil {
		n.logger.Warn("delivery_notify_error", "key", msg.ConversationKey(), "error", err.Error())
		return "", fmt.Errorf("notify owner: %w", err)
	}
	n.logger.Info("delivery_notify_sent", "key", msg.ConversationKey(), "approval_id", approvalID, "score", score, "total", total)
	return ts, nil
}

// NotifyError tells the owner that an investigation could not produce a draft.
func (n *Notifier) NotifyError(ctx context.Context, msg *message.Message, errText string) error {
	if n == nil {
		return fmt.Errorf("notifier is not initialized")
	}
	if msg == nil {
		return fmt.Errorf("message is required")
	}
	if n.owner == "" {
		return fmt.Errorf("owner user id is required")
	}
	body := fmt.Sprintf("*Channel:* <#%s|%s>\n*From:* %s\n*Question:* %s\n\n*Error:*\n```%s```",
		msg.ChannelID, msg.ChannelName, msg.UserName, truncate(msg.Text, 200), truncate(errText, errorTextLimit))
	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, "Investigation Error", true, false)),
		slack.NewDividerBlock(),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, body, false, false), nil, nil),
	}
	_, err := n.poster.PostMessage(ctx, slackapi.PostMessageRequest{
		Channel: n.owner,
		Text:    "Investigation error: " + truncate(errText, 100),
		Blocks:  blocks,
	})
	if err != nil {
		n.logger.Warn("delivery_notify_error", "key", msg.ConversationKey(), "error", err.Error())
		return fmt.Errorf("notify error: %w", err)
	}
	return nil
}

// ReviewBlocks builds the Block Kit card: question, quality bar, draft and the
// approve/edit/reject buttons.
func (n *Notifier) ReviewBlocks(msg *message.Message, draft string, score, total int, approvalID string) []slack.Block {
	link := ""
	if msg.Permalink != "" {
		link = fmt.Sprintf("<%s|View in Slack>", msg.Permalink)
	}
	header := fmt.Sprintf("*Channel:* <#%s|%s> (%s)\n*From:* %s\n%s",
		msg.ChannelID, msg.ChannelName, msg.RelativeTime(n.now()), msg.UserName, link)

	display := draft
	if len(display) > draftDisplayLimit {
		display = display[:draftDisplayLimit] + "\n...(truncated)"
	}

	approve := slack.NewButtonBlockElement(ActionApprove, approvalID,
		slack.NewTextBlockObject(slack.PlainTextType, "Approve", false, false)).WithStyle(slack.StylePrimary)
	edit := slack.NewButtonBlockElement(ActionEdit, approvalID,
		slack.NewTextBlockObject(slack.PlainTextType, "Edit", false, false))
	reject := slack.NewButtonBlockElement(ActionReject, approvalID,
		slack.NewTextBlockObject(slack.PlainTextType, "Reject", false, false)).WithStyle(slack.StyleDanger)

	return []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, "New Question for Review", true, false)),
		slack.NewDividerBlock(),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, header, false, false), nil, nil),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, "> "+truncate(msg.Text, quotedQuestionLimit), false, false), nil, nil),
		slack.NewDividerBlock(),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("*Quality:* %s  (%d/%d)", ScoreIndicator(score, total), score, total), false, false), nil, nil),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, "*Draft Response:*\n"+display, false, false), nil, nil),
		slack.NewDividerBlock(),
		slack.NewActionBlock("review_actions", approve, edit, reject),
	}
}

// ScoreIndicator renders score as a bar such as "[####--]".
func ScoreIndicator(score, total int) string {
	if total <= 0 {
		return "[------] ?/?"
	}
	filled := score
	if filled > total {
		filled = total
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", total-filled) + "]"
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
