package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/quailyquaily/slackdatabot/message"
)

func testMessage(t *testing.T) *message.Message {
	t.Helper()
	m, err := message.New("1770335900.000100", "C1")
	if err != nil {
		t.Fatalf("message.New() error = %v", err)
	}
	m.ChannelName = "data-help"
	m.UserName = "pat"
	m.Text = "@owner why did dashboard numbers drop?"
	m.ThreadTS = "1770335814.365139"
	m.ReplyCount = 3
	m.IsDirectMention = true
	m.Priority = 135
	m.Permalink = "https://acme.slack.com/archives/C1/p1770335900000100"
	return m
}

func TestBuildContext(t *testing.T) {
	t.Parallel()

	got := BuildContext(testMessage(t))
	want := "Channel: #data-help\n" +
		"Asked by: pat\n" +
		"This message is part of a thread.\n" +
		"Thread has 3 replies.\n" +
		"The bot was directly mentioned in this message.\n" +
		"Priority: 135\n" +
		"Permalink: https://acme.slack.com/archives/C1/p1770335900000100"
	if got != want {
		t.Fatalf("BuildContext() = %q, want %q", got, want)
	}

	dm, _ := message.New("5.0", "D1")
	dm.IsDM = true
	dm.ThreadTS = "5.0"
	if got := BuildContext(dm); got != "This is a direct message to the bot." {
		t.Fatalf("BuildContext(dm) = %q", got)
	}
}

func TestInvestigatePassesFirstRound(t *testing.T) {
	t.Parallel()

	d := &scriptedDrafter{drafts: []string{"The drop is a timezone shift."}, reviews: []string{reviewText(7, "")}}
	inv := NewInvestigator(d, testReviewer(3), nil)
	msg := testMessage(t)

	res := inv.Investigate(context.Background(), msg)
	if res.Err != nil {
		t.Fatalf("Investigate() Err = %v", res.Err)
	}
	if !res.Approved || res.Rounds != 1 || res.QualityScore != 7 || res.QualityTotal != 7 {
		t.Fatalf("Investigate() = %+v, want approved 7/7 in 1 round", res)
	}
	if res.Draft != "The drop is a timezone shift." {
		t.Fatalf("Draft = %q", res.Draft)
	}
	if res.Question != msg.Text {
		t.Fatalf("Question = %q, want %q", res.Question, msg.Text)
	}
	if res.Message == msg || res.Message.TS != msg.TS {
		t.Fatalf("Message should be a copy of the input")
	}
	if d.contexts[0] != BuildContext(msg) {
		t.Fatalf("investigation context = %q, want BuildContext(msg)", d.contexts[0])
	}
}

func TestInvestigateFallbackOnBackendError(t *testing.T) {
	t.Parallel()

	d := &scriptedDrafter{investErr: &ExitError{Code: 2, Stderr: "boom"}}
	res := NewInvestigator(d, testReviewer(3), nil).Investigate(context.Background(), testMessage(t))
	if res.Draft != FallbackDraft {
		t.Fatalf("Draft = %q, want fallback", res.Draft)
	}
	var exitErr *ExitError
	if !errors.As(res.Err, &exitErr) || exitErr.Code != 2 {
		t.Fatalf("Err = %v, want *ExitError code 2", res.Err)
	}
	if res.Approved || res.Rounds != 0 || res.QualityScore != 0 || res.QualityTotal != 0 {
		t.Fatalf("Investigate() = %+v, want zeroed quality", res)
	}
}

func TestInvestigateKeepsDraftWhenReviewFails(t *testing.T) {
	t.Parallel()

	d := &scriptedDrafter{drafts: []string{"draft"}, reviewErr: ErrEmptyOutput}
	res := NewInvestigator(d, testReviewer(3), nil).Investigate(context.Background(), testMessage(t))
	if res.Draft != "draft" || res.Err != nil {
		t.Fatalf("Investigate() = %+v, want initial draft without error", res)
	}
	if res.Approved || res.Rounds != 0 || res.QualityTotal != 0 {
		t.Fatalf("Investigate() = %+v, want zeroed quality", res)
	}
}
