package monitor

import (
	"testing"
	"time"
)

func TestParseMessageRequiresTS(t *testing.T) {
	t.Parallel()

	raw := RawHit{"text": "hello?", "channel": map[string]any{"id": "C1"}}
	if msg, ok := ParseMessage(raw, SearchStrategy{Name: "x"}, testConfig(), nil); ok || msg != nil {
		t.Fatalf("ParseMessage() without ts = (%v, %v), want (nil, false)", msg, ok)
	}
}

func TestParseMessageFields(t *testing.T) {
	t.Parallel()

	raw := RawHit{
		"ts":          "1770335900.000100",
		"text":        "Hey @Owner, the Dashboard looks off?",
		"channel":     map[string]any{"id": "C1", "name": "data-help"},
		"user":        "U123",
		"username":    "pat",
		"permalink":   "https://acme.slack.com/archives/C1/p1770335814365139",
		"reply_count": float64(4),
		"type":        "message",
	}
	strategy := SearchStrategy{Name: "channel_questions", PriorityBoost: 50}
	msg, ok := ParseMessage(raw, strategy, testConfig(), nil)
	if !ok {
		t.Fatalf("ParseMessage() ok = false, want true")
	}
	if msg.ThreadTS != "1770335814.365139" {
		t.Fatalf("ThreadTS = %q, want %q", msg.ThreadTS, "1770335814.365139")
	}
	if msg.ChannelID != "C1" || msg.ChannelName != "data-help" {
		t.Fatalf("channel = (%q, %q), want (C1, data-help)", msg.ChannelID, msg.ChannelName)
	}
	if !msg.IsDirectMention {
		t.Fatalf("IsDirectMention = false, want true for case-insensitive @owner")
	}
	if !msg.IsDomainQuestion {
		t.Fatalf("IsDomainQuestion = false, want true")
	}
	if msg.IsDM {
		t.Fatalf("IsDM = true, want false")
	}
	if msg.ReplyCount != 4 {
		t.Fatalf("ReplyCount = %d, want 4", msg.ReplyCount)
	}
	if msg.Priority != 50 {
		t.Fatalf("Priority = %d, want 50", msg.Priority)
	}
	if msg.UserID != "U123" || msg.UserName != "pat" {
		t.Fatalf("user = (%q, %q), want (U123, pat)", msg.UserID, msg.UserName)
	}
	if msg.Metadata["strategy"] != "channel_questions" || msg.Metadata["raw_type"] != "message" {
		t.Fatalf("Metadata = %v", msg.Metadata)
	}
	want := time.Unix(1770335900, 100*int64(time.Microsecond)).UTC()
	if !msg.Timestamp.Equal(want) {
		t.Fatalf("Timestamp = %v, want %v", msg.Timestamp, want)
	}
}

func TestParseMessageChannelString(t *testing.T) {
	t.Parallel()

	raw := RawHit{"ts": "1.5", "channel": "D42", "user_id": "U9", "thread_ts": "1.0"}
	msg, ok := ParseMessage(raw, SearchStrategy{Name: "direct_messages", MarksDM: true}, testConfig(), nil)
	if !ok {
		t.Fatalf("ParseMessage() ok = false")
	}
	if msg.ChannelID != "D42" || msg.ChannelName != "" {
		t.Fatalf("channel = (%q, %q), want (D42, \"\")", msg.ChannelID, msg.ChannelName)
	}
	if msg.UserID != "U9" {
		t.Fatalf("UserID = %q, want U9", msg.UserID)
	}
	if msg.ThreadTS != "1.0" {
		t.Fatalf("ThreadTS = %q, want explicit 1.0", msg.ThreadTS)
	}
	if !msg.IsDM {
		t.Fatalf("IsDM = false, want true")
	}
}

func TestParseMessageWithoutChannelIsDropped(t *testing.T) {
	t.Parallel()

	if _, ok := ParseMessage(RawHit{"ts": "1.0"}, SearchStrategy{}, Config{}, nil); ok {
		t.Fatalf("ParseMessage() without channel ok = true, want false")
	}
}

func TestExtractThreadTS(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "https://x.slack.com/archives/C1/p1770335814365139", want: "1770335814.365139"},
		{in: "https://x.slack.com/archives/C1/p1770335814365139?thread_ts=1770330000.000001", want: "1770330000.000001"},
		{in: "https://x.slack.com/archives/C1/p1770335814365139?cid=C1", want: "1770335814.365139"},
		{in: "https://x.slack.com/archives/C1/p123", want: ""},
	}
	for _, tc := range cases {
		if got := ExtractThreadTS(tc.in); got != tc.want {
			t.Fatalf("ExtractThreadTS(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	t.Parallel()

	got := ParseTimestamp("1.0", "2025-06-10T12:30:00Z", nil)
	want := time.Date(2025, 6, 10, 12, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("ParseTimestamp(iso Z) = %v, want %v", got, want)
	}
	got = ParseTimestamp("1.0", "2025-06-10T14:30:00+02:00", nil)
	if !got.Equal(want) {
		t.Fatalf("ParseTimestamp(iso offset) = %v, want %v", got, want)
	}
	got = ParseTimestamp("1770335814.365139", "not-a-date", nil)
	want = time.Unix(1770335814, 365139000).UTC()
	if !got.Equal(want) {
		t.Fatalf("ParseTimestamp(epoch) = %v, want %v", got, want)
	}
	before := time.Now().Add(-time.Second)
	got = ParseTimestamp("garbage", "", nil)
	if got.Before(before) {
		t.Fatalf("ParseTimestamp(garbage) = %v, want about now", got)
	}
}
