package message

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
)

func mustNew(t *testing.T, ts, channel string) *Message {
	t.Helper()
	m, err := New(ts, channel)
	if err != nil {
		t.Fatalf("New(%q, %q) error = %v", ts, channel, err)
	}
	return m
}

func TestNewRequiresIdentity(t *testing.T) {
	t.Parallel()

	if _, err := New("", "C1"); err == nil {
		t.Fatalf("New() with blank ts should fail")
	}
	if _, err := New("1.0", "  "); err == nil {
		t.Fatalf("New() with blank channel should fail")
	}
	m := mustNew(t, " 1.0 ", " C1 ")
	if m.TS != "1.0" || m.ChannelID != "C1" {
		t.Fatalf("New() = %+v, want trimmed identity", m)
	}
}

func TestConversationKey(t *testing.T) {
	t.Parallel()

	root := mustNew(t, "100.1", "C1")
	if got := root.ConversationKey(); got != "C1:100.1" {
		t.Fatalf("ConversationKey() = %q, want %q", got, "C1:100.1")
	}
	reply := mustNew(t, "200.2", "C1")
	reply.ThreadTS = "100.1"
	if got := reply.ConversationKey(); got != "C1:100.1" {
		t.Fatalf("ConversationKey() = %q, want %q", got, "C1:100.1")
	}
	if !reply.InThread() {
		t.Fatalf("InThread() = false, want true")
	}
	if root.InThread() {
		t.Fatalf("InThread() = true for root, want false")
	}
}

func TestDedupeKeepsHighestPriority(t *testing.T) {
	t.Parallel()

	a := mustNew(t, "1.0", "C1")
	a.Priority = 50
	b := mustNew(t, "2.0", "C1")
	b.ThreadTS = "1.0"
	b.Priority = 120
	c := mustNew(t, "3.0", "C2")
	c.Priority = 10
	d := mustNew(t, "4.0", "C1")
	d.ThreadTS = "1.0"
	d.Priority = 120

	got := Dedupe([]*Message{a, nil, c, b, d})
	if len(got) != 2 {
		t.Fatalf("len(Dedupe()) = %d, want 2", len(got))
	}
	if got[0] != b {
		t.Fatalf("Dedupe()[0] = %s, want the priority-120 message seen first", got[0].TS)
	}
	if got[1] != c {
		t.Fatalf("Dedupe()[1] = %s, want %s", got[1].TS, c.TS)
	}
}

func TestDedupeIdempotent(t *testing.T) {
	t.Parallel()

	var in []*Message
	for i, p := range []int{5, 10, 3, 10, 7} {
		m := mustNew(t, strings.Repeat("1", i+1)+".0", "C1")
		if i%2 == 1 {
			m.ThreadTS = "1.0"
		}
		m.Priority = p
		in = append(in, m)
	}
	once := Dedupe(in)
	twice := Dedupe(once)
	keys := func(ms []*Message) []string {
		var out []string
		for _, m := range ms {
			out = append(out, m.ConversationKey()+"/"+m.TS)
		}
		return out
	}
	if diff := cmp.Diff(keys(once), keys(twice)); diff != "" {
		t.Fatalf("Dedupe() not idempotent (-once +twice):\n%s", diff)
	}
}

func TestDedupeEmpty(t *testing.T) {
	t.Parallel()

	if got := Dedupe(nil); got == nil || len(got) != 0 {
		t.Fatalf("Dedupe(nil) = %v, want empty slice", got)
	}
}

func TestRelativeTime(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		ago  time.Duration
		want string
	}{
		{ago: 10 * time.Second, want: "just now"},
		{ago: 5 * time.Minute, want: "5m ago"},
		{ago: 3*time.Hour + 10*time.Minute, want: "3h ago"},
		{ago: 50 * time.Hour, want: "2d ago"},
	}
	for _, tc := range cases {
		m := mustNew(t, "1.0", "C1")
		m.Timestamp = now.Add(-tc.ago)
		if got := m.RelativeTime(now); got != tc.want {
			t.Fatalf("RelativeTime(%v) = %q, want %q", tc.ago, got, tc.want)
		}
	}
}

func TestSummaryTruncatesText(t *testing.T) {
	t.Parallel()

	m := mustNew(t, "1.0", "C1")
	m.Text = strings.Repeat("x", 250)
	s := m.Summary(time.Now())
	text, _ := s["text"].(string)
	if len(text) != 203 || !strings.HasSuffix(text, "...") {
		t.Fatalf("Summary() text len = %d, want 203 ending in ...", len(text))
	}
	if s["thread_ts"] != nil {
		t.Fatalf("Summary() thread_ts = %v, want nil", s["thread_ts"])
	}
}

func TestSummaryTruncatesMultibyteText(t *testing.T) {
	t.Parallel()

	m := mustNew(t, "1.0", "C1")
	m.Text = "x" + strings.Repeat("数据", 150)
	text, _ := m.Summary(time.Now())["text"].(string)
	if !utf8.ValidString(text) {
		t.Fatalf("Summary() text is not valid UTF-8: %q", text)
	}
	if got := utf8.RuneCountInString(text); got != 203 || !strings.HasSuffix(text, "...") {
		t.Fatalf("Summary() text runes = %d, want 203 ending in ...", got)
	}
}

func TestTruncateRunes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in    string
		limit int
		want  string
	}{
		{"héllo", 2, "hé"},
		{"héllo", 5, "héllo"},
		{"héllo", 9, "héllo"},
		{"数据", 1, "数"},
		{"abc", 0, ""},
	}
	for _, tc := range cases {
		if got := TruncateRunes(tc.in, tc.limit); got != tc.want {
			t.Fatalf("TruncateRunes(%q, %d) = %q, want %q", tc.in, tc.limit, got, tc.want)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	m := mustNew(t, "1.0", "C1")
	m.Metadata["strategy"] = "direct_mentions"
	cp := m.Clone()
	cp.Metadata["strategy"] = "other"
	if m.Strategy() != "direct_mentions" {
		t.Fatalf("Clone() shares metadata with original")
	}
}
