// Package message holds the chat message record shared by discovery, investigation
// and delivery, plus the conversation-level deduplication rule.
package message

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const summaryTextLimit = 200

// Message is a single chat message that may need a response.
type Message struct {
	TS          string
	ChannelID   string
	ChannelName string
	UserID      string
	UserName    string
	Text        string
	Timestamp   time.Time
	Permalink   string
	ThreadTS    string

	IsDirectMention  bool
	IsDomainQuestion bool
	IsDM             bool

	ReplyCount int
	Priority   int

	// Provenance: strategy name, raw type/subtype.
	Metadata map[string]string
}

// New returns a Message with the two identity fields set. Both are required.
func New(ts, channelID string) (*Message, error) {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return nil, fmt.Errorf("message ts is required")
	}
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return nil, fmt.Errorf("message channel_id is required")
	}
	return &Message{
		TS:        ts,
		ChannelID: channelID,
		Metadata:  map[string]string{},
	}, nil
}

// ConversationKey is the deduplication and answered-tracking unit.
func (m *Message) ConversationKey() string {
	if m == nil {
		return ""
	}
	return ConversationKey(m.ChannelID, m.ThreadTS, m.TS)
}

// ConversationKey builds "channel_id:thread_ts", falling back to ts for thread roots.
func ConversationKey(channelID, threadTS, ts string) string {
	root := strings.TrimSpace(threadTS)
	if root == "" {
		root = strings.TrimSpace(ts)
	}
	return strings.TrimSpace(channelID) + ":" + root
}

// InThread reports whether the message is a reply inside someone else's thread.
func (m *Message) InThread() bool {
	return m != nil && m.ThreadTS != "" && m.ThreadTS != m.TS
}

// Strategy returns the name of the search strategy that discovered the message.
func (m *Message) Strategy() string {
	if m == nil || m.Metadata == nil {
		return ""
	}
	return m.Metadata["strategy"]
}

// Clone returns a deep copy.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	if m.Metadata != nil {
		cp.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// RelativeTime renders the message age ("just now", "5m ago", "3h ago", "2d ago").
func (m *Message) RelativeTime(now time.Time) string {
	if m == nil || m.Timestamp.IsZero() {
		return "just now"
	}
	diff := now.Sub(m.Timestamp)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff >= 24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff/(24*time.Hour)))
	case diff >= time.Hour:
		return fmt.Sprintf("%dh ago", int(diff/time.Hour))
	default:
		return fmt.Sprintf("%dm ago", int(diff/time.Minute))
	}
}

// Summary renders a JSON-friendly snapshot with the text shortened.
func (m *Message) Summary(now time.Time) map[string]any {
	if m == nil {
		return nil
	}
	text := m.Text
	if utf8.RuneCountInString(text) > summaryTextLimit {
		text = TruncateRunes(text, summaryTextLimit) + "..."
	}
	var threadTS any
	if m.ThreadTS != "" {
		threadTS = m.ThreadTS
	}
	return map[string]any{
		"ts":                 m.TS,
		"channel_id":         m.ChannelID,
		"channel_name":       m.ChannelName,
		"user_id":            m.UserID,
		"user_name":          m.UserName,
		"text":               text,
		"timestamp":          m.Timestamp.UTC().Format(time.RFC3339),
		"relative_time":      m.RelativeTime(now),
		"permalink":          m.Permalink,
		"thread_ts":          threadTS,
		"is_direct_mention":  m.IsDirectMention,
		"is_domain_question": m.IsDomainQuestion,
		"is_dm":              m.IsDM,
		"reply_count":        m.ReplyCount,
		"priority":           m.Priority,
	}
}

// TruncateRunes returns at most limit runes of s, never splitting a character.
func TruncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
