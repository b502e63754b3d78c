package monitor

import (
	"regexp"
	"strings"

	"github.com/quailyquaily/slackdatabot/message"
)

var (
	fyiRe = regexp.MustCompile(`(?i)\b(?:cc:|fyi:|looping\s+in\s+@|adding\s+@|copying\s+@|cc\s+@|cc'ing)`)

	questionRe = regexp.MustCompile(`(?i)(?:\?` +
		`|\bwondering\b` +
		`|\bnot\s+sure\b` +
		`|\bhelp\b` +
		`|\bhow\s+do\b` +
		`|\bwhat\s+is\b` +
		`|\bwhere\b` +
		`|\bwhy\b` +
		`|\bcan\s+you\b` +
		`|\bcould\s+you\b` +
		`|\bdo\s+you\s+know\b` +
		`|\bany\s+idea\b` +
		`)`)

	fencedCodeRe = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe = regexp.MustCompile("`[^`]+`")
)

// Filter holds the config-driven content checks.
type Filter struct {
	botUsernames   map[string]struct{}
	domainKeywords []string
}

func NewFilter(cfg Config) *Filter {
	f := &Filter{botUsernames: map[string]struct{}{}}
	for _, u := range cfg.BotUsernames {
		u = strings.ToLower(strings.TrimSpace(u))
		if u != "" {
			f.botUsernames[u] = struct{}{}
		}
	}
	for _, kw := range cfg.DomainKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			f.domainKeywords = append(f.domainKeywords, kw)
		}
	}
	return f
}

// IsBotMessage checks the configured bot usernames, the bot_message subtype and bot_id.
func (f *Filter) IsBotMessage(raw RawHit) bool {
	if raw == nil {
		return false
	}
	if f != nil {
		if _, ok := f.botUsernames[strings.ToLower(raw.String("username"))]; ok {
			return true
		}
	}
	if raw.String("subtype") == "bot_message" {
		return true
	}
	return raw.Truthy("bot_id")
}

// IsFYIMention reports informational mentions such as "cc:" or "looping in @x".
func (f *Filter) IsFYIMention(text string) bool {
	return fyiRe.MatchString(text)
}

// IsQuotedMention reports whether @owner only appears inside code or a blockquote.
func (f *Filter) IsQuotedMention(text, owner string) bool {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return false
	}
	mention := strings.ToLower("@" + owner)
	if !strings.Contains(strings.ToLower(text), mention) {
		return false
	}
	for _, block := range fencedCodeRe.FindAllString(text, -1) {
		if strings.Contains(strings.ToLower(block), mention) {
			return true
		}
	}
	for _, span := range inlineCodeRe.FindAllString(text, -1) {
		if strings.Contains(strings.ToLower(span), mention) {
			return true
		}
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, ">") && strings.Contains(strings.ToLower(line), mention) {
			return true
		}
	}
	return false
}

func (f *Filter) IsQuestion(text string) bool {
	return questionRe.MatchString(text)
}

func (f *Filter) HasDomainKeyword(text string) bool {
	if f == nil {
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range f.domainKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// FilterAnswered drops candidates whose conversation the owner already replied in,
// or that the answered cache already holds.
func (f *Filter) FilterAnswered(candidates, ownerResponses []*message.Message, answered map[string]struct{}) []*message.Message {
	seen := make(map[string]struct{}, len(ownerResponses)+len(answered))
	for _, resp := range ownerResponses {
		if resp == nil {
			continue
		}
		seen[resp.ConversationKey()] = struct{}{}
	}
	for key := range answered {
		seen[key] = struct{}{}
	}
	out := make([]*message.Message, 0, len(candidates))
	for _, msg := range candidates {
		if msg == nil {
			continue
		}
		if _, ok := seen[msg.ConversationKey()]; ok {
			continue
		}
		out = append(out, msg)
	}
	return out
}
