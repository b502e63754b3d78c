package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/quailyquaily/slackdatabot/message"
)

// RawHit is one search match as returned by the search source.
type RawHit map[string]any

var permalinkThreadRe = regexp.MustCompile(`/p(\d{10})(\d{6})(?:\?|$)`)

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseMessage turns a raw hit into a Message. It reports false when the hit lacks
// a ts or a channel id.
func ParseMessage(raw RawHit, strategy SearchStrategy, cfg Config, logger *slog.Logger) (*message.Message, bool) {
	if raw == nil {
		return nil, false
	}
	ts := raw.String("ts")
	if ts == "" {
		return nil, false
	}

	channelID, channelName := raw.channel()
	msg, err := message.New(ts, channelID)
	if err != nil {
		return nil, false
	}

	text := raw.String("text")
	permalink := raw.String("permalink")
	threadTS := raw.String("thread_ts")
	if threadTS == "" {
		threadTS = ExtractThreadTS(permalink)
	}

	iso := raw.String("iid")
	if _, ok := raw["iid"]; !ok {
		iso = raw.String("date_str")
	}

	lower := strings.ToLower(text)
	owner := strings.TrimSpace(cfg.OwnerUsername)
	mentioned := owner != "" && strings.Contains(lower, "@"+strings.ToLower(owner))

	userID := raw.String("user")
	if _, ok := raw["user"]; !ok {
		userID = raw.String("user_id")
	}

	msg.ChannelName = channelName
	msg.UserID = userID
	msg.UserName = raw.String("username")
	msg.Text = text
	msg.Timestamp = ParseTimestamp(ts, iso, logger)
	msg.Permalink = permalink
	msg.ThreadTS = threadTS
	msg.IsDirectMention = strategy.MarksDirectMention || mentioned
	msg.IsDomainQuestion = containsAnyKeyword(lower, cfg.DomainKeywords)
	msg.IsDM = strategy.MarksDM
	msg.ReplyCount = raw.Int("reply_count")
	msg.Priority = max(0, strategy.PriorityBoost)
	msg.Metadata["strategy"] = strategy.Name
	msg.Metadata["raw_type"] = raw.String("type")
	msg.Metadata["subtype"] = raw.String("subtype")
	return msg, true
}

// ParseTimestamp prefers the ISO value, then the epoch ts, then the current time.
func ParseTimestamp(ts, iso string, logger *slog.Logger) time.Time {
	iso = strings.TrimSpace(iso)
	if iso != "" {
		for _, layout := range isoLayouts {
			if t, err := time.Parse(layout, iso); err == nil {
				return t.UTC()
			}
		}
	}
	if epoch, err := strconv.ParseFloat(strings.TrimSpace(ts), 64); err == nil && !math.IsNaN(epoch) && !math.IsInf(epoch, 0) {
		sec, frac := math.Modf(epoch)
		usec := math.Round(frac * 1e6)
		return time.Unix(int64(sec), int64(usec)*int64(time.Microsecond)).UTC()
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("monitor_timestamp_unparseable", "ts", ts, "iso", iso)
	return time.Now().UTC()
}

// ExtractThreadTS recovers the thread root ts from a permalink, either from the
// thread_ts query parameter or from the /pNNNNNNNNNNNNNNNN path segment.
func ExtractThreadTS(permalink string) string {
	permalink = strings.TrimSpace(permalink)
	if permalink == "" {
		return ""
	}
	if u, err := url.Parse(permalink); err == nil {
		if v := u.Query().Get("thread_ts"); v != "" {
			return v
		}
	}
	if m := permalinkThreadRe.FindStringSubmatch(permalink); m != nil {
		return m[1] + "." + m[2]
	}
	return ""
}

func containsAnyKeyword(lowerText string, keywords []string) bool {
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lowerText, kw) {
			return true
		}
	}
	return false
}

// String reads key as text. Numbers are formatted; missing or null is "".
func (r RawHit) String(key string) string {
	if r == nil {
		return ""
	}
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Int reads key as an integer, 0 when absent or malformed.
func (r RawHit) Int(key string) int {
	if r == nil {
		return 0
	}
	switch v := r[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(v))
		return n
	default:
		return 0
	}
}

// Truthy mirrors a loose presence check: non-empty strings, non-zero numbers, true.
func (r RawHit) Truthy(key string) bool {
	if r == nil {
		return false
	}
	switch v := r[key].(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return strings.TrimSpace(v) != ""
	case float64:
		return v != 0
	case int:
		return v != 0
	default:
		return true
	}
}

func (r RawHit) channel() (id string, name string) {
	switch v := r["channel"].(type) {
	case map[string]any:
		return RawHit(v).String("id"), RawHit(v).String("name")
	case RawHit:
		return v.String("id"), v.String("name")
	case nil:
		return "", ""
	default:
		return r.String("channel"), ""
	}
}
