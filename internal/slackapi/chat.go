package slackapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

const postMessageAttempts = 3

type PostMessageRequest struct {
	Channel  string        `json:"channel"`
	Text     string        `json:"text"`
	ThreadTS string        `json:"thread_ts,omitempty"`
	Blocks   []slack.Block `json:"blocks,omitempty"`
}

type postMessageResponse struct {
	TS      string `json:"ts,omitempty"`
	Channel string `json:"channel,omitempty"`
}

// PostMessage sends a message with the bot token and returns its ts. 429 and 5xx
// replies are retried.
func (c *Client) PostMessage(ctx context.Context, req PostMessageRequest) (string, error) {
	req.Channel = strings.TrimSpace(req.Channel)
	req.Text = strings.TrimSpace(req.Text)
	req.ThreadTS = strings.TrimSpace(req.ThreadTS)
	if req.Channel == "" {
		return "", fmt.Errorf("channel is required")
	}
	if req.Text == "" && len(req.Blocks) == 0 {
		return "", fmt.Errorf("text is required")
	}
	if c == nil {
		return "", fmt.Errorf("slack api is not initialized")
	}

	var lastErr error
	for attempt := 1; attempt <= postMessageAttempts; attempt++ {
		body, status, headers, err := c.postAuthJSON(ctx, c.botToken, "/chat.postMessage", req)
		if err != nil {
			lastErr = err
		} else {
			var out postMessageResponse
			if err := decode("chat.postMessage", body, status, &out); err != nil {
				lastErr = err
			} else {
				return strings.TrimSpace(out.TS), nil
			}
		}

		if attempt >= postMessageAttempts {
			break
		}
		wait, retryable := retryDelay(status, headers, attempt)
		if !retryable {
			break
		}
		if err := sleepWithContext(ctx, wait); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

func retryDelay(status int, headers http.Header, attempt int) (time.Duration, bool) {
	switch {
	case status == http.StatusTooManyRequests:
		retryAfter := strings.TrimSpace(headers.Get("Retry-After"))
		if retryAfter == "" {
			return 1 * time.Second, true
		}
		secs, err := strconv.Atoi(retryAfter)
		if err != nil || secs <= 0 {
			return 1 * time.Second, true
		}
		return time.Duration(secs) * time.Second, true
	case status >= 500 && status <= 599:
		switch attempt {
		case 1:
			return 300 * time.Millisecond, true
		case 2:
			return 1 * time.Second, true
		default:
			return 2 * time.Second, true
		}
	default:
		return 0, false
	}
}
