package slackapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const reconnectDelay = 2 * time.Second

type AuthTestResult struct {
	TeamID string `json:"team_id,omitempty"`
	UserID string `json:"user_id,omitempty"`
	BotID  string `json:"bot_id,omitempty"`
	URL    string `json:"url,omitempty"`
	Team   string `json:"team,omitempty"`
	User   string `json:"user,omitempty"`
}

// AuthTest verifies the bot token.
func (c *Client) AuthTest(ctx context.Context) (AuthTestResult, error) {
	if c == nil {
		return AuthTestResult{}, fmt.Errorf("slack api is not initialized")
	}
	body, status, _, err := c.postAuthJSON(ctx, c.botToken, "/auth.test", nil)
	if err != nil {
		return AuthTestResult{}, err
	}
	var out AuthTestResult
	if err := decode("auth.test", body, status, &out); err != nil {
		return AuthTestResult{}, err
	}
	out.TeamID = strings.TrimSpace(out.TeamID)
	out.UserID = strings.TrimSpace(out.UserID)
	out.BotID = strings.TrimSpace(out.BotID)
	return out, nil
}

// OpenSocketURL asks for a fresh Socket Mode websocket URL.
func (c *Client) OpenSocketURL(ctx context.Context) (string, error) {
	if c == nil {
		return "", fmt.Errorf("slack api is not initialized")
	}
	body, status, _, err := c.postAuthJSON(ctx, c.appToken, "/apps.connections.open", nil)
	if err != nil {
		return "", err
	}
	var out struct {
		URL string `json:"url,omitempty"`
	}
	if err := decode("apps.connections.open", body, status, &out); err != nil {
		return "", err
	}
	u := strings.TrimSpace(out.URL)
	if u == "" {
		return "", fmt.Errorf("slack apps.connections.open returned empty url")
	}
	return u, nil
}

func (c *Client) ConnectSocket(ctx context.Context) (*websocket.Conn, error) {
	u, err := c.OpenSocketURL(ctx)
	if err != nil {
		return nil, err
	}
	dialer := *websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Envelope is one Socket Mode frame.
type Envelope struct {
	EnvelopeID string          `json:"envelope_id,omitempty"`
	Type       string          `json:"type,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// ConsumeSocket acks every envelope that carries an id, then hands it to fn.
// It returns when reading fails, fn fails, or ctx is done.
func ConsumeSocket(ctx context.Context, conn *websocket.Conn, fn func(Envelope) error) error {
	if conn == nil {
		return fmt.Errorf("slack websocket connection is nil")
	}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		if strings.TrimSpace(env.EnvelopeID) != "" {
			if err := conn.WriteJSON(map[string]string{"envelope_id": env.EnvelopeID}); err != nil {
				return err
			}
		}
		if fn == nil {
			continue
		}
		if err := fn(env); err != nil {
			return err
		}
	}
}

// Listen keeps a Socket Mode connection open until ctx is done, reconnecting
// after failures.
func (c *Client) Listen(ctx context.Context, logger *slog.Logger, fn func(Envelope) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	for {
		if ctx.Err() != nil {
			logger.Info("slack_socket_stop", "reason", "context_canceled")
			return nil
		}
		conn, err := c.ConnectSocket(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("slack_socket_stop", "reason", "context_canceled")
				return nil
			}
			logger.Warn("slack_socket_connect_error", "error", err.Error())
			if err := sleepWithContext(ctx, reconnectDelay); err != nil {
				return nil
			}
			continue
		}
		logger.Info("slack_socket_connected")

		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		readErr := ConsumeSocket(ctx, conn, fn)
		stop()
		_ = conn.Close()
		if readErr != nil && !errors.Is(readErr, context.Canceled) && !errors.Is(readErr, context.DeadlineExceeded) {
			logger.Warn("slack_socket_read_error", "error", readErr.Error())
		}
	}
}
