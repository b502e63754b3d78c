// Package slackapi is a small Slack Web API and Socket Mode client covering the
// methods the bot needs: auth.test, apps.connections.open, chat.postMessage and
// search.messages.
package slackapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultBaseURL = "https://slack.com/api"

// APIError is an `ok: false` reply.
type APIError struct {
	Method string
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("slack %s failed: %s", e.Method, e.Code)
}

type Options struct {
	HTTPClient *http.Client
	BaseURL    string
	// BotToken (xoxb-) posts messages.
	BotToken string
	// AppToken (xapp-) opens Socket Mode connections.
	AppToken string
	// UserToken (xoxp-) is required by search.messages.
	UserToken string
}

type Client struct {
	http      *http.Client
	baseURL   string
	botToken  string
	appToken  string
	userToken string
}

func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := strings.TrimSpace(strings.TrimRight(opts.BaseURL, "/"))
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:      httpClient,
		baseURL:   baseURL,
		botToken:  strings.TrimSpace(opts.BotToken),
		appToken:  strings.TrimSpace(opts.AppToken),
		userToken: strings.TrimSpace(opts.UserToken),
	}
}

func (c *Client) HasBotToken() bool  { return c != nil && c.botToken != "" }
func (c *Client) HasAppToken() bool  { return c != nil && c.appToken != "" }
func (c *Client) HasUserToken() bool { return c != nil && c.userToken != "" }

type okResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// decode unmarshals a 2xx body into out and turns `ok: false` into *APIError.
func decode(method string, body []byte, status int, out any) error {
	if status < 200 || status >= 300 {
		return fmt.Errorf("slack %s http %d", method, status)
	}
	var head okResponse
	if err := json.Unmarshal(body, &head); err != nil {
		return fmt.Errorf("slack %s: decode response: %w", method, err)
	}
	if !head.OK {
		code := strings.TrimSpace(head.Error)
		if code == "" {
			code = "unknown_error"
		}
		return &APIError{Method: method, Code: code}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("slack %s: decode response: %w", method, err)
	}
	return nil
}

func (c *Client) postAuthJSON(ctx context.Context, token, path string, payload any) ([]byte, int, http.Header, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, nil, err
		}
		body = bytes.NewReader(raw)
	}
	return c.do(ctx, token, path, "application/json; charset=utf-8", body)
}

func (c *Client) postAuthForm(ctx context.Context, token, path string, form url.Values) ([]byte, int, http.Header, error) {
	return c.do(ctx, token, path, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
}

func (c *Client) do(ctx context.Context, token, path, contentType string, body io.Reader) ([]byte, int, http.Header, error) {
	if c == nil || c.http == nil {
		return nil, 0, nil, fmt.Errorf("slack api is not initialized")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, 0, nil, fmt.Errorf("slack token is required for %s", path)
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, 0, nil, fmt.Errorf("slack api path is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, resp.StatusCode, resp.Header, readErr
	}
	return raw, resp.StatusCode, resp.Header, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
