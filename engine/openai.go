package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIModel = "gpt-4o-mini"

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIRunner sends each prompt as a single chat completion.
type OpenAIRunner struct {
	client openai.Client
	model  string
}

func NewOpenAIRunner(cfg OpenAIConfig) (*OpenAIRunner, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, fmt.Errorf("engine.openai.api_key is required for the openai backend")
	}
	opts := []option.RequestOption{option.WithAPIKey(key)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIRunner{client: openai.NewClient(opts...), model: model}, nil
}

func (r *OpenAIRunner) Run(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	runCtx, cancel := withOptionalTimeout(ctx, timeout)
	defer cancel()

	resp, err := r.client.Chat.Completions.New(runCtx, openai.ChatCompletionNewParams{
		Model: r.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyOutput
	}
	return resp.Choices[0].Message.Content, nil
}
