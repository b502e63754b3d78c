// Package engine drafts answers with an external generation tool and runs the
// review/revise quality loop over them.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

)

// Config selects and bounds the generation backend.
type Config struct {
	Backend              string
	ClaudeCodePath       string
	InvestigationTimeout time.Duration
	ReviewTimeout        time.Duration
	MaxConcurrent        int
	OpenAI               OpenAIConfig
}

func DefaultConfig() Config {
	return Config{
		Backend:              BackendClaudeCode,
		ClaudeCodePath:       "claude",
		InvestigationTimeout: 300 * time.Second,
		ReviewTimeout:        120 * time.Second,
		MaxConcurrent:        3,
	}
}

var defaultReviewCriteria = []string{
	"Accuracy: Are the facts and numbers correct?",
	"Completeness: Does the answer fully address the question?",
	"Clarity: Is the answer easy to understand?",
	"Actionability: Does it help the user take next steps?",
}

type BackendOptions struct {
	Config Config
	// Runner defaults to NewRunner(Config).
	Runner Runner
	// Gate defaults to a new gate sized by Config.MaxConcurrent.
	Gate *Gate
	// Criteria are listed in review prompts.
	Criteria []string
	Logger   *slog.Logger
}

// Backend is the generation adapter shared by investigation and review.
type Backend struct {
	cfg      Config
	runner   Runner
	gate     *Gate
	criteria []string
	logger   *slog.Logger
}

func NewBackend(opts BackendOptions) (*Backend, error) {
	cfg := opts.Config
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	runner := opts.Runner
	if runner == nil {
		r, err := NewRunner(cfg)
		if err != nil {
			return nil, err
		}
		runner = r
	}
	gate := opts.Gate
	if gate == nil {
		gate = NewGate(cfg.MaxConcurrent)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var criteria []string
	for _, c := range opts.Criteria {
		if c = strings.TrimSpace(c); c != "" {
			criteria = append(criteria, c)
		}
	}
	return &Backend{cfg: cfg, runner: runner, gate: gate, criteria: criteria, logger: logger}, nil
}

// Investigate drafts an answer to question.
func (b *Backend) Investigate(ctx context.Context, question, background string) (string, error) {
	return b.run(ctx, "investigate", BuildInvestigationPrompt(question, background), b.cfg.InvestigationTimeout)
}

// Review asks for a per-criterion PASS/FAIL verdict on draft.
func (b *Backend) Review(ctx context.Context, question, draft string) (string, error) {
	return b.run(ctx, "review", BuildReviewPrompt(question, draft, b.criteria), b.cfg.ReviewTimeout)
}

func (b *Backend) run(ctx context.Context, op, prompt string, timeout time.Duration) (string, error) {
	var out string
	start := time.Now()
	err := b.gate.Do(ctx, func() error {
		b.logger.Debug("engine_backend_call", "op", op, "timeout", timeout.String())
		raw, err := b.runner.Run(ctx, prompt, timeout)
		if err != nil {
			return err
		}
		out = Sanitize(raw)
		if strings.TrimSpace(out) == "" {
			return ErrEmptyOutput
		}
		return nil
	})
	if err != nil {
		b.logger.Warn("engine_backend_error",
			"op", op,
			"duration", time.Since(start).String(),
			"error", err.Error(),
		)
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func BuildInvestigationPrompt(question, background string) string {
	parts := []string{
		"You are a data investigation assistant. A user asked a question in a team chat channel. Investigate and provide a clear, accurate answer.",
		"",
		"## Question",
		question,
	}
	if strings.TrimSpace(background) != "" {
		parts = append(parts, "", "## Context", background)
	}
	parts = append(parts,
		"",
		"## Instructions",
		"1. Use available tools to query data sources and explore the codebase.",
		"2. Verify your findings before presenting them.",
		"3. Provide a concise answer suitable for posting back to the chat channel.",
		"4. Include relevant numbers, SQL snippets, or references where helpful.",
		"5. If you cannot determine the answer, explain what you tried and suggest next steps.",
	)
	return strings.Join(parts, "\n")
}

func BuildReviewPrompt(question, draft string, criteria []string) string {
	if len(criteria) == 0 {
		criteria = defaultReviewCriteria
	}
	lines := make([]string, 0, len(criteria))
	for _, c := range criteria {
		lines = append(lines, "- "+c)
	}
	return strings.Join([]string{
		"You are a quality reviewer. Evaluate the following draft answer against each criterion below.",
		"",
		"## Original Question",
		question,
		"",
		"## Draft Answer",
		draft,
		"",
		"## Review Criteria",
		strings.Join(lines, "\n"),
		"",
		"## Instructions",
		"For EACH criterion, output exactly one line in this format:",
		"  CRITERION_NAME: PASS or FAIL",
		"followed by a brief explanation.",
		"",
		"After all criteria, add a section:",
		"  ## Feedback",
		"with specific, actionable suggestions for improvement. If everything passes, write 'No changes needed.'",
	}, "\n")
}
