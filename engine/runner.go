package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"time"
)

const (
	BackendClaudeCode = "claude_code"
	BackendOpenAI     = "openai"

	maxStderrBytes = 500
)

// Runner executes one prompt against a generation tool and returns its raw output.
type Runner interface {
	Run(ctx context.Context, prompt string, timeout time.Duration) (string, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, prompt string, timeout time.Duration) (string, error)

func (f RunnerFunc) Run(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	return f(ctx, prompt, timeout)
}

// CommandRunner runs a local CLI as `<path> [args...] --print -p <prompt>`.
type CommandRunner struct {
	Path string
	Args []string
}

func (r *CommandRunner) Run(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	if r == nil || strings.TrimSpace(r.Path) == "" {
		return "", fmt.Errorf("%w: empty command path", ErrNotFound)
	}
	runCtx, cancel := withOptionalTimeout(ctx, timeout)
	defer cancel()

	args := make([]string, 0, len(r.Args)+3)
	args = append(args, r.Args...)
	args = append(args, "--print", "-p", prompt)

	cmd := exec.CommandContext(runCtx, r.Path, args...)
	cmd.WaitDelay = 2 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %q", ErrNotFound, r.Path)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", &ExitError{Code: exitErr.ExitCode(), Stderr: truncateBytes(stderr.String(), maxStderrBytes)}
		}
		return "", fmt.Errorf("spawn %s: %w", r.Path, err)
	}
	return stdout.String(), nil
}

func withOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func truncateBytes(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// NewRunner builds the runner selected by cfg.Backend.
func NewRunner(cfg Config) (Runner, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendClaudeCode:
		path := strings.TrimSpace(cfg.ClaudeCodePath)
		if path == "" {
			path = "claude"
		}
		return &CommandRunner{Path: path}, nil
	case BackendOpenAI:
		return NewOpenAIRunner(cfg.OpenAI)
	default:
		return nil, fmt.Errorf("unsupported engine backend %q", cfg.Backend)
	}
}
