package engine

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout     = errors.New("investigation backend timed out")
	ErrNotFound    = errors.New("investigation backend executable not found")
	ErrEmptyOutput = errors.New("investigation backend returned empty output")
)

// ExitError is a non-zero exit from the investigation tool.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e == nil {
		return ""
	}
	if e.Stderr == "" {
		return fmt.Sprintf("investigation backend exited with code %d", e.Code)
	}
	return fmt.Sprintf("investigation backend exited with code %d: %s", e.Code, e.Stderr)
}
