package engine

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate bounds the number of concurrent backend calls.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int
}

func NewGate(capacity int) *Gate {
	if capacity <= 0 {
		capacity = 1
	}
	return &Gate{sem: semaphore.NewWeighted(int64(capacity)), capacity: capacity}
}

func (g *Gate) Capacity() int {
	if g == nil {
		return 0
	}
	return g.capacity
}

// Do runs fn while holding one slot. The slot is released however fn returns.
func (g *Gate) Do(ctx context.Context, fn func() error) error {
	if g == nil {
		return fn()
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)
	return fn()
}
