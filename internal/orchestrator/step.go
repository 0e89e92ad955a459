package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// StepFunc is one unit of work a Step runs. It MUST be idempotent under
// the comparisonId its caller closes over — step.Do may invoke it more
// than once on transient failure.
type StepFunc func(ctx context.Context) (any, error)

// Step is the at-least-once retryable-unit-of-work abstraction the
// Orchestrator drives every named stage through. A given step name is
// memoized for the lifetime of one Step instance: once it succeeds, later
// Do calls with the same name return the cached result without
// re-invoking fn.
type Step interface {
	Do(ctx context.Context, name string, fn StepFunc) (any, error)
	Sleep(ctx context.Context, d time.Duration) error
}

type memoEntry struct {
	value any
}

// stepRunner is the in-process Step implementation: retries happen within
// a single Do call via exponential backoff, and results are memoized in
// an in-memory map scoped to one orchestrator run.
type stepRunner struct {
	mu   sync.Mutex
	memo map[string]memoEntry
}

// NewStep returns the default in-process Step implementation.
func NewStep() Step {
	return &stepRunner{memo: make(map[string]memoEntry)}
}

func (s *stepRunner) Do(ctx context.Context, name string, fn StepFunc) (any, error) {
	s.mu.Lock()
	if entry, ok := s.memo[name]; ok {
		s.mu.Unlock()
		return entry.value, nil
	}
	s.mu.Unlock()

	var result any
	operation := func() error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, fmt.Errorf("step %s: %w", name, err)
	}

	s.mu.Lock()
	s.memo[name] = memoEntry{value: result}
	s.mu.Unlock()
	return result, nil
}

func (s *stepRunner) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
