package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepDo_MemoizesByName(t *testing.T) {
	s := NewStep()
	calls := 0

	fn := func(ctx context.Context) (any, error) {
		calls++
		return "value", nil
	}

	v1, err := s.Do(context.Background(), "stepA", fn)
	require.NoError(t, err)
	v2, err := s.Do(context.Background(), "stepA", fn)
	require.NoError(t, err)

	assert.Equal(t, "value", v1)
	assert.Equal(t, "value", v2)
	assert.Equal(t, 1, calls, "memoized step must not re-invoke fn")
}

func TestStepDo_DistinctNamesRunIndependently(t *testing.T) {
	s := NewStep()
	calls := 0

	fn := func(ctx context.Context) (any, error) {
		calls++
		return calls, nil
	}

	_, err := s.Do(context.Background(), "stepA", fn)
	require.NoError(t, err)
	_, err = s.Do(context.Background(), "stepB", fn)
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
}

func TestStepDo_RetriesTransientFailure(t *testing.T) {
	s := NewStep()
	calls := 0

	fn := func(ctx context.Context) (any, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("transient")
		}
		return "recovered", nil
	}

	v, err := s.Do(context.Background(), "flaky", fn)
	require.NoError(t, err)
	assert.Equal(t, "recovered", v)
	assert.Equal(t, 3, calls)
}

func TestStepDo_ExhaustedRetriesSurfaceTheError(t *testing.T) {
	s := NewStep()
	calls := 0

	_, err := s.Do(context.Background(), "doomed", func(ctx context.Context) (any, error) {
		calls++
		return nil, errors.New("permanent")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "doomed")
	assert.Equal(t, 3, calls, "two retries on top of the initial attempt")
}

func TestStepSleep_HonorsContextCancellation(t *testing.T) {
	s := NewStep()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Sleep(ctx, time.Minute) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Sleep did not return after context cancellation")
	}
}
