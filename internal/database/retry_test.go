package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries:    maxRetries,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2,
		JitterFactor:  0.2,
	}
}

func TestDoReturnsImmediatelyOnSuccess(t *testing.T) {
	calls := 0
	retrier := NewRetrier(fastPolicy(3), nil)

	err := retrier.Do(context.Background(), "noop", func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsRetryableOperation(t *testing.T) {
	calls := 0
	retrier := NewRetrier(fastPolicy(2), nil)

	err := retrier.Do(context.Background(), "book ticket 42", func(ctx context.Context) error {
		calls++
		return pgError("40P01")
	})

	// maxRetries=2 means at most 3 invocations.
	assert.Equal(t, 3, calls)

	var terminal *ConflictAfterRetriesError
	require.ErrorAs(t, err, &terminal)
	assert.Equal(t, "book ticket 42", terminal.Context)
	assert.Equal(t, 3, terminal.Attempts)
	assert.Contains(t, err.Error(), "book ticket 42")
}

func TestDoDoesNotRetryNonRetryable(t *testing.T) {
	boom := errors.New("column does not exist")
	calls := 0
	retrier := NewRetrier(fastPolicy(3), nil)

	err := retrier.Do(context.Background(), "broken query", func(ctx context.Context) error {
		calls++
		return boom
	})

	assert.Equal(t, 1, calls)
	// Propagated untouched, not wrapped in a terminal conflict error.
	assert.Same(t, boom, err)
}

func TestDoRecoversAfterTransientFailure(t *testing.T) {
	calls := 0
	retrier := NewRetrier(fastPolicy(3), nil)

	err := retrier.Do(context.Background(), "flaky", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return pgError("40001")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoCustomPredicateRetriesVersionConflict(t *testing.T) {
	predicate := func(err error) bool {
		return Classify(err) == FailureVersionConflict || Retryable(err)
	}

	calls := 0
	retrier := NewRetrier(fastPolicy(3), predicate)
	err := retrier.Do(context.Background(), "optimistic book", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return ErrVersionConflict
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	// The generic predicate must leave version conflicts alone.
	calls = 0
	generic := NewRetrier(fastPolicy(3), nil)
	err = generic.Do(context.Background(), "generic", func(ctx context.Context) error {
		calls++
		return ErrVersionConflict
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestDoStopsWhenContextCancelled(t *testing.T) {
	policy := fastPolicy(5)
	policy.InitialDelay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	retrier := NewRetrier(policy, nil)

	start := time.Now()
	err := retrier.Do(ctx, "cancelled", func(ctx context.Context) error {
		calls++
		cancel()
		return pgError("40P01")
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second, "must not sit out the full backoff")
}
