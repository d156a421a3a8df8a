package database

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"
)

// RetryPolicy bounds the retry loop. After each failed attempt the delay
// grows as delay = min(delay * BackoffFactor * (1 + JitterFactor*rand), MaxDelay).
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterFactor  float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    3,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2,
		JitterFactor:  0.2,
	}
}

// ConflictAfterRetriesError is the terminal error raised once a retryable
// operation has exhausted its attempt budget. It lets callers distinguish
// "gave up after contention" from "this never worked".
type ConflictAfterRetriesError struct {
	Context  string
	Attempts int
	Err      error
}

func (e *ConflictAfterRetriesError) Error() string {
	return fmt.Sprintf("%s: still conflicting after %d attempts: %v", e.Context, e.Attempts, e.Err)
}

func (e *ConflictAfterRetriesError) Unwrap() error { return e.Err }

// Retrier re-invokes an operation while its failure stays within the
// retryable predicate. The operations retried here are idempotent
// read-modify-write units scoped to one transaction, which is what makes
// blind retry safe.
type Retrier struct {
	policy    RetryPolicy
	retryable func(error) bool
}

// NewRetrier builds a Retrier. A nil predicate means the generic one:
// classifier-retryable classes only.
func NewRetrier(policy RetryPolicy, retryable func(error) bool) *Retrier {
	if retryable == nil {
		retryable = Retryable
	}
	return &Retrier{policy: policy, retryable: retryable}
}

// Do runs op, retrying transient failures with exponential backoff and
// jitter. opContext names the operation in logs and in the terminal error.
// A non-retryable failure propagates untouched after a single attempt.
func (r *Retrier) Do(ctx context.Context, opContext string, op func(ctx context.Context) error) error {
	delay := r.policy.InitialDelay
	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !r.retryable(err) {
			return err
		}
		if attempt >= r.policy.MaxRetries {
			return &ConflictAfterRetriesError{Context: opContext, Attempts: attempt + 1, Err: err}
		}

		log.Printf("retry: %s attempt %d failed (%s), backing off %s", opContext, attempt+1, Classify(err), delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		next := float64(delay) * r.policy.BackoffFactor * (1 + r.policy.JitterFactor*rand.Float64())
		delay = time.Duration(next)
		if delay > r.policy.MaxDelay {
			delay = r.policy.MaxDelay
		}
	}
}
