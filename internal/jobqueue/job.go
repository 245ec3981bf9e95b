package jobqueue

import (
	"time"

	"github.com/google/uuid"
)

// State is a job's position in its lifecycle:
// created → active → completed | failed | cancelled, with retry as the
// transient re-queue state between failed attempts.
type State string

const (
	StateCreated   State = "created"
	StateRetry     State = "retry"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transitions can happen. Terminal
// jobs no longer hold their singleton key and are garbage-collected once
// their retention window passes.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// Job is one durable unit of asynchronous work.
type Job struct {
	ID           uuid.UUID
	Kind         Kind
	Payload      Payload
	State        State
	RetryCount   int
	RetryLimit   int
	RetryDelay   time.Duration
	RetryBackoff bool
	SingletonKey string
	StartAfter   time.Time
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	LastError    *string

	// Retention windows applied when the job reaches a terminal state.
	RemoveOnComplete time.Duration
	RemoveOnFail     time.Duration
}

// Options controls retry policy, retention, and deduplication for an
// enqueued job.
type Options struct {
	RetryLimit       int
	RetryDelay       time.Duration
	RetryBackoff     bool
	RemoveOnComplete time.Duration
	RemoveOnFail     time.Duration
	SingletonKey     string
	StartAfter       time.Time
}

// DefaultOptions returns the per-kind baseline policy. Generation jobs
// get a higher retry limit (AI calls are flaky but cheap to retry);
// publish jobs get a lower one (retrying an unacknowledged publish risks
// duplicate posts); render jobs use the baseline.
func DefaultOptions(kind Kind) Options {
	opts := Options{
		RetryLimit:       3,
		RetryDelay:       30 * time.Second,
		RetryBackoff:     true,
		RemoveOnComplete: 10 * time.Minute,
		RemoveOnFail:     time.Hour,
	}

	switch kind {
	case KindGenerateEpisode:
		opts.RetryLimit = 5
	case KindPublishVideo:
		opts.RetryLimit = 2
	}

	return opts
}

// nextRetryDelay computes how long a job waits before its next attempt.
// retryCount is the number of attempts already failed; with backoff the
// base delay doubles per attempt.
func nextRetryDelay(base time.Duration, backoff bool, retryCount int) time.Duration {
	if !backoff {
		return base
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		delay *= 2
	}
	return delay
}
