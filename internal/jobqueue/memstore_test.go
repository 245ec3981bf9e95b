package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory store with the same transition guards as
// pgStore, used to exercise the runtime without a database.
type memStore struct {
	mu    sync.Mutex
	jobs  map[uuid.UUID]*Job
	order []uuid.UUID
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[uuid.UUID]*Job)}
}

func (s *memStore) insert(ctx context.Context, job *Job) (uuid.UUID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.SingletonKey != "" {
		for _, id := range s.order {
			existing := s.jobs[id]
			if existing.Kind == job.Kind && existing.SingletonKey == job.SingletonKey && !existing.State.Terminal() {
				return existing.ID, false, nil
			}
		}
	}

	clone := *job
	clone.State = StateCreated
	clone.CreatedAt = time.Now()
	s.jobs[clone.ID] = &clone
	s.order = append(s.order, clone.ID)
	return clone.ID, true, nil
}

func (s *memStore) fetch(ctx context.Context, kind Kind) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, id := range s.order {
		job := s.jobs[id]
		if job.Kind != kind {
			continue
		}
		if job.State != StateCreated && job.State != StateRetry {
			continue
		}
		if job.StartAfter.After(now) {
			continue
		}
		job.State = StateActive
		started := now
		job.StartedAt = &started
		copy := *job
		return &copy, nil
	}
	return nil, nil
}

func (s *memStore) get(ctx context.Context, id uuid.UUID) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, errNotFound
	}
	copy := *job
	return &copy, nil
}

func (s *memStore) complete(ctx context.Context, id uuid.UUID, retain time.Duration) error {
	return s.transition(id, StateCompleted, []State{StateActive}, "")
}

func (s *memStore) retry(ctx context.Context, id uuid.UUID, startAfter time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.State != StateActive {
		return errBadTransition
	}
	job.State = StateRetry
	job.RetryCount++
	job.StartAfter = startAfter
	job.LastError = &lastError
	return nil
}

func (s *memStore) fail(ctx context.Context, id uuid.UUID, retain time.Duration, lastError string) error {
	return s.transition(id, StateFailed, []State{StateActive}, lastError)
}

func (s *memStore) cancel(ctx context.Context, id uuid.UUID, retain time.Duration) error {
	return s.transition(id, StateCancelled, []State{StateCreated, StateRetry}, "")
}

func (s *memStore) transition(id uuid.UUID, to State, from []State, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return errNotFound
	}
	allowed := false
	for _, f := range from {
		if job.State == f {
			allowed = true
		}
	}
	if !allowed {
		return errBadTransition
	}
	job.State = to
	now := time.Now()
	job.CompletedAt = &now
	if lastError != "" {
		job.LastError = &lastError
	}
	return nil
}

func (s *memStore) requeueExpired(ctx context.Context, expireIn time.Duration) (int64, error) {
	return 0, nil
}

func (s *memStore) purge(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	kept := s.order[:0]
	for _, id := range s.order {
		if s.jobs[id].State.Terminal() {
			delete(s.jobs, id)
			n++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return n, nil
}

var (
	errNotFound      = &storeError{"job not found"}
	errBadTransition = &storeError{"invalid state transition"}
)

type storeError struct{ msg string }

func (e *storeError) Error() string { return e.msg }
