package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/reckonhq/reckon/internal/domain/outbox"
	"github.com/reckonhq/reckon/internal/types"
)

// InMemoryOutboxStore mirrors the postgres repository: dedupe over
// (job_type, dedupe_key) among non-terminal jobs, and atomic lease-based
// pickup of due jobs.
type InMemoryOutboxStore struct {
	mu   sync.RWMutex
	jobs map[string]*outbox.Job
}

func NewInMemoryOutboxStore() *InMemoryOutboxStore {
	return &InMemoryOutboxStore{jobs: make(map[string]*outbox.Job)}
}

func (s *InMemoryOutboxStore) Enqueue(ctx context.Context, job *outbox.Job) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.jobs {
		if existing.JobType == job.JobType && existing.DedupeKey == job.DedupeKey &&
			!existing.JobStatus.IsTerminal() {
			return false, nil
		}
	}

	cp := *job
	s.jobs[job.ID] = &cp
	return true, nil
}

func (s *InMemoryOutboxStore) Get(ctx context.Context, id string) (*outbox.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, errNotFound("outbox job", map[string]any{"id": id})
	}
	cp := *job
	return &cp, nil
}

func (s *InMemoryOutboxStore) Update(ctx context.Context, job *outbox.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.jobs[job.ID]
	if !ok {
		return errNotFound("outbox job", map[string]any{"id": job.ID})
	}
	if stored.Lease.Version != job.Lease.Version {
		return errVersionConflict("outbox job", map[string]any{"id": job.ID})
	}

	job.Lease.Version++
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *InMemoryOutboxStore) LeaseDue(ctx context.Context, owner string, now time.Time, ttl time.Duration, limit int) ([]*outbox.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]*outbox.Job, 0)
	for _, job := range s.jobs {
		if job.IsDue(now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	out := make([]*outbox.Job, 0, len(due))
	for _, job := range due {
		job.JobStatus = types.OutboxJobStatusLeased
		job.AttemptCount++
		job.Lease = job.Lease.Acquire(owner, now, ttl)
		job.Lease.Version++
		cp := *job
		out = append(out, &cp)
	}
	return out, nil
}

func (s *InMemoryOutboxStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = make(map[string]*outbox.Job)
}
