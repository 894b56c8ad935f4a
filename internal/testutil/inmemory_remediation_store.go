package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/reckonhq/reckon/internal/domain/remediation"
	"github.com/reckonhq/reckon/internal/types"
)

// InMemoryRemediationStore mirrors the postgres repository, including the
// unique (provider, duplicate_provider_subscription_id) constraint and the
// lease-version guard on updates.
type InMemoryRemediationStore struct {
	mu           sync.RWMutex
	remediations map[string]*remediation.Remediation
}

func NewInMemoryRemediationStore() *InMemoryRemediationStore {
	return &InMemoryRemediationStore{
		remediations: make(map[string]*remediation.Remediation),
	}
}

func (s *InMemoryRemediationStore) Create(ctx context.Context, rem *remediation.Remediation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.remediations {
		if existing.Provider == rem.Provider &&
			existing.DuplicateProviderSubscriptionID == rem.DuplicateProviderSubscriptionID {
			return false, nil
		}
	}

	cp := *rem
	s.remediations[rem.ID] = &cp
	return true, nil
}

func (s *InMemoryRemediationStore) Get(ctx context.Context, id string) (*remediation.Remediation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rem, ok := s.remediations[id]
	if !ok {
		return nil, errNotFound("remediation", map[string]any{"id": id})
	}
	cp := *rem
	return &cp, nil
}

func (s *InMemoryRemediationStore) Update(ctx context.Context, rem *remediation.Remediation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.remediations[rem.ID]
	if !ok {
		return errNotFound("remediation", map[string]any{"id": rem.ID})
	}
	if stored.Lease.Version != rem.Lease.Version {
		return errVersionConflict("remediation", map[string]any{"id": rem.ID})
	}

	rem.Lease.Version++
	cp := *rem
	s.remediations[rem.ID] = &cp
	return nil
}

func (s *InMemoryRemediationStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*remediation.Remediation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*remediation.Remediation, 0)
	for _, rem := range s.remediations {
		due := false
		switch rem.RemediationStatus {
		case types.RemediationStatusPending:
			due = rem.NextAttemptAt == nil || !now.Before(*rem.NextAttemptAt)
		case types.RemediationStatusLeased:
			due = rem.Lease.IsExpired(now)
		}
		if due {
			cp := *rem
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryRemediationStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remediations = make(map[string]*remediation.Remediation)
}
