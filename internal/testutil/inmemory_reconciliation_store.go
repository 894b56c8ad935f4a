package testutil

import (
	"context"
	"sync"

	"github.com/reckonhq/reckon/internal/domain/reconciliation"
	"github.com/reckonhq/reckon/internal/types"
)

// InMemoryReconciliationStore mirrors the postgres repository, including
// the partial unique index over (provider, scope, active_key) that enforces
// a single active run, and the lease-version guard on updates.
type InMemoryReconciliationStore struct {
	mu   sync.RWMutex
	runs map[string]*reconciliation.Run
}

func NewInMemoryReconciliationStore() *InMemoryReconciliationStore {
	return &InMemoryReconciliationStore{
		runs: make(map[string]*reconciliation.Run),
	}
}

func (s *InMemoryReconciliationStore) activeConflict(run *reconciliation.Run) bool {
	if run.ActiveKey == nil {
		return false
	}
	for _, existing := range s.runs {
		if existing.ID == run.ID {
			continue
		}
		if existing.Provider == run.Provider && existing.Scope == run.Scope &&
			existing.ActiveKey != nil && *existing.ActiveKey == *run.ActiveKey {
			return true
		}
	}
	return false
}

func (s *InMemoryReconciliationStore) Create(ctx context.Context, run *reconciliation.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; ok {
		return errAlreadyExists("reconciliation run", map[string]any{"id": run.ID})
	}
	if s.activeConflict(run) {
		return errAlreadyExists("reconciliation run", map[string]any{
			"provider": run.Provider,
			"scope":    run.Scope,
		})
	}

	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *InMemoryReconciliationStore) Get(ctx context.Context, id string) (*reconciliation.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, errNotFound("reconciliation run", map[string]any{"id": id})
	}
	cp := *run
	return &cp, nil
}

func (s *InMemoryReconciliationStore) GetActive(ctx context.Context, provider types.ProviderType, scope types.ReconciliationScope) (*reconciliation.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, run := range s.runs {
		if run.Provider == provider && run.Scope == scope && run.ActiveKey != nil {
			cp := *run
			return &cp, nil
		}
	}
	return nil, errNotFound("reconciliation run", map[string]any{
		"provider": provider,
		"scope":    scope,
	})
}

func (s *InMemoryReconciliationStore) Update(ctx context.Context, run *reconciliation.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.runs[run.ID]
	if !ok {
		return errNotFound("reconciliation run", map[string]any{"id": run.ID})
	}
	if stored.Lease.Version != run.Lease.Version {
		return errVersionConflict("reconciliation run", map[string]any{"id": run.ID})
	}
	if s.activeConflict(run) {
		return errAlreadyExists("reconciliation run", map[string]any{
			"provider": run.Provider,
			"scope":    run.Scope,
		})
	}

	run.Lease.Version++
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *InMemoryReconciliationStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = make(map[string]*reconciliation.Run)
}
