package testutil

import (
	"context"
	"sync"

	"github.com/reckonhq/reckon/internal/domain/idempotency"
	"github.com/reckonhq/reckon/internal/types"
)

// InMemoryIdempotencyStore mirrors the postgres repository: the unique
// (billable_entity_id, action, client_key) constraint, the partial unique
// pending_key constraint, and the lease-version guard on updates.
type InMemoryIdempotencyStore struct {
	mu       sync.RWMutex
	requests map[string]*idempotency.Request
}

func NewInMemoryIdempotencyStore() *InMemoryIdempotencyStore {
	return &InMemoryIdempotencyStore{
		requests: make(map[string]*idempotency.Request),
	}
}

func (s *InMemoryIdempotencyStore) pendingConflict(req *idempotency.Request) bool {
	if req.PendingKey == nil {
		return false
	}
	for _, existing := range s.requests {
		if existing.ID == req.ID {
			continue
		}
		if existing.BillableEntityID == req.BillableEntityID && existing.Action == req.Action &&
			existing.PendingKey != nil && *existing.PendingKey == *req.PendingKey {
			return true
		}
	}
	return false
}

func (s *InMemoryIdempotencyStore) Create(ctx context.Context, req *idempotency.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[req.ID]; ok {
		return errAlreadyExists("idempotency request", map[string]any{"id": req.ID})
	}
	for _, existing := range s.requests {
		if existing.BillableEntityID == req.BillableEntityID &&
			existing.Action == req.Action && existing.ClientKey == req.ClientKey {
			return errAlreadyExists("idempotency request", map[string]any{
				"billable_entity_id": req.BillableEntityID,
				"action":             req.Action,
				"client_key":         req.ClientKey,
			})
		}
	}
	if s.pendingConflict(req) {
		return errAlreadyExists("idempotency request", map[string]any{
			"billable_entity_id": req.BillableEntityID,
			"action":             req.Action,
		})
	}

	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

func (s *InMemoryIdempotencyStore) Get(ctx context.Context, id string) (*idempotency.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, errNotFound("idempotency request", map[string]any{"id": id})
	}
	cp := *req
	return &cp, nil
}

func (s *InMemoryIdempotencyStore) GetByKey(ctx context.Context, billableEntityID string, action types.IdempotencyAction, clientKey string) (*idempotency.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, req := range s.requests {
		if req.BillableEntityID == billableEntityID && req.Action == action && req.ClientKey == clientKey {
			cp := *req
			return &cp, nil
		}
	}
	return nil, errNotFound("idempotency request", map[string]any{
		"billable_entity_id": billableEntityID,
		"action":             action,
		"client_key":         clientKey,
	})
}

func (s *InMemoryIdempotencyStore) GetByOperationKey(ctx context.Context, operationKey string) (*idempotency.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, req := range s.requests {
		if req.OperationKey == operationKey {
			cp := *req
			return &cp, nil
		}
	}
	return nil, errNotFound("idempotency request", map[string]any{
		"operation_key": operationKey,
	})
}

func (s *InMemoryIdempotencyStore) Update(ctx context.Context, req *idempotency.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.requests[req.ID]
	if !ok {
		return errNotFound("idempotency request", map[string]any{"id": req.ID})
	}
	// Strict compare-and-swap on the fencing version: the stored value must
	// be the one the caller read, and the write bumps it.
	if stored.Lease.Version != req.Lease.Version {
		return errVersionConflict("idempotency request", map[string]any{"id": req.ID})
	}
	if s.pendingConflict(req) {
		return errAlreadyExists("idempotency request", map[string]any{
			"billable_entity_id": req.BillableEntityID,
			"action":             req.Action,
		})
	}

	req.Lease.Version++
	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

func (s *InMemoryIdempotencyStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = make(map[string]*idempotency.Request)
}
