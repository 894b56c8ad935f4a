package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/reckonhq/reckon/internal/domain/billableentity"
)

// InMemoryBillableEntityStore mirrors the postgres repository, including the
// unique workspace_id constraint.
type InMemoryBillableEntityStore struct {
	mu       sync.RWMutex
	entities map[string]*billableentity.BillableEntity
}

func NewInMemoryBillableEntityStore() *InMemoryBillableEntityStore {
	return &InMemoryBillableEntityStore{
		entities: make(map[string]*billableentity.BillableEntity),
	}
}

func (s *InMemoryBillableEntityStore) Create(ctx context.Context, entity *billableentity.BillableEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[entity.ID]; ok {
		return errAlreadyExists("billable entity", map[string]any{"id": entity.ID})
	}
	for _, e := range s.entities {
		if e.WorkspaceID == entity.WorkspaceID {
			return errAlreadyExists("billable entity", map[string]any{"workspace_id": entity.WorkspaceID})
		}
	}

	cp := *entity
	s.entities[entity.ID] = &cp
	return nil
}

func (s *InMemoryBillableEntityStore) Get(ctx context.Context, id string) (*billableentity.BillableEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[id]
	if !ok {
		return nil, errNotFound("billable entity", map[string]any{"id": id})
	}
	cp := *e
	return &cp, nil
}

func (s *InMemoryBillableEntityStore) GetByWorkspaceID(ctx context.Context, workspaceID string) (*billableentity.BillableEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entities {
		if e.WorkspaceID == workspaceID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, errNotFound("billable entity", map[string]any{"workspace_id": workspaceID})
}

func (s *InMemoryBillableEntityStore) Update(ctx context.Context, entity *billableentity.BillableEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[entity.ID]; !ok {
		return errNotFound("billable entity", map[string]any{"id": entity.ID})
	}
	cp := *entity
	s.entities[entity.ID] = &cp
	return nil
}

func (s *InMemoryBillableEntityStore) ListAfter(ctx context.Context, afterID string, limit int) ([]*billableentity.BillableEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*billableentity.BillableEntity, 0)
	for _, e := range s.entities {
		if e.ID > afterID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryBillableEntityStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities = make(map[string]*billableentity.BillableEntity)
}
