package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/reckonhq/reckon/internal/domain/entitlement"
)

// InMemoryEntitlementStore mirrors the postgres repository for entitlement
// definitions and plan bindings, including the unique code constraint.
type InMemoryEntitlementStore struct {
	mu          sync.RWMutex
	definitions map[string]*entitlement.Definition
	planEnts    map[string]*entitlement.PlanEntitlement
}

func NewInMemoryEntitlementStore() *InMemoryEntitlementStore {
	return &InMemoryEntitlementStore{
		definitions: make(map[string]*entitlement.Definition),
		planEnts:    make(map[string]*entitlement.PlanEntitlement),
	}
}

func (s *InMemoryEntitlementStore) CreateDefinition(ctx context.Context, def *entitlement.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.definitions[def.ID]; ok {
		return errAlreadyExists("entitlement definition", map[string]any{"id": def.ID})
	}
	for _, existing := range s.definitions {
		if existing.Code == def.Code {
			return errAlreadyExists("entitlement definition", map[string]any{"code": def.Code})
		}
	}

	cp := *def
	s.definitions[def.ID] = &cp
	return nil
}

func (s *InMemoryEntitlementStore) GetDefinition(ctx context.Context, id string) (*entitlement.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.definitions[id]
	if !ok {
		return nil, errNotFound("entitlement definition", map[string]any{"id": id})
	}
	cp := *def
	return &cp, nil
}

func (s *InMemoryEntitlementStore) GetDefinitionByCode(ctx context.Context, code string) (*entitlement.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, def := range s.definitions {
		if def.Code == code {
			cp := *def
			return &cp, nil
		}
	}
	return nil, errNotFound("entitlement definition", map[string]any{"code": code})
}

func (s *InMemoryEntitlementStore) ListDefinitions(ctx context.Context) ([]*entitlement.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entitlement.Definition, 0, len(s.definitions))
	for _, def := range s.definitions {
		cp := *def
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *InMemoryEntitlementStore) CreatePlanEntitlement(ctx context.Context, pe *entitlement.PlanEntitlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.planEnts[pe.ID]; ok {
		return errAlreadyExists("plan entitlement", map[string]any{"id": pe.ID})
	}
	for _, existing := range s.planEnts {
		if existing.PlanID == pe.PlanID && existing.DefinitionID == pe.DefinitionID {
			return errAlreadyExists("plan entitlement", map[string]any{
				"plan_id":       pe.PlanID,
				"definition_id": pe.DefinitionID,
			})
		}
	}

	cp := *pe
	s.planEnts[pe.ID] = &cp
	return nil
}

func (s *InMemoryEntitlementStore) ListPlanEntitlements(ctx context.Context, planID string) ([]*entitlement.PlanEntitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entitlement.PlanEntitlement, 0)
	for _, pe := range s.planEnts {
		if pe.PlanID == planID {
			cp := *pe
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryEntitlementStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.definitions = make(map[string]*entitlement.Definition)
	s.planEnts = make(map[string]*entitlement.PlanEntitlement)
}
