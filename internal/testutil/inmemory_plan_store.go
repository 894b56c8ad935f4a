package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/reckonhq/reckon/internal/domain/plan"
	"github.com/reckonhq/reckon/internal/types"
)

// InMemoryPlanStore mirrors the postgres plan repository, including the
// unique code constraint.
type InMemoryPlanStore struct {
	mu    sync.RWMutex
	plans map[string]*plan.Plan
}

func NewInMemoryPlanStore() *InMemoryPlanStore {
	return &InMemoryPlanStore{plans: make(map[string]*plan.Plan)}
}

func (s *InMemoryPlanStore) Create(ctx context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plans[p.ID]; ok {
		return errAlreadyExists("plan", map[string]any{"id": p.ID})
	}
	for _, existing := range s.plans {
		if existing.Code == p.Code {
			return errAlreadyExists("plan", map[string]any{"code": p.Code})
		}
	}

	cp := *p
	s.plans[p.ID] = &cp
	return nil
}

func (s *InMemoryPlanStore) Get(ctx context.Context, id string) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.plans[id]
	if !ok {
		return nil, errNotFound("plan", map[string]any{"id": id})
	}
	cp := *p
	return &cp, nil
}

func (s *InMemoryPlanStore) GetByCode(ctx context.Context, code string) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.plans {
		if p.Code == code {
			cp := *p
			return &cp, nil
		}
	}
	return nil, errNotFound("plan", map[string]any{"code": code})
}

func (s *InMemoryPlanStore) List(ctx context.Context, filter *types.QueryFilter) ([]*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*plan.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > filter.GetLimit() {
		out = out[:filter.GetLimit()]
	}
	return out, nil
}

func (s *InMemoryPlanStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans = make(map[string]*plan.Plan)
}

// InMemoryPriceStore mirrors the postgres price repository, including the
// partial unique index over (plan_id, provider, sellable_key).
type InMemoryPriceStore struct {
	mu     sync.RWMutex
	prices map[string]*plan.Price
}

func NewInMemoryPriceStore() *InMemoryPriceStore {
	return &InMemoryPriceStore{prices: make(map[string]*plan.Price)}
}

func (s *InMemoryPriceStore) sellableConflict(p *plan.Price) bool {
	if p.SellableKey == nil {
		return false
	}
	for _, existing := range s.prices {
		if existing.ID == p.ID {
			continue
		}
		if existing.PlanID == p.PlanID && existing.Provider == p.Provider &&
			existing.SellableKey != nil && *existing.SellableKey == *p.SellableKey {
			return true
		}
	}
	return false
}

func (s *InMemoryPriceStore) Create(ctx context.Context, p *plan.Price) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.prices[p.ID]; ok {
		return errAlreadyExists("price", map[string]any{"id": p.ID})
	}
	if s.sellableConflict(p) {
		return errAlreadyExists("price", map[string]any{
			"plan_id":  p.PlanID,
			"provider": p.Provider,
		})
	}

	cp := *p
	s.prices[p.ID] = &cp
	return nil
}

func (s *InMemoryPriceStore) Get(ctx context.Context, id string) (*plan.Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prices[id]
	if !ok {
		return nil, errNotFound("price", map[string]any{"id": id})
	}
	cp := *p
	return &cp, nil
}

func (s *InMemoryPriceStore) Update(ctx context.Context, p *plan.Price) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.prices[p.ID]; !ok {
		return errNotFound("price", map[string]any{"id": p.ID})
	}
	if s.sellableConflict(p) {
		return errAlreadyExists("price", map[string]any{
			"plan_id":  p.PlanID,
			"provider": p.Provider,
		})
	}
	cp := *p
	s.prices[p.ID] = &cp
	return nil
}

func (s *InMemoryPriceStore) GetByProviderPriceID(ctx context.Context, provider types.ProviderType, providerPriceID string) (*plan.Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.prices {
		if p.Provider == provider && p.ProviderPriceID == providerPriceID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, errNotFound("price", map[string]any{
		"provider":          provider,
		"provider_price_id": providerPriceID,
	})
}

func (s *InMemoryPriceStore) GetSellable(ctx context.Context, planID string, provider types.ProviderType) (*plan.Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.prices {
		if p.PlanID == planID && p.Provider == provider && p.SellableKey != nil {
			cp := *p
			return &cp, nil
		}
	}
	return nil, errNotFound("price", map[string]any{
		"plan_id":  planID,
		"provider": provider,
	})
}

func (s *InMemoryPriceStore) ListByPlan(ctx context.Context, planID string) ([]*plan.Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*plan.Price, 0)
	for _, p := range s.prices {
		if p.PlanID == planID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func (s *InMemoryPriceStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices = make(map[string]*plan.Price)
}
