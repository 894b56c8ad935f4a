package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/reckonhq/reckon/internal/domain/subscription"
	"github.com/reckonhq/reckon/internal/types"
	"github.com/samber/lo"
)

// InMemorySubscriptionStore mirrors the postgres repository, including the
// partial unique index enforcing at most one current subscription per
// billable entity and the unique (provider, provider_subscription_id) key.
type InMemorySubscriptionStore struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription.Subscription
	items         map[string][]*subscription.Item
}

func NewInMemorySubscriptionStore() *InMemorySubscriptionStore {
	return &InMemorySubscriptionStore{
		subscriptions: make(map[string]*subscription.Subscription),
		items:         make(map[string][]*subscription.Item),
	}
}

func (s *InMemorySubscriptionStore) currentConflict(sub *subscription.Subscription) bool {
	if !sub.IsCurrent {
		return false
	}
	for _, existing := range s.subscriptions {
		if existing.ID != sub.ID && existing.BillableEntityID == sub.BillableEntityID && existing.IsCurrent {
			return true
		}
	}
	return false
}

func (s *InMemorySubscriptionStore) Create(ctx context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[sub.ID]; ok {
		return errAlreadyExists("subscription", map[string]any{"id": sub.ID})
	}
	for _, existing := range s.subscriptions {
		if existing.Provider == sub.Provider && existing.ProviderSubscriptionID == sub.ProviderSubscriptionID {
			return errAlreadyExists("subscription", map[string]any{
				"provider":                 sub.Provider,
				"provider_subscription_id": sub.ProviderSubscriptionID,
			})
		}
	}
	if s.currentConflict(sub) {
		return errAlreadyExists("subscription", map[string]any{
			"billable_entity_id": sub.BillableEntityID,
		})
	}

	cp := *sub
	s.subscriptions[sub.ID] = &cp
	return nil
}

func (s *InMemorySubscriptionStore) Update(ctx context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[sub.ID]; !ok {
		return errNotFound("subscription", map[string]any{"id": sub.ID})
	}
	if s.currentConflict(sub) {
		return errAlreadyExists("subscription", map[string]any{
			"billable_entity_id": sub.BillableEntityID,
		})
	}
	cp := *sub
	s.subscriptions[sub.ID] = &cp
	return nil
}

func (s *InMemorySubscriptionStore) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, errNotFound("subscription", map[string]any{"id": id})
	}
	cp := *sub
	return &cp, nil
}

func (s *InMemorySubscriptionStore) GetByProviderSubscriptionID(ctx context.Context, provider types.ProviderType, providerSubscriptionID string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscriptions {
		if sub.Provider == provider && sub.ProviderSubscriptionID == providerSubscriptionID {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, errNotFound("subscription", map[string]any{
		"provider":                 provider,
		"provider_subscription_id": providerSubscriptionID,
	})
}

func (s *InMemorySubscriptionStore) GetCurrent(ctx context.Context, billableEntityID string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscriptions {
		if sub.BillableEntityID == billableEntityID && sub.IsCurrent {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, errNotFound("subscription", map[string]any{
		"billable_entity_id": billableEntityID,
	})
}

func (s *InMemorySubscriptionStore) ListCurrentLooking(ctx context.Context, billableEntityID string) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.BillableEntityID == billableEntityID &&
			lo.Contains(types.NonTerminalSubscriptionStatuses, sub.SubscriptionStatus) {
			cp := *sub
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemorySubscriptionStore) ListByEntity(ctx context.Context, billableEntityID string) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.BillableEntityID == billableEntityID {
			cp := *sub
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemorySubscriptionStore) ReplaceItems(ctx context.Context, subscriptionID string, items []*subscription.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cps := make([]*subscription.Item, 0, len(items))
	for _, item := range items {
		cp := *item
		cps = append(cps, &cp)
	}
	s.items[subscriptionID] = cps
	return nil
}

func (s *InMemorySubscriptionStore) ListItems(ctx context.Context, subscriptionID string) ([]*subscription.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*subscription.Item, 0, len(s.items[subscriptionID]))
	for _, item := range s.items[subscriptionID] {
		cp := *item
		out = append(out, &cp)
	}
	return out, nil
}

func (s *InMemorySubscriptionStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions = make(map[string]*subscription.Subscription)
	s.items = make(map[string][]*subscription.Item)
}
