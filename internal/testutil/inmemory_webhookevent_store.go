package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/reckonhq/reckon/internal/domain/webhookevent"
	"github.com/reckonhq/reckon/internal/types"
)

// InMemoryWebhookEventStore mirrors the postgres repository, including the
// unique (provider, provider_event_id) dedup constraint.
type InMemoryWebhookEventStore struct {
	mu     sync.RWMutex
	events map[string]*webhookevent.WebhookEvent
}

func NewInMemoryWebhookEventStore() *InMemoryWebhookEventStore {
	return &InMemoryWebhookEventStore{
		events: make(map[string]*webhookevent.WebhookEvent),
	}
}

func (s *InMemoryWebhookEventStore) Create(ctx context.Context, event *webhookevent.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[event.ID]; ok {
		return errAlreadyExists("webhook event", map[string]any{"id": event.ID})
	}
	for _, existing := range s.events {
		if existing.Provider == event.Provider && existing.ProviderEventID == event.ProviderEventID {
			return errAlreadyExists("webhook event", map[string]any{
				"provider":          event.Provider,
				"provider_event_id": event.ProviderEventID,
			})
		}
	}

	cp := *event
	s.events[event.ID] = &cp
	return nil
}

func (s *InMemoryWebhookEventStore) Get(ctx context.Context, id string) (*webhookevent.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, ok := s.events[id]
	if !ok {
		return nil, errNotFound("webhook event", map[string]any{"id": id})
	}
	cp := *event
	return &cp, nil
}

func (s *InMemoryWebhookEventStore) GetByProviderEventID(ctx context.Context, provider types.ProviderType, providerEventID string) (*webhookevent.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, event := range s.events {
		if event.Provider == provider && event.ProviderEventID == providerEventID {
			cp := *event
			return &cp, nil
		}
	}
	return nil, errNotFound("webhook event", map[string]any{
		"provider":          provider,
		"provider_event_id": providerEventID,
	})
}

func (s *InMemoryWebhookEventStore) Update(ctx context.Context, event *webhookevent.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[event.ID]; !ok {
		return errNotFound("webhook event", map[string]any{"id": event.ID})
	}
	cp := *event
	s.events[event.ID] = &cp
	return nil
}

func (s *InMemoryWebhookEventStore) ListFailed(ctx context.Context, provider types.ProviderType, limit int) ([]*webhookevent.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*webhookevent.WebhookEvent, 0)
	for _, event := range s.events {
		if event.Provider == provider && event.EventStatus == types.WebhookEventStatusFailed {
			cp := *event
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryWebhookEventStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[string]*webhookevent.WebhookEvent)
}
