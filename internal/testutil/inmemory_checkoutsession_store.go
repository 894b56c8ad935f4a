package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/reckonhq/reckon/internal/domain/checkoutsession"
	"github.com/reckonhq/reckon/internal/types"
)

// InMemoryCheckoutSessionStore mirrors the postgres repository, including
// the partial unique index over (billable_entity_id, blocking_key) that
// enforces at most one blocking session per entity.
type InMemoryCheckoutSessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*checkoutsession.CheckoutSession
}

func NewInMemoryCheckoutSessionStore() *InMemoryCheckoutSessionStore {
	return &InMemoryCheckoutSessionStore{
		sessions: make(map[string]*checkoutsession.CheckoutSession),
	}
}

func (s *InMemoryCheckoutSessionStore) blockingConflict(session *checkoutsession.CheckoutSession) bool {
	if session.BlockingKey == nil {
		return false
	}
	for _, existing := range s.sessions {
		if existing.ID == session.ID {
			continue
		}
		if existing.BillableEntityID == session.BillableEntityID &&
			existing.BlockingKey != nil && *existing.BlockingKey == *session.BlockingKey {
			return true
		}
	}
	return false
}

func (s *InMemoryCheckoutSessionStore) Create(ctx context.Context, session *checkoutsession.CheckoutSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; ok {
		return errAlreadyExists("checkout session", map[string]any{"id": session.ID})
	}
	for _, existing := range s.sessions {
		if existing.OperationKey == session.OperationKey {
			return errAlreadyExists("checkout session", map[string]any{
				"operation_key": session.OperationKey,
			})
		}
	}
	if s.blockingConflict(session) {
		return errAlreadyExists("checkout session", map[string]any{
			"billable_entity_id": session.BillableEntityID,
		})
	}

	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

func (s *InMemoryCheckoutSessionStore) Update(ctx context.Context, session *checkoutsession.CheckoutSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; !ok {
		return errNotFound("checkout session", map[string]any{"id": session.ID})
	}
	if s.blockingConflict(session) {
		return errAlreadyExists("checkout session", map[string]any{
			"billable_entity_id": session.BillableEntityID,
		})
	}
	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

func (s *InMemoryCheckoutSessionStore) Get(ctx context.Context, id string) (*checkoutsession.CheckoutSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, errNotFound("checkout session", map[string]any{"id": id})
	}
	cp := *session
	return &cp, nil
}

func (s *InMemoryCheckoutSessionStore) GetByProviderSessionID(ctx context.Context, provider types.ProviderType, providerSessionID string) (*checkoutsession.CheckoutSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, session := range s.sessions {
		if session.Provider == provider && session.ProviderSessionID == providerSessionID {
			cp := *session
			return &cp, nil
		}
	}
	return nil, errNotFound("checkout session", map[string]any{
		"provider":            provider,
		"provider_session_id": providerSessionID,
	})
}

func (s *InMemoryCheckoutSessionStore) GetByProviderSubscriptionID(ctx context.Context, provider types.ProviderType, providerSubscriptionID string) (*checkoutsession.CheckoutSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, session := range s.sessions {
		if session.Provider == provider && session.ProviderSubscriptionID == providerSubscriptionID {
			cp := *session
			return &cp, nil
		}
	}
	return nil, errNotFound("checkout session", map[string]any{
		"provider":                 provider,
		"provider_subscription_id": providerSubscriptionID,
	})
}

func (s *InMemoryCheckoutSessionStore) GetByOperationKey(ctx context.Context, operationKey string) (*checkoutsession.CheckoutSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, session := range s.sessions {
		if session.OperationKey == operationKey {
			cp := *session
			return &cp, nil
		}
	}
	return nil, errNotFound("checkout session", map[string]any{
		"operation_key": operationKey,
	})
}

func (s *InMemoryCheckoutSessionStore) GetBlocking(ctx context.Context, billableEntityID string) (*checkoutsession.CheckoutSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, session := range s.sessions {
		if session.BillableEntityID == billableEntityID && session.BlockingKey != nil {
			cp := *session
			return &cp, nil
		}
	}
	return nil, errNotFound("checkout session", map[string]any{
		"billable_entity_id": billableEntityID,
	})
}

func (s *InMemoryCheckoutSessionStore) ListOpenExpiredBefore(ctx context.Context, cutoff time.Time, limit int) ([]*checkoutsession.CheckoutSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*checkoutsession.CheckoutSession, 0)
	for _, session := range s.sessions {
		if session.SessionStatus == types.CheckoutSessionStatusOpen &&
			session.ExpiresAt != nil && !session.ExpiresAt.After(cutoff) {
			cp := *session
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryCheckoutSessionStore) ListPendingReconcile(ctx context.Context, limit int) ([]*checkoutsession.CheckoutSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*checkoutsession.CheckoutSession, 0)
	for _, session := range s.sessions {
		if session.SessionStatus == types.CheckoutSessionStatusCompletedPendingSubscription {
			cp := *session
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryCheckoutSessionStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*checkoutsession.CheckoutSession)
}
