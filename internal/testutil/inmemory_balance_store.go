package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/reckonhq/reckon/internal/domain/entitlement"
)

// InMemoryBalanceStore mirrors the postgres balance snapshots, including the
// optimistic version guard on upserts.
type InMemoryBalanceStore struct {
	mu       sync.RWMutex
	balances map[string]*entitlement.Balance
}

func NewInMemoryBalanceStore() *InMemoryBalanceStore {
	return &InMemoryBalanceStore{
		balances: make(map[string]*entitlement.Balance),
	}
}

func balanceKey(subjectID, definitionID, windowKey string) string {
	return subjectID + "|" + definitionID + "|" + windowKey
}

func (s *InMemoryBalanceStore) UpsertBalance(ctx context.Context, balance *entitlement.Balance, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := balanceKey(balance.SubjectID, balance.DefinitionID, balance.WindowKey)
	existing, ok := s.balances[key]

	if expectedVersion == 0 {
		if ok {
			return errVersionConflict("entitlement balance", map[string]any{
				"subject_id":    balance.SubjectID,
				"definition_id": balance.DefinitionID,
				"window_key":    balance.WindowKey,
			})
		}
	} else {
		if !ok || existing.Version != expectedVersion {
			return errVersionConflict("entitlement balance", map[string]any{
				"subject_id":    balance.SubjectID,
				"definition_id": balance.DefinitionID,
				"window_key":    balance.WindowKey,
			})
		}
	}

	cp := *balance
	s.balances[key] = &cp
	return nil
}

func (s *InMemoryBalanceStore) GetBalance(ctx context.Context, subjectID, definitionID, windowKey string) (*entitlement.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.balances[balanceKey(subjectID, definitionID, windowKey)]
	if !ok {
		return nil, errNotFound("entitlement balance", map[string]any{
			"subject_id":    subjectID,
			"definition_id": definitionID,
			"window_key":    windowKey,
		})
	}
	cp := *b
	return &cp, nil
}

func (s *InMemoryBalanceStore) ListBalancesBySubject(ctx context.Context, subjectID string) ([]*entitlement.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entitlement.Balance, 0)
	for _, b := range s.balances {
		if b.SubjectID == subjectID {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DefinitionID != out[j].DefinitionID {
			return out[i].DefinitionID < out[j].DefinitionID
		}
		return out[i].WindowKey < out[j].WindowKey
	})
	return out, nil
}

func (s *InMemoryBalanceStore) ListDueForRecompute(ctx context.Context, now time.Time, limit int) ([]*entitlement.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entitlement.Balance, 0)
	for _, b := range s.balances {
		if b.NextChangeAt != nil && !b.NextChangeAt.After(now) {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextChangeAt.Before(*out[j].NextChangeAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryBalanceStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances = make(map[string]*entitlement.Balance)
}
