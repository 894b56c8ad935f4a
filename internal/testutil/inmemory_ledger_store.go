package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/reckonhq/reckon/internal/domain/entitlement"
	"github.com/reckonhq/reckon/internal/types"
)

// InMemoryLedgerStore mirrors the postgres grant/consumption ledgers:
// append-only, dedupe-key guarded, duplicate inserts report inserted=false.
type InMemoryLedgerStore struct {
	mu           sync.RWMutex
	grants       map[string]*entitlement.Grant
	consumptions map[string]*entitlement.Consumption
}

func NewInMemoryLedgerStore() *InMemoryLedgerStore {
	return &InMemoryLedgerStore{
		grants:       make(map[string]*entitlement.Grant),
		consumptions: make(map[string]*entitlement.Consumption),
	}
}

func (s *InMemoryLedgerStore) InsertGrant(ctx context.Context, grant *entitlement.Grant) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.grants {
		if existing.DedupeKey == grant.DedupeKey {
			return false, nil
		}
	}

	cp := *grant
	s.grants[grant.ID] = &cp
	return true, nil
}

func (s *InMemoryLedgerStore) ListGrants(ctx context.Context, subjectID, definitionID string) ([]*entitlement.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entitlement.Grant, 0)
	for _, g := range s.grants {
		if g.SubjectID == subjectID && g.DefinitionID == definitionID {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EffectiveAt.Before(out[j].EffectiveAt) })
	return out, nil
}

func (s *InMemoryLedgerStore) InsertConsumption(ctx context.Context, consumption *entitlement.Consumption) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.consumptions {
		if existing.DedupeKey == consumption.DedupeKey {
			return false, nil
		}
	}

	cp := *consumption
	s.consumptions[consumption.ID] = &cp
	return true, nil
}

func (s *InMemoryLedgerStore) SumConsumption(ctx context.Context, subjectID, definitionID string, window types.EntitlementWindow) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, c := range s.consumptions {
		if c.SubjectID != subjectID || c.DefinitionID != definitionID {
			continue
		}
		if window.Interval != types.WindowIntervalLifetime {
			if c.OccurredAt.Before(window.Start) || !c.OccurredAt.Before(window.End) {
				continue
			}
		}
		total += c.Amount
	}
	return total, nil
}

func (s *InMemoryLedgerStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants = make(map[string]*entitlement.Grant)
	s.consumptions = make(map[string]*entitlement.Consumption)
}
