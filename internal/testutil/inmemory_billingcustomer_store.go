package testutil

import (
	"context"
	"sync"

	"github.com/reckonhq/reckon/internal/domain/billingcustomer"
	"github.com/reckonhq/reckon/internal/types"
)

// InMemoryBillingCustomerStore mirrors the postgres repository, including
// the unique (billable_entity_id, provider) constraint.
type InMemoryBillingCustomerStore struct {
	mu        sync.RWMutex
	customers map[string]*billingcustomer.BillingCustomer
}

func NewInMemoryBillingCustomerStore() *InMemoryBillingCustomerStore {
	return &InMemoryBillingCustomerStore{
		customers: make(map[string]*billingcustomer.BillingCustomer),
	}
}

func (s *InMemoryBillingCustomerStore) Create(ctx context.Context, customer *billingcustomer.BillingCustomer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[customer.ID]; ok {
		return errAlreadyExists("billing customer", map[string]any{"id": customer.ID})
	}
	for _, c := range s.customers {
		if c.BillableEntityID == customer.BillableEntityID && c.Provider == customer.Provider {
			return errAlreadyExists("billing customer", map[string]any{
				"billable_entity_id": customer.BillableEntityID,
				"provider":           customer.Provider,
			})
		}
	}

	cp := *customer
	s.customers[customer.ID] = &cp
	return nil
}

func (s *InMemoryBillingCustomerStore) Get(ctx context.Context, id string) (*billingcustomer.BillingCustomer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[id]
	if !ok {
		return nil, errNotFound("billing customer", map[string]any{"id": id})
	}
	cp := *c
	return &cp, nil
}

func (s *InMemoryBillingCustomerStore) GetByProviderCustomerID(ctx context.Context, provider types.ProviderType, providerCustomerID string) (*billingcustomer.BillingCustomer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.customers {
		if c.Provider == provider && c.ProviderCustomerID == providerCustomerID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, errNotFound("billing customer", map[string]any{
		"provider":             provider,
		"provider_customer_id": providerCustomerID,
	})
}

func (s *InMemoryBillingCustomerStore) GetByEntityAndProvider(ctx context.Context, billableEntityID string, provider types.ProviderType) (*billingcustomer.BillingCustomer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.customers {
		if c.BillableEntityID == billableEntityID && c.Provider == provider {
			cp := *c
			return &cp, nil
		}
	}
	return nil, errNotFound("billing customer", map[string]any{
		"billable_entity_id": billableEntityID,
		"provider":           provider,
	})
}

func (s *InMemoryBillingCustomerStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers = make(map[string]*billingcustomer.BillingCustomer)
}
