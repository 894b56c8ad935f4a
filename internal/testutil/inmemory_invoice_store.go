package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/reckonhq/reckon/internal/domain/invoice"
	"github.com/reckonhq/reckon/internal/types"
)

// InMemoryInvoiceStore mirrors the postgres repository for invoices and
// payments, including the unique provider-id constraints on both.
type InMemoryInvoiceStore struct {
	mu       sync.RWMutex
	invoices map[string]*invoice.Invoice
	payments map[string]*invoice.Payment
}

func NewInMemoryInvoiceStore() *InMemoryInvoiceStore {
	return &InMemoryInvoiceStore{
		invoices: make(map[string]*invoice.Invoice),
		payments: make(map[string]*invoice.Payment),
	}
}

func (s *InMemoryInvoiceStore) Create(ctx context.Context, inv *invoice.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.invoices[inv.ID]; ok {
		return errAlreadyExists("invoice", map[string]any{"id": inv.ID})
	}
	for _, existing := range s.invoices {
		if existing.Provider == inv.Provider && existing.ProviderInvoiceID == inv.ProviderInvoiceID {
			return errAlreadyExists("invoice", map[string]any{
				"provider":            inv.Provider,
				"provider_invoice_id": inv.ProviderInvoiceID,
			})
		}
	}

	cp := *inv
	s.invoices[inv.ID] = &cp
	return nil
}

func (s *InMemoryInvoiceStore) Update(ctx context.Context, inv *invoice.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.invoices[inv.ID]; !ok {
		return errNotFound("invoice", map[string]any{"id": inv.ID})
	}
	cp := *inv
	s.invoices[inv.ID] = &cp
	return nil
}

func (s *InMemoryInvoiceStore) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[id]
	if !ok {
		return nil, errNotFound("invoice", map[string]any{"id": id})
	}
	cp := *inv
	return &cp, nil
}

func (s *InMemoryInvoiceStore) GetByProviderInvoiceID(ctx context.Context, provider types.ProviderType, providerInvoiceID string) (*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, inv := range s.invoices {
		if inv.Provider == provider && inv.ProviderInvoiceID == providerInvoiceID {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, errNotFound("invoice", map[string]any{
		"provider":            provider,
		"provider_invoice_id": providerInvoiceID,
	})
}

func (s *InMemoryInvoiceStore) ListByEntity(ctx context.Context, billableEntityID string, filter *types.QueryFilter) ([]*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*invoice.Invoice, 0)
	for _, inv := range s.invoices {
		if inv.BillableEntityID == billableEntityID {
			cp := *inv
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > filter.GetLimit() {
		out = out[:filter.GetLimit()]
	}
	return out, nil
}

func (s *InMemoryInvoiceStore) CreatePayment(ctx context.Context, payment *invoice.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.payments[payment.ID]; ok {
		return errAlreadyExists("payment", map[string]any{"id": payment.ID})
	}
	for _, existing := range s.payments {
		if existing.Provider == payment.Provider && existing.ProviderPaymentID == payment.ProviderPaymentID {
			return errAlreadyExists("payment", map[string]any{
				"provider":            payment.Provider,
				"provider_payment_id": payment.ProviderPaymentID,
			})
		}
	}

	cp := *payment
	s.payments[payment.ID] = &cp
	return nil
}

func (s *InMemoryInvoiceStore) GetPaymentByProviderPaymentID(ctx context.Context, provider types.ProviderType, providerPaymentID string) (*invoice.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.payments {
		if p.Provider == provider && p.ProviderPaymentID == providerPaymentID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, errNotFound("payment", map[string]any{
		"provider":            provider,
		"provider_payment_id": providerPaymentID,
	})
}

func (s *InMemoryInvoiceStore) ListPaymentsByEntity(ctx context.Context, billableEntityID string, filter *types.QueryFilter) ([]*invoice.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*invoice.Payment, 0)
	for _, p := range s.payments {
		if p.BillableEntityID == billableEntityID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if len(out) > filter.GetLimit() {
		out = out[:filter.GetLimit()]
	}
	return out, nil
}

func (s *InMemoryInvoiceStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoices = make(map[string]*invoice.Invoice)
	s.payments = make(map[string]*invoice.Payment)
}
