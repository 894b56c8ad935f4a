package postgres

import (
	"context"

	"github.com/reckonhq/reckon/internal/domain/invoice"
	"github.com/reckonhq/reckon/internal/logger"
	"github.com/reckonhq/reckon/internal/postgres"
	"github.com/reckonhq/reckon/internal/types"
)

type invoiceRepository struct {
	db     postgres.IClient
	logger *logger.Logger
}

func NewInvoiceRepository(db postgres.IClient, logger *logger.Logger) invoice.Repository {
	return &invoiceRepository{db: db, logger: logger}
}

const invoiceColumns = `id, billable_entity_id, provider, provider_invoice_id,
	provider_subscription_id, subscription_id, invoice_status, currency,
	amount_due, amount_paid, period_start, period_end,
	last_provider_event_id, last_provider_event_at,
	status, created_at, updated_at, created_by, updated_by`

func (r *invoiceRepository) Create(ctx context.Context, inv *invoice.Invoice) error {
	query := `INSERT INTO invoices (` + invoiceColumns + `)
		VALUES (:id, :billable_entity_id, :provider, :provider_invoice_id,
			:provider_subscription_id, :subscription_id, :invoice_status, :currency,
			:amount_due, :amount_paid, :period_start, :period_end,
			:last_provider_event_id, :last_provider_event_at,
			:status, :created_at, :updated_at, :created_by, :updated_by)`
	_, err := r.db.Querier(ctx).NamedExecContext(ctx, query, inv)
	return postgres.WrapDBError(err, "invoice.create")
}

func (r *invoiceRepository) Update(ctx context.Context, inv *invoice.Invoice) error {
	query := `UPDATE invoices SET
		provider_subscription_id = :provider_subscription_id,
		subscription_id = :subscription_id,
		invoice_status = :invoice_status,
		currency = :currency,
		amount_due = :amount_due,
		amount_paid = :amount_paid,
		period_start = :period_start,
		period_end = :period_end,
		last_provider_event_id = :last_provider_event_id,
		last_provider_event_at = :last_provider_event_at,
		updated_at = :updated_at,
		updated_by = :updated_by
		WHERE id = :id`
	_, err := r.db.Querier(ctx).NamedExecContext(ctx, query, inv)
	return postgres.WrapDBError(err, "invoice.update")
}

func (r *invoiceRepository) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	var inv invoice.Invoice
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	if err := r.db.Querier(ctx).GetContext(ctx, &inv, query, id); err != nil {
		return nil, postgres.WrapDBError(err, "invoice.get")
	}
	return &inv, nil
}

func (r *invoiceRepository) GetByProviderInvoiceID(ctx context.Context, provider types.ProviderType, providerInvoiceID string) (*invoice.Invoice, error) {
	var inv invoice.Invoice
	query := `SELECT ` + invoiceColumns + ` FROM invoices
		WHERE provider = $1 AND provider_invoice_id = $2`
	if err := r.db.Querier(ctx).GetContext(ctx, &inv, query, provider, providerInvoiceID); err != nil {
		return nil, postgres.WrapDBError(err, "invoice.get_by_provider_invoice")
	}
	return &inv, nil
}

func (r *invoiceRepository) ListByEntity(ctx context.Context, billableEntityID string, filter *types.QueryFilter) ([]*invoice.Invoice, error) {
	if filter == nil {
		filter = types.NewDefaultQueryFilter()
	}
	invoices := []*invoice.Invoice{}
	query := `SELECT ` + invoiceColumns + ` FROM invoices
		WHERE billable_entity_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	if err := r.db.Querier(ctx).SelectContext(ctx, &invoices, query,
		billableEntityID, filter.GetLimit(), filter.GetOffset()); err != nil {
		return nil, postgres.WrapDBError(err, "invoice.list_by_entity")
	}
	return invoices, nil
}

const paymentColumns = `id, invoice_id, billable_entity_id, provider, provider_payment_id,
	payment_status, amount, currency, occurred_at,
	status, created_at, updated_at, created_by, updated_by`

func (r *invoiceRepository) CreatePayment(ctx context.Context, payment *invoice.Payment) error {
	query := `INSERT INTO payments (` + paymentColumns + `)
		VALUES (:id, :invoice_id, :billable_entity_id, :provider, :provider_payment_id,
			:payment_status, :amount, :currency, :occurred_at,
			:status, :created_at, :updated_at, :created_by, :updated_by)`
	_, err := r.db.Querier(ctx).NamedExecContext(ctx, query, payment)
	return postgres.WrapDBError(err, "payment.create")
}

func (r *invoiceRepository) GetPaymentByProviderPaymentID(ctx context.Context, provider types.ProviderType, providerPaymentID string) (*invoice.Payment, error) {
	var payment invoice.Payment
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE provider = $1 AND provider_payment_id = $2`
	if err := r.db.Querier(ctx).GetContext(ctx, &payment, query, provider, providerPaymentID); err != nil {
		return nil, postgres.WrapDBError(err, "payment.get_by_provider_payment")
	}
	return &payment, nil
}

func (r *invoiceRepository) ListPaymentsByEntity(ctx context.Context, billableEntityID string, filter *types.QueryFilter) ([]*invoice.Payment, error) {
	if filter == nil {
		filter = types.NewDefaultQueryFilter()
	}
	payments := []*invoice.Payment{}
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE billable_entity_id = $1 ORDER BY occurred_at DESC LIMIT $2 OFFSET $3`
	if err := r.db.Querier(ctx).SelectContext(ctx, &payments, query,
		billableEntityID, filter.GetLimit(), filter.GetOffset()); err != nil {
		return nil, postgres.WrapDBError(err, "payment.list_by_entity")
	}
	return payments, nil
}
