package postgres

import (
	"context"

	"github.com/reckonhq/reckon/internal/domain/billingcustomer"
	"github.com/reckonhq/reckon/internal/logger"
	"github.com/reckonhq/reckon/internal/postgres"
	"github.com/reckonhq/reckon/internal/types"
)

type billingCustomerRepository struct {
	db     postgres.IClient
	logger *logger.Logger
}

func NewBillingCustomerRepository(db postgres.IClient, logger *logger.Logger) billingcustomer.Repository {
	return &billingCustomerRepository{db: db, logger: logger}
}

const billingCustomerColumns = `id, billable_entity_id, provider, provider_customer_id, email,
	status, created_at, updated_at, created_by, updated_by`

func (r *billingCustomerRepository) Create(ctx context.Context, customer *billingcustomer.BillingCustomer) error {
	query := `INSERT INTO billing_customers (` + billingCustomerColumns + `)
		VALUES (:id, :billable_entity_id, :provider, :provider_customer_id, :email,
			:status, :created_at, :updated_at, :created_by, :updated_by)`
	_, err := r.db.Querier(ctx).NamedExecContext(ctx, query, customer)
	return postgres.WrapDBError(err, "billing_customer.create")
}

func (r *billingCustomerRepository) Get(ctx context.Context, id string) (*billingcustomer.BillingCustomer, error) {
	var customer billingcustomer.BillingCustomer
	query := `SELECT ` + billingCustomerColumns + ` FROM billing_customers WHERE id = $1`
	if err := r.db.Querier(ctx).GetContext(ctx, &customer, query, id); err != nil {
		return nil, postgres.WrapDBError(err, "billing_customer.get")
	}
	return &customer, nil
}

func (r *billingCustomerRepository) GetByProviderCustomerID(ctx context.Context, provider types.ProviderType, providerCustomerID string) (*billingcustomer.BillingCustomer, error) {
	var customer billingcustomer.BillingCustomer
	query := `SELECT ` + billingCustomerColumns + ` FROM billing_customers
		WHERE provider = $1 AND provider_customer_id = $2`
	if err := r.db.Querier(ctx).GetContext(ctx, &customer, query, provider, providerCustomerID); err != nil {
		return nil, postgres.WrapDBError(err, "billing_customer.get_by_provider_customer")
	}
	return &customer, nil
}

func (r *billingCustomerRepository) GetByEntityAndProvider(ctx context.Context, billableEntityID string, provider types.ProviderType) (*billingcustomer.BillingCustomer, error) {
	var customer billingcustomer.BillingCustomer
	query := `SELECT ` + billingCustomerColumns + ` FROM billing_customers
		WHERE billable_entity_id = $1 AND provider = $2`
	if err := r.db.Querier(ctx).GetContext(ctx, &customer, query, billableEntityID, provider); err != nil {
		return nil, postgres.WrapDBError(err, "billing_customer.get_by_entity")
	}
	return &customer, nil
}
