package repository

import (
	"github.com/reckonhq/reckon/internal/domain/billableentity"
	"github.com/reckonhq/reckon/internal/domain/billingcustomer"
	"github.com/reckonhq/reckon/internal/domain/checkoutsession"
	"github.com/reckonhq/reckon/internal/domain/entitlement"
	"github.com/reckonhq/reckon/internal/domain/idempotency"
	"github.com/reckonhq/reckon/internal/domain/invoice"
	"github.com/reckonhq/reckon/internal/domain/outbox"
	"github.com/reckonhq/reckon/internal/domain/plan"
	"github.com/reckonhq/reckon/internal/domain/reconciliation"
	"github.com/reckonhq/reckon/internal/domain/remediation"
	"github.com/reckonhq/reckon/internal/domain/subscription"
	"github.com/reckonhq/reckon/internal/domain/webhookevent"
	"github.com/reckonhq/reckon/internal/logger"
	"github.com/reckonhq/reckon/internal/postgres"
	repo "github.com/reckonhq/reckon/internal/repository/postgres"
)

func NewBillableEntityRepository(db postgres.IClient, logger *logger.Logger) billableentity.Repository {
	return repo.NewBillableEntityRepository(db, logger)
}

func NewBillingCustomerRepository(db postgres.IClient, logger *logger.Logger) billingcustomer.Repository {
	return repo.NewBillingCustomerRepository(db, logger)
}

func NewPlanRepository(db postgres.IClient, logger *logger.Logger) plan.Repository {
	return repo.NewPlanRepository(db, logger)
}

func NewPriceRepository(db postgres.IClient, logger *logger.Logger) plan.PriceRepository {
	return repo.NewPriceRepository(db, logger)
}

func NewSubscriptionRepository(db postgres.IClient, logger *logger.Logger) subscription.Repository {
	return repo.NewSubscriptionRepository(db, logger)
}

func NewInvoiceRepository(db postgres.IClient, logger *logger.Logger) invoice.Repository {
	return repo.NewInvoiceRepository(db, logger)
}

func NewIdempotencyRepository(db postgres.IClient, logger *logger.Logger) idempotency.Repository {
	return repo.NewIdempotencyRepository(db, logger)
}

func NewCheckoutSessionRepository(db postgres.IClient, logger *logger.Logger) checkoutsession.Repository {
	return repo.NewCheckoutSessionRepository(db, logger)
}

func NewWebhookEventRepository(db postgres.IClient, logger *logger.Logger) webhookevent.Repository {
	return repo.NewWebhookEventRepository(db, logger)
}

func NewEntitlementRepository(db postgres.IClient, logger *logger.Logger) entitlement.Repository {
	return repo.NewEntitlementRepository(db, logger)
}

func NewLedgerRepository(db postgres.IClient, logger *logger.Logger) entitlement.LedgerRepository {
	return repo.NewLedgerRepository(db, logger)
}

func NewBalanceRepository(db postgres.IClient, logger *logger.Logger) entitlement.BalanceRepository {
	return repo.NewBalanceRepository(db, logger)
}

func NewOutboxRepository(db postgres.IClient, logger *logger.Logger) outbox.Repository {
	return repo.NewOutboxRepository(db, logger)
}

func NewReconciliationRepository(db postgres.IClient, logger *logger.Logger) reconciliation.Repository {
	return repo.NewReconciliationRepository(db, logger)
}

func NewRemediationRepository(db postgres.IClient, logger *logger.Logger) remediation.Repository {
	return repo.NewRemediationRepository(db, logger)
}
