package service

import (
	"fmt"
	"os"

	"github.com/reckonhq/reckon/internal/cache"
	"github.com/reckonhq/reckon/internal/config"
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
	"github.com/reckonhq/reckon/internal/integration"
	"github.com/reckonhq/reckon/internal/logger"
	"github.com/reckonhq/reckon/internal/postgres"
	"github.com/reckonhq/reckon/internal/types"
)

// workerOwner identifies this process as a lease holder. The random suffix
// keeps two processes on the same host from contending under one identity.
func workerOwner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, types.GenerateUUID()[:8])
}

// ServiceParams holds common dependencies for services
type ServiceParams struct {
	Logger *logger.Logger
	Config *config.Configuration
	DB     postgres.IClient
	Cache  cache.Cache

	// Repositories
	BillableEntityRepo  billableentity.Repository
	BillingCustomerRepo billingcustomer.Repository
	PlanRepo            plan.Repository
	PriceRepo           plan.PriceRepository
	SubscriptionRepo    subscription.Repository
	InvoiceRepo         invoice.Repository
	IdempotencyRepo     idempotency.Repository
	CheckoutSessionRepo checkoutsession.Repository
	WebhookEventRepo    webhookevent.Repository
	EntitlementRepo     entitlement.Repository
	LedgerRepo          entitlement.LedgerRepository
	BalanceRepo         entitlement.BalanceRepository
	OutboxRepo          outbox.Repository
	ReconciliationRepo  reconciliation.Repository
	RemediationRepo     remediation.Repository

	// Payment providers
	Providers *integration.Registry

	// ResourceCounter recounts live resources for capacity entitlements
	ResourceCounter ResourceCounter
}

// NewServiceParams builds the common service dependency bundle
func NewServiceParams(
	logger *logger.Logger,
	config *config.Configuration,
	db postgres.IClient,
	cache cache.Cache,
	billableEntityRepo billableentity.Repository,
	billingCustomerRepo billingcustomer.Repository,
	planRepo plan.Repository,
	priceRepo plan.PriceRepository,
	subscriptionRepo subscription.Repository,
	invoiceRepo invoice.Repository,
	idempotencyRepo idempotency.Repository,
	checkoutSessionRepo checkoutsession.Repository,
	webhookEventRepo webhookevent.Repository,
	entitlementRepo entitlement.Repository,
	ledgerRepo entitlement.LedgerRepository,
	balanceRepo entitlement.BalanceRepository,
	outboxRepo outbox.Repository,
	reconciliationRepo reconciliation.Repository,
	remediationRepo remediation.Repository,
	providers *integration.Registry,
	resourceCounter ResourceCounter,
) ServiceParams {
	return ServiceParams{
		Logger:              logger,
		Config:              config,
		DB:                  db,
		Cache:               cache,
		BillableEntityRepo:  billableEntityRepo,
		BillingCustomerRepo: billingCustomerRepo,
		PlanRepo:            planRepo,
		PriceRepo:           priceRepo,
		SubscriptionRepo:    subscriptionRepo,
		InvoiceRepo:         invoiceRepo,
		IdempotencyRepo:     idempotencyRepo,
		CheckoutSessionRepo: checkoutSessionRepo,
		WebhookEventRepo:    webhookEventRepo,
		EntitlementRepo:     entitlementRepo,
		LedgerRepo:          ledgerRepo,
		BalanceRepo:         balanceRepo,
		OutboxRepo:          outboxRepo,
		ReconciliationRepo:  reconciliationRepo,
		RemediationRepo:     remediationRepo,
		Providers:           providers,
		ResourceCounter:     resourceCounter,
	}
}
