package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/suite"

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
	"github.com/reckonhq/reckon/internal/validator"
)

// Stores holds all the repository interfaces for testing
type Stores struct {
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
}

// StaticResourceCounter reports fixed live-resource counts per resource
// kind, standing in for the embedding application's recount queries.
type StaticResourceCounter struct {
	mu     sync.RWMutex
	counts map[string]int64
}

func NewStaticResourceCounter() *StaticResourceCounter {
	return &StaticResourceCounter{counts: make(map[string]int64)}
}

func (c *StaticResourceCounter) SetCount(resourceKind string, count int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[resourceKind] = count
}

func (c *StaticResourceCounter) Count(ctx context.Context, subjectID, resourceKind string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counts[resourceKind], nil
}

// BaseServiceTestSuite provides common functionality for all service test
// suites: in-memory stores, a fake provider registry, and a context carrying
// workspace and user identity.
type BaseServiceTestSuite struct {
	suite.Suite
	ctx             context.Context
	stores          Stores
	db              postgres.IClient
	logger          *logger.Logger
	config          *config.Configuration
	cache           cache.Cache
	registry        *integration.Registry
	providerClient  *FakeProviderClient
	resourceCounter *StaticResourceCounter
	now             time.Time
}

// SetupSuite is called once before running the tests in the suite
func (s *BaseServiceTestSuite) SetupSuite() {
	validator.NewValidator()

	var err error
	s.logger, err = logger.NewLogger()
	if err != nil {
		s.T().Fatalf("failed to create logger: %v", err)
	}
	s.config = config.GetDefaultConfig()
}

// SetupTest is called before each test
func (s *BaseServiceTestSuite) SetupTest() {
	s.setupContext()
	s.setupStores()
	s.now = time.Now().UTC()
}

// TearDownTest is called after each test
func (s *BaseServiceTestSuite) TearDownTest() {
	s.clearStores()
}

func (s *BaseServiceTestSuite) setupContext() {
	s.ctx = context.Background()
	s.ctx = types.SetWorkspaceID(s.ctx, "ws_test")
	s.ctx = types.SetUserID(s.ctx, types.DefaultUserID)
	s.ctx = types.SetRequestID(s.ctx, types.GenerateUUID())
}

func (s *BaseServiceTestSuite) setupStores() {
	s.stores = Stores{
		BillableEntityRepo:  NewInMemoryBillableEntityStore(),
		BillingCustomerRepo: NewInMemoryBillingCustomerStore(),
		PlanRepo:            NewInMemoryPlanStore(),
		PriceRepo:           NewInMemoryPriceStore(),
		SubscriptionRepo:    NewInMemorySubscriptionStore(),
		InvoiceRepo:         NewInMemoryInvoiceStore(),
		IdempotencyRepo:     NewInMemoryIdempotencyStore(),
		CheckoutSessionRepo: NewInMemoryCheckoutSessionStore(),
		WebhookEventRepo:    NewInMemoryWebhookEventStore(),
		EntitlementRepo:     NewInMemoryEntitlementStore(),
		LedgerRepo:          NewInMemoryLedgerStore(),
		BalanceRepo:         NewInMemoryBalanceStore(),
		OutboxRepo:          NewInMemoryOutboxStore(),
		ReconciliationRepo:  NewInMemoryReconciliationStore(),
		RemediationRepo:     NewInMemoryRemediationStore(),
	}

	s.db = NewMockPostgresClient(s.logger)
	s.cache = cache.NewInMemoryCache()
	s.resourceCounter = NewStaticResourceCounter()

	s.providerClient = NewFakeProviderClient(types.ProviderTypeStripe)
	s.registry = integration.NewRegistry(s.logger)
	if err := s.registry.Register(s.providerClient, NewFakeTranslator()); err != nil {
		s.T().Fatalf("failed to register fake provider: %v", err)
	}
}

func (s *BaseServiceTestSuite) clearStores() {
	s.stores.BillableEntityRepo.(*InMemoryBillableEntityStore).Clear()
	s.stores.BillingCustomerRepo.(*InMemoryBillingCustomerStore).Clear()
	s.stores.PlanRepo.(*InMemoryPlanStore).Clear()
	s.stores.PriceRepo.(*InMemoryPriceStore).Clear()
	s.stores.SubscriptionRepo.(*InMemorySubscriptionStore).Clear()
	s.stores.InvoiceRepo.(*InMemoryInvoiceStore).Clear()
	s.stores.IdempotencyRepo.(*InMemoryIdempotencyStore).Clear()
	s.stores.CheckoutSessionRepo.(*InMemoryCheckoutSessionStore).Clear()
	s.stores.WebhookEventRepo.(*InMemoryWebhookEventStore).Clear()
	s.stores.EntitlementRepo.(*InMemoryEntitlementStore).Clear()
	s.stores.LedgerRepo.(*InMemoryLedgerStore).Clear()
	s.stores.BalanceRepo.(*InMemoryBalanceStore).Clear()
	s.stores.OutboxRepo.(*InMemoryOutboxStore).Clear()
	s.stores.ReconciliationRepo.(*InMemoryReconciliationStore).Clear()
	s.stores.RemediationRepo.(*InMemoryRemediationStore).Clear()
}

// GetContext returns the test context
func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

// GetConfig returns the test configuration
func (s *BaseServiceTestSuite) GetConfig() *config.Configuration {
	return s.config
}

// GetStores returns all test repositories
func (s *BaseServiceTestSuite) GetStores() Stores {
	return s.stores
}

// GetDB returns the test database client
func (s *BaseServiceTestSuite) GetDB() postgres.IClient {
	return s.db
}

// GetLogger returns the test logger
func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.logger
}

// GetCache returns the test cache
func (s *BaseServiceTestSuite) GetCache() cache.Cache {
	return s.cache
}

// GetRegistry returns the provider registry holding the fake client
func (s *BaseServiceTestSuite) GetRegistry() *integration.Registry {
	return s.registry
}

// GetProviderClient returns the fake provider client for scripting
func (s *BaseServiceTestSuite) GetProviderClient() *FakeProviderClient {
	return s.providerClient
}

// GetResourceCounter returns the static resource counter
func (s *BaseServiceTestSuite) GetResourceCounter() *StaticResourceCounter {
	return s.resourceCounter
}

// GetNow returns the suite's reference time for the current test
func (s *BaseServiceTestSuite) GetNow() time.Time {
	return s.now
}
