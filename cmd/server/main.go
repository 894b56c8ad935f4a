package main

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"

	"github.com/reckonhq/reckon/internal/api"
	v1 "github.com/reckonhq/reckon/internal/api/v1"
	"github.com/reckonhq/reckon/internal/cache"
	"github.com/reckonhq/reckon/internal/config"
	"github.com/reckonhq/reckon/internal/domain/billableentity"
	"github.com/reckonhq/reckon/internal/integration"
	"github.com/reckonhq/reckon/internal/integration/paddle"
	"github.com/reckonhq/reckon/internal/integration/stripe"
	"github.com/reckonhq/reckon/internal/logger"
	"github.com/reckonhq/reckon/internal/postgres"
	"github.com/reckonhq/reckon/internal/repository"
	"github.com/reckonhq/reckon/internal/service"
	"github.com/reckonhq/reckon/internal/types"
	"github.com/reckonhq/reckon/internal/validator"
)

const (
	outboxBatchSize         = 50
	remediationBatchSize    = 25
	recomputeBatchSize      = 100
	checkoutExpiryBatchSize = 100
)

func init() {
	// Set UTC timezone for the entire application
	time.Local = time.UTC
}

func main() {
	app := fx.New(
		fx.Provide(
			config.NewConfig,
			logger.NewLogger,
			cache.NewInMemoryCache,

			postgres.NewDB,
			postgres.NewClient,

			provideProviderRegistry,

			repository.NewBillableEntityRepository,
			repository.NewBillingCustomerRepository,
			repository.NewPlanRepository,
			repository.NewPriceRepository,
			repository.NewSubscriptionRepository,
			repository.NewInvoiceRepository,
			repository.NewIdempotencyRepository,
			repository.NewCheckoutSessionRepository,
			repository.NewWebhookEventRepository,
			repository.NewEntitlementRepository,
			repository.NewLedgerRepository,
			repository.NewBalanceRepository,
			repository.NewOutboxRepository,
			repository.NewReconciliationRepository,
			repository.NewRemediationRepository,

			service.NewZeroResourceCounter,
			service.NewServiceParams,

			service.NewIdempotencyService,
			service.NewBillingService,
			service.NewCatalogService,
			service.NewEntitlementService,
			service.NewProjectionService,
			service.NewWebhookService,
			service.NewRemediationService,
			service.NewOutboxService,
			service.NewReconciliationService,
			service.NewTimelineService,

			provideHandlers,
			provideRouter,
		),
		fx.Invoke(
			registerValidator,
			startAPIServer,
			startWorkers,
		),
	)
	app.Run()
}

func registerValidator() {
	validator.NewValidator()
}

// provideProviderRegistry assembles the payment provider registry from
// config. Only providers with credentials are registered; the active
// provider must be among them.
func provideProviderRegistry(cfg *config.Configuration, log *logger.Logger) (*integration.Registry, error) {
	registry := integration.NewRegistry(log)

	if cfg.Stripe.SecretKey != "" {
		if err := registry.Register(stripe.NewClient(cfg, log), stripe.NewTranslator()); err != nil {
			return nil, err
		}
	}
	if cfg.Paddle.APIKey != "" {
		if err := registry.Register(paddle.NewClient(cfg, log), paddle.NewTranslator()); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

func provideHandlers(
	cfg *config.Configuration,
	log *logger.Logger,
	billingService service.BillingService,
	timelineService service.TimelineService,
	entitlementService service.EntitlementService,
	catalogService service.CatalogService,
	webhookService service.WebhookService,
	entityRepo billableentity.Repository,
) api.Handlers {
	return api.Handlers{
		Health:      v1.NewHealthHandler(),
		Billing:     v1.NewBillingHandler(billingService, timelineService, entitlementService, entityRepo, log),
		Catalog:     v1.NewCatalogHandler(catalogService, log),
		Entitlement: v1.NewEntitlementHandler(entitlementService, entityRepo, log),
		Webhook:     v1.NewWebhookHandler(webhookService, cfg, log),
	}
}

func provideRouter(handlers api.Handlers) *gin.Engine {
	return api.NewRouter(handlers)
}

func startAPIServer(
	lc fx.Lifecycle,
	r *gin.Engine,
	cfg *config.Configuration,
	log *logger.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting API server", "address", cfg.Server.Address)
			go func() {
				if err := r.Run(cfg.Server.Address); err != nil {
					log.Fatalf("Failed to start server: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down server")
			return nil
		},
	})
}

// startWorkers schedules the background loops: outbox dispatch, remediation,
// balance recompute, checkout expiry sweeps, and reconciliation. Every loop
// is lease-guarded in the database, so running multiple replicas is safe.
func startWorkers(
	lc fx.Lifecycle,
	cfg *config.Configuration,
	outboxService service.OutboxService,
	remediationService service.RemediationService,
	entitlementService service.EntitlementService,
	billingService service.BillingService,
	reconciliationService service.ReconciliationService,
	log *logger.Logger,
) error {
	c := cron.New()

	schedules := []struct {
		name string
		spec string
		run  func(ctx context.Context) error
	}{
		{
			name: "outbox_dispatch",
			spec: cfg.Workers.OutboxSchedule,
			run: func(ctx context.Context) error {
				_, err := outboxService.ProcessDue(ctx, outboxBatchSize)
				return err
			},
		},
		{
			name: "remediation",
			spec: cfg.Workers.RemediationSchedule,
			run: func(ctx context.Context) error {
				_, err := remediationService.ProcessDue(ctx, remediationBatchSize)
				return err
			},
		},
		{
			name: "balance_recompute",
			spec: cfg.Workers.BalanceRecomputeSchedule,
			run: func(ctx context.Context) error {
				_, err := entitlementService.RecomputeDue(ctx, recomputeBatchSize)
				return err
			},
		},
		{
			name: "checkout_expiry",
			spec: cfg.Workers.CheckoutExpirySchedule,
			run: func(ctx context.Context) error {
				_, err := billingService.ExpireStaleSessions(ctx, checkoutExpiryBatchSize)
				return err
			},
		},
		{
			name: "reconciliation",
			spec: cfg.Workers.ReconciliationSchedule,
			run: func(ctx context.Context) error {
				return runReconciliation(ctx, cfg, reconciliationService)
			},
		},
	}

	for _, s := range schedules {
		s := s
		_, err := c.AddFunc(s.spec, func() {
			ctx := types.SetUserID(context.Background(), types.DefaultUserID)
			if err := s.run(ctx); err != nil {
				log.Errorw("worker run failed", "worker", s.name, "error", err)
			}
		})
		if err != nil {
			return err
		}
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("starting background workers")
			c.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("stopping background workers")
			stopCtx := c.Stop()
			select {
			case <-stopCtx.Done():
			case <-ctx.Done():
			}
			return nil
		},
	})
	return nil
}

func runReconciliation(ctx context.Context, cfg *config.Configuration, svc service.ReconciliationService) error {
	provider := types.ProviderType(cfg.Billing.ActiveProvider)
	scopes := []types.ReconciliationScope{
		types.ReconciliationScopeSubscriptions,
		types.ReconciliationScopeCheckouts,
		types.ReconciliationScopeInvoices,
		types.ReconciliationScopeEntitlements,
	}
	for _, scope := range scopes {
		if _, err := svc.Run(ctx, provider, scope); err != nil {
			return err
		}
	}
	return nil
}
