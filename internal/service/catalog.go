package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/reckonhq/reckon/internal/domain/plan"
	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/integration"
	"github.com/reckonhq/reckon/internal/types"
)

// CreatePlanRequest describes a new sellable plan
type CreatePlanRequest struct {
	Code        string
	Name        string
	Description string
}

// CreatePriceRequest describes a new provider-backed price for a plan.
// When ProviderPriceID is empty the price is created at the provider first,
// guarded by the idempotency ledger.
type CreatePriceRequest struct {
	PlanID          string
	ClientKey       string
	Currency        string
	UnitAmount      int64
	BillingPeriod   types.BillingPeriod
	Kind            types.PriceKind
	Role            types.PriceRole
	ProviderPriceID string
}

// PlanView bundles a plan with its prices
type PlanView struct {
	Plan   *plan.Plan    `json:"plan"`
	Prices []*plan.Price `json:"prices"`
}

// CatalogService manages plans and their provider-backed prices. The
// sellable invariant (at most one active licensed base price per plan and
// provider) is enforced by the price table's partial unique index; this
// service keeps the key column in sync and surfaces conflicts cleanly.
type CatalogService interface {
	CreatePlan(ctx context.Context, req *CreatePlanRequest) (*plan.Plan, error)
	GetPlan(ctx context.Context, id string) (*PlanView, error)
	ListPlans(ctx context.Context, filter *types.QueryFilter) ([]*PlanView, error)

	CreatePrice(ctx context.Context, req *CreatePriceRequest) (*plan.Price, error)

	// RetirePrice deactivates a price, freeing the sellable slot
	RetirePrice(ctx context.Context, priceID string) (*plan.Price, error)
}

type catalogService struct {
	ServiceParams
	idempotency IdempotencyService
}

func NewCatalogService(params ServiceParams, idempotencySvc IdempotencyService) CatalogService {
	return &catalogService{ServiceParams: params, idempotency: idempotencySvc}
}

func (s *catalogService) CreatePlan(ctx context.Context, req *CreatePlanRequest) (*plan.Plan, error) {
	p := &plan.Plan{
		ID:          types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PLAN),
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
		BaseModel:   types.GetDefaultBaseModel(ctx),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := s.PlanRepo.Create(ctx, p); err != nil {
		return nil, err
	}
	s.Logger.Infow("created plan", "plan_id", p.ID, "code", p.Code)
	return p, nil
}

func (s *catalogService) GetPlan(ctx context.Context, id string) (*PlanView, error) {
	p, err := s.PlanRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	prices, err := s.PriceRepo.ListByPlan(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return &PlanView{Plan: p, Prices: prices}, nil
}

func (s *catalogService) ListPlans(ctx context.Context, filter *types.QueryFilter) ([]*PlanView, error) {
	plans, err := s.PlanRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	views := make([]*PlanView, 0, len(plans))
	for _, p := range plans {
		prices, err := s.PriceRepo.ListByPlan(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, &PlanView{Plan: p, Prices: prices})
	}
	return views, nil
}

func (s *catalogService) CreatePrice(ctx context.Context, req *CreatePriceRequest) (*plan.Price, error) {
	p, err := s.PlanRepo.Get(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}

	currency, err := types.NormalizeCurrency(req.Currency)
	if err != nil {
		return nil, err
	}

	provider := types.ProviderType(s.Config.Billing.ActiveProvider)
	providerPriceID := req.ProviderPriceID
	if providerPriceID == "" {
		providerPriceID, err = s.createProviderPrice(ctx, p, provider, currency, req)
		if err != nil {
			return nil, err
		}
	}

	version := 1
	if existing, err := s.PriceRepo.ListByPlan(ctx, p.ID); err == nil {
		for _, price := range existing {
			if price.Provider == provider && price.Version >= version {
				version = price.Version + 1
			}
		}
	} else {
		return nil, err
	}

	price := &plan.Price{
		ID:              types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PLAN_PRICE),
		PlanID:          p.ID,
		Provider:        provider,
		ProviderPriceID: providerPriceID,
		Currency:        currency,
		UnitAmount:      req.UnitAmount,
		BillingPeriod:   req.BillingPeriod,
		Kind:            req.Kind,
		Role:            req.Role,
		Active:          true,
		Version:         version,
		EffectiveAt:     time.Now().UTC(),
		BaseModel:       types.GetDefaultBaseModel(ctx),
	}
	price.RefreshSellableKey()
	if err := price.Validate(); err != nil {
		return nil, err
	}
	if err := s.PriceRepo.Create(ctx, price); err != nil {
		if ierr.IsAlreadyExists(err) {
			return nil, ierr.NewError("plan already has a sellable price for this provider").
				WithHint("Retire the existing sellable price before adding a new one").
				WithReportableDetails(map[string]any{
					"plan_id":  p.ID,
					"provider": provider,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
		return nil, err
	}

	s.Logger.Infow("created plan price",
		"price_id", price.ID,
		"plan_id", p.ID,
		"provider", provider,
		"provider_price_id", providerPriceID,
		"sellable", price.IsSellable())
	return price, nil
}

// createProviderPrice creates the price object at the provider, guarded by
// the idempotency ledger like every other provider-facing action.
func (s *catalogService) createProviderPrice(
	ctx context.Context,
	p *plan.Plan,
	provider types.ProviderType,
	currency string,
	req *CreatePriceRequest,
) (string, error) {
	client, err := s.Providers.Client(provider)
	if err != nil {
		return "", err
	}

	clientKey := req.ClientKey
	if clientKey == "" {
		clientKey = fmt.Sprintf("price:%s:%s:%d", p.ID, req.BillingPeriod, req.UnitAmount)
	}

	interval := "month"
	if req.BillingPeriod == types.BillingPeriodYearly {
		interval = "year"
	}

	acquire, err := s.idempotency.AcquireOrReplay(ctx, &AcquireParams{
		BillableEntityID: p.ID,
		Action:           types.IdempotencyActionPriceCreate,
		ClientKey:        clientKey,
		Params: map[string]interface{}{
			"plan_id":     p.ID,
			"currency":    currency,
			"unit_amount": req.UnitAmount,
			"interval":    interval,
		},
		Owner: workerOwner(),
	})
	if err != nil {
		return "", err
	}
	if acquire.Replayed {
		stored, err := replayResponse[integration.Price](acquire.Request)
		if err != nil {
			return "", err
		}
		return stored.ID, nil
	}

	ledger := acquire.Request
	created, err := client.CreatePrice(ctx, &integration.PriceParams{
		ProductName:    p.Name,
		Currency:       currency,
		UnitAmount:     req.UnitAmount,
		Interval:       interval,
		IdempotencyKey: ledger.ProviderIdempotencyKey,
		Metadata: map[string]string{
			"plan_id": p.ID,
		},
	})
	if err != nil {
		if failErr := s.idempotency.Fail(ctx, ledger, err); failErr != nil {
			s.Logger.Errorw("failed to record price creation failure",
				"error", failErr,
				"request_id", ledger.ID)
		}
		return "", err
	}

	raw, err := json.Marshal(created)
	if err != nil {
		return "", ierr.WithError(err).Mark(ierr.ErrSystem)
	}
	if err := s.idempotency.Complete(ctx, ledger, raw); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (s *catalogService) RetirePrice(ctx context.Context, priceID string) (*plan.Price, error) {
	price, err := s.PriceRepo.Get(ctx, priceID)
	if err != nil {
		return nil, err
	}
	if !price.Active {
		return price, nil
	}
	price.Active = false
	price.RefreshSellableKey()
	price.UpdatedAt = time.Now().UTC()
	if err := s.PriceRepo.Update(ctx, price); err != nil {
		return nil, err
	}
	s.Logger.Infow("retired plan price", "price_id", price.ID, "plan_id", price.PlanID)
	return price, nil
}

