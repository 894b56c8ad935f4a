package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/reckonhq/reckon/internal/domain/checkoutsession"
	"github.com/reckonhq/reckon/internal/domain/invoice"
	"github.com/reckonhq/reckon/internal/domain/outbox"
	"github.com/reckonhq/reckon/internal/domain/remediation"
	"github.com/reckonhq/reckon/internal/domain/subscription"
	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/integration"
	"github.com/reckonhq/reckon/internal/types"
)

// ProjectionService applies correlated canonical events to the local
// mirrors. Rows here are mutated only through this service (and
// remediation), never directly by user actions.
//
// Out-of-order deliveries are discarded by per-row watermarks; duplicate
// current-looking subscriptions enqueue a remediation instead of guessing.
type ProjectionService interface {
	ApplySubscriptionEvent(ctx context.Context, event *integration.CanonicalEvent, provider types.ProviderType, billableEntityID string) (*subscription.Subscription, error)
	ApplyInvoiceEvent(ctx context.Context, event *integration.CanonicalEvent, provider types.ProviderType, billableEntityID string) (*invoice.Invoice, error)
	ApplyCheckoutCompleted(ctx context.Context, event *integration.CanonicalEvent, provider types.ProviderType) error
	ApplyCheckoutExpired(ctx context.Context, event *integration.CanonicalEvent, provider types.ProviderType) error

	// FlagDuplicateSubscriptions records a remediation when an entity has
	// more than one current-looking subscription
	FlagDuplicateSubscriptions(ctx context.Context, billableEntityID string) error
}

type projectionService struct {
	ServiceParams
	entitlements EntitlementService
}

func NewProjectionService(params ServiceParams, entitlementSvc EntitlementService) ProjectionService {
	return &projectionService{ServiceParams: params, entitlements: entitlementSvc}
}

func (s *projectionService) ApplySubscriptionEvent(ctx context.Context, event *integration.CanonicalEvent, provider types.ProviderType, billableEntityID string) (*subscription.Subscription, error) {
	obj := event.Data.Object
	providerSubscriptionID := integration.GetString(obj, "id")
	if providerSubscriptionID == "" {
		return nil, ierr.NewError("subscription event has no id").
			WithHint("The event payload is missing the subscription id").
			Mark(ierr.ErrValidation)
	}

	eventAt := time.Unix(event.Created, 0).UTC()
	now := time.Now().UTC()

	sub, err := s.SubscriptionRepo.GetByProviderSubscriptionID(ctx, provider, providerSubscriptionID)
	if err != nil && !ierr.IsNotFound(err) {
		return nil, err
	}

	if sub != nil && sub.IsStaleEvent(eventAt) {
		s.Logger.Infow("discarded stale subscription event",
			"provider_subscription_id", providerSubscriptionID,
			"event_id", event.ID,
			"event_at", eventAt,
			"watermark", sub.LastProviderEventAt)
		return sub, nil
	}

	created := false
	if sub == nil {
		created = true
		sub = &subscription.Subscription{
			ID:                     types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
			BillableEntityID:       billableEntityID,
			Provider:               provider,
			ProviderSubscriptionID: providerSubscriptionID,
			BaseModel:              types.GetDefaultBaseModel(ctx),
		}
	}

	s.applySubscriptionFields(sub, event, obj, eventAt)

	if event.Type == types.CanonicalEventSubscriptionDeleted {
		sub.SubscriptionStatus = types.SubscriptionStatusCancelled
		if sub.CancelledAt == nil {
			sub.CancelledAt = &eventAt
		}
	}

	// resolve the plan price when the local checkout is known
	if sub.PlanPriceID == "" && sub.OperationKey != "" {
		if session, err := s.CheckoutSessionRepo.GetByOperationKey(ctx, sub.OperationKey); err == nil {
			sub.PlanPriceID = session.PlanPriceID
		} else if !ierr.IsNotFound(err) {
			return nil, err
		}
	}
	if sub.PlanID == "" && sub.PlanPriceID != "" {
		if price, err := s.PriceRepo.Get(ctx, sub.PlanPriceID); err == nil {
			sub.PlanID = price.PlanID
		} else if !ierr.IsNotFound(err) {
			return nil, err
		}
	}

	if err := s.settleCurrentFlag(ctx, sub); err != nil {
		return nil, err
	}

	sub.UpdatedAt = now
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	if created {
		if err := s.SubscriptionRepo.Create(ctx, sub); err != nil {
			return nil, err
		}
	} else {
		if err := s.SubscriptionRepo.Update(ctx, sub); err != nil {
			return nil, err
		}
	}

	if err := s.replaceItems(ctx, sub, obj, provider); err != nil {
		return nil, err
	}

	// a live subscription earns its plan grants; dedupe keys make replays safe
	if sub.IsCurrent && sub.PlanID != "" {
		if _, err := s.entitlements.ApplyPlanGrants(ctx, sub.BillableEntityID, sub.PlanID, sub.ID, sub.CurrentPeriodStart); err != nil {
			return nil, err
		}
	}

	if err := s.FlagDuplicateSubscriptions(ctx, sub.BillableEntityID); err != nil {
		return nil, err
	}

	s.Logger.Infow("projected subscription event",
		"event_id", event.ID,
		"event_type", event.Type,
		"subscription_id", sub.ID,
		"provider_subscription_id", providerSubscriptionID,
		"status", sub.SubscriptionStatus,
		"is_current", sub.IsCurrent)
	return sub, nil
}

func (s *projectionService) applySubscriptionFields(sub *subscription.Subscription, event *integration.CanonicalEvent, obj map[string]interface{}, eventAt time.Time) {
	if customer := integration.GetString(obj, "customer"); customer != "" {
		sub.ProviderCustomerID = customer
	}
	if status := integration.GetString(obj, "status"); status != "" {
		sub.SubscriptionStatus = normalizeSubscriptionStatus(status)
	}
	if currency := integration.GetString(obj, "currency"); currency != "" {
		if normalized, err := types.NormalizeCurrency(currency); err == nil {
			sub.Currency = normalized
		}
	}
	if metadata := integration.GetObject(obj, "metadata"); metadata != nil {
		if key := integration.GetString(metadata, "operation_key"); key != "" {
			sub.OperationKey = key
		}
	}
	sub.CancelAtPeriodEnd = integration.GetBool(obj, "cancel_at_period_end")

	if start, end, ok := subscriptionPeriod(obj); ok {
		sub.CurrentPeriodStart = start
		sub.CurrentPeriodEnd = end
	}
	for field, target := range map[string]**time.Time{
		"cancel_at":   &sub.CancelAt,
		"canceled_at": &sub.CancelledAt,
		"trial_start": &sub.TrialStart,
		"trial_end":   &sub.TrialEnd,
	} {
		if t, err := integration.ParseFlexibleTime(obj[field]); err == nil && !t.IsZero() {
			*target = &t
		}
	}

	sub.LastProviderEventID = event.ID
	sub.LastProviderEventAt = &eventAt
}

// subscriptionPeriod reads the billing period from the top level or, for
// payloads that keep periods on the first item, from items.data[0].
func subscriptionPeriod(obj map[string]interface{}) (time.Time, time.Time, bool) {
	start, errStart := integration.ParseFlexibleTime(obj["current_period_start"])
	end, errEnd := integration.ParseFlexibleTime(obj["current_period_end"])
	if errStart == nil && errEnd == nil && !start.IsZero() && !end.IsZero() {
		return start, end, true
	}

	items := integration.GetObject(obj, "items")
	data := integration.GetArray(items, "data")
	if len(data) == 0 {
		return time.Time{}, time.Time{}, false
	}
	first, ok := data[0].(map[string]interface{})
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	start, errStart = integration.ParseFlexibleTime(first["current_period_start"])
	end, errEnd = integration.ParseFlexibleTime(first["current_period_end"])
	if errStart != nil || errEnd != nil || start.IsZero() || end.IsZero() {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// settleCurrentFlag maintains the at-most-one-current invariant for the
// entity. A terminal subscription can never be current; a non-terminal one
// becomes current only when no other row holds the flag.
func (s *projectionService) settleCurrentFlag(ctx context.Context, sub *subscription.Subscription) error {
	if !sub.LooksCurrent() {
		sub.IsCurrent = false
		return nil
	}
	current, err := s.SubscriptionRepo.GetCurrent(ctx, sub.BillableEntityID)
	if err != nil {
		if ierr.IsNotFound(err) {
			sub.IsCurrent = true
			return nil
		}
		return err
	}
	sub.IsCurrent = current.ID == sub.ID
	return nil
}

func (s *projectionService) replaceItems(ctx context.Context, sub *subscription.Subscription, obj map[string]interface{}, provider types.ProviderType) error {
	itemsObj := integration.GetObject(obj, "items")
	data := integration.GetArray(itemsObj, "data")
	if data == nil {
		if arr := integration.GetArray(obj, "items"); arr != nil {
			data = arr
		}
	}
	if len(data) == 0 {
		return nil
	}

	items := make([]*subscription.Item, 0, len(data))
	for _, raw := range data {
		line, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		item := &subscription.Item{
			ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION_ITEM),
			SubscriptionID: sub.ID,
			Provider:       provider,
			ProviderItemID: integration.GetString(line, "id"),
			Quantity:       1,
			Currency:       sub.Currency,
			BaseModel:      types.GetDefaultBaseModel(ctx),
		}
		if qty, err := integration.ParseMinorUnits(line["quantity"]); err == nil && qty > 0 {
			item.Quantity = qty
		}
		if price := integration.GetObject(line, "price"); price != nil {
			item.ProviderPriceID = integration.GetString(price, "id")
			if amount, err := integration.ParseMinorUnits(price["unit_amount"]); err == nil {
				item.UnitAmount = amount
			}
			if currency := integration.GetString(price, "currency"); currency != "" {
				if normalized, err := types.NormalizeCurrency(currency); err == nil {
					item.Currency = normalized
				}
			}
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil
	}
	return s.SubscriptionRepo.ReplaceItems(ctx, sub.ID, items)
}

// FlagDuplicateSubscriptions looks for more than one current-looking
// subscription on the entity and enqueues a remediation for each
// non-canonical one. The canonical subscription is the one whose operation
// key resolves to a local checkout; ties break to the oldest row.
func (s *projectionService) FlagDuplicateSubscriptions(ctx context.Context, billableEntityID string) error {
	live, err := s.SubscriptionRepo.ListCurrentLooking(ctx, billableEntityID)
	if err != nil {
		return err
	}
	if len(live) <= 1 {
		return nil
	}

	canonical := pickCanonical(live)
	s.Logger.Warnw("detected duplicate current-looking subscriptions",
		"billable_entity_id", billableEntityID,
		"count", len(live),
		"canonical_provider_subscription_id", canonical.ProviderSubscriptionID)

	for _, dup := range live {
		if dup.ID == canonical.ID {
			continue
		}
		rem := &remediation.Remediation{
			ID:                              types.GenerateUUIDWithPrefix(types.UUID_PREFIX_REMEDIATION),
			Provider:                        dup.Provider,
			BillableEntityID:                dup.BillableEntityID,
			Action:                          types.RemediationActionCancelDuplicate,
			CanonicalProviderSubscriptionID: canonical.ProviderSubscriptionID,
			DuplicateProviderSubscriptionID: dup.ProviderSubscriptionID,
			RemediationStatus:               types.RemediationStatusPending,
			BaseModel:                       types.GetDefaultBaseModel(ctx),
		}
		if err := rem.Validate(); err != nil {
			return err
		}
		inserted, err := s.RemediationRepo.Create(ctx, rem)
		if err != nil {
			return err
		}
		if !inserted {
			continue
		}

		payload, err := json.Marshal(map[string]string{"remediation_id": rem.ID})
		if err != nil {
			return ierr.WithError(err).Mark(ierr.ErrSystem)
		}
		job := &outbox.Job{
			ID:          types.GenerateUUIDWithPrefix(types.UUID_PREFIX_OUTBOX_JOB),
			JobType:     types.OutboxJobTypeRemediationKick,
			DedupeKey:   rem.ID,
			Payload:     payload,
			JobStatus:   types.OutboxJobStatusPending,
			ScheduledAt: time.Now().UTC(),
			BaseModel:   types.GetDefaultBaseModel(ctx),
		}
		if _, err := s.OutboxRepo.Enqueue(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

// pickCanonical prefers the subscription tied to a known operation key,
// falling back to the oldest created row.
func pickCanonical(live []*subscription.Subscription) *subscription.Subscription {
	canonical := live[0]
	for _, sub := range live[1:] {
		if sub.OperationKey != "" && canonical.OperationKey == "" {
			canonical = sub
			continue
		}
		if (sub.OperationKey != "") == (canonical.OperationKey != "") &&
			sub.CreatedAt.Before(canonical.CreatedAt) {
			canonical = sub
		}
	}
	return canonical
}

func (s *projectionService) ApplyInvoiceEvent(ctx context.Context, event *integration.CanonicalEvent, provider types.ProviderType, billableEntityID string) (*invoice.Invoice, error) {
	obj := event.Data.Object
	providerInvoiceID := integration.GetString(obj, "id")
	if providerInvoiceID == "" {
		return nil, ierr.NewError("invoice event has no id").
			WithHint("The event payload is missing the invoice id").
			Mark(ierr.ErrValidation)
	}

	eventAt := time.Unix(event.Created, 0).UTC()
	now := time.Now().UTC()

	inv, err := s.InvoiceRepo.GetByProviderInvoiceID(ctx, provider, providerInvoiceID)
	if err != nil && !ierr.IsNotFound(err) {
		return nil, err
	}
	if inv != nil && inv.IsStaleEvent(eventAt) {
		s.Logger.Infow("discarded stale invoice event",
			"provider_invoice_id", providerInvoiceID,
			"event_id", event.ID)
		return inv, nil
	}

	created := false
	if inv == nil {
		created = true
		inv = &invoice.Invoice{
			ID:                types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE),
			BillableEntityID:  billableEntityID,
			Provider:          provider,
			ProviderInvoiceID: providerInvoiceID,
			BaseModel:         types.GetDefaultBaseModel(ctx),
		}
	}

	if providerSubID := integration.GetString(obj, "subscription"); providerSubID != "" {
		inv.ProviderSubscriptionID = providerSubID
		if sub, err := s.SubscriptionRepo.GetByProviderSubscriptionID(ctx, provider, providerSubID); err == nil {
			inv.SubscriptionID = sub.ID
		} else if !ierr.IsNotFound(err) {
			return nil, err
		}
	}

	switch event.Type {
	case types.CanonicalEventInvoicePaid:
		inv.InvoiceStatus = types.InvoiceStatusPaid
	case types.CanonicalEventInvoicePaymentFailed:
		inv.InvoiceStatus = types.InvoiceStatusPaymentFailed
	default:
		if status := integration.GetString(obj, "status"); status != "" {
			inv.InvoiceStatus = types.InvoiceStatus(status)
		}
	}

	if currency := integration.GetString(obj, "currency"); currency != "" {
		if normalized, err := types.NormalizeCurrency(currency); err == nil {
			inv.Currency = normalized
		}
	}
	if amount, err := integration.ParseMinorUnits(obj["amount_due"]); err == nil {
		inv.AmountDue = amount
	}
	if amount, err := integration.ParseMinorUnits(obj["amount_paid"]); err == nil {
		inv.AmountPaid = amount
	}
	for field, target := range map[string]**time.Time{
		"period_start": &inv.PeriodStart,
		"period_end":   &inv.PeriodEnd,
	} {
		if t, err := integration.ParseFlexibleTime(obj[field]); err == nil && !t.IsZero() {
			*target = &t
		}
	}

	inv.LastProviderEventID = event.ID
	inv.LastProviderEventAt = &eventAt
	inv.UpdatedAt = now

	if err := inv.Validate(); err != nil {
		return nil, err
	}
	if created {
		if err := s.InvoiceRepo.Create(ctx, inv); err != nil {
			return nil, err
		}
	} else {
		if err := s.InvoiceRepo.Update(ctx, inv); err != nil {
			return nil, err
		}
	}

	if event.Type == types.CanonicalEventInvoicePaid {
		if err := s.recordPayment(ctx, inv, obj, eventAt); err != nil {
			return nil, err
		}
	}

	s.Logger.Infow("projected invoice event",
		"event_id", event.ID,
		"event_type", event.Type,
		"invoice_id", inv.ID,
		"provider_invoice_id", providerInvoiceID,
		"status", inv.InvoiceStatus)
	return inv, nil
}

// recordPayment appends a payment row for a paid invoice, keyed by the
// provider payment id (or synthesized from the invoice + event when absent)
// so replays never double-record.
func (s *projectionService) recordPayment(ctx context.Context, inv *invoice.Invoice, obj map[string]interface{}, occurredAt time.Time) error {
	providerPaymentID := integration.GetString(obj, "payment_intent")
	if providerPaymentID == "" {
		providerPaymentID = integration.GetString(obj, "charge")
	}
	if providerPaymentID == "" {
		providerPaymentID = fmt.Sprintf("%s:paid", inv.ProviderInvoiceID)
	}

	if _, err := s.InvoiceRepo.GetPaymentByProviderPaymentID(ctx, inv.Provider, providerPaymentID); err == nil {
		return nil
	} else if !ierr.IsNotFound(err) {
		return err
	}

	payment := &invoice.Payment{
		ID:                types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PAYMENT),
		InvoiceID:         inv.ID,
		BillableEntityID:  inv.BillableEntityID,
		Provider:          inv.Provider,
		ProviderPaymentID: providerPaymentID,
		PaymentStatus:     types.PaymentStatusSucceeded,
		Amount:            inv.AmountPaid,
		Currency:          inv.Currency,
		OccurredAt:        occurredAt,
		BaseModel:         types.GetDefaultBaseModel(ctx),
	}
	if err := s.InvoiceRepo.CreatePayment(ctx, payment); err != nil {
		if ierr.IsAlreadyExists(err) {
			return nil
		}
		return err
	}
	return nil
}

func (s *projectionService) ApplyCheckoutCompleted(ctx context.Context, event *integration.CanonicalEvent, provider types.ProviderType) error {
	obj := event.Data.Object
	session, err := s.findSession(ctx, provider, obj)
	if err != nil {
		return err
	}

	if session.SessionStatus != types.CheckoutSessionStatusOpen &&
		session.SessionStatus != types.CheckoutSessionStatusRecoveryVerificationPending {
		// replays of an already completed session are harmless
		return nil
	}

	now := time.Now().UTC()
	if customer := integration.GetString(obj, "customer"); customer != "" {
		session.ProviderCustomerID = customer
	}
	if providerSubID := integration.GetString(obj, "subscription"); providerSubID != "" {
		session.ProviderSubscriptionID = providerSubID
	}
	if err := session.Transition(types.CheckoutSessionStatusCompletedPendingSubscription); err != nil {
		return err
	}
	session.CompletedAt = &now
	session.UpdatedAt = now
	if err := s.CheckoutSessionRepo.Update(ctx, session); err != nil {
		return err
	}

	// ask the dispatcher to link the subscription once it is projected
	payload, err := json.Marshal(map[string]string{"session_id": session.ID})
	if err != nil {
		return ierr.WithError(err).Mark(ierr.ErrSystem)
	}
	job := &outbox.Job{
		ID:          types.GenerateUUIDWithPrefix(types.UUID_PREFIX_OUTBOX_JOB),
		JobType:     types.OutboxJobTypeCheckoutReconcile,
		DedupeKey:   session.ID,
		Payload:     payload,
		JobStatus:   types.OutboxJobStatusPending,
		ScheduledAt: now,
		BaseModel:   types.GetDefaultBaseModel(ctx),
	}
	if _, err := s.OutboxRepo.Enqueue(ctx, job); err != nil {
		return err
	}

	s.Logger.Infow("checkout session completed",
		"session_id", session.ID,
		"provider_session_id", session.ProviderSessionID,
		"provider_subscription_id", session.ProviderSubscriptionID)
	return nil
}

func (s *projectionService) ApplyCheckoutExpired(ctx context.Context, event *integration.CanonicalEvent, provider types.ProviderType) error {
	session, err := s.findSession(ctx, provider, event.Data.Object)
	if err != nil {
		return err
	}
	if session.SessionStatus.IsTerminal() {
		return nil
	}
	if err := session.Transition(types.CheckoutSessionStatusExpired); err != nil {
		return err
	}
	session.UpdatedAt = time.Now().UTC()
	if err := s.CheckoutSessionRepo.Update(ctx, session); err != nil {
		return err
	}
	s.Logger.Infow("checkout session expired",
		"session_id", session.ID,
		"provider_session_id", session.ProviderSessionID)
	return nil
}

// findSession locates the local session for a checkout event by provider
// session id, operation key metadata, or provider subscription id.
func (s *projectionService) findSession(ctx context.Context, provider types.ProviderType, obj map[string]interface{}) (*checkoutsession.CheckoutSession, error) {
	if id := integration.GetString(obj, "id"); id != "" {
		if session, err := s.CheckoutSessionRepo.GetByProviderSessionID(ctx, provider, id); err == nil {
			return session, nil
		} else if !ierr.IsNotFound(err) {
			return nil, err
		}
	}
	if metadata := integration.GetObject(obj, "metadata"); metadata != nil {
		if key := integration.GetString(metadata, "operation_key"); key != "" {
			if session, err := s.CheckoutSessionRepo.GetByOperationKey(ctx, key); err == nil {
				return session, nil
			} else if !ierr.IsNotFound(err) {
				return nil, err
			}
		}
	}
	if providerSubID := integration.GetString(obj, "subscription"); providerSubID != "" {
		if session, err := s.CheckoutSessionRepo.GetByProviderSubscriptionID(ctx, provider, providerSubID); err == nil {
			return session, nil
		} else if !ierr.IsNotFound(err) {
			return nil, err
		}
	}
	return nil, ierr.NewError("no local checkout session for event").
		WithHint("The checkout event could not be matched to a local session").
		Mark(ierr.ErrCorrelation)
}

func normalizeSubscriptionStatus(status string) types.SubscriptionStatus {
	switch status {
	case "canceled", "cancelled":
		return types.SubscriptionStatusCancelled
	case "incomplete_expired":
		return types.SubscriptionStatusExpired
	default:
		return types.SubscriptionStatus(status)
	}
}
