package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/reckonhq/reckon/internal/domain/billingcustomer"
	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/integration"
	"github.com/reckonhq/reckon/internal/testutil"
	"github.com/reckonhq/reckon/internal/types"
)

type WebhookServiceSuite struct {
	testutil.BaseServiceTestSuite
	service     WebhookService
	billing     BillingService
	idempotency IdempotencyService
}

func TestWebhookService(t *testing.T) {
	suite.Run(t, new(WebhookServiceSuite))
}

func (s *WebhookServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	params := newTestServiceParams(&s.BaseServiceTestSuite)
	s.idempotency = NewIdempotencyService(params)
	s.billing = NewBillingService(params, s.idempotency)
	entitlements := NewEntitlementService(params)
	projections := NewProjectionService(params, entitlements)
	s.service = NewWebhookService(params, projections)
}

// eventPayload builds a raw delivery in the canonical shape the fake
// translator decodes.
func eventPayload(id string, eventType types.CanonicalEventType, object map[string]interface{}) []byte {
	raw, _ := json.Marshal(&integration.CanonicalEvent{
		ID:      id,
		Type:    eventType,
		Created: time.Now().UTC().Unix(),
		Data:    integration.CanonicalEventData{Object: object},
	})
	return raw
}

func (s *WebhookServiceSuite) TestBadSignatureFailsClosed() {
	s.GetProviderClient().VerifyErr = ierr.NewError("signature mismatch").Mark(ierr.ErrPermissionDenied)

	payload := eventPayload("evt_1", types.CanonicalEventInvoicePaid, map[string]interface{}{"id": "in_1"})
	event, err := s.service.Ingest(s.GetContext(), types.ProviderTypeStripe, payload, "bad-sig")
	s.Error(err)
	s.Nil(event)

	// nothing was persisted
	failed, err := s.service.ListFailed(s.GetContext(), types.ProviderTypeStripe, 10)
	s.NoError(err)
	s.Empty(failed)
}

func (s *WebhookServiceSuite) TestEventWithoutIDRejected() {
	payload := eventPayload("", types.CanonicalEventInvoicePaid, map[string]interface{}{"id": "in_1"})
	event, err := s.service.Ingest(s.GetContext(), types.ProviderTypeStripe, payload, "sig")
	s.Error(err)
	s.Nil(event)
	s.True(ierr.IsValidation(err))
}

func (s *WebhookServiceSuite) TestUnprocessableEventTypeAcknowledged() {
	payload := eventPayload("evt_1", "customer.tax_id.created", map[string]interface{}{"id": "txi_1"})
	event, err := s.service.Ingest(s.GetContext(), types.ProviderTypeStripe, payload, "sig")
	s.NoError(err)
	s.Equal(types.WebhookEventStatusProcessed, event.EventStatus)
}

func (s *WebhookServiceSuite) TestUncorrelatedEventPersistedAsFailed() {
	object := map[string]interface{}{
		"id":       "in_1",
		"customer": "cus_unknown",
		"metadata": map[string]interface{}{"operation_key": "op_orphan"},
	}
	payload := eventPayload("evt_1", types.CanonicalEventInvoicePaid, object)

	event, err := s.service.Ingest(s.GetContext(), types.ProviderTypeStripe, payload, "sig")
	s.Error(err)
	s.True(ierr.IsCorrelation(err))
	s.NotNil(event)
	s.Equal(types.WebhookEventStatusFailed, event.EventStatus)

	// the partial correlation survives on the stored row for repair
	stored, err := s.GetStores().WebhookEventRepo.GetByProviderEventID(s.GetContext(), types.ProviderTypeStripe, "evt_1")
	s.NoError(err)
	s.Equal(types.WebhookEventStatusFailed, stored.EventStatus)
	s.NotNil(stored.OperationKey)
	s.Equal("op_orphan", *stored.OperationKey)

	failed, err := s.service.ListFailed(s.GetContext(), types.ProviderTypeStripe, 10)
	s.NoError(err)
	s.Len(failed, 1)
}

func (s *WebhookServiceSuite) TestDuplicateDeliveryReplaysStoredRow() {
	ctx := s.GetContext()
	entity := seedEntity(ctx, &s.BaseServiceTestSuite, "be_1")
	s.seedCustomer(entity.ID, "cus_1")

	object := map[string]interface{}{
		"id":       "sub_remote_1",
		"customer": "cus_1",
		"status":   "active",
	}
	payload := eventPayload("evt_1", types.CanonicalEventSubscriptionCreated, object)

	first, err := s.service.Ingest(ctx, types.ProviderTypeStripe, payload, "sig")
	s.NoError(err)
	s.Equal(types.WebhookEventStatusProcessed, first.EventStatus)

	second, err := s.service.Ingest(ctx, types.ProviderTypeStripe, payload, "sig")
	s.NoError(err)
	s.Equal(first.ID, second.ID)
	s.Equal(types.WebhookEventStatusProcessed, second.EventStatus)
}

func (s *WebhookServiceSuite) TestCheckoutCompletedTransitionsSession() {
	ctx := s.GetContext()
	entity := seedEntity(ctx, &s.BaseServiceTestSuite, "be_1")
	seedSellablePrice(ctx, &s.BaseServiceTestSuite, "plan_pro")

	resp, err := s.billing.CreateCheckoutSession(ctx, &CheckoutRequest{
		BillableEntityID: entity.ID,
		PlanID:           "plan_pro",
		ClientKey:        "ck-1",
		SuccessURL:       "https://app.test/success",
		CancelURL:        "https://app.test/cancel",
	})
	s.NoError(err)

	session, err := s.GetStores().CheckoutSessionRepo.GetByOperationKey(ctx, resp.OperationKey)
	s.NoError(err)

	object := map[string]interface{}{
		"id":           session.ProviderSessionID,
		"customer":     "cus_1",
		"subscription": "sub_remote_1",
		"metadata": map[string]interface{}{
			"billable_entity_id": entity.ID,
			"operation_key":      resp.OperationKey,
		},
	}
	payload := eventPayload("evt_1", types.CanonicalEventCheckoutSessionCompleted, object)

	event, err := s.service.Ingest(ctx, types.ProviderTypeStripe, payload, "sig")
	s.NoError(err)
	s.Equal(types.WebhookEventStatusProcessed, event.EventStatus)
	s.NotNil(event.BillableEntityID)
	s.Equal(entity.ID, *event.BillableEntityID)

	session, err = s.GetStores().CheckoutSessionRepo.Get(ctx, session.ID)
	s.NoError(err)
	s.Equal(types.CheckoutSessionStatusCompletedPendingSubscription, session.SessionStatus)
	s.Equal("sub_remote_1", session.ProviderSubscriptionID)
	s.Equal("cus_1", session.ProviderCustomerID)
	s.NotNil(session.CompletedAt)

	// a reconcile job was queued for the subscription linkage
	job, err := s.GetStores().OutboxRepo.Get(ctx, s.singleOutboxJobID())
	s.NoError(err)
	s.Equal(types.OutboxJobTypeCheckoutReconcile, job.JobType)
	s.Equal(session.ID, job.DedupeKey)
}

func (s *WebhookServiceSuite) TestSubscriptionEventCorrelatedByCustomer() {
	ctx := s.GetContext()
	entity := seedEntity(ctx, &s.BaseServiceTestSuite, "be_1")
	s.seedCustomer(entity.ID, "cus_1")

	now := time.Now().UTC()
	object := map[string]interface{}{
		"id":                   "sub_remote_1",
		"customer":             "cus_1",
		"status":               "active",
		"currency":             "usd",
		"current_period_start": now.Unix(),
		"current_period_end":   now.AddDate(0, 1, 0).Unix(),
	}
	payload := eventPayload("evt_1", types.CanonicalEventSubscriptionCreated, object)

	event, err := s.service.Ingest(ctx, types.ProviderTypeStripe, payload, "sig")
	s.NoError(err)
	s.Equal(types.WebhookEventStatusProcessed, event.EventStatus)

	sub, err := s.GetStores().SubscriptionRepo.GetCurrent(ctx, entity.ID)
	s.NoError(err)
	s.Equal("sub_remote_1", sub.ProviderSubscriptionID)
	s.Equal(types.SubscriptionStatusActive, sub.SubscriptionStatus)
	s.True(sub.IsCurrent)
}

func (s *WebhookServiceSuite) TestStaleSubscriptionEventDiscarded() {
	ctx := s.GetContext()
	entity := seedEntity(ctx, &s.BaseServiceTestSuite, "be_1")
	s.seedCustomer(entity.ID, "cus_1")

	now := time.Now().UTC()
	fresh := &integration.CanonicalEvent{
		ID:      "evt_2",
		Type:    types.CanonicalEventSubscriptionUpdated,
		Created: now.Unix(),
		Data: integration.CanonicalEventData{Object: map[string]interface{}{
			"id":       "sub_remote_1",
			"customer": "cus_1",
			"status":   "active",
		}},
	}
	freshRaw, _ := json.Marshal(fresh)
	_, err := s.service.Ingest(ctx, types.ProviderTypeStripe, freshRaw, "sig")
	s.NoError(err)

	// an older delivery arriving late must not regress the status
	stale := &integration.CanonicalEvent{
		ID:      "evt_1",
		Type:    types.CanonicalEventSubscriptionUpdated,
		Created: now.Add(-time.Hour).Unix(),
		Data: integration.CanonicalEventData{Object: map[string]interface{}{
			"id":       "sub_remote_1",
			"customer": "cus_1",
			"status":   "past_due",
		}},
	}
	staleRaw, _ := json.Marshal(stale)
	event, err := s.service.Ingest(ctx, types.ProviderTypeStripe, staleRaw, "sig")
	s.NoError(err)
	s.Equal(types.WebhookEventStatusProcessed, event.EventStatus)

	sub, err := s.GetStores().SubscriptionRepo.GetCurrent(ctx, entity.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusActive, sub.SubscriptionStatus)
	s.Equal("evt_2", sub.LastProviderEventID)
}

func (s *WebhookServiceSuite) TestRetryRepairsFailedEvent() {
	ctx := s.GetContext()

	object := map[string]interface{}{
		"id":       "sub_remote_1",
		"customer": "cus_1",
		"status":   "active",
	}
	payload := eventPayload("evt_1", types.CanonicalEventSubscriptionCreated, object)

	event, err := s.service.Ingest(ctx, types.ProviderTypeStripe, payload, "sig")
	s.Error(err)
	s.NotNil(event)
	s.Equal(types.WebhookEventStatusFailed, event.EventStatus)

	// once the missing customer mapping exists, a retry succeeds from the
	// stored payload
	entity := seedEntity(ctx, &s.BaseServiceTestSuite, "be_1")
	s.seedCustomer(entity.ID, "cus_1")

	retried, err := s.service.Retry(ctx, event.ID)
	s.NoError(err)
	s.Equal(types.WebhookEventStatusProcessed, retried.EventStatus)

	sub, err := s.GetStores().SubscriptionRepo.GetCurrent(ctx, entity.ID)
	s.NoError(err)
	s.Equal("sub_remote_1", sub.ProviderSubscriptionID)
}

func (s *WebhookServiceSuite) TestRetryOfProcessedEventIsNoOp() {
	ctx := s.GetContext()
	payload := eventPayload("evt_1", "customer.tax_id.created", map[string]interface{}{"id": "txi_1"})
	event, err := s.service.Ingest(ctx, types.ProviderTypeStripe, payload, "sig")
	s.NoError(err)

	retried, err := s.service.Retry(ctx, event.ID)
	s.NoError(err)
	s.Equal(event.ID, retried.ID)
	s.Equal(types.WebhookEventStatusProcessed, retried.EventStatus)
}

func (s *WebhookServiceSuite) seedCustomer(entityID, providerCustomerID string) {
	customer := &billingcustomer.BillingCustomer{
		ID:                 "bc_" + entityID,
		BillableEntityID:   entityID,
		Provider:           types.ProviderTypeStripe,
		ProviderCustomerID: providerCustomerID,
		Email:              "owner@example.com",
		BaseModel:          types.GetDefaultBaseModel(s.GetContext()),
	}
	s.NoError(s.GetStores().BillingCustomerRepo.Create(s.GetContext(), customer))
}

// singleOutboxJobID asserts exactly one job is queued and returns its id
func (s *WebhookServiceSuite) singleOutboxJobID() string {
	store := s.GetStores().OutboxRepo.(*testutil.InMemoryOutboxStore)
	jobs, err := store.LeaseDue(s.GetContext(), "test", time.Now().UTC(), time.Minute, 10)
	s.NoError(err)
	s.Len(jobs, 1)
	return jobs[0].ID
}
