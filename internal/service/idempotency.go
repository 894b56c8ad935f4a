package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/reckonhq/reckon/internal/domain/idempotency"
	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/types"
)

// AcquireResult is the outcome of AcquireOrReplay
type AcquireResult struct {
	Request *idempotency.Request

	// Replayed means a succeeded row already existed and its stored response
	// must be returned without touching the provider.
	Replayed bool

	// Recovered means an expired pending lease was reclaimed; the caller must
	// verify provider-side effects of the frozen params before re-sending.
	Recovered bool
}

// IdempotencyService is the ledger guarding every provider-facing action.
// All provider calls flow through AcquireOrReplay/Complete/Fail so that a
// retried client request, a crashed process, or a concurrent duplicate all
// collapse onto exactly one provider-side effect.
type IdempotencyService interface {
	AcquireOrReplay(ctx context.Context, req *AcquireParams) (*AcquireResult, error)
	Complete(ctx context.Context, request *idempotency.Request, response json.RawMessage) error
	Fail(ctx context.Context, request *idempotency.Request, cause error) error
	Heartbeat(ctx context.Context, request *idempotency.Request) error
}

// AcquireParams describes one logical provider-facing action
type AcquireParams struct {
	BillableEntityID string
	Action           types.IdempotencyAction
	ClientKey        string

	// Params is the normalized request payload; it is hashed for key-reuse
	// detection and frozen as the exact provider request.
	Params map[string]interface{}

	Owner string
}

type idempotencyService struct {
	ServiceParams
}

func NewIdempotencyService(params ServiceParams) IdempotencyService {
	return &idempotencyService{ServiceParams: params}
}

func (s *idempotencyService) AcquireOrReplay(ctx context.Context, req *AcquireParams) (*AcquireResult, error) {
	if err := req.Action.Validate(); err != nil {
		return nil, err
	}
	if req.ClientKey == "" {
		return nil, ierr.NewError("client_key is required").
			WithHint("Please provide an idempotency key").
			Mark(ierr.ErrValidation)
	}

	hash := idempotency.HashRequest(req.ClientKey, req.Params)

	existing, err := s.IdempotencyRepo.GetByKey(ctx, req.BillableEntityID, req.Action, req.ClientKey)
	if err != nil && !ierr.IsNotFound(err) {
		return nil, err
	}
	if existing != nil {
		return s.resumeExisting(ctx, existing, hash, req.Owner)
	}

	frozen, err := json.Marshal(req.Params)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Request parameters could not be serialized").
			Mark(ierr.ErrSystem)
	}

	now := time.Now().UTC()
	row := &idempotency.Request{
		ID:                     types.GenerateUUIDWithPrefix(types.UUID_PREFIX_IDEMPOTENCY_REQUEST),
		BillableEntityID:       req.BillableEntityID,
		Action:                 req.Action,
		ClientKey:              req.ClientKey,
		RequestHash:            hash,
		OperationKey:           types.GenerateUUIDWithPrefix(types.UUID_PREFIX_OPERATION),
		FrozenParams:           frozen,
		ProviderIdempotencyKey: types.GenerateUUID(),
		RequestStatus:          types.IdempotencyStatusPending,
		BaseModel:              types.GetDefaultBaseModel(ctx),
	}
	row.Lease = row.Lease.Acquire(req.Owner, now, s.Config.Billing.PendingLeaseTTL)
	row.RefreshPendingKey()

	if err := s.IdempotencyRepo.Create(ctx, row); err != nil {
		if !ierr.IsAlreadyExists(err) {
			return nil, err
		}
		// lost the insert race; re-read and resume the winner's row
		existing, err = s.IdempotencyRepo.GetByKey(ctx, req.BillableEntityID, req.Action, req.ClientKey)
		if err != nil {
			if ierr.IsNotFound(err) {
				// the collision was on the pending-checkout slot, held by a
				// row with a different client key
				return nil, ierr.NewError("another checkout is already pending").
					WithHint("A checkout for this entity is already in progress; retry shortly").
					WithReportableDetails(map[string]any{
						"billable_entity_id": req.BillableEntityID,
						"action":             req.Action,
					}).
					Mark(ierr.ErrAlreadyExists)
			}
			return nil, err
		}
		return s.resumeExisting(ctx, existing, hash, req.Owner)
	}

	s.Logger.Infow("acquired idempotency lease",
		"request_id", row.ID,
		"action", row.Action,
		"operation_key", row.OperationKey,
		"owner", req.Owner)
	return &AcquireResult{Request: row}, nil
}

// resumeExisting decides what an existing ledger row means for this caller:
// replay a terminal response, reject a live pending row, or reclaim an
// expired lease for recovery.
func (s *idempotencyService) resumeExisting(ctx context.Context, row *idempotency.Request, hash, owner string) (*AcquireResult, error) {
	if row.RequestHash != hash {
		return nil, ierr.NewError("idempotency key reused with different parameters").
			WithHint("The same idempotency key was used for a semantically different request").
			WithReportableDetails(map[string]any{
				"client_key": row.ClientKey,
				"action":     row.Action,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	if row.RequestStatus == types.IdempotencyStatusSucceeded {
		return &AcquireResult{Request: row, Replayed: true}, nil
	}
	if row.RequestStatus.IsTerminal() {
		// a failed or expired terminal row never replays as success; the
		// caller retries with a new idempotency key
		return nil, ierr.NewError("request previously failed").
			WithHint("This idempotency key belongs to a failed request; retry with a new key").
			WithReportableDetails(map[string]any{
				"request_id": row.ID,
				"status":     row.RequestStatus,
				"error":      row.ErrorText,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	now := time.Now().UTC()
	if !row.LeaseExpired(now) {
		return nil, ierr.NewError("request is already in progress").
			WithHint("The same request is being processed; retry shortly").
			WithReportableDetails(map[string]any{
				"request_id": row.ID,
				"action":     row.Action,
			}).
			Mark(ierr.ErrAlreadyExists)
	}

	// expired lease: bounded reclaim with the frozen params intact
	row.RecoveryAttemptCount++
	if row.RecoveryAttemptCount > s.Config.Billing.MaxRecoveryAttempts {
		row.RequestStatus = types.IdempotencyStatusFailed
		row.ErrorText = "recovery attempts exhausted"
		row.Lease = row.Lease.Release()
		row.RefreshPendingKey()
		if err := s.IdempotencyRepo.Update(ctx, row); err != nil {
			return nil, err
		}
		s.Logger.Errorw("idempotency request failed after exhausting recovery attempts",
			"request_id", row.ID,
			"action", row.Action,
			"attempts", row.RecoveryAttemptCount)
		return nil, ierr.NewError("request failed after repeated recovery attempts").
			WithHint("The original request could not be completed; please retry with a new idempotency key").
			WithReportableDetails(map[string]any{"request_id": row.ID}).
			Mark(ierr.ErrInvalidOperation)
	}

	row.Lease = row.Lease.Acquire(owner, now, s.Config.Billing.PendingLeaseTTL)
	if err := s.IdempotencyRepo.Update(ctx, row); err != nil {
		return nil, err
	}

	s.Logger.Warnw("reclaimed expired idempotency lease",
		"request_id", row.ID,
		"action", row.Action,
		"recovery_attempt", row.RecoveryAttemptCount,
		"owner", owner)
	return &AcquireResult{Request: row, Recovered: true}, nil
}

func (s *idempotencyService) Complete(ctx context.Context, request *idempotency.Request, response json.RawMessage) error {
	request.RequestStatus = types.IdempotencyStatusSucceeded
	request.Response = response
	request.Lease = request.Lease.Release()
	request.RefreshPendingKey()
	request.UpdatedAt = time.Now().UTC()
	return s.IdempotencyRepo.Update(ctx, request)
}

func (s *idempotencyService) Fail(ctx context.Context, request *idempotency.Request, cause error) error {
	request.RequestStatus = types.IdempotencyStatusFailed
	if cause != nil {
		request.ErrorText = cause.Error()
	}
	request.Lease = request.Lease.Release()
	request.RefreshPendingKey()
	request.UpdatedAt = time.Now().UTC()
	return s.IdempotencyRepo.Update(ctx, request)
}

func (s *idempotencyService) Heartbeat(ctx context.Context, request *idempotency.Request) error {
	now := time.Now().UTC()
	if !request.Lease.IsHeldBy(request.Lease.Owner, now) {
		return ierr.NewError("lease is no longer held").
			WithHint("The request lease has lapsed and may have been reclaimed").
			WithReportableDetails(map[string]any{"request_id": request.ID}).
			Mark(ierr.ErrVersionConflict)
	}
	request.Lease = request.Lease.Heartbeat(now, s.Config.Billing.PendingLeaseTTL)
	return s.IdempotencyRepo.Update(ctx, request)
}
