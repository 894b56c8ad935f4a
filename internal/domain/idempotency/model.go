package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/types"
)

// Request is one row of the idempotency ledger: a client-initiated
// provider-facing action keyed by (billable_entity, action, client_key).
//
// FrozenParams and ProviderIdempotencyKey are captured once before the first
// provider call and never mutated, so a retry of the same logical request is
// provably identical to what was originally sent. The lease enables a
// different caller to take over after a crash once the lease expires.
type Request struct {
	ID               string                  `db:"id" json:"id"`
	BillableEntityID string                  `db:"billable_entity_id" json:"billable_entity_id"`
	Action           types.IdempotencyAction `db:"action" json:"action"`
	ClientKey        string                  `db:"client_key" json:"client_key"`

	// RequestHash guards against a client reusing a key for a semantically
	// different request.
	RequestHash string `db:"request_hash" json:"request_hash"`

	// OperationKey correlates provider-side objects back to this request
	OperationKey string `db:"operation_key" json:"operation_key"`

	// Frozen provider request state
	FrozenParams           json.RawMessage `db:"frozen_params" json:"frozen_params"`
	ProviderIdempotencyKey string          `db:"provider_idempotency_key" json:"provider_idempotency_key"`

	RequestStatus types.IdempotencyStatus `db:"request_status" json:"request_status"`
	Response      json.RawMessage         `db:"response" json:"response"`
	ErrorText     string                  `db:"error_text" json:"error_text"`

	// PendingKey is non-null only while the row is pending for the checkout
	// action; a partial unique index over it enforces at most one pending
	// checkout per entity.
	PendingKey *string `db:"pending_key" json:"pending_key,omitempty"`

	RecoveryAttemptCount int `db:"recovery_attempt_count" json:"recovery_attempt_count"`

	types.Lease
	types.BaseModel
}

func (r *Request) Validate() error {
	if r.BillableEntityID == "" {
		return ierr.NewError("billable_entity_id is required").
			WithHint("An idempotency request must belong to a billable entity").
			Mark(ierr.ErrValidation)
	}
	if err := r.Action.Validate(); err != nil {
		return err
	}
	if r.ClientKey == "" {
		return ierr.NewError("client_key is required").
			WithHint("Please provide an idempotency key").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// RefreshPendingKey recomputes the partial-uniqueness key. Must be called
// before persisting any status change.
func (r *Request) RefreshPendingKey() {
	if r.RequestStatus == types.IdempotencyStatusPending && r.Action == types.IdempotencyActionCheckout {
		key := "pending"
		r.PendingKey = &key
	} else {
		r.PendingKey = nil
	}
}

// LeaseExpired reports whether a pending row's lease may be reclaimed
func (r *Request) LeaseExpired(now time.Time) bool {
	return r.RequestStatus == types.IdempotencyStatusPending && r.Lease.IsExpired(now)
}

// HashRequest derives the stable request hash from the client key and the
// normalized request parameters, sorted for deterministic input ordering.
func HashRequest(clientKey string, params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(clientKey)
	for _, k := range keys {
		b.WriteString(fmt.Sprintf(":%s=%v", k, params[k]))
	}

	hash := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(hash[:])
}
