package billableentity

import (
	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/types"
)

// BillableEntity is the unit that owns money and provider identity.
// Exactly one exists per workspace; its identity is immutable.
type BillableEntity struct {
	ID          string `db:"id" json:"id"`
	WorkspaceID string `db:"workspace_id" json:"workspace_id"`
	DisplayName string `db:"display_name" json:"display_name"`
	types.BaseModel
}

// Validate performs validation on the billable entity
func (e *BillableEntity) Validate() error {
	if e.WorkspaceID == "" {
		return ierr.NewError("workspace_id is required").
			WithHint("A billable entity must belong to a workspace").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// IsActive reports whether the entity may initiate billing actions
func (e *BillableEntity) IsActive() bool {
	return e.Status == types.StatusActive
}
