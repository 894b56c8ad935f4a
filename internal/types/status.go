package types

// Status is a type for the lifecycle status of a resource in the database.
// This is used to determine whether a row should be included in queries.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusDeleted  Status = "deleted"
)
