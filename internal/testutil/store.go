package testutil

import (
	ierr "github.com/reckonhq/reckon/internal/errors"
)

func errNotFound(what string, details map[string]any) error {
	return ierr.NewError(what + " not found").
		WithHint("The requested record does not exist").
		WithReportableDetails(details).
		Mark(ierr.ErrNotFound)
}

func errAlreadyExists(what string, details map[string]any) error {
	return ierr.NewError(what + " already exists").
		WithHint("A record with the same unique key already exists").
		WithReportableDetails(details).
		Mark(ierr.ErrAlreadyExists)
}

func errVersionConflict(what string, details map[string]any) error {
	return ierr.NewError(what + " was modified concurrently").
		WithHint("The record changed since it was read").
		WithReportableDetails(details).
		Mark(ierr.ErrVersionConflict)
}
