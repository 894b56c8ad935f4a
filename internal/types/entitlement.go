package types

import (
	"time"

	ierr "github.com/reckonhq/reckon/internal/errors"
)

// EntitlementType classifies how an entitlement is balanced and enforced.
//
//   - metered_quota: consumption is a ledger sum over a calendar window
//     (e.g. calculations per month)
//   - capacity: consumption is a live recount of a countable resource
//     (e.g. active projects); the window is always lifetime
//   - balance: a spendable balance that may not go negative
//   - state: a boolean switch (feature on/off)
type EntitlementType string

const (
	EntitlementTypeMeteredQuota EntitlementType = "metered_quota"
	EntitlementTypeCapacity     EntitlementType = "capacity"
	EntitlementTypeBalance      EntitlementType = "balance"
	EntitlementTypeState        EntitlementType = "state"
)

func (t EntitlementType) Validate() error {
	switch t {
	case EntitlementTypeMeteredQuota, EntitlementTypeCapacity,
		EntitlementTypeBalance, EntitlementTypeState:
		return nil
	default:
		return ierr.NewError("invalid entitlement type").
			WithHint("Please provide a valid entitlement type").
			WithReportableDetails(map[string]any{"type": t}).
			Mark(ierr.ErrValidation)
	}
}

// AggregationMode controls how multiple active grants combine
type AggregationMode string

const (
	AggregationModeSum            AggregationMode = "sum"
	AggregationModeMax            AggregationMode = "max"
	AggregationModeBooleanAnyTrue AggregationMode = "boolean_any_true"
)

func (m AggregationMode) Validate() error {
	switch m {
	case AggregationModeSum, AggregationModeMax, AggregationModeBooleanAnyTrue:
		return nil
	default:
		return ierr.NewError("invalid aggregation mode").
			WithHint("Please provide a valid aggregation mode").
			WithReportableDetails(map[string]any{"mode": m}).
			Mark(ierr.ErrValidation)
	}
}

// EnforcementMode controls what happens when a balance is over limit
type EnforcementMode string

const (
	EnforcementModeHardDeny EnforcementMode = "hard_deny"
	EnforcementModeHardLock EnforcementMode = "hard_lock"
	EnforcementModeSoftWarn EnforcementMode = "soft_warn"
)

func (m EnforcementMode) Validate() error {
	switch m {
	case EnforcementModeHardDeny, EnforcementModeHardLock, EnforcementModeSoftWarn:
		return nil
	default:
		return ierr.NewError("invalid enforcement mode").
			WithHint("Please provide a valid enforcement mode").
			WithReportableDetails(map[string]any{"mode": m}).
			Mark(ierr.ErrValidation)
	}
}

// LockState is the enforcement outcome of a balance recompute
type LockState string

const (
	LockStateUnlocked       LockState = "unlocked"
	LockStateWarned         LockState = "warned"
	LockStateDenied         LockState = "denied"
	LockStateCreationLocked LockState = "creation_locked"
)

// WindowInterval is the time range over which metered consumption aggregates
type WindowInterval string

const (
	WindowIntervalLifetime WindowInterval = "lifetime"
	WindowIntervalDay      WindowInterval = "day"
	WindowIntervalMonth    WindowInterval = "month"
	WindowIntervalYear     WindowInterval = "year"
)

func (w WindowInterval) Validate() error {
	switch w {
	case WindowIntervalLifetime, WindowIntervalDay, WindowIntervalMonth, WindowIntervalYear:
		return nil
	default:
		return ierr.NewError("invalid window interval").
			WithHint("Please provide a valid entitlement window interval").
			WithReportableDetails(map[string]any{"interval": w}).
			Mark(ierr.ErrValidation)
	}
}

// EntitlementWindow is a resolved aggregation window. Lifetime windows have
// zero Start and End.
type EntitlementWindow struct {
	Interval WindowInterval `json:"interval"`
	Start    time.Time      `json:"start"`
	End      time.Time      `json:"end"`
}

// Key returns the stable identity of the window used in balance rows,
// e.g. "lifetime" or "month:2026-08".
func (w EntitlementWindow) Key() string {
	switch w.Interval {
	case WindowIntervalDay:
		return "day:" + w.Start.Format("2006-01-02")
	case WindowIntervalMonth:
		return "month:" + w.Start.Format("2006-01")
	case WindowIntervalYear:
		return "year:" + w.Start.Format("2006")
	default:
		return string(WindowIntervalLifetime)
	}
}

// Contains reports whether t falls inside the window
func (w EntitlementWindow) Contains(t time.Time) bool {
	if w.Interval == WindowIntervalLifetime {
		return true
	}
	return !t.Before(w.Start) && t.Before(w.End)
}

// ResolveWindow computes the calendar-UTC window containing at for the given
// interval.
func ResolveWindow(interval WindowInterval, at time.Time) EntitlementWindow {
	at = at.UTC()
	switch interval {
	case WindowIntervalDay:
		start := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
		return EntitlementWindow{Interval: interval, Start: start, End: start.AddDate(0, 0, 1)}
	case WindowIntervalMonth:
		start := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
		return EntitlementWindow{Interval: interval, Start: start, End: start.AddDate(0, 1, 0)}
	case WindowIntervalYear:
		start := time.Date(at.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
		return EntitlementWindow{Interval: interval, Start: start, End: start.AddDate(1, 0, 0)}
	default:
		return EntitlementWindow{Interval: WindowIntervalLifetime}
	}
}

// ResolveAnchoredWindow computes the window containing at for windows that
// repeat from anchor instead of calendar boundaries, e.g. billing-cycle
// month windows running from the subscription's start day.
func ResolveAnchoredWindow(interval WindowInterval, anchor, at time.Time) EntitlementWindow {
	anchor = anchor.UTC()
	at = at.UTC()

	var step func(t time.Time, n int) time.Time
	switch interval {
	case WindowIntervalDay:
		step = func(t time.Time, n int) time.Time { return t.AddDate(0, 0, n) }
	case WindowIntervalMonth:
		step = func(t time.Time, n int) time.Time { return t.AddDate(0, n, 0) }
	case WindowIntervalYear:
		step = func(t time.Time, n int) time.Time { return t.AddDate(n, 0, 0) }
	default:
		return EntitlementWindow{Interval: WindowIntervalLifetime}
	}

	start := anchor
	for at.Before(start) {
		start = step(start, -1)
	}
	for !at.Before(step(start, 1)) {
		start = step(start, 1)
	}
	return EntitlementWindow{Interval: interval, Start: start, End: step(start, 1)}
}
