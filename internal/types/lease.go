package types

import (
	"time"
)

// Lease is a time-bounded ownable claim on a row. It is the only
// cross-process mutual exclusion mechanism in the system: the current owner
// may mutate progress fields until the lease expires, and any worker may
// reclaim a lease whose expiry has passed.
//
// Version is the fencing token. It is owned by the store: every guarded
// update compares it against the value the caller read and increments it,
// so of two workers racing to reclaim the same expired lease exactly one
// write lands and the loser gets a version conflict.
type Lease struct {
	Owner       string     `db:"lease_owner" json:"lease_owner"`
	ExpiresAt   *time.Time `db:"lease_expires_at" json:"lease_expires_at"`
	HeartbeatAt *time.Time `db:"lease_heartbeat_at" json:"lease_heartbeat_at"`
	Version     int64      `db:"lease_version" json:"lease_version"`
}

// IsHeld reports whether the lease is currently held by any owner
func (l Lease) IsHeld(now time.Time) bool {
	return l.Owner != "" && l.ExpiresAt != nil && now.Before(*l.ExpiresAt)
}

// IsHeldBy reports whether the lease is currently held by owner
func (l Lease) IsHeldBy(owner string, now time.Time) bool {
	return l.Owner == owner && l.IsHeld(now)
}

// IsExpired reports whether a previously granted lease has lapsed and may be
// reclaimed by a different owner.
func (l Lease) IsExpired(now time.Time) bool {
	return l.Owner != "" && (l.ExpiresAt == nil || !now.Before(*l.ExpiresAt))
}

// Acquire returns a new lease held by owner for ttl from now. The fencing
// version carries over unchanged; the store increments it when the guarded
// update lands.
func (l Lease) Acquire(owner string, now time.Time, ttl time.Duration) Lease {
	expires := now.Add(ttl)
	return Lease{
		Owner:       owner,
		ExpiresAt:   &expires,
		HeartbeatAt: &now,
		Version:     l.Version,
	}
}

// Heartbeat extends the lease expiry without changing ownership
func (l Lease) Heartbeat(now time.Time, ttl time.Duration) Lease {
	expires := now.Add(ttl)
	out := l
	out.ExpiresAt = &expires
	out.HeartbeatAt = &now
	return out
}

// Release clears ownership while preserving the fencing version
func (l Lease) Release() Lease {
	return Lease{Version: l.Version}
}
