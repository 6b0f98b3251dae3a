// Package cache implements the fingerprint-keyed result cache: a READY
// space mapping fingerprints to completed result ids, and an IN_FLIGHT
// space carrying single-writer ownership leases so concurrent identical
// analyses collapse into one computation.
package cache

import (
	"context"
	"time"
)

// ClaimOutcome is the result of an in-flight claim attempt.
type ClaimOutcome int

const (
	// Claimed means the caller now owns the in-flight slot.
	Claimed ClaimOutcome = iota
	// HeldByOther means another owner holds an unexpired lease.
	HeldByOther
	// ReadyNow means a READY entry already exists; no work is needed.
	ReadyNow
)

// Claim describes the outcome of TryClaim.
type Claim struct {
	Outcome        ClaimOutcome
	Owner          string    // holder when HeldByOther
	LeaseExpiresAt time.Time // lease expiry when HeldByOther
	ResultID       string    // ready result when ReadyNow
}

// Cache is the atomic primitive set of §single-flight coordination. All
// operations are safe for concurrent use; leases carry an absolute expiry
// so a crashed owner cannot block a fingerprint forever.
type Cache interface {
	// TryClaim atomically checks the READY space and, on miss, attempts to
	// take the in-flight slot for owner with the given lease duration.
	TryClaim(ctx context.Context, fingerprint, owner string, lease time.Duration) (Claim, error)

	// Release frees the in-flight slot if owner still holds it; a stale
	// owner gets NOT_OWNER.
	Release(ctx context.Context, fingerprint, owner string) error

	// PublishReady writes the READY entry with the given TTL and drops the
	// in-flight slot in the same step.
	PublishReady(ctx context.Context, fingerprint, resultID string, ttl time.Duration) error

	// LookupReady returns the READY result id for a fingerprint, or ok=false
	// on miss (including lazy expiry).
	LookupReady(ctx context.Context, fingerprint string) (resultID string, ok bool, err error)
}
