package security

import (
	"sync"
	"time"

	"github.com/acolita/replsh/internal/adapters/realclock"
	"github.com/acolita/replsh/internal/ports"
)

// DefaultMaxAuthFailures is the default number of failures before lockout.
const DefaultMaxAuthFailures = 3

// DefaultAuthLockoutDuration is the default lockout duration.
const DefaultAuthLockoutDuration = 5 * time.Minute

// AuthRateLimiter tracks authentication failures per target and refuses new
// attempts while a target is locked out.
type AuthRateLimiter struct {
	mu              sync.Mutex
	failures        map[string]*authFailure
	maxFailures     int
	lockoutDuration time.Duration
	clock           ports.Clock
}

type authFailure struct {
	count    int
	lockedAt time.Time
}

// NewAuthRateLimiter creates a limiter. Non-positive arguments select the
// defaults. A nil clock uses the wall clock.
func NewAuthRateLimiter(maxFailures int, lockoutDuration time.Duration, clock ports.Clock) *AuthRateLimiter {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxAuthFailures
	}
	if lockoutDuration <= 0 {
		lockoutDuration = DefaultAuthLockoutDuration
	}
	if clock == nil {
		clock = realclock.New()
	}
	return &AuthRateLimiter{
		failures:        make(map[string]*authFailure),
		maxFailures:     maxFailures,
		lockoutDuration: lockoutDuration,
		clock:           clock,
	}
}

// IsLocked reports whether target is locked out, and for how much longer.
func (r *AuthRateLimiter) IsLocked(target string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.failures[target]
	if !ok || f.lockedAt.IsZero() {
		return false, 0
	}
	elapsed := r.clock.Now().Sub(f.lockedAt)
	if elapsed >= r.lockoutDuration {
		return false, 0
	}
	return true, r.lockoutDuration - elapsed
}

// RecordFailure counts a failed authentication and locks the target once
// the limit is reached.
func (r *AuthRateLimiter) RecordFailure(target string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	f, ok := r.failures[target]
	if !ok {
		f = &authFailure{}
		r.failures[target] = f
	}
	if !f.lockedAt.IsZero() && now.Sub(f.lockedAt) >= r.lockoutDuration {
		*f = authFailure{}
	}

	f.count++
	if f.count >= r.maxFailures {
		f.lockedAt = now
	}
}

// RecordSuccess clears the failure count of target.
func (r *AuthRateLimiter) RecordSuccess(target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failures, target)
}
