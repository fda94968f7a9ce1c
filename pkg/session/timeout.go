package session

import "time"

// Default timeout thresholds, overridable at process level via configuration.
const (
	// DefaultTimeout is the inactivity limit before a session expires.
	DefaultTimeout = 20 * time.Minute

	// DefaultWarnThreshold is the remaining time at which the session is
	// reported near timeout.
	DefaultWarnThreshold = 2 * time.Minute
)

// TimeoutPolicy decides a session's timeout state from elapsed inactivity.
// All methods are pure functions of (session, now).
type TimeoutPolicy struct {
	// Timeout is the inactivity limit.
	Timeout time.Duration

	// WarnThreshold is the remaining time below which NearTimeout is true.
	WarnThreshold time.Duration
}

// DefaultTimeoutPolicy returns a policy with the default thresholds.
func DefaultTimeoutPolicy() TimeoutPolicy {
	return TimeoutPolicy{
		Timeout:       DefaultTimeout,
		WarnThreshold: DefaultWarnThreshold,
	}
}

// TimeoutState describes how much inactivity budget a session has left.
type TimeoutState struct {
	// Remaining is the inactivity budget left, never negative.
	Remaining time.Duration `json:"-"`

	// RemainingSeconds mirrors Remaining for JSON consumers.
	RemainingSeconds float64 `json:"remaining_seconds"`

	// NearTimeout is true when Remaining is positive but at or below the
	// warning threshold.
	NearTimeout bool `json:"near_timeout"`

	// Expired is true when the inactivity budget is exhausted.
	Expired bool `json:"expired"`
}

// Remaining returns the inactivity budget left for s at now, floored at zero.
func (p TimeoutPolicy) Remaining(s *Session, now time.Time) time.Duration {
	elapsed := now.Sub(s.LastActivityAt)
	remaining := p.Timeout - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsExpired reports whether s has exhausted its inactivity budget at now.
func (p TimeoutPolicy) IsExpired(s *Session, now time.Time) bool {
	return p.Remaining(s, now) == 0
}

// IsNearTimeout reports whether s is inside the warning window at now.
func (p TimeoutPolicy) IsNearTimeout(s *Session, now time.Time) bool {
	remaining := p.Remaining(s, now)
	return remaining > 0 && remaining <= p.WarnThreshold
}

// State computes the full timeout state for s at now.
func (p TimeoutPolicy) State(s *Session, now time.Time) TimeoutState {
	remaining := p.Remaining(s, now)
	return TimeoutState{
		Remaining:        remaining,
		RemainingSeconds: remaining.Seconds(),
		NearTimeout:      remaining > 0 && remaining <= p.WarnThreshold,
		Expired:          remaining == 0,
	}
}
