package throttle

import (
	"sync"
	"time"
)

// Denial reasons reported in Result.Reason.
const (
	ReasonMinuteExceeded = "minute_limit_exceeded"
	ReasonHourExceeded   = "hour_limit_exceeded"
	ReasonMissingCaller  = "missing_caller_id"
)

// Config contains the two sliding-window ceilings applied per caller.
type Config struct {
	MinuteLimit  int           // Max requests per short window
	MinuteWindow time.Duration // Short window span
	HourLimit    int           // Max requests per long window
	HourWindow   time.Duration // Long window span; history older than this is dropped
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		MinuteLimit:  40,
		MinuteWindow: 60 * time.Second,
		HourLimit:    1000,
		HourWindow:   time.Hour,
	}
}

// Limiter is a per-caller sliding-window rate limiter. History lives only in
// memory; a restart forgets it, which errs on the permissive side.
type Limiter struct {
	mu      sync.Mutex
	history map[string][]time.Time
	config  Config
	now     func() time.Time
}

// Result contains the outcome of a rate limit check
type Result struct {
	Allowed   bool          // Whether the request is admitted
	Reason    string        // Denial reason, empty when allowed
	Remaining int           // Remaining requests in the short window
	ResetIn   time.Duration // Time until the oldest short-window entry ages out
	Limit     int           // The short-window ceiling
}

// NewLimiter creates a new limiter
func NewLimiter(config Config) *Limiter {
	return &Limiter{
		history: make(map[string][]time.Time),
		config:  config,
		now:     time.Now,
	}
}

// Allow records the request against callerID's history and checks both
// ceilings, short window first. The timestamp is recorded even when the
// request ends up denied, so denied traffic still consumes window budget.
// An empty callerID is always denied and never recorded.
func (l *Limiter) Allow(callerID string) *Result {
	if callerID == "" {
		return &Result{
			Allowed: false,
			Reason:  ReasonMissingCaller,
			Limit:   l.config.MinuteLimit,
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entries := append(l.history[callerID], now)

	// Drop everything older than the long window.
	longCutoff := now.Add(-l.config.HourWindow)
	kept := entries[:0]
	for _, t := range entries {
		if t.After(longCutoff) {
			kept = append(kept, t)
		}
	}
	l.history[callerID] = kept

	shortCutoff := now.Add(-l.config.MinuteWindow)
	inShortWindow := 0
	var oldestShort time.Time
	for _, t := range kept {
		if t.After(shortCutoff) {
			if inShortWindow == 0 {
				oldestShort = t
			}
			inShortWindow++
		}
	}

	result := &Result{
		Allowed:   true,
		Remaining: l.config.MinuteLimit - inShortWindow,
		Limit:     l.config.MinuteLimit,
	}
	if inShortWindow > 0 {
		result.ResetIn = oldestShort.Add(l.config.MinuteWindow).Sub(now)
	}
	if result.Remaining < 0 {
		result.Remaining = 0
	}

	if inShortWindow > l.config.MinuteLimit {
		result.Allowed = false
		result.Reason = ReasonMinuteExceeded
		return result
	}
	if len(kept) > l.config.HourLimit {
		result.Allowed = false
		result.Reason = ReasonHourExceeded
		return result
	}
	return result
}

// Reset clears the history for a caller (admin operation).
func (l *Limiter) Reset(callerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.history, callerID)
}
