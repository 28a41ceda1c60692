package delivery

import "time"

const (
	DefaultBaseBackoff = 30 * time.Second
	DefaultMaxBackoff  = 1 * time.Hour
)

// Policy maps a failed attempt onto what happens next: exponential backoff
// doubling per attempt, dead-letter once the attempt budget is spent.
type Policy struct {
	Base time.Duration
	Max  time.Duration
}

func NewPolicy(base, max time.Duration) Policy {
	if base <= 0 {
		base = DefaultBaseBackoff
	}
	if max <= 0 {
		max = DefaultMaxBackoff
	}
	return Policy{Base: base, Max: max}
}

// Decision describes what to do with a record after a failed attempt.
type Decision struct {
	DeadLetter    bool
	NextAttemptAt time.Time
}

// Decide evaluates a failed attempt. attemptCount is the count after the
// attempt (first failure = 1). Success never reaches this function.
func (p Policy) Decide(attemptCount, maxRetries int, now time.Time) Decision {
	if attemptCount >= maxRetries {
		return Decision{DeadLetter: true, NextAttemptAt: now}
	}
	return Decision{NextAttemptAt: now.Add(p.Backoff(attemptCount))}
}

// Backoff returns base * 2^(attemptCount-1), capped at Max.
func (p Policy) Backoff(attemptCount int) time.Duration {
	if attemptCount < 1 {
		attemptCount = 1
	}
	d := p.Base
	for i := 1; i < attemptCount; i++ {
		d *= 2
		if d >= p.Max {
			return p.Max
		}
	}
	if d > p.Max {
		return p.Max
	}
	return d
}
