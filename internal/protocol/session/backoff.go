package session

import (
	"github.com/cenkalti/backoff"
)

// NewBackOff builds an unbounded exponential reconnect policy from cfg.
// The returned policy never gives up on its own; callers stop via context.
func NewBackOff(cfg BackoffConfig) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialDelay
	b.Multiplier = cfg.Multiplier
	if b.Multiplier < 1.0 {
		b.Multiplier = 1.0
	}
	b.MaxInterval = cfg.MaxDelay
	b.MaxElapsedTime = 0
	if cfg.Jitter {
		b.RandomizationFactor = 0.5
	} else {
		b.RandomizationFactor = 0
	}
	b.Reset()
	return b
}
