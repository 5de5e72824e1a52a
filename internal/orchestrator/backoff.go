package orchestrator

import (
	"time"

	"coffre/internal/config"
)

// retryPolicy produces the delay before each retry. Delays double from the
// configured initial value and never exceed the configured cap.
type retryPolicy struct {
	initial time.Duration
	max     time.Duration
}

func policyFromConfig(cfg *config.Config) retryPolicy {
	p := retryPolicy{
		initial: time.Duration(cfg.Connect.InitialBackoff) * time.Millisecond,
		max:     time.Duration(cfg.Connect.MaxBackoff) * time.Millisecond,
	}
	if p.initial <= 0 {
		p.initial = 500 * time.Millisecond
	}
	if p.max < p.initial {
		p.max = p.initial
	}
	return p
}

// delay returns the wait after the given failed attempt (1-based).
func (p retryPolicy) delay(attempt int) time.Duration {
	d := p.initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.max {
			return p.max
		}
	}
	if d > p.max {
		return p.max
	}
	return d
}
