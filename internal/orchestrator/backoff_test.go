package orchestrator

import (
	"testing"
	"time"

	"coffre/internal/config"
)

func TestRetryDelaysDoubleUpToCap(t *testing.T) {
	p := retryPolicy{initial: 500 * time.Millisecond, max: 8 * time.Second}

	want := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		8 * time.Second,
		8 * time.Second,
	}
	for i, expected := range want {
		attempt := i + 1
		if got := p.delay(attempt); got != expected {
			t.Errorf("delay(%d) = %v, want %v", attempt, got, expected)
		}
	}
}

func TestRetryDelaysNeverDecrease(t *testing.T) {
	p := retryPolicy{initial: 300 * time.Millisecond, max: 5 * time.Second}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 20; attempt++ {
		d := p.delay(attempt)
		if d < prev {
			t.Fatalf("delay(%d) = %v decreased from %v", attempt, d, prev)
		}
		if d > p.max {
			t.Fatalf("delay(%d) = %v exceeds cap %v", attempt, d, p.max)
		}
		prev = d
	}
}

func TestPolicyFromConfigGuardsDegenerateValues(t *testing.T) {
	cfg := config.Default()
	cfg.Connect.InitialBackoff = 0
	cfg.Connect.MaxBackoff = 0

	p := policyFromConfig(&cfg)
	if p.initial <= 0 {
		t.Fatalf("initial backoff not defaulted: %v", p.initial)
	}
	if p.max < p.initial {
		t.Fatalf("cap %v below initial %v", p.max, p.initial)
	}
}
