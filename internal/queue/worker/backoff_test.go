package worker

import (
	"testing"
	"time"
)

func TestExponentialBackoffGrowsAndCaps(t *testing.T) {
	cases := []struct {
		attempt int
		min     time.Duration
		max     time.Duration
	}{
		{attempt: 0, min: 2 * time.Second, max: 2*time.Second + 250*time.Millisecond},
		{attempt: 1, min: 4 * time.Second, max: 4*time.Second + 250*time.Millisecond},
		{attempt: 3, min: 16 * time.Second, max: 16*time.Second + 250*time.Millisecond},
		{attempt: 10, min: 5 * time.Minute, max: 5*time.Minute + 250*time.Millisecond},
		{attempt: 100, min: 5 * time.Minute, max: 5*time.Minute + 250*time.Millisecond},
	}

	for _, tc := range cases {
		got := ExponentialBackoff(tc.attempt)
		if got < tc.min || got > tc.max {
			t.Errorf("attempt %d: got %v, want between %v and %v", tc.attempt, got, tc.min, tc.max)
		}
	}
}
