package conn

import (
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	noJitter := func(time.Duration) time.Duration { return 0 }
	maxJitter := func(n time.Duration) time.Duration { return n - 1 }

	tests := []struct {
		name    string
		b       Backoff
		attempt int
		want    time.Duration
	}{
		{"first", Backoff{Base: time.Second, Max: time.Minute, Jitter: noJitter}, 0, time.Second},
		{"doubles", Backoff{Base: time.Second, Max: time.Minute, Jitter: noJitter}, 3, 8 * time.Second},
		{"capped", Backoff{Base: time.Second, Max: 10 * time.Second, Jitter: noJitter}, 4, 10 * time.Second},
		{"huge attempt", Backoff{Base: time.Second, Max: 10 * time.Second, Jitter: noJitter}, 500, 10 * time.Second},
		{"jitter added", Backoff{Base: time.Second, Max: time.Minute, Jitter: maxJitter}, 1, 2*time.Second + 500*time.Millisecond - 1},
		{"jitter capped", Backoff{Base: time.Second, Max: 2 * time.Second, Jitter: maxJitter}, 1, 2 * time.Second},
		{"zero base", Backoff{Jitter: noJitter}, 0, DefaultBackoff.Base},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.b.Delay(tt.attempt); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestBackoffDelayNeverExceedsMax(t *testing.T) {
	b := Backoff{Base: 250 * time.Millisecond, Max: 5 * time.Second}
	for attempt := 0; attempt < 100; attempt++ {
		if d := b.Delay(attempt); d <= 0 || d > b.Max {
			t.Fatalf("Delay(%d) = %v, want (0, %v]", attempt, d, b.Max)
		}
	}
}

func TestBackoffExhausted(t *testing.T) {
	forever := Backoff{}
	if forever.Exhausted(1 << 20) {
		t.Error("MaxAttempts=0 must retry forever")
	}
	limited := Backoff{MaxAttempts: 3}
	if limited.Exhausted(2) || !limited.Exhausted(3) {
		t.Error("MaxAttempts=3 should allow attempts 0..2")
	}
}
