package conn

import (
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: min(Base*2^attempt + jitter, Max) with
// jitter in [0, Base/2).
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int // 0 retries forever

	// Jitter returns a value in [0, n). Defaults to a uniform random draw.
	Jitter func(n time.Duration) time.Duration
}

// DefaultBackoff is used when the configuration leaves the fields empty.
var DefaultBackoff = Backoff{Base: time.Second, Max: 30 * time.Second}

// Delay returns the wait before reconnect attempt number attempt, counting from 0.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		b.Base = DefaultBackoff.Base
	}
	if b.Max < b.Base {
		b.Max = b.Base
	}
	d := b.Base
	for i := 0; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}
	d += b.jitter(b.Base / 2)
	if d > b.Max {
		d = b.Max
	}
	return d
}

// Exhausted reports whether attempt is past the configured limit.
func (b Backoff) Exhausted(attempt int) bool {
	return b.MaxAttempts > 0 && attempt >= b.MaxAttempts
}

func (b Backoff) jitter(n time.Duration) time.Duration {
	if n <= 0 {
		return 0
	}
	if b.Jitter != nil {
		return b.Jitter(n)
	}
	return rand.N(n)
}
