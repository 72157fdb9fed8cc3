package retry

import (
	"errors"
	"math/rand"
	"sync"
	"time"
)

const (
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 60 * time.Second
	defaultMaxAttempts = 5
	jitterFraction     = 0.2
)

// Policy computes retry delays for failed apply attempts. Delays double per
// attempt from the base, cap at the max, and carry up to 20% jitter in either
// direction so synchronized failures spread out.
type Policy struct {
	base        time.Duration
	max         time.Duration
	maxAttempts int

	// The worker pool asks for delays concurrently; rand.Rand is not safe
	// for concurrent use.
	mu     sync.Mutex
	jitter *rand.Rand
}

// PolicyParams configure a retry policy. Zero values fall back to defaults.
type PolicyParams struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	Seed        int64
}

func NewPolicy(params PolicyParams) (*Policy, error) {
	base := params.BaseDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	max := params.MaxDelay
	if max <= 0 {
		max = defaultMaxDelay
	}
	if max < base {
		return nil, errors.New("max delay must not be below base delay")
	}
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	seed := params.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Policy{
		base:        base,
		max:         max,
		maxAttempts: maxAttempts,
		jitter:      rand.New(rand.NewSource(seed)),
	}, nil
}

// MaxAttempts returns the retry budget per event.
func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}

// Exhausted reports whether the attempt count has used up the budget.
func (p *Policy) Exhausted(attemptCount int) bool {
	return attemptCount >= p.maxAttempts
}

// Delay returns the jittered backoff before attempt n (1-based).
func (p *Policy) Delay(attempt int) time.Duration {
	raw := p.rawDelay(attempt)
	spread := float64(raw) * jitterFraction
	p.mu.Lock()
	roll := p.jitter.Float64()
	p.mu.Unlock()
	offset := (roll*2 - 1) * spread
	return raw + time.Duration(offset)
}

func (p *Policy) rawDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.max {
			return p.max
		}
	}
	if delay > p.max {
		return p.max
	}
	return delay
}
