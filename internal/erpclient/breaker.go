// Circuit breaker in front of the ERP client, adapted from the teacher's
// internal/circuitbreaker package and narrowed to the one breaker this
// client needs — a fast-fail layer above retry (spec.md §4.1 expansion:
// "SPEC_FULL" §4.1), not a replacement for the retry/backoff policy.
package erpclient

import (
	"errors"
	"sync"
	"time"

	"github.com/openclaw/acct-agent/internal/metrics"
)

// BreakerState is the circuit breaker's current state.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned by Execute when the breaker is open.
var ErrBreakerOpen = errors.New("erpclient: circuit breaker open")

// errTooManyHalfOpenRequests is returned when a half-open breaker's probe
// budget is exhausted.
var errTooManyHalfOpenRequests = errors.New("erpclient: too many half-open requests")

// BreakerConfig configures trip/reset thresholds.
type BreakerConfig struct {
	Name        string
	MaxRequests uint32        // probes allowed while half-open
	Interval    time.Duration // window for clearing counts while closed
	Timeout     time.Duration // time spent open before trying half-open
	ReadyToTrip func(counts BreakerCounts) bool
}

func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c BreakerCounts) bool {
			return c.Requests >= 5 && c.FailureRatio() > 0.5
		},
	}
}

// BreakerCounts tracks request outcomes within the current generation.
type BreakerCounts struct {
	Requests             uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (c BreakerCounts) FailureRatio() float64 {
	if c.Requests == 0 {
		return 0
	}
	return float64(c.TotalFailures) / float64(c.Requests)
}

func (c *BreakerCounts) clear() { *c = BreakerCounts{} }

func (c *BreakerCounts) onSuccess() {
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *BreakerCounts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// Breaker is a generation-based circuit breaker guarding ERP calls.
type Breaker struct {
	cfg BreakerConfig

	mu            sync.Mutex
	state         BreakerState
	generation    uint64
	counts        BreakerCounts
	expiry        time.Time
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.ReadyToTrip == nil {
		def := DefaultBreakerConfig(cfg.Name)
		cfg.ReadyToTrip = def.ReadyToTrip
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	return &Breaker{cfg: cfg, state: BreakerClosed}
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, _ := b.currentState(time.Now())
	return state
}

// Execute runs fn only if the breaker allows it, recording the outcome.
func (b *Breaker) Execute(fn func() error) error {
	generation, err := b.beforeRequest()
	if err != nil {
		return err
	}

	err = fn()
	b.afterRequest(generation, err == nil)
	return err
}

func (b *Breaker) beforeRequest() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, generation := b.currentState(now)

	if state == BreakerOpen {
		return generation, ErrBreakerOpen
	}
	if state == BreakerHalfOpen && b.counts.Requests >= b.cfg.MaxRequests {
		return generation, errTooManyHalfOpenRequests
	}
	b.counts.Requests++
	return generation, nil
}

func (b *Breaker) afterRequest(generation uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, current := b.currentState(now)
	if generation != current {
		return
	}

	if success {
		b.onSuccess(state, now)
	} else {
		b.onFailure(state, now)
	}
}

func (b *Breaker) onSuccess(state BreakerState, now time.Time) {
	switch state {
	case BreakerClosed:
		b.counts.onSuccess()
	case BreakerHalfOpen:
		b.counts.onSuccess()
		if b.counts.ConsecutiveSuccesses >= b.cfg.MaxRequests {
			b.setState(BreakerClosed, now)
		}
	}
}

func (b *Breaker) onFailure(state BreakerState, now time.Time) {
	switch state {
	case BreakerClosed:
		b.counts.onFailure()
		if b.cfg.ReadyToTrip(b.counts) {
			b.setState(BreakerOpen, now)
		}
	case BreakerHalfOpen:
		b.setState(BreakerOpen, now)
	}
}

func (b *Breaker) currentState(now time.Time) (BreakerState, uint64) {
	switch b.state {
	case BreakerClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.toNewGeneration(now)
		}
	case BreakerOpen:
		if b.expiry.Before(now) {
			b.setState(BreakerHalfOpen, now)
		}
	}
	return b.state, b.generation
}

func (b *Breaker) setState(state BreakerState, now time.Time) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state
	b.toNewGeneration(now)
	metrics.BreakerStateChanges.WithLabelValues(prev.String(), state.String()).Inc()
}

func (b *Breaker) toNewGeneration(now time.Time) {
	b.generation++
	b.counts.clear()

	var expiry time.Time
	switch b.state {
	case BreakerClosed:
		if b.cfg.Interval > 0 {
			expiry = now.Add(b.cfg.Interval)
		}
	case BreakerOpen:
		expiry = now.Add(b.cfg.Timeout)
	}
	b.expiry = expiry
}
