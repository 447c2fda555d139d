// Package circuitbreaker guards calls to a single downstream dependency.
//
// Breaker wraps a failsafe-go circuit breaker. Outcomes are kept in a rolling
// time window; once at least MinimumCalls outcomes are in the window and the
// failure ratio reaches FailureRateThreshold, the breaker opens.
//
// States:
//   - Closed: calls pass through, outcomes are recorded in the rolling window
//   - Open: every call is short-circuited with ErrOpen until Cooldown elapses
//   - HalfOpen: up to HalfOpenMaxCalls trial calls are let through; all of them
//     succeeding closes the breaker, any failure opens it again
//
// Open becomes HalfOpen on the first call attempted after Cooldown.
// The breaker never retries.
package circuitbreaker

import (
	"context"
	"sync/atomic"
	"time"

	fscb "github.com/failsafe-go/failsafe-go/circuitbreaker"
)

// ErrOpen is returned for calls rejected without reaching the operation.
var ErrOpen = fscb.ErrOpen

// State represents the state of a circuit breaker.
type State = fscb.State

const (
	Closed   = fscb.ClosedState
	Open     = fscb.OpenState
	HalfOpen = fscb.HalfOpenState
)

// Config holds configuration for a circuit breaker.
type Config struct {
	MinimumCalls         int           // outcomes required in the window before the ratio is evaluated (default: 10)
	FailureRateThreshold float64       // failure ratio in (0,1] that opens the breaker (default: 0.5)
	Window               time.Duration // rolling period outcomes are kept for (default: 1m)
	Cooldown             time.Duration // time spent open before trial calls (default: 30s)
	HalfOpenMaxCalls     int           // trial calls allowed while half-open (default: 1)
}

// DefaultConfig returns the defaults used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		MinimumCalls:         10,
		FailureRateThreshold: 0.5,
		Window:               time.Minute,
		Cooldown:             30 * time.Second,
		HalfOpenMaxCalls:     1,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinimumCalls <= 0 {
		c.MinimumCalls = d.MinimumCalls
	}
	if c.FailureRateThreshold <= 0 || c.FailureRateThreshold > 1 {
		c.FailureRateThreshold = d.FailureRateThreshold
	}
	// the window is split into ten buckets
	if c.Window < 10*time.Millisecond {
		c.Window = d.Window
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = d.HalfOpenMaxCalls
	}
	return c
}

// Counts is a snapshot of the outcomes recorded in the current state. While
// open it reports the Closed period that tripped the breaker.
type Counts struct {
	Calls    int
	Failures int
}

func (c Counts) FailureRate() float64 {
	if c.Calls == 0 {
		return 0
	}
	return float64(c.Failures) / float64(c.Calls)
}

// Breaker is safe for concurrent use. One breaker guards one dependency for the
// life of the process.
type Breaker struct {
	cb            fscb.CircuitBreaker[any]
	onStateChange atomic.Pointer[func(from, to State)]
}

// New creates a breaker in the Closed state.
func New(cfg Config) *Breaker {
	cfg = cfg.withDefaults()
	b := &Breaker{}
	b.cb = fscb.NewBuilder[any]().
		WithFailureRateThreshold(cfg.FailureRateThreshold, uint(cfg.MinimumCalls), cfg.Window).
		WithSuccessThreshold(uint(cfg.HalfOpenMaxCalls)).
		WithDelay(cfg.Cooldown).
		OnStateChanged(func(e fscb.StateChangedEvent) {
			if fn := b.onStateChange.Load(); fn != nil {
				(*fn)(e.OldState, e.NewState)
			}
		}).
		Build()
	return b
}

// OnStateChange registers fn to be called after every transition, outside the
// breaker's lock, on the goroutine that caused it.
func (b *Breaker) OnStateChange(fn func(from, to State)) *Breaker {
	b.onStateChange.Store(&fn)
	return b
}

// Execute runs op if the breaker admits it and records the outcome.
// When the breaker is open op is not called and the error is ErrOpen.
// If fallback is non-nil it receives every error (ErrOpen or op's error) and its
// return value replaces it. A panicking op is recorded as a failure.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error, fallback func(context.Context, error) error) error {
	if !b.cb.TryAcquirePermit() {
		return handle(ctx, fallback, ErrOpen)
	}

	failed := true
	defer func() {
		if failed {
			b.cb.RecordFailure()
		} else {
			b.cb.RecordSuccess()
		}
	}()
	err := op(ctx)
	failed = err != nil
	if err != nil {
		return handle(ctx, fallback, err)
	}
	return nil
}

func handle(ctx context.Context, fallback func(context.Context, error) error, err error) error {
	if fallback == nil {
		return err
	}
	return fallback(ctx, err)
}

// State returns the current state.
func (b *Breaker) State() State {
	return b.cb.State()
}

// RemainingDelay is the time left before an open breaker admits a trial call.
func (b *Breaker) RemainingDelay() time.Duration {
	return b.cb.RemainingDelay()
}

// Counts returns the outcomes recorded in the current state.
func (b *Breaker) Counts() Counts {
	m := b.cb.Metrics()
	return Counts{Calls: int(m.Executions()), Failures: int(m.Failures())}
}
