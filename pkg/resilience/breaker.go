// Package resilience provides fault-tolerance primitives for the optional
// backing services: a breaker that stops calling a failing dependency for a
// while, and exponential-backoff retry.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned while the breaker is refusing calls.
var ErrBreakerOpen = errors.New("breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig controls when the breaker trips and how long it stays open.
type BreakerConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// Breaker trips open after FailureThreshold consecutive failures. Once
// Cooldown has passed it lets exactly one trial call through; the trial's
// outcome closes or re-opens it.
type Breaker struct {
	name     string
	cfg      BreakerConfig
	now      func() time.Time
	logger   *slog.Logger
	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
}

func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{
		name:   name,
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default().With("component", "breaker", "name", name),
	}
}

// Do runs fn unless the breaker is open, and records the outcome.
func (b *Breaker) Do(fn func() error) error {
	trial, err := b.allow()
	if err != nil {
		return err
	}
	err = fn()
	b.record(trial, err)
	return err
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// allow admits a call. trial is true for the single call let through after
// the cooldown; only that call's outcome may leave the half-open state.
func (b *Breaker) allow() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false, fmt.Errorf("%w: %s", ErrBreakerOpen, b.name)
		}
		b.state = StateHalfOpen
		b.logger.Info("breaker half-open, admitting trial call")
		return true, nil
	case StateHalfOpen:
		return false, fmt.Errorf("%w: %s (trial call in flight)", ErrBreakerOpen, b.name)
	}
	return false, nil
}

func (b *Breaker) record(trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if trial {
		if err == nil {
			b.logger.Info("breaker closed")
			b.state = StateClosed
			b.failures = 0
			return
		}
		b.failures++
		b.logger.Warn("breaker trial call failed, reopening", "error", err)
		b.state = StateOpen
		b.openedAt = b.now()
		return
	}
	// Calls admitted before the breaker tripped finish late; the trial call alone
	// decides what happens next.
	if b.state != StateClosed {
		return
	}
	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.cfg.FailureThreshold {
		b.logger.Warn("breaker opened", "consecutive_failures", b.failures, "error", err)
		b.state = StateOpen
		b.openedAt = b.now()
	}
}
