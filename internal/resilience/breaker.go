// Package resilience guards calls to remote collaborators with a
// three-state circuit breaker.
package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/soyeahso/callpilot/internal/logging"
)

// ErrCircuitOpen is returned by Breaker.Execute while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a Breaker.
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

// Config tunes a Breaker. Zero values take defaults.
type Config struct {
	Name         string
	MaxFailures  int           // consecutive failures before opening; default 5
	ResetTimeout time.Duration // time spent open before probing; default 30s
	HalfOpenMax  int           // successful probes needed to close; default 2
}

// Breaker is safe for concurrent use.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	log          *logging.Logger
	now          func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	halfOpenCalls int
	halfOpenOK    int
}

// New creates a closed Breaker.
func New(cfg Config, log *logging.Logger) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 2
	}
	return &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		log:          log.Sub("breaker").With("breaker", cfg.Name),
		now:          time.Now,
	}
}

// Execute runs fn unless the breaker is open. Errors for which ignore
// returns true (for example a caller's own cancellation) are passed
// through without counting as failures.
func (b *Breaker) Execute(fn func() error, ignore ...func(error) bool) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.halfOpenCalls, b.halfOpenOK = 0, 0
		b.log.Info().Msg("circuit half-open, probing")
	case StateHalfOpen:
		if b.halfOpenCalls >= b.halfOpenMax {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
	}
	probing := b.state == StateHalfOpen
	if probing {
		b.halfOpenCalls++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case err == nil:
		b.onSuccess(probing)
	case skip(err, ignore):
		if probing {
			b.halfOpenCalls--
		}
	default:
		b.onFailure(probing)
	}
	return err
}

func skip(err error, ignore []func(error) bool) bool {
	for _, f := range ignore {
		if f(err) {
			return true
		}
	}
	return false
}

// onFailure is called with mu held.
func (b *Breaker) onFailure(probing bool) {
	if probing {
		b.trip()
		b.log.Warn().Msg("circuit re-opened after failed probe")
		return
	}
	b.failures++
	if b.failures >= b.maxFailures {
		b.trip()
		b.log.Warn().Int("failures", b.failures).Msg("circuit opened")
	}
}

// onSuccess is called with mu held.
func (b *Breaker) onSuccess(probing bool) {
	if !probing {
		b.failures = 0
		return
	}
	b.halfOpenOK++
	if b.halfOpenOK >= b.halfOpenMax {
		b.state = StateClosed
		b.failures = 0
		b.log.Info().Msg("circuit closed")
	}
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.failures = b.maxFailures
}

// State returns the current state. An open breaker whose timeout has
// elapsed reports half-open; the transition itself happens on Execute.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Name returns the breaker's label.
func (b *Breaker) Name() string { return b.name }

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures, b.halfOpenCalls, b.halfOpenOK = 0, 0, 0
}
