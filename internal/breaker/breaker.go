// Package breaker implements a small per-dependency circuit breaker.
// Nothing in the retrieval pack ships a Go circuit-breaker library, so
// this package is deliberately hand-rolled — see DESIGN.md for why no
// third-party dependency could serve this concern. Its state machine and
// named-registry shape are grounded on the reference implementation's
// pybreaker-based wrapper: a process-wide registry of named breakers,
// closed/open/half-open states, and logged transitions.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pepeccz/atrevete-orchestrator/internal/errs"
)

// State is one of the three circuit states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config tunes one breaker's thresholds.
type Config struct {
	FailMax      int           // consecutive failures before opening
	ResetTimeout time.Duration // how long to stay open before probing
	// Exclude marks errors that should never count as a failure (e.g. a
	// caller's own validation error, not the dependency misbehaving).
	Exclude func(error) bool
}

// Breaker guards calls to one external dependency (Bedrock, Chatwoot, the
// calendar API, ...). Call wraps the dependency call; Breaker decides
// whether to let it through based on its current state.
type Breaker struct {
	name   string
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	failures    int
	openedAt    time.Time
	halfOpenRun bool
}

var (
	registryMu sync.Mutex
	registry   = map[string]*Breaker{}
)

// Get returns the named breaker, constructing it on first use so every
// caller that names the same dependency shares one circuit.
func Get(name string, cfg Config, logger *slog.Logger) *Breaker {
	registryMu.Lock()
	defer registryMu.Unlock()
	if b, ok := registry[name]; ok {
		return b
	}
	if cfg.FailMax <= 0 {
		cfg.FailMax = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Breaker{name: name, cfg: cfg, logger: logger, state: StateClosed}
	registry[name] = b
	return b
}

// Reset clears the process-wide registry. Test-only.
func Reset() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = map[string]*Breaker{}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Call runs fn if the breaker allows it, recording the outcome. It
// returns errs.ErrBreakerOpen without calling fn when the circuit is open
// and the reset timeout hasn't yet elapsed.
func (b *Breaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if !b.allow() {
		return errs.Wrap(errs.KindBreakerOpen, b.name, errors.New("circuit open"))
	}
	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) < b.cfg.ResetTimeout {
			return false
		}
		b.transition(StateHalfOpen)
		b.halfOpenRun = true
		return true
	case StateHalfOpen:
		// Only one probe in flight at a time; reject concurrent callers
		// until the probe resolves.
		if b.halfOpenRun {
			return false
		}
		b.halfOpenRun = true
		return true
	}
	return true
}

func (b *Breaker) record(err error) {
	if err != nil && b.cfg.Exclude != nil && b.cfg.Exclude(err) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.logger.Warn("breaker call failed", "breaker", b.name, "error", err)
		b.failures++
		if b.state == StateHalfOpen {
			b.halfOpenRun = false
			b.transition(StateOpen)
			return
		}
		if b.failures >= b.cfg.FailMax {
			b.transition(StateOpen)
		}
		return
	}

	if b.state == StateHalfOpen {
		b.logger.Info("breaker probe succeeded", "breaker", b.name)
		b.halfOpenRun = false
		b.transition(StateClosed)
		return
	}
	b.failures = 0
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.failures = 0
	if to == StateOpen {
		b.openedAt = time.Now()
		b.logger.Warn("breaker state change", "breaker", b.name, "from", from, "to", to)
	} else {
		b.logger.Info("breaker state change", "breaker", b.name, "from", from, "to", to)
	}
}
