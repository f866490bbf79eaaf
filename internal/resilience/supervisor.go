// Package resilience provides restart supervision for long-lived components.
//
// The central type is [Supervisor], which retries a failing start function
// with exponential backoff until it succeeds or the context is cancelled.
// It exists primarily to bring the global hotkey hook back after the OS
// tears it down (session switches, input-monitoring permission toggles).
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrGaveUp is returned by [Supervisor.Run] when MaxAttempts is set and
// exhausted without a successful call.
var ErrGaveUp = errors.New("supervisor gave up")

// SupervisorConfig holds tuning knobs for a [Supervisor].
type SupervisorConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// InitialBackoff is the delay before the first retry. Default: 500ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential growth. Default: 30s.
	MaxBackoff time.Duration

	// MaxAttempts limits the total number of calls. Zero means retry
	// until the context is cancelled.
	MaxAttempts int
}

// Supervisor retries a component start function with exponential backoff.
// It is safe for concurrent use from multiple goroutines; each Run call
// tracks its own backoff independently.
type Supervisor struct {
	name           string
	initialBackoff time.Duration
	maxBackoff     time.Duration
	maxAttempts    int

	mu       sync.Mutex
	restarts int
}

// NewSupervisor creates a [Supervisor] with the supplied configuration.
// Zero-value config fields are replaced with sensible defaults.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Supervisor{
		name:           cfg.Name,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		maxAttempts:    cfg.MaxAttempts,
	}
}

// Run calls fn until it returns nil. Each failure doubles the wait before
// the next attempt, up to MaxBackoff. Run returns nil on the first success,
// the context error if ctx is cancelled while waiting, or [ErrGaveUp]
// wrapped with the last failure once MaxAttempts is exhausted.
func (s *Supervisor) Run(ctx context.Context, fn func() error) error {
	backoff := s.initialBackoff
	var lastErr error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			if attempt > 1 {
				s.mu.Lock()
				s.restarts++
				s.mu.Unlock()
				slog.Info("supervised component recovered",
					"name", s.name,
					"attempt", attempt)
			}
			return nil
		}
		lastErr = err

		if s.maxAttempts > 0 && attempt >= s.maxAttempts {
			slog.Error("supervised component failed permanently",
				"name", s.name,
				"attempts", attempt,
				"err", err)
			return fmt.Errorf("%w after %d attempts: %v", ErrGaveUp, attempt, lastErr)
		}

		slog.Warn("supervised component failed, retrying",
			"name", s.name,
			"attempt", attempt,
			"backoff", backoff,
			"err", err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

// Restarts reports how many times a supervised function has recovered
// after at least one failure. Exposed for readiness reporting.
func (s *Supervisor) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}
