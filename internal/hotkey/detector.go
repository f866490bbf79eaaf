package hotkey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/whisperkey/whisperkey/internal/resilience"
)

// ErrPermissionDenied is returned by [Detector.Start] when the OS refuses
// the global key hook. On macOS this means the input monitoring permission
// is missing; on X11 it usually means another client grabbed the key.
var ErrPermissionDenied = errors.New("hotkey: input monitoring permission denied")

// ErrUnsupportedKey is returned when a parsed [KeySpec] cannot be registered
// with the platform event source.
var ErrUnsupportedKey = errors.New("hotkey: key cannot be registered on this platform")

// EventSource delivers raw key transitions for one registered trigger key.
//
// Keydown may fire repeatedly while the key is held (OS auto-repeat); the
// detector filters repeats. Done is closed if the source dies and needs to
// be recreated; sources that cannot detect their own death return nil.
type EventSource interface {
	Start() error
	Stop()
	Keydown() <-chan struct{}
	Keyup() <-chan struct{}
	Done() <-chan struct{}
}

// SourceFactory creates an [EventSource] bound to the given key.
type SourceFactory func(KeySpec) (EventSource, error)

// Listener receives debounced trigger events. Both callbacks are invoked
// from the detector's event goroutine, exactly once per hold cycle, with
// OnRelease never delivered without a preceding OnPress.
type Listener interface {
	OnPress()
	OnRelease()
}

// Detector turns raw key transitions into debounced press/release pairs.
//
// A key-down arms a timer of the configured debounce interval; if the key
// is released before the timer fires, the hold is discarded silently.
// Once the timer fires with the key still down, OnPress is delivered and
// the eventual key-up delivers OnRelease.
type Detector struct {
	factory  SourceFactory
	listener Listener
	sup      *resilience.Supervisor

	mu       sync.Mutex
	spec     KeySpec
	debounce time.Duration
	running  bool
	src      EventSource
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// DetectorOption configures a [Detector].
type DetectorOption func(*Detector)

// WithSupervisor enables automatic event source restarts with backoff when
// the source reports its own death.
func WithSupervisor(sup *resilience.Supervisor) DetectorOption {
	return func(d *Detector) {
		d.sup = sup
	}
}

// NewDetector creates a detector for spec. Events go to listener after
// surviving the debounce interval; a non-positive interval disables
// debouncing and fires OnPress immediately on key-down.
func NewDetector(spec KeySpec, debounce time.Duration, listener Listener, factory SourceFactory, opts ...DetectorOption) *Detector {
	d := &Detector{
		factory:  factory,
		listener: listener,
		spec:     spec,
		debounce: debounce,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start registers the trigger key and begins delivering events.
// Calling Start on a running detector is a no-op.
func (d *Detector) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil
	}

	src, err := d.factory(d.spec)
	if err != nil {
		return fmt.Errorf("hotkey: create event source: %w", err)
	}
	if err := src.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.src = src
	d.cancel = cancel
	d.running = true

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx, src)
	}()

	slog.Info("hotkey detector started",
		"key", d.spec.String(),
		"debounce", d.debounce)
	return nil
}

// Stop unregisters the key and stops event delivery. If a hold is in
// flight and OnPress was already delivered, OnRelease is delivered before
// Stop returns so listeners always see balanced pairs. Calling Stop on a
// stopped detector is a no-op.
func (d *Detector) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	cancel := d.cancel
	src := d.src
	d.running = false
	d.src = nil
	d.cancel = nil
	d.mu.Unlock()

	cancel()
	src.Stop()
	d.wg.Wait()

	slog.Info("hotkey detector stopped", "key", d.spec.String())
}

// Running reports whether the detector is currently delivering events.
func (d *Detector) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Rebind changes the trigger key. On a running detector the old key is
// unregistered and the new one registered before Rebind returns; a hold in
// flight is terminated the same way Stop terminates it. On a stopped
// detector only the stored spec changes.
func (d *Detector) Rebind(spec KeySpec) error {
	d.mu.Lock()
	wasRunning := d.running
	d.mu.Unlock()

	if wasRunning {
		d.Stop()
	}

	d.mu.Lock()
	d.spec = spec
	d.mu.Unlock()

	if wasRunning {
		return d.Start()
	}
	return nil
}

// SetDebounce updates the debounce interval. Takes effect on the next
// key-down; a hold already in flight keeps its original timer.
func (d *Detector) SetDebounce(interval time.Duration) {
	d.mu.Lock()
	d.debounce = interval
	d.mu.Unlock()
}

func (d *Detector) currentDebounce() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.debounce
}

// run is the detector's event goroutine. It owns the entire hold state;
// nothing else touches it.
func (d *Detector) run(ctx context.Context, src EventSource) {
	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		down    bool // key physically held
		pressed bool // OnPress delivered for the current hold
	)

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			stopTimer()
			if pressed {
				// Keep press/release balanced across shutdown.
				d.listener.OnRelease()
			}
			return

		case <-src.Keydown():
			if down {
				// OS auto-repeat while held.
				continue
			}
			down = true
			interval := d.currentDebounce()
			if interval <= 0 {
				pressed = true
				d.listener.OnPress()
				continue
			}
			timer = time.NewTimer(interval)
			timerC = timer.C

		case <-timerC:
			timer = nil
			timerC = nil
			if down {
				pressed = true
				d.listener.OnPress()
			}

		case <-src.Keyup():
			if !down {
				slog.Debug("hotkey release without matching press, ignoring",
					"key", d.spec.String())
				continue
			}
			down = false
			stopTimer()
			if pressed {
				pressed = false
				d.listener.OnRelease()
			}
			// Released inside the debounce window: discarded silently.

		case <-src.Done():
			stopTimer()
			if pressed {
				pressed = false
				d.listener.OnRelease()
			}
			down = false
			replacement, ok := d.restart(ctx, src)
			if !ok {
				return
			}
			src = replacement
		}
	}
}

// restart replaces a dead event source, retrying with backoff through the
// supervisor. Returns false when the detector should give up (no supervisor
// configured, restart exhausted, or the detector was stopped meanwhile).
func (d *Detector) restart(ctx context.Context, dead EventSource) (EventSource, bool) {
	dead.Stop()

	if d.sup == nil {
		slog.Error("hotkey event source died and no supervisor is configured",
			"key", d.spec.String())
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		return nil, false
	}

	slog.Warn("hotkey event source died, restarting", "key", d.spec.String())

	var replacement EventSource
	err := d.sup.Run(ctx, func() error {
		src, err := d.factory(d.spec)
		if err != nil {
			return err
		}
		if err := src.Start(); err != nil {
			return err
		}
		replacement = src
		return nil
	})
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("hotkey event source restart failed", "err", err)
			d.mu.Lock()
			d.running = false
			d.mu.Unlock()
		}
		return nil, false
	}
	if ctx.Err() != nil {
		replacement.Stop()
		return nil, false
	}

	d.mu.Lock()
	d.src = replacement
	d.mu.Unlock()
	return replacement, true
}
