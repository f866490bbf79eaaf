// Package pipeline orchestrates the push-to-talk cycle: hotkey press and
// release events drive recording, transcription, and delivery of the
// resulting text.
//
// All state lives on a single dispatch goroutine. Press, release, and
// transcription-completion events are posted to it as closures, so the
// state machine never needs a lock for its own transitions; the small
// mutex only guards the snapshot read by State and LastTranscription.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/whisperkey/whisperkey/internal/engine"
	"github.com/whisperkey/whisperkey/internal/observe"
)

// State is the orchestrator's single source of truth for where the cycle
// currently stands.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateTranscribing
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateTranscribing:
		return "transcribing"
	default:
		return "unknown"
	}
}

// Recorder is the audio capture dependency.
type Recorder interface {
	Start() (string, error)
	Stop() (string, error)
	Recording() bool
}

// Transcriber is the transcription dependency.
type Transcriber interface {
	Transcribe(ctx context.Context, path, variant string) (string, error)
	Cancel()
}

// Sink receives user-facing feedback for each cycle. Calls arrive on the
// dispatch goroutine and must not block for long.
type Sink interface {
	RecordingStarted()
	RecordingStopped()
	TranscriptionDone(text string)
	TranscriptionFailed(msg string)
}

// Config wires a [Pipeline].
type Config struct {
	Recorder Recorder
	Engine   Transcriber
	Sink     Sink

	// Metrics is optional; nil disables metric recording.
	Metrics *observe.Metrics

	// Variant is the model variant used for transcriptions. Changeable at
	// runtime via [Pipeline.SetVariant].
	Variant string
}

// Pipeline is the push-to-talk orchestrator. Its OnPress and OnRelease
// methods satisfy the hotkey listener interface.
type Pipeline struct {
	recorder Recorder
	engine   Transcriber
	sink     Sink
	metrics  *observe.Metrics

	tasks    chan func()
	done     chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	// Owned by the dispatch goroutine.
	state       State
	generation  uint64
	variant     string
	currentPath string

	// snapMu guards the externally visible snapshot of state and the last
	// transcription.
	snapMu    sync.Mutex
	snapState State
	lastText  string
}

// New creates a pipeline. Call Start before delivering events.
func New(cfg Config) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		recorder: cfg.Recorder,
		engine:   cfg.Engine,
		sink:     cfg.Sink,
		metrics:  cfg.Metrics,
		variant:  cfg.Variant,
		tasks:    make(chan func(), 16),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the dispatch goroutine.
func (p *Pipeline) Start() {
	if p.started.Swap(true) {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-p.done:
				return
			case fn := <-p.tasks:
				fn()
			}
		}
	}()
}

// Stop shuts the pipeline down: an active recording is stopped and its file
// removed, an in-flight transcription is cancelled. Safe to call more than
// once.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		// Without a dispatch goroutine there is nothing to clean up and
		// nobody to run the posted closure.
		if p.started.Load() {
			cleaned := make(chan struct{})
			if p.post(func() {
				p.shutdownCleanup()
				close(cleaned)
			}) {
				<-cleaned
			}
		}
		p.cancel()
		close(p.done)
		p.wg.Wait()
	})
}

// OnPress starts a new cycle: any in-flight transcription is cancelled and
// superseded, the stale result cleared, and recording begins.
func (p *Pipeline) OnPress() {
	p.post(p.handlePress)
}

// OnRelease ends the recording phase and hands the captured audio to the
// transcription engine asynchronously.
func (p *Pipeline) OnRelease() {
	p.post(p.handleRelease)
}

// State returns the current orchestrator state.
func (p *Pipeline) State() State {
	p.snapMu.Lock()
	defer p.snapMu.Unlock()
	return p.snapState
}

// LastTranscription returns the text of the most recent successful cycle,
// or "" when none exists or a newer press cleared it.
func (p *Pipeline) LastTranscription() string {
	p.snapMu.Lock()
	defer p.snapMu.Unlock()
	return p.lastText
}

// SetVariant changes the model variant used for subsequent transcriptions.
func (p *Pipeline) SetVariant(variant string) {
	p.post(func() {
		p.variant = variant
	})
}

// post queues fn for the dispatch goroutine. Returns false if the pipeline
// is stopped.
func (p *Pipeline) post(fn func()) bool {
	select {
	case p.tasks <- fn:
		return true
	case <-p.done:
		return false
	}
}

func (p *Pipeline) setState(s State) {
	p.state = s
	p.snapMu.Lock()
	p.snapState = s
	p.snapMu.Unlock()
}

func (p *Pipeline) setLastText(text string) {
	p.snapMu.Lock()
	p.lastText = text
	p.snapMu.Unlock()
}

// handlePress runs on the dispatch goroutine.
func (p *Pipeline) handlePress() {
	// The detector pairs press/release, so a press during recording only
	// happens after event source recovery. The most recent press wins:
	// discard the interrupted take and start over.
	if p.state == StateRecording {
		slog.Warn("press while already recording, discarding interrupted take")
		path, err := p.recorder.Stop()
		if err == nil {
			removeRecording(path)
		}
		p.currentPath = ""
		if p.metrics != nil {
			p.metrics.SetRecording(p.ctx, false)
		}
	}

	// A new cycle supersedes whatever is in flight. The stale completion
	// recognizes itself by generation and discards its result.
	p.generation++
	p.setLastText("")
	if p.state == StateTranscribing {
		slog.Debug("press while transcribing, superseding in-flight task")
		p.engine.Cancel()
	}

	path, err := p.recorder.Start()
	if err != nil {
		slog.Error("recording start failed", "err", err)
		p.sink.TranscriptionFailed("could not start recording: " + err.Error())
		if p.metrics != nil {
			p.metrics.RecordCaptureError(p.ctx)
			p.metrics.RecordCycle(p.ctx, observe.OutcomeError)
		}
		p.setState(StateIdle)
		return
	}

	p.currentPath = path
	p.setState(StateRecording)
	p.sink.RecordingStarted()
	if p.metrics != nil {
		p.metrics.SetRecording(p.ctx, true)
	}
}

// handleRelease runs on the dispatch goroutine.
func (p *Pipeline) handleRelease() {
	if p.state != StateRecording {
		slog.Debug("release outside recording state, ignoring",
			"state", p.state.String())
		return
	}

	path, err := p.recorder.Stop()
	p.currentPath = ""
	p.sink.RecordingStopped()
	if p.metrics != nil {
		p.metrics.SetRecording(p.ctx, false)
	}
	if err != nil {
		slog.Error("recording stop failed", "err", err)
		removeRecording(path)
		p.sink.TranscriptionFailed("recording failed: " + err.Error())
		if p.metrics != nil {
			p.metrics.RecordCaptureError(p.ctx)
			p.metrics.RecordCycle(p.ctx, observe.OutcomeError)
		}
		p.setState(StateIdle)
		return
	}

	p.setState(StateTranscribing)
	gen := p.generation
	variant := p.variant

	go func() {
		text, err := p.engine.Transcribe(p.ctx, path, variant)
		delivered := p.post(func() {
			p.handleCompletion(gen, path, text, err)
		})
		if !delivered {
			removeRecording(path)
		}
	}()
}

// handleCompletion runs on the dispatch goroutine when an async
// transcription finishes.
func (p *Pipeline) handleCompletion(gen uint64, path, text string, err error) {
	// The recording is consumed either way; a stale cycle's artifact was
	// replaced by the new cycle's recording and just needs deleting.
	removeRecording(path)

	if gen != p.generation {
		slog.Debug("discarding superseded transcription result",
			"generation", gen,
			"current", p.generation)
		if p.metrics != nil {
			p.metrics.RecordCycle(p.ctx, observe.OutcomeSuperseded)
		}
		return
	}

	p.setState(StateIdle)

	switch {
	case errors.Is(err, engine.ErrCancelled):
		// Cancelled results are never user-visible.
		if p.metrics != nil {
			p.metrics.RecordCycle(p.ctx, observe.OutcomeCancelled)
		}

	case err != nil:
		msg := err.Error()
		if hint := engine.RecoveryHint(err); hint != "" {
			msg += " (" + hint + ")"
		}
		p.sink.TranscriptionFailed(msg)
		if p.metrics != nil {
			p.metrics.RecordCycle(p.ctx, observe.OutcomeError)
		}

	case isBlank(text):
		slog.Info("blank transcription, suppressing output")
		if p.metrics != nil {
			p.metrics.RecordCycle(p.ctx, observe.OutcomeBlank)
		}

	default:
		p.setLastText(text)
		p.sink.TranscriptionDone(text)
		if p.metrics != nil {
			p.metrics.RecordCycle(p.ctx, observe.OutcomeSuccess)
		}
	}
}

// shutdownCleanup runs on the dispatch goroutine during Stop.
func (p *Pipeline) shutdownCleanup() {
	if p.state == StateRecording {
		path, err := p.recorder.Stop()
		if err == nil {
			removeRecording(path)
		}
		if p.metrics != nil {
			p.metrics.SetRecording(p.ctx, false)
		}
	}
	p.engine.Cancel()
	p.setState(StateIdle)
}

func removeRecording(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not remove recording file", "path", path, "err", err)
	}
}
