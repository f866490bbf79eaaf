// Package engine turns recorded WAV files into text with a local whisper
// model.
//
// [Engine] keeps at most one model resident. Models are loaded lazily on
// first use, swapped when a different variant is requested, and every
// mutation of the loaded model or the in-flight task happens under one
// mutex. A new Transcribe call cancels and supersedes any in-flight task:
// cancellation is cooperative, checked before inference starts and again
// after it completes, with a short grace period for the superseded task to
// notice. A superseded task that outlives the grace period is still waited
// out before the next inference starts or a model is freed; the resident
// model runs at most one inference at a time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/whisperkey/whisperkey/pkg/audio"
)

// minSamples is the shortest recording worth sending to the model.
// Anything under 100 ms is a key tap, not speech.
const minSamples = audio.ModelSampleRate / 10

// DurationRecorder receives the wall time of successful transcriptions.
// Satisfied by observe.Metrics; nil disables recording.
type DurationRecorder interface {
	RecordTranscription(ctx context.Context, variant string, elapsed time.Duration)
}

// Config holds engine settings.
type Config struct {
	// ModelDir is the directory holding ggml model files.
	ModelDir string

	// Language is the transcription language code, empty for the model
	// default.
	Language string

	// CancelGrace is how long Cancel and supersession wait for an
	// in-flight task to notice cooperative cancellation. Default: 50ms.
	CancelGrace time.Duration

	// Loader loads model files. Default: [LoadWhisperModel].
	Loader ModelLoader

	// Durations, when non-nil, receives successful transcription times.
	Durations DurationRecorder
}

// task is one Transcribe call in flight. The cancelled flag is the
// cooperative cancellation signal; done closes when the call returns.
type task struct {
	cancelled atomic.Bool
	done      chan struct{}
}

// Engine runs transcriptions against a single resident model.
// Safe for concurrent use.
type Engine struct {
	modelDir  string
	language  string
	grace     time.Duration
	load      ModelLoader
	durations DurationRecorder

	mu      sync.Mutex
	model   Model
	variant string
	current *task
	closed  bool
}

// New creates an engine. No model is loaded until the first Transcribe or
// Preload call.
func New(cfg Config) *Engine {
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = 50 * time.Millisecond
	}
	if cfg.Loader == nil {
		cfg.Loader = LoadWhisperModel
	}
	return &Engine{
		modelDir:  cfg.ModelDir,
		language:  cfg.Language,
		grace:     cfg.CancelGrace,
		load:      cfg.Loader,
		durations: cfg.Durations,
	}
}

// Transcribe reads the WAV file at path and returns the recognized text,
// loading or swapping to the requested model variant as needed. Any task
// already in flight is cancelled and superseded before this one starts.
func (e *Engine) Transcribe(ctx context.Context, path, variant string) (string, error) {
	samples, err := readRecording(path)
	if err != nil {
		return "", err
	}

	e.supersede()

	e.mu.Lock()
	e.drainLocked()
	if e.closed {
		e.mu.Unlock()
		return "", fmt.Errorf("%w: engine closed", ErrCancelled)
	}
	model, err := e.ensureModelLocked(variant)
	if err != nil {
		e.mu.Unlock()
		return "", err
	}
	t := &task{done: make(chan struct{})}
	e.current = t
	language := e.language
	e.mu.Unlock()

	defer func() {
		close(t.done)
		e.mu.Lock()
		if e.current == t {
			e.current = nil
		}
		e.mu.Unlock()
	}()

	// Checkpoint before inference.
	if t.cancelled.Load() || ctx.Err() != nil {
		return "", ErrCancelled
	}

	start := time.Now()
	text, err := model.Transcribe(samples, language)
	elapsed := time.Since(start)

	// Checkpoint after inference: a superseded result must never be
	// surfaced, even when inference finished cleanly.
	if t.cancelled.Load() || ctx.Err() != nil {
		return "", ErrCancelled
	}
	if err != nil {
		return "", mapInferenceError(err)
	}

	slog.Info("transcription complete",
		"variant", variant,
		"duration_ms", elapsed.Milliseconds(),
		"audio_seconds", audio.ModelFormat().Duration(len(samples)))
	if e.durations != nil {
		e.durations.RecordTranscription(ctx, variant, elapsed)
	}

	return strings.TrimSpace(text), nil
}

// Cancel requests cooperative cancellation of the in-flight task, waiting
// up to the grace period for it to finish. No-op when nothing is running.
func (e *Engine) Cancel() {
	e.supersede()
}

// supersede cancels the current task and gives it the grace period to
// notice before returning.
func (e *Engine) supersede() {
	e.mu.Lock()
	prev := e.current
	e.mu.Unlock()
	if prev == nil {
		return
	}

	prev.cancelled.Store(true)
	select {
	case <-prev.done:
	case <-time.After(e.grace):
		slog.Debug("superseded task did not finish within grace period",
			"grace", e.grace)
	}
}

// SetLanguage changes the language hint for subsequent transcriptions.
// The in-flight task, if any, keeps the hint it started with.
func (e *Engine) SetLanguage(language string) {
	e.mu.Lock()
	e.language = language
	e.mu.Unlock()
}

// Preload loads the model for variant so the first transcription does not
// pay the load cost. Swaps out a different resident variant.
func (e *Engine) Preload(ctx context.Context, variant string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("engine: closed")
	}
	_, err := e.ensureModelLocked(variant)
	return err
}

// Unload releases the resident model, if any. An in-flight task is
// cancelled and waited for first.
func (e *Engine) Unload() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.drainLocked()
	e.unloadLocked()
}

// LoadedVariant returns the resident model's variant, or "" when no model
// is loaded.
func (e *Engine) LoadedVariant() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.variant
}

// Close unloads the model and rejects all future calls. Safe to call more
// than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.drainLocked()
	e.unloadLocked()
	e.closed = true
	return nil
}

// drainLocked cancels any in-flight task and waits for it to fully finish,
// without the grace cutoff. The mutex is released while waiting and held
// again on return, with no task in flight. A task that overran its grace
// period must never overlap the next inference or outlive the model it is
// using, so every path that starts an inference or frees a model drains
// first.
func (e *Engine) drainLocked() {
	for e.current != nil {
		prev := e.current
		prev.cancelled.Store(true)
		e.mu.Unlock()
		<-prev.done
		e.mu.Lock()
	}
}

// ensureModelLocked returns the model for variant, loading or swapping as
// needed. Must be called with e.mu held and no task in flight.
func (e *Engine) ensureModelLocked(variant string) (Model, error) {
	if e.model != nil && e.variant == variant {
		return e.model, nil
	}

	e.unloadLocked()

	path, err := resolveModel(e.modelDir, variant)
	if err != nil {
		return nil, err
	}

	slog.Info("loading model", "variant", variant, "path", path)
	start := time.Now()
	model, err := e.load(path)
	if err != nil {
		if isOutOfMemory(err) {
			return nil, fmt.Errorf("%w: loading %s: %v", ErrOutOfMemory, variant, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrModelInit, err)
	}
	slog.Info("model loaded",
		"variant", variant,
		"duration_ms", time.Since(start).Milliseconds())

	e.model = model
	e.variant = variant
	return model, nil
}

// unloadLocked frees the resident model. Must be called with e.mu held and
// no task in flight.
func (e *Engine) unloadLocked() {
	if e.model == nil {
		return
	}
	if err := e.model.Close(); err != nil {
		slog.Warn("model close failed", "variant", e.variant, "err", err)
	}
	slog.Info("model unloaded", "variant", e.variant)
	e.model = nil
	e.variant = ""
}

// readRecording loads and validates the WAV file for transcription.
func readRecording(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrAudioFileMissing, path)
		}
		return nil, fmt.Errorf("%w: open %s: %v", ErrAudioFileMissing, path, err)
	}
	defer f.Close()

	decoded, format, err := audio.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAudioTooShort, err)
	}
	if format != audio.ModelFormat() {
		return nil, fmt.Errorf("%w: recording is %s, want %s",
			ErrAudioTooShort, format, audio.ModelFormat())
	}
	if len(decoded) < minSamples {
		return nil, fmt.Errorf("%w: %d samples (%.0f ms)",
			ErrAudioTooShort, len(decoded),
			audio.ModelFormat().Duration(len(decoded))*1000)
	}
	return decoded, nil
}

// mapInferenceError folds raw inference failures into the error taxonomy.
func mapInferenceError(err error) error {
	if isOutOfMemory(err) {
		return fmt.Errorf("%w: %v", ErrOutOfMemory, err)
	}
	return fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
}

func isOutOfMemory(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "out of memory") ||
		strings.Contains(msg, "failed to allocate") ||
		strings.Contains(msg, "cannot allocate")
}
