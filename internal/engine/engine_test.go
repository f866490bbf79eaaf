package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/whisperkey/whisperkey/internal/engine"
	"github.com/whisperkey/whisperkey/pkg/audio"
)

// fakeModel returns canned text, optionally blocking until released so
// tests can hold an inference in flight. It counts overlapping Transcribe
// calls; the engine must never let two run at once.
type fakeModel struct {
	text    string
	err     error
	block   chan struct{}
	variant string

	mu        sync.Mutex
	closed    bool
	active    int
	maxActive int
}

func (m *fakeModel) Transcribe(samples []float32, language string) (string, error) {
	m.mu.Lock()
	m.active++
	if m.active > m.maxActive {
		m.maxActive = m.active
	}
	m.mu.Unlock()

	if m.block != nil {
		<-m.block
	}

	m.mu.Lock()
	m.active--
	m.mu.Unlock()
	return m.text, m.err
}

func (m *fakeModel) maxConcurrent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxActive
}

func (m *fakeModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *fakeModel) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// fakeLoader hands out fakeModels and records the order of loads.
type fakeLoader struct {
	mu     sync.Mutex
	models []*fakeModel
	next   *fakeModel
	err    error
}

func (l *fakeLoader) load(path string) (engine.Model, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	m := l.next
	if m == nil {
		m = &fakeModel{text: "hello world"}
	}
	l.next = nil
	m.variant = filepath.Base(path)
	l.models = append(l.models, m)
	return m, nil
}

// installModel drops a placeholder model file so path resolution succeeds.
func installModel(t *testing.T, dir, variant string) {
	t.Helper()
	if err := os.WriteFile(engine.ModelPath(dir, variant), []byte("ggml"), 0o644); err != nil {
		t.Fatalf("install model: %v", err)
	}
}

// writeRecording produces a valid mono 16 kHz float32 WAV of the given
// duration.
func writeRecording(t *testing.T, dir string, seconds float64) string {
	t.Helper()
	path := filepath.Join(dir, "rec.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create recording: %v", err)
	}
	defer f.Close()

	w, err := audio.NewWriter(f, audio.ModelFormat())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	samples := make([]float32, int(float64(audio.ModelSampleRate)*seconds))
	if err := w.Write(samples); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func newTestEngine(t *testing.T, loader *fakeLoader) (*engine.Engine, string) {
	t.Helper()
	dir := t.TempDir()
	e := engine.New(engine.Config{
		ModelDir:    dir,
		CancelGrace: 20 * time.Millisecond,
		Loader:      loader.load,
	})
	t.Cleanup(func() { e.Close() })
	return e, dir
}

func TestLazyLoadAndTranscribe(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{}
	e, dir := newTestEngine(t, loader)
	installModel(t, dir, "tiny")
	rec := writeRecording(t, dir, 0.5)

	if got := e.LoadedVariant(); got != "" {
		t.Errorf("LoadedVariant before first use = %q", got)
	}

	text, err := e.Transcribe(context.Background(), rec, "tiny")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello world" {
		t.Errorf("text = %q", text)
	}
	if got := e.LoadedVariant(); got != "tiny" {
		t.Errorf("LoadedVariant = %q, want tiny", got)
	}
	if len(loader.models) != 1 {
		t.Errorf("loaded %d models, want 1", len(loader.models))
	}
}

func TestResultIsWhitespaceTrimmed(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{next: &fakeModel{text: "  padded result \n"}}
	e, dir := newTestEngine(t, loader)
	installModel(t, dir, "tiny")
	rec := writeRecording(t, dir, 0.5)

	text, err := e.Transcribe(context.Background(), rec, "tiny")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "padded result" {
		t.Errorf("text = %q", text)
	}
}

func TestVariantSwapUnloadsOldModel(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{}
	e, dir := newTestEngine(t, loader)
	installModel(t, dir, "tiny")
	installModel(t, dir, "base")
	rec := writeRecording(t, dir, 0.5)

	if _, err := e.Transcribe(context.Background(), rec, "tiny"); err != nil {
		t.Fatalf("Transcribe tiny: %v", err)
	}
	if _, err := e.Transcribe(context.Background(), rec, "base"); err != nil {
		t.Fatalf("Transcribe base: %v", err)
	}

	if len(loader.models) != 2 {
		t.Fatalf("loaded %d models, want 2", len(loader.models))
	}
	if !loader.models[0].isClosed() {
		t.Error("first model not closed after swap")
	}
	if loader.models[1].isClosed() {
		t.Error("second model closed while still resident")
	}
	if got := e.LoadedVariant(); got != "base" {
		t.Errorf("LoadedVariant = %q, want base", got)
	}
}

func TestSameVariantReusesModel(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{}
	e, dir := newTestEngine(t, loader)
	installModel(t, dir, "tiny")
	rec := writeRecording(t, dir, 0.5)

	for range 3 {
		if _, err := e.Transcribe(context.Background(), rec, "tiny"); err != nil {
			t.Fatalf("Transcribe: %v", err)
		}
	}
	if len(loader.models) != 1 {
		t.Errorf("loaded %d models, want 1", len(loader.models))
	}
}

func TestModelNotInstalled(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{}
	e, dir := newTestEngine(t, loader)
	rec := writeRecording(t, dir, 0.5)

	_, err := e.Transcribe(context.Background(), rec, "tiny")
	if !errors.Is(err, engine.ErrModelNotInstalled) {
		t.Fatalf("err = %v, want ErrModelNotInstalled", err)
	}
	if engine.RecoveryHint(err) == "" {
		t.Error("ErrModelNotInstalled should carry a recovery hint")
	}
}

func TestModelInitFailure(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{err: errors.New("corrupt file")}
	e, dir := newTestEngine(t, loader)
	installModel(t, dir, "tiny")
	rec := writeRecording(t, dir, 0.5)

	_, err := e.Transcribe(context.Background(), rec, "tiny")
	if !errors.Is(err, engine.ErrModelInit) {
		t.Fatalf("err = %v, want ErrModelInit", err)
	}
}

func TestAudioFileMissing(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{}
	e, dir := newTestEngine(t, loader)
	installModel(t, dir, "tiny")

	_, err := e.Transcribe(context.Background(), filepath.Join(dir, "gone.wav"), "tiny")
	if !errors.Is(err, engine.ErrAudioFileMissing) {
		t.Fatalf("err = %v, want ErrAudioFileMissing", err)
	}
}

func TestAudioTooShort(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{}
	e, dir := newTestEngine(t, loader)
	installModel(t, dir, "tiny")
	rec := writeRecording(t, dir, 0.01)

	_, err := e.Transcribe(context.Background(), rec, "tiny")
	if !errors.Is(err, engine.ErrAudioTooShort) {
		t.Fatalf("err = %v, want ErrAudioTooShort", err)
	}
}

func TestCancelSupersedesInFlightTask(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	loader := &fakeLoader{next: &fakeModel{text: "stale", block: block}}
	e, dir := newTestEngine(t, loader)
	installModel(t, dir, "tiny")
	rec := writeRecording(t, dir, 0.5)

	result := make(chan error, 1)
	go func() {
		_, err := e.Transcribe(context.Background(), rec, "tiny")
		result <- err
	}()

	// Let the first call reach inference, then cancel and release it.
	time.Sleep(50 * time.Millisecond)
	e.Cancel()
	close(block)

	select {
	case err := <-result:
		if !errors.Is(err, engine.ErrCancelled) {
			t.Fatalf("superseded task err = %v, want ErrCancelled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("superseded task never returned")
	}

	if engine.RecoveryHint(engine.ErrCancelled) != "" {
		t.Error("cancellation must not carry a recovery hint")
	}
}

func TestOverrunningTaskNeverOverlapsNextInference(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	model := &fakeModel{text: "fresh", block: block}
	loader := &fakeLoader{next: model}
	e, dir := newTestEngine(t, loader)
	installModel(t, dir, "tiny")
	rec := writeRecording(t, dir, 0.5)

	first := make(chan error, 1)
	go func() {
		_, err := e.Transcribe(context.Background(), rec, "tiny")
		first <- err
	}()

	// Let the first call reach inference and sit there, ignoring its
	// cancellation flag well past the 20 ms grace period.
	time.Sleep(50 * time.Millisecond)

	second := make(chan error, 1)
	go func() {
		_, err := e.Transcribe(context.Background(), rec, "tiny")
		second <- err
	}()

	// The second call must wait for the overrunning task, not start a
	// second inference on the same model after the grace period expires.
	time.Sleep(100 * time.Millisecond)
	select {
	case err := <-second:
		t.Fatalf("second Transcribe returned %v while first still in flight", err)
	default:
	}
	if got := model.maxConcurrent(); got != 1 {
		t.Fatalf("%d inferences ran concurrently, want 1", got)
	}

	close(block)

	select {
	case err := <-first:
		if !errors.Is(err, engine.ErrCancelled) {
			t.Errorf("first Transcribe err = %v, want ErrCancelled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first Transcribe never returned")
	}
	select {
	case err := <-second:
		if err != nil {
			t.Errorf("second Transcribe err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second Transcribe never returned")
	}

	if got := model.maxConcurrent(); got != 1 {
		t.Errorf("%d inferences ran concurrently, want 1", got)
	}
}

func TestCloseWaitsForOverrunningTask(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	model := &fakeModel{text: "late", block: block}
	loader := &fakeLoader{next: model}
	e, dir := newTestEngine(t, loader)
	installModel(t, dir, "tiny")
	rec := writeRecording(t, dir, 0.5)

	result := make(chan error, 1)
	go func() {
		_, err := e.Transcribe(context.Background(), rec, "tiny")
		result <- err
	}()
	time.Sleep(50 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		e.Close()
		close(closed)
	}()

	// Close must not free the model while inference is still inside it.
	time.Sleep(100 * time.Millisecond)
	select {
	case <-closed:
		t.Fatal("Close returned while a task was still in flight")
	default:
	}
	if model.isClosed() {
		t.Fatal("model freed while a task was still in flight")
	}

	close(block)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close never returned")
	}
	if !model.isClosed() {
		t.Error("model not freed by Close")
	}
	select {
	case err := <-result:
		if !errors.Is(err, engine.ErrCancelled) {
			t.Errorf("Transcribe err = %v, want ErrCancelled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Transcribe never returned")
	}
}

func TestCancelledContextBeforeInference(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{}
	e, dir := newTestEngine(t, loader)
	installModel(t, dir, "tiny")
	rec := writeRecording(t, dir, 0.5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Transcribe(ctx, rec, "tiny")
	if !errors.Is(err, engine.ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
}

func TestPreloadAndUnload(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{}
	e, dir := newTestEngine(t, loader)
	installModel(t, dir, "tiny")

	if err := e.Preload(context.Background(), "tiny"); err != nil {
		t.Fatalf("Preload: %v", err)
	}
	if got := e.LoadedVariant(); got != "tiny" {
		t.Errorf("LoadedVariant after Preload = %q", got)
	}

	e.Unload()
	if got := e.LoadedVariant(); got != "" {
		t.Errorf("LoadedVariant after Unload = %q", got)
	}
	if !loader.models[0].isClosed() {
		t.Error("model not closed by Unload")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{}
	e, dir := newTestEngine(t, loader)
	installModel(t, dir, "tiny")
	if err := e.Preload(context.Background(), "tiny"); err != nil {
		t.Fatalf("Preload: %v", err)
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	rec := writeRecording(t, dir, 0.5)
	if _, err := e.Transcribe(context.Background(), rec, "tiny"); err == nil {
		t.Error("Transcribe after Close should fail")
	}
}
