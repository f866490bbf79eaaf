package capture_test

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/whisperkey/whisperkey/internal/capture"
	"github.com/whisperkey/whisperkey/pkg/audio"
)

var errStreamClosed = errors.New("stream closed")

// fakeStream hands out a fixed batch of samples, then blocks until closed.
// drained closes once every sample has been consumed and written, letting
// tests stop the recorder without truncating the recording.
type fakeStream struct {
	format    audio.Format
	remaining []float32
	closed    chan struct{}
	drained   chan struct{}
	drainOnce sync.Once
}

func (f *fakeStream) Format() audio.Format { return f.format }
func (f *fakeStream) Start() error         { return nil }

func (f *fakeStream) Read(buf []float32) (int, error) {
	if len(f.remaining) > 0 {
		n := copy(buf, f.remaining)
		f.remaining = f.remaining[n:]
		return n, nil
	}
	f.drainOnce.Do(func() { close(f.drained) })
	<-f.closed
	return 0, errStreamClosed
}

func (f *fakeStream) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

// fakeSource returns a fresh stream of the configured format per Open.
type fakeSource struct {
	format  audio.Format
	seconds float64
	openErr error

	mu   sync.Mutex
	last *fakeStream
}

func (s *fakeSource) Open(device string, chunkFrames int) (capture.Stream, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	total := int(float64(s.format.SampleRate)*s.seconds) * s.format.Channels
	samples := make([]float32, total)
	for i := range samples {
		samples[i] = 0.25
	}
	stream := &fakeStream{
		format:    s.format,
		remaining: samples,
		closed:    make(chan struct{}),
		drained:   make(chan struct{}),
	}
	s.mu.Lock()
	s.last = stream
	s.mu.Unlock()
	return stream, nil
}

// waitDrained blocks until the most recently opened stream has been fully
// consumed by the capture goroutine.
func (s *fakeSource) waitDrained(t *testing.T) {
	t.Helper()
	s.mu.Lock()
	stream := s.last
	s.mu.Unlock()
	select {
	case <-stream.drained:
	case <-time.After(2 * time.Second):
		t.Fatal("capture goroutine never drained the stream")
	}
}

func newTestRecorder(t *testing.T, src capture.Source) *capture.Recorder {
	t.Helper()
	return capture.NewRecorder(src, capture.Config{TempDir: t.TempDir()})
}

func TestStartWhileRecordingFails(t *testing.T) {
	t.Parallel()

	src := &fakeSource{format: audio.ModelFormat(), seconds: 1}
	r := newTestRecorder(t, src)

	if _, err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := r.Start(); !errors.Is(err, capture.ErrAlreadyRecording) {
		t.Errorf("second Start err = %v, want ErrAlreadyRecording", err)
	}
	if _, err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestStopWithoutStartFails(t *testing.T) {
	t.Parallel()

	r := newTestRecorder(t, &fakeSource{format: audio.ModelFormat(), seconds: 1})
	if _, err := r.Stop(); !errors.Is(err, capture.ErrNotRecording) {
		t.Errorf("Stop err = %v, want ErrNotRecording", err)
	}
}

func TestConcurrentStopsOnlyOneWins(t *testing.T) {
	t.Parallel()

	src := &fakeSource{format: audio.ModelFormat(), seconds: 0.1}
	r := newTestRecorder(t, src)

	if _, err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	src.waitDrained(t)

	const stoppers = 8
	results := make(chan error, stoppers)
	var start sync.WaitGroup
	start.Add(stoppers)
	for range stoppers {
		go func() {
			start.Done()
			start.Wait()
			_, err := r.Stop()
			results <- err
		}()
	}

	var won, refused int
	for range stoppers {
		switch err := <-results; {
		case err == nil:
			won++
		case errors.Is(err, capture.ErrNotRecording):
			refused++
		default:
			t.Errorf("Stop err = %v", err)
		}
	}
	if won != 1 {
		t.Errorf("%d Stop calls finalized the recording, want exactly 1", won)
	}
	if refused != stoppers-1 {
		t.Errorf("%d Stop calls refused, want %d", refused, stoppers-1)
	}
}

func TestRecordingReportsState(t *testing.T) {
	t.Parallel()

	r := newTestRecorder(t, &fakeSource{format: audio.ModelFormat(), seconds: 1})
	if r.Recording() {
		t.Error("Recording() true before Start")
	}
	if _, err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !r.Recording() {
		t.Error("Recording() false after Start")
	}
	if _, err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if r.Recording() {
		t.Error("Recording() true after Stop")
	}
}

func TestOpenFailureLeavesRecorderIdle(t *testing.T) {
	t.Parallel()

	r := newTestRecorder(t, &fakeSource{openErr: capture.ErrNoInputDevice})
	if _, err := r.Start(); !errors.Is(err, capture.ErrNoInputDevice) {
		t.Fatalf("Start err = %v, want ErrNoInputDevice", err)
	}
	if r.Recording() {
		t.Error("Recording() true after failed Start")
	}
}

func TestOutputAlwaysModelFormat(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		format audio.Format
	}{
		{"cd stereo", audio.Format{SampleRate: 44100, Channels: 2}},
		{"pro stereo", audio.Format{SampleRate: 48000, Channels: 2}},
		{"pro mono", audio.Format{SampleRate: 48000, Channels: 1}},
		{"native", audio.ModelFormat()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			src := &fakeSource{format: tc.format, seconds: 1}
			r := newTestRecorder(t, src)

			if _, err := r.Start(); err != nil {
				t.Fatalf("Start: %v", err)
			}
			src.waitDrained(t)
			path, err := r.Stop()
			if err != nil {
				t.Fatalf("Stop: %v", err)
			}

			f, err := os.Open(path)
			if err != nil {
				t.Fatalf("open recording: %v", err)
			}
			defer f.Close()

			samples, format, err := audio.ReadAll(f)
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if format != audio.ModelFormat() {
				t.Errorf("recorded format = %s, want %s", format, audio.ModelFormat())
			}

			want := audio.ModelSampleRate
			if diff := len(samples) - want; diff < -100 || diff > 100 {
				t.Errorf("one second recorded as %d samples, want ~%d", len(samples), want)
			}
		})
	}
}

func TestEachRecordingGetsUniquePath(t *testing.T) {
	t.Parallel()

	src := &fakeSource{format: audio.ModelFormat(), seconds: 0.1}
	r := newTestRecorder(t, src)

	paths := make(map[string]bool)
	for range 3 {
		p, err := r.Start()
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		if paths[p] {
			t.Fatalf("path %q reused", p)
		}
		paths[p] = true
		if _, err := r.Stop(); err != nil {
			t.Fatalf("Stop: %v", err)
		}
	}
}
