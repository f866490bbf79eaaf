// Package capture records microphone audio into temporary WAV files.
//
// [Recorder] owns one recording at a time: Start opens an input stream and
// begins appending converted samples to a uniquely named temp file, Stop
// finalizes the file and hands ownership of it to the caller. The input
// device is abstracted behind [Source] and [Stream]; the production
// implementation sits on PortAudio, tests substitute synthetic streams.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/whisperkey/whisperkey/pkg/audio"
)

var (
	// ErrAlreadyRecording is returned by Start while a recording is active.
	ErrAlreadyRecording = errors.New("capture: already recording")

	// ErrNotRecording is returned by Stop when no recording is active.
	ErrNotRecording = errors.New("capture: not recording")

	// ErrNoInputDevice is returned when no input device matches the
	// configuration (or the host has none at all).
	ErrNoInputDevice = errors.New("capture: no input device available")

	// ErrMicPermission is returned when the OS denies microphone access.
	ErrMicPermission = errors.New("capture: microphone permission denied")
)

// Source opens audio input streams.
type Source interface {
	// Open prepares an input stream on the device whose name contains
	// device (empty selects the default input), delivering chunkFrames
	// frames per read.
	Open(device string, chunkFrames int) (Stream, error)
}

// Stream is one open audio input. Read blocks until samples are available
// and fills buf with interleaved float32 PCM in the stream's native format.
// Close must unblock a concurrent Read.
type Stream interface {
	Format() audio.Format
	Start() error
	Read(buf []float32) (int, error)
	Close() error
}

// Config holds recorder settings.
type Config struct {
	// Device is a case-insensitive substring of the desired input device
	// name. Empty selects the system default input.
	Device string

	// ChunkFrames is the number of frames delivered per read.
	// Default: 1024.
	ChunkFrames int

	// TempDir is where recordings are written. Default: os.TempDir().
	TempDir string
}

// Recorder captures one recording at a time into a temp WAV file.
// Safe for concurrent use.
type Recorder struct {
	source      Source
	device      string
	chunkFrames int
	tempDir     string

	mu        sync.Mutex
	recording bool
	stopping  bool
	stream    Stream
	file      *os.File
	writer    *audio.Writer
	path      string
	done      chan struct{}
	wg        sync.WaitGroup
	captureErr error
}

// NewRecorder creates a recorder reading from source.
func NewRecorder(source Source, cfg Config) *Recorder {
	if cfg.ChunkFrames <= 0 {
		cfg.ChunkFrames = 1024
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	return &Recorder{
		source:      source,
		device:      cfg.Device,
		chunkFrames: cfg.ChunkFrames,
		tempDir:     cfg.TempDir,
	}
}

// Start opens the input stream and begins recording into a fresh temp file,
// returning its path. The file is incomplete until Stop finalizes it.
// Returns ErrAlreadyRecording if a recording is active.
func (r *Recorder) Start() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return "", ErrAlreadyRecording
	}

	stream, err := r.source.Open(r.device, r.chunkFrames)
	if err != nil {
		return "", fmt.Errorf("capture: open input stream: %w", err)
	}

	path := filepath.Join(r.tempDir, "whisperkey-"+uuid.NewString()+".wav")
	file, err := os.Create(path)
	if err != nil {
		stream.Close()
		return "", fmt.Errorf("capture: create recording file: %w", err)
	}

	writer, err := audio.NewWriter(file, audio.ModelFormat())
	if err != nil {
		file.Close()
		os.Remove(path)
		stream.Close()
		return "", err
	}

	if err := stream.Start(); err != nil {
		file.Close()
		os.Remove(path)
		stream.Close()
		return "", fmt.Errorf("capture: start input stream: %w", err)
	}

	conv := &audio.FormatConverter{
		Source: stream.Format(),
		Target: audio.ModelFormat(),
	}

	r.recording = true
	r.stream = stream
	r.file = file
	r.writer = writer
	r.path = path
	r.done = make(chan struct{})
	r.captureErr = nil

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.capture(stream, writer, conv, r.done)
	}()

	slog.Info("recording started",
		"path", path,
		"device_format", stream.Format().String())
	return path, nil
}

// Stop ends the recording, finalizes the WAV file and returns its path.
// The caller owns the file from here on. Returns ErrNotRecording when no
// recording is active; an error from the capture goroutine is surfaced here
// together with the path of whatever was written.
func (r *Recorder) Stop() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording || r.stopping {
		return "", ErrNotRecording
	}

	// The stopping flag holds off concurrent Stop calls while the lock is
	// released below; recording stays true so Start is held off too.
	r.stopping = true
	close(r.done)
	r.stream.Close()
	r.mu.Unlock()
	r.wg.Wait()
	r.mu.Lock()

	path := r.path
	err := r.captureErr
	if cerr := r.writer.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if cerr := r.file.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("capture: close recording file: %w", cerr)
	}

	frames := r.writer.Frames()
	r.recording = false
	r.stopping = false
	r.stream = nil
	r.file = nil
	r.writer = nil
	r.path = ""

	slog.Info("recording stopped",
		"path", path,
		"frames", frames,
		"seconds", audio.ModelFormat().Duration(frames))
	return path, err
}

// Recording reports whether a recording is active.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// capture is the recording goroutine. It converts every delivered buffer to
// the model format and appends it to the WAV writer until done closes or
// the stream fails. Per-buffer work is bounded by the chunk size.
func (r *Recorder) capture(stream Stream, writer *audio.Writer, conv *audio.FormatConverter, done chan struct{}) {
	buf := make([]float32, r.chunkFrames*stream.Format().Channels)

	for {
		select {
		case <-done:
			return
		default:
		}

		n, err := stream.Read(buf)
		if n > 0 {
			if werr := writer.Write(conv.Convert(buf[:n])); werr != nil {
				r.setCaptureErr(werr)
				return
			}
		}
		if err != nil {
			select {
			case <-done:
				// Expected: Stop closed the stream under us.
			default:
				r.setCaptureErr(fmt.Errorf("capture: read input stream: %w", err))
			}
			return
		}
	}
}

func (r *Recorder) setCaptureErr(err error) {
	r.mu.Lock()
	if r.captureErr == nil {
		r.captureErr = err
	}
	r.mu.Unlock()
	slog.Error("recording aborted", "err", err)
}
