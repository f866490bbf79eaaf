// Package output delivers transcription results and cycle feedback to the
// user: clipboard, an optional paste command, and the system tray.
package output

import (
	"context"
	"log/slog"
	"time"
)

// Clipboard abstracts the system clipboard.
type Clipboard interface {
	Write(text string) error
}

// StatusView is where cycle status and errors become visible, typically the
// system tray. Implementations must tolerate calls from any goroutine.
type StatusView interface {
	SetStatus(status string)
	SetLastError(msg string)
}

// Config wires a [Sink].
type Config struct {
	// Clipboard receives successful transcriptions. Nil disables the
	// clipboard copy.
	Clipboard Clipboard

	// PasteCommand, when non-empty, is executed after a successful
	// transcription with the text on stdin. First element is the binary,
	// the rest are arguments.
	PasteCommand []string

	// View shows status transitions and the most recent error. Optional.
	View StatusView

	// Notifications enables transient success/failure notices on the view.
	Notifications bool
}

// Sink implements the pipeline's feedback interface. All methods are quick;
// the paste command runs with a bounded timeout.
type Sink struct {
	clipboard     Clipboard
	pasteCommand  []string
	view          StatusView
	notifications bool

	// runPaste is swapped out in tests.
	runPaste func(ctx context.Context, argv []string, text string) error
}

// NewSink creates a sink from cfg.
func NewSink(cfg Config) *Sink {
	return &Sink{
		clipboard:     cfg.Clipboard,
		pasteCommand:  cfg.PasteCommand,
		view:          cfg.View,
		notifications: cfg.Notifications,
		runPaste:      runPasteCommand,
	}
}

// RecordingStarted marks the beginning of a capture cycle.
func (s *Sink) RecordingStarted() {
	s.setStatus("recording")
}

// RecordingStopped marks the hand-off from capture to transcription.
func (s *Sink) RecordingStopped() {
	s.setStatus("transcribing")
}

// TranscriptionDone copies text to the configured destinations.
func (s *Sink) TranscriptionDone(text string) {
	s.setStatus("idle")

	if s.clipboard != nil {
		if err := s.clipboard.Write(text); err != nil {
			slog.Error("clipboard write failed", "err", err)
			s.setLastError("clipboard write failed: " + err.Error())
			return
		}
		slog.Info("transcription copied to clipboard", "chars", len(text))
	}

	if len(s.pasteCommand) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.runPaste(ctx, s.pasteCommand, text); err != nil {
			slog.Error("paste command failed",
				"command", s.pasteCommand[0],
				"err", err)
			s.setLastError("paste command failed: " + err.Error())
			return
		}
	}

	if s.notifications && s.view != nil {
		s.view.SetStatus("copied: " + truncate(text, 40))
	}
}

// TranscriptionFailed surfaces a cycle failure.
func (s *Sink) TranscriptionFailed(msg string) {
	s.setStatus("idle")
	slog.Warn("cycle failed", "reason", msg)
	s.setLastError(msg)
}

func (s *Sink) setStatus(status string) {
	if s.view != nil {
		s.view.SetStatus(status)
	}
}

func (s *Sink) setLastError(msg string) {
	if s.view != nil {
		s.view.SetLastError(msg)
	}
}

// truncate shortens text for display in a menu entry.
func truncate(text string, max int) string {
	if len(text) <= max {
		return text
	}
	return text[:max-1] + "…"
}
