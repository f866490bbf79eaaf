package engine

import "errors"

// The closed set of failures Transcribe can return. Callers branch on these
// with errors.Is; anything else escaping the engine is a bug.
var (
	// ErrModelNotInstalled means no model file exists for the requested
	// variant under the configured model directory.
	ErrModelNotInstalled = errors.New("engine: model not installed")

	// ErrModelInit means the model file exists but could not be loaded.
	ErrModelInit = errors.New("engine: model failed to initialize")

	// ErrAudioFileMissing means the recording disappeared before
	// transcription could read it.
	ErrAudioFileMissing = errors.New("engine: audio file missing")

	// ErrAudioTooShort means the recording is too short or not decodable
	// as audio the model accepts.
	ErrAudioTooShort = errors.New("engine: audio too short or invalid")

	// ErrCancelled means the task was superseded or cancelled before a
	// result became available.
	ErrCancelled = errors.New("engine: transcription cancelled")

	// ErrTranscriptionFailed means inference itself failed.
	ErrTranscriptionFailed = errors.New("engine: transcription failed")

	// ErrOutOfMemory means the model or inference ran out of memory.
	ErrOutOfMemory = errors.New("engine: out of memory")
)

// RecoveryHint returns a short user-facing suggestion for err, or an empty
// string when there is nothing actionable (cancellation in particular is
// not an error the user needs to act on).
func RecoveryHint(err error) string {
	switch {
	case errors.Is(err, ErrModelNotInstalled):
		return "download the model file into the configured model directory (whisper.cpp ships a download-ggml-model script)"
	case errors.Is(err, ErrModelInit):
		return "verify the model file is complete and built for this whisper version; re-download if in doubt"
	case errors.Is(err, ErrAudioFileMissing):
		return "the recording file was removed before transcription; try again"
	case errors.Is(err, ErrAudioTooShort):
		return "hold the trigger key a little longer while speaking"
	case errors.Is(err, ErrOutOfMemory):
		return "switch to a smaller model variant or free up memory"
	case errors.Is(err, ErrTranscriptionFailed):
		return "try again; if it keeps failing check the logs for the underlying cause"
	default:
		return ""
	}
}
