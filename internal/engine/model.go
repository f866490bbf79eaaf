package engine

import (
	"fmt"
	"os"
	"path/filepath"
)

// Model is one loaded speech-to-text model. Transcribe runs a single
// inference over mono 16 kHz float32 samples and returns the recognized
// text. Implementations need not be safe for concurrent Transcribe calls;
// the engine serializes them.
type Model interface {
	Transcribe(samples []float32, language string) (string, error)
	Close() error
}

// ModelLoader loads a model from a file on disk. The production loader is
// backed by the whisper.cpp bindings; tests substitute fakes.
type ModelLoader func(path string) (Model, error)

// ModelPath returns the expected file location for a variant, following the
// ggml naming convention ("base.en" -> dir/ggml-base.en.bin).
func ModelPath(dir, variant string) string {
	return filepath.Join(dir, "ggml-"+variant+".bin")
}

// resolveModel checks that the variant's model file exists and returns its
// path. A missing file maps to [ErrModelNotInstalled].
func resolveModel(dir, variant string) (string, error) {
	path := ModelPath(dir, variant)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s (variant %q)", ErrModelNotInstalled, path, variant)
		}
		return "", fmt.Errorf("%w: stat %s: %v", ErrModelNotInstalled, path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrModelNotInstalled, path)
	}
	return path, nil
}
