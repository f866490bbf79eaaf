// This file contains the Model implementation backed by the whisper.cpp
// CGO bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package engine

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// LoadWhisperModel is the production [ModelLoader].
func LoadWhisperModel(path string) (Model, error) {
	m, err := whisperlib.New(path)
	if err != nil {
		return nil, fmt.Errorf("load model %q: %w", path, err)
	}
	return &whisperModel{model: m}, nil
}

type whisperModel struct {
	model whisperlib.Model
}

// Transcribe runs one whisper.cpp inference. Each call creates a fresh
// context; contexts are not reusable across inferences but the model is.
func (w *whisperModel) Transcribe(samples []float32, language string) (string, error) {
	wctx, err := w.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("create context: %w", err)
	}

	if language != "" {
		if err := wctx.SetLanguage(language); err != nil {
			slog.Warn("whisper rejected language, using model default",
				"language", language,
				"err", err)
		}
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}

func (w *whisperModel) Close() error {
	return w.model.Close()
}
