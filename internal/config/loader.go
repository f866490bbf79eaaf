package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// KnownVariants lists the whisper model variants this build is tested with.
// Used by [Validate] to warn about likely typos; unknown variants still load
// if a matching model file exists.
var KnownVariants = []string{
	"tiny", "tiny.en",
	"base", "base.en",
	"small", "small.en",
	"medium", "medium.en",
	"large-v2", "large-v3", "large-v3-turbo",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.Model.Dir = expandHome(cfg.Model.Dir)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandHome resolves a leading "~/" against the current user's home
// directory. Paths that cannot be resolved are returned unchanged.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Hotkey
	if cfg.Hotkey.Key == "" && cfg.Hotkey.KeyCode == 0 {
		errs = append(errs, errors.New("hotkey.key (or hotkey.key_code) is required"))
	}
	if cfg.Hotkey.Key != "" && cfg.Hotkey.KeyCode != 0 {
		slog.Warn("both hotkey.key and hotkey.key_code are set; key_code wins",
			"key", cfg.Hotkey.Key,
			"key_code", cfg.Hotkey.KeyCode,
		)
	}
	if cfg.Hotkey.DebounceMs < 0 {
		errs = append(errs, fmt.Errorf("hotkey.debounce_ms %d is negative", cfg.Hotkey.DebounceMs))
	}
	if cfg.Hotkey.DebounceMs > 2000 {
		slog.Warn("hotkey.debounce_ms is unusually long; the key must be held this long before recording starts",
			"debounce_ms", cfg.Hotkey.DebounceMs)
	}

	// Audio
	if cfg.Audio.ChunkFrames < 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_frames %d is negative", cfg.Audio.ChunkFrames))
	}

	// Model
	if cfg.Model.Dir == "" {
		errs = append(errs, errors.New("model.dir is required"))
	}
	if cfg.Model.Variant == "" {
		errs = append(errs, errors.New("model.variant is required"))
	}
	validateVariantName(cfg.Model.Variant)
	if cfg.Model.CancelGraceMs < 0 {
		errs = append(errs, fmt.Errorf("model.cancel_grace_ms %d is negative", cfg.Model.CancelGraceMs))
	}

	// Output
	if !cfg.Output.ClipboardEnabled() && cfg.Output.PasteCommand == "" {
		slog.Warn("output.clipboard is disabled and no paste_command is set; transcriptions will go nowhere")
	}

	return errors.Join(errs...)
}

// validateVariantName logs a warning if variant is not in [KnownVariants].
func validateVariantName(variant string) {
	if variant == "" {
		return
	}
	for _, known := range KnownVariants {
		if variant == known {
			return
		}
	}
	slog.Warn("unknown model variant, may be a typo or a custom model",
		"variant", variant,
		"known", KnownVariants,
	)
}
