// Package config provides the configuration schema, loader, and file watcher
// for the whisperkey dictation daemon.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for whisperkey.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server ServerConfig `yaml:"server"`
	Hotkey HotkeyConfig `yaml:"hotkey"`
	Audio  AudioConfig  `yaml:"audio"`
	Model  ModelConfig  `yaml:"model"`
	Output OutputConfig `yaml:"output"`
}

// ServerConfig holds the diagnostics endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the metrics/health endpoint listens on
	// (e.g., "127.0.0.1:9090"). Empty disables the endpoint entirely.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// HotkeyConfig describes the push-to-talk trigger.
type HotkeyConfig struct {
	// Key is the trigger spec, e.g. "ctrl+space", "f13", or a bare modifier
	// like "rctrl". Ignored when KeyCode is set.
	Key string `yaml:"key"`

	// KeyCode is a raw platform key code for keys the named table does not
	// cover. 0 means unset; Key is used instead.
	KeyCode int `yaml:"key_code"`

	// DebounceMs is how long the key must stay held before recording starts.
	// Taps shorter than this never trigger. Default: 100.
	DebounceMs int `yaml:"debounce_ms"`
}

// Debounce returns the debounce interval as a duration, applying the default
// when the field is unset.
func (h HotkeyConfig) Debounce() time.Duration {
	ms := h.DebounceMs
	if ms <= 0 {
		ms = 100
	}
	return time.Duration(ms) * time.Millisecond
}

// AudioConfig selects and tunes the capture device.
type AudioConfig struct {
	// Device is a case-insensitive substring matched against input device
	// names. Empty selects the system default input.
	Device string `yaml:"device"`

	// ChunkFrames is the number of frames requested per device buffer.
	// Default: 1024.
	ChunkFrames int `yaml:"chunk_frames"`
}

// ModelConfig describes the local whisper model.
type ModelConfig struct {
	// Dir is the directory holding ggml model files (ggml-<variant>.bin).
	Dir string `yaml:"dir"`

	// Variant selects the model, e.g. "tiny.en", "base.en", "small".
	Variant string `yaml:"variant"`

	// Language is the BCP-47 language hint passed to whisper (e.g. "en").
	// Empty lets the model auto-detect.
	Language string `yaml:"language"`

	// CancelGraceMs is how long a cancellation waits for the in-flight
	// transcription to acknowledge before the caller proceeds. Default: 50.
	CancelGraceMs int `yaml:"cancel_grace_ms"`
}

// CancelGrace returns the cancellation grace period as a duration.
func (m ModelConfig) CancelGrace() time.Duration {
	ms := m.CancelGraceMs
	if ms <= 0 {
		ms = 50
	}
	return time.Duration(ms) * time.Millisecond
}

// OutputConfig controls how finished transcriptions are delivered.
type OutputConfig struct {
	// Clipboard enables copying the transcription to the system clipboard.
	// Defaults to true when the whole output block is omitted.
	Clipboard *bool `yaml:"clipboard"`

	// PasteCommand is an optional command executed after the clipboard write,
	// typically a tool that synthesises a paste keystroke (e.g.
	// "wtype -M ctrl v -m ctrl"). Empty disables auto-paste.
	PasteCommand string `yaml:"paste_command"`

	// Notifications enables transient success/error feedback via the tray.
	Notifications *bool `yaml:"notifications"`
}

// ClipboardEnabled reports whether the clipboard write is on (default true).
func (o OutputConfig) ClipboardEnabled() bool {
	return o.Clipboard == nil || *o.Clipboard
}

// NotificationsEnabled reports whether feedback is on (default true).
func (o OutputConfig) NotificationsEnabled() bool {
	return o.Notifications == nil || *o.Notifications
}
