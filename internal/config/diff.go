package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; audio device and
// listen address changes require a restart and are deliberately absent.
type ConfigDiff struct {
	HotkeyChanged   bool // key, key code, or debounce changed
	NewHotkey       HotkeyConfig
	VariantChanged  bool
	NewVariant      string
	LanguageChanged bool
	NewLanguage     string
	LogLevelChanged bool
	NewLogLevel     LogLevel
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.HotkeyChanged || d.VariantChanged || d.LanguageChanged || d.LogLevelChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Hotkey != new.Hotkey {
		d.HotkeyChanged = true
		d.NewHotkey = new.Hotkey
	}

	if old.Model.Variant != new.Model.Variant {
		d.VariantChanged = true
		d.NewVariant = new.Model.Variant
	}

	if old.Model.Language != new.Model.Language {
		d.LanguageChanged = true
		d.NewLanguage = new.Model.Language
	}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	return d
}
