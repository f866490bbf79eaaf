package health

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// HotkeyRunning reports ready while the hotkey detector delivers events.
func HotkeyRunning(running func() bool) Checker {
	return Checker{
		Name: "hotkey",
		Check: func(context.Context) error {
			if !running() {
				return errors.New("hotkey detector is not running")
			}
			return nil
		},
	}
}

// ModelDirPresent reports ready while the model directory exists. The model
// file itself is checked lazily on first transcription, so only the
// directory gates readiness.
func ModelDirPresent(dir string) Checker {
	return Checker{
		Name: "model_dir",
		Check: func(context.Context) error {
			info, err := os.Stat(dir)
			if err != nil {
				return fmt.Errorf("model dir %s: %w", dir, err)
			}
			if !info.IsDir() {
				return fmt.Errorf("model dir %s is not a directory", dir)
			}
			return nil
		},
	}
}
