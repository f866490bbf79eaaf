package output

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ParsePasteCommand splits a configured paste command string into argv.
// Returns nil for an empty command.
func ParsePasteCommand(command string) []string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// runPasteCommand executes argv with text on stdin. The caller bounds the
// runtime through ctx.
func runPasteCommand(ctx context.Context, argv []string, text string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = strings.NewReader(text)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if len(out) > 0 {
			return fmt.Errorf("%s: %w: %s", argv[0], err, strings.TrimSpace(string(out)))
		}
		return fmt.Errorf("%s: %w", argv[0], err)
	}
	return nil
}
