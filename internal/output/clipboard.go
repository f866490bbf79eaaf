package output

import (
	"fmt"

	xclipboard "golang.design/x/clipboard"
)

// systemClipboard writes through the OS clipboard.
type systemClipboard struct{}

// NewSystemClipboard initializes the OS clipboard and returns a [Clipboard]
// backed by it. Initialization fails on headless systems without a display
// connection.
func NewSystemClipboard() (Clipboard, error) {
	if err := xclipboard.Init(); err != nil {
		return nil, fmt.Errorf("output: clipboard init: %w", err)
	}
	return systemClipboard{}, nil
}

func (systemClipboard) Write(text string) error {
	xclipboard.Write(xclipboard.FmtText, []byte(text))
	return nil
}
