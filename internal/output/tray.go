package output

import (
	"sync"

	"github.com/getlantern/systray"
)

// Tray is the system tray presence. It implements [StatusView].
//
// systray owns the UI thread, so a Tray must be driven through [Tray.Run];
// menu items only exist after the ready callback fires. Status updates that
// arrive earlier are buffered and applied once ready.
type Tray struct {
	mu       sync.Mutex
	ready    bool
	pending  string
	status   *systray.MenuItem
	lastErr  *systray.MenuItem
	dismiss  *systray.MenuItem
	quitItem *systray.MenuItem
}

// NewTray creates a tray that buffers updates until [Tray.Run] brings the
// UI up. It can be handed to a [Sink] as the view before Run is called.
func NewTray() *Tray {
	return &Tray{}
}

// Run starts the tray event loop and blocks until Quit is chosen or
// [StopTray] is called. Must run on the main goroutine; onQuit fires when
// the loop ends.
func (t *Tray) Run(onQuit func()) {
	systray.Run(func() {
		systray.SetTitle("whisperkey")
		systray.SetTooltip("whisperkey: idle")

		t.mu.Lock()
		t.status = systray.AddMenuItem("Status: idle", "Current state")
		t.status.Disable()
		t.lastErr = systray.AddMenuItem("", "Most recent error")
		t.lastErr.Disable()
		t.lastErr.Hide()
		t.dismiss = systray.AddMenuItem("Dismiss error", "Clear the last error")
		t.dismiss.Hide()
		systray.AddSeparator()
		t.quitItem = systray.AddMenuItem("Quit", "Exit whisperkey")
		t.ready = true
		pending := t.pending
		t.mu.Unlock()

		if pending != "" {
			t.SetStatus(pending)
		}

		go t.clickLoop()
	}, onQuit)
}

// StopTray asks the tray loop to exit.
func StopTray() {
	systray.Quit()
}

// clickLoop services menu item clicks until quit.
func (t *Tray) clickLoop() {
	for {
		select {
		case <-t.dismiss.ClickedCh:
			t.mu.Lock()
			t.lastErr.Hide()
			t.dismiss.Hide()
			t.mu.Unlock()
		case <-t.quitItem.ClickedCh:
			systray.Quit()
			return
		}
	}
}

// SetStatus updates the status entry and tooltip.
func (t *Tray) SetStatus(status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.ready {
		t.pending = status
		return
	}
	t.status.SetTitle("Status: " + status)
	systray.SetTooltip("whisperkey: " + status)
}

// SetLastError shows msg in a dismissible menu entry.
func (t *Tray) SetLastError(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.ready {
		return
	}
	t.lastErr.SetTitle("Last error: " + truncate(msg, 60))
	t.lastErr.Show()
	t.dismiss.Show()
}
