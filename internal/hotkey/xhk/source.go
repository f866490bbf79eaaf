// Package xhk is the production event source for the hotkey detector,
// backed by golang.design/x/hotkey.
//
// The backend connects to the display server from package init, so this
// package must only be imported by binaries that run inside a graphical
// session. Everything display-independent lives in the parent package,
// which stays importable (and testable) on headless machines.
package xhk

import (
	"fmt"
	"runtime"
	"strings"
	"sync"

	xhotkey "golang.design/x/hotkey"

	"github.com/whisperkey/whisperkey/internal/hotkey"
)

// keyTokens maps normalized key tokens to platform key constants.
// The constant names are identical on linux, windows and darwin.
var keyTokens = map[string]xhotkey.Key{
	"a": xhotkey.KeyA, "b": xhotkey.KeyB, "c": xhotkey.KeyC, "d": xhotkey.KeyD,
	"e": xhotkey.KeyE, "f": xhotkey.KeyF, "g": xhotkey.KeyG, "h": xhotkey.KeyH,
	"i": xhotkey.KeyI, "j": xhotkey.KeyJ, "k": xhotkey.KeyK, "l": xhotkey.KeyL,
	"m": xhotkey.KeyM, "n": xhotkey.KeyN, "o": xhotkey.KeyO, "p": xhotkey.KeyP,
	"q": xhotkey.KeyQ, "r": xhotkey.KeyR, "s": xhotkey.KeyS, "t": xhotkey.KeyT,
	"u": xhotkey.KeyU, "v": xhotkey.KeyV, "w": xhotkey.KeyW, "x": xhotkey.KeyX,
	"y": xhotkey.KeyY, "z": xhotkey.KeyZ,
	"0": xhotkey.Key0, "1": xhotkey.Key1, "2": xhotkey.Key2, "3": xhotkey.Key3,
	"4": xhotkey.Key4, "5": xhotkey.Key5, "6": xhotkey.Key6, "7": xhotkey.Key7,
	"8": xhotkey.Key8, "9": xhotkey.Key9,
	"space":  xhotkey.KeySpace,
	"enter":  xhotkey.KeyReturn,
	"esc":    xhotkey.KeyEscape,
	"tab":    xhotkey.KeyTab,
	"delete": xhotkey.KeyDelete,
	"left":   xhotkey.KeyLeft, "right": xhotkey.KeyRight,
	"up": xhotkey.KeyUp, "down": xhotkey.KeyDown,
	"f1": xhotkey.KeyF1, "f2": xhotkey.KeyF2, "f3": xhotkey.KeyF3,
	"f4": xhotkey.KeyF4, "f5": xhotkey.KeyF5, "f6": xhotkey.KeyF6,
	"f7": xhotkey.KeyF7, "f8": xhotkey.KeyF8, "f9": xhotkey.KeyF9,
	"f10": xhotkey.KeyF10, "f11": xhotkey.KeyF11, "f12": xhotkey.KeyF12,
	"f13": xhotkey.KeyF13, "f14": xhotkey.KeyF14, "f15": xhotkey.KeyF15,
	"f16": xhotkey.KeyF16, "f17": xhotkey.KeyF17, "f18": xhotkey.KeyF18,
	"f19": xhotkey.KeyF19, "f20": xhotkey.KeyF20,
}

// source registers a key globally with the OS and forwards its raw
// key-down/key-up transitions. The registration thread stays locked for the
// lifetime of the source; register and unregister happen on the same thread.
type source struct {
	spec hotkey.KeySpec
	hk   *xhotkey.Hotkey

	downCh   chan struct{}
	upCh     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

// NewSource creates an event source that registers spec with the OS.
// It satisfies [hotkey.SourceFactory].
func NewSource(spec hotkey.KeySpec) (hotkey.EventSource, error) {
	key, mods, err := translateSpec(spec)
	if err != nil {
		return nil, err
	}
	return &source{
		spec:   spec,
		hk:     xhotkey.New(mods, key),
		downCh: make(chan struct{}),
		upCh:   make(chan struct{}),
		stop:   make(chan struct{}),
	}, nil
}

// translateSpec maps a [hotkey.KeySpec] to the platform's key and modifier
// values. systemMods is defined per GOOS because the modifier constants
// differ.
func translateSpec(spec hotkey.KeySpec) (xhotkey.Key, []xhotkey.Modifier, error) {
	var mods []xhotkey.Modifier
	for _, m := range spec.Mods {
		sm, ok := systemMods[m]
		if !ok {
			return 0, nil, fmt.Errorf("%w: modifier %q", hotkey.ErrUnsupportedKey, m)
		}
		mods = append(mods, sm)
	}

	if spec.Code != 0 && spec.Key == "" {
		return xhotkey.Key(spec.Code), mods, nil
	}
	if spec.IsBareModifier() {
		// Registering a lone modifier needs a low-level keyboard hook,
		// which this backend does not provide.
		return 0, nil, fmt.Errorf("%w: bare modifier %q", hotkey.ErrUnsupportedKey, spec.Key)
	}
	key, ok := keyTokens[spec.Key]
	if !ok {
		return 0, nil, fmt.Errorf("%w: %q", hotkey.ErrUnsupportedKey, spec.Key)
	}
	return key, mods, nil
}

func (s *source) Start() error {
	errc := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		if err := s.hk.Register(); err != nil {
			errc <- err
			return
		}
		errc <- nil
		<-s.stop
		s.hk.Unregister()
	}()

	if err := <-errc; err != nil {
		if isPermissionError(err) {
			return fmt.Errorf("%w: %v", hotkey.ErrPermissionDenied, err)
		}
		return fmt.Errorf("hotkey: register %s: %w", s.spec, err)
	}

	go s.pump()
	return nil
}

// pump forwards events from the OS hook onto the source's own channels so
// that Stop can always unblock a reader.
func (s *source) pump() {
	for {
		select {
		case <-s.stop:
			return
		case <-s.hk.Keydown():
			select {
			case s.downCh <- struct{}{}:
			case <-s.stop:
				return
			}
		case <-s.hk.Keyup():
			select {
			case s.upCh <- struct{}{}:
			case <-s.stop:
				return
			}
		}
	}
}

func (s *source) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

func (s *source) Keydown() <-chan struct{} { return s.downCh }
func (s *source) Keyup() <-chan struct{}   { return s.upCh }

// Done returns nil: this backend cannot detect the OS tearing down its
// registration, so it never self-reports death.
func (s *source) Done() <-chan struct{} { return nil }

// isPermissionError sniffs register failures that indicate a missing OS
// permission rather than a conflicting binding.
func isPermissionError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "permission") ||
		strings.Contains(msg, "not permitted") ||
		strings.Contains(msg, "accessibility")
}
