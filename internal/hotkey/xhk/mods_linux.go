//go:build linux

package xhk

import (
	xhotkey "golang.design/x/hotkey"

	"github.com/whisperkey/whisperkey/internal/hotkey"
)

// systemMods maps normalized modifiers to X11 modifier masks. Mod1 is alt
// and Mod4 is super on stock keymaps.
var systemMods = map[hotkey.Modifier]xhotkey.Modifier{
	hotkey.ModCtrl:  xhotkey.ModCtrl,
	hotkey.ModShift: xhotkey.ModShift,
	hotkey.ModAlt:   xhotkey.Mod1,
	hotkey.ModSuper: xhotkey.Mod4,
}
