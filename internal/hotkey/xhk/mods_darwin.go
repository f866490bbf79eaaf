//go:build darwin

package xhk

import (
	xhotkey "golang.design/x/hotkey"

	"github.com/whisperkey/whisperkey/internal/hotkey"
)

var systemMods = map[hotkey.Modifier]xhotkey.Modifier{
	hotkey.ModCtrl:  xhotkey.ModCtrl,
	hotkey.ModShift: xhotkey.ModShift,
	hotkey.ModAlt:   xhotkey.ModOption,
	hotkey.ModSuper: xhotkey.ModCmd,
}
