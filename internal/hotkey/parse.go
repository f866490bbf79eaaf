// Package hotkey detects press and release of a global trigger key.
//
// The central type is [Detector], a debounced press/release state machine
// driven by an [EventSource]. The production source in the xhk subpackage
// registers the key with the OS; tests substitute a fake source. This
// package deliberately has no display server dependency of its own.
package hotkey

import (
	"fmt"
	"strconv"
	"strings"
)

// Modifier is a normalized modifier name within a [KeySpec].
type Modifier string

const (
	ModCtrl  Modifier = "ctrl"
	ModShift Modifier = "shift"
	ModAlt   Modifier = "alt"
	ModSuper Modifier = "super"
)

// KeySpec is a parsed trigger key description.
//
// Key holds the normalized trigger token ("space", "f13", "a"). The token
// may itself be a modifier name ("rctrl") for bindings where holding a bare
// modifier is the trigger; whether such a binding can be registered is up to
// the event source. Code is the raw OS key code when the key was configured
// numerically, zero otherwise.
type KeySpec struct {
	Mods []Modifier
	Key  string
	Code int
}

// namedKeys is the set of multi-character key tokens ParseKeySpec accepts.
var namedKeys = map[string]bool{
	"space": true, "esc": true, "enter": true, "tab": true,
	"delete": true, "left": true, "right": true, "up": true, "down": true,
}

// modifierAliases maps accepted modifier spellings to their normalized form.
var modifierAliases = map[string]Modifier{
	"ctrl": ModCtrl, "control": ModCtrl,
	"shift": ModShift,
	"alt":   ModAlt, "option": ModAlt, "menu": ModAlt,
	"super": ModSuper, "win": ModSuper, "meta": ModSuper, "cmd": ModSuper,
}

// bareModifierKeys are tokens naming a modifier key as the trigger itself,
// for hold-a-modifier bindings like push-to-talk on right control.
var bareModifierKeys = map[string]bool{
	"ctrl": true, "lctrl": true, "rctrl": true,
	"shift": true, "lshift": true, "rshift": true,
	"alt": true, "lalt": true, "ralt": true,
	"super": true, "lsuper": true, "rsuper": true,
}

// ParseKeySpec parses strings like "ctrl+space", "ctrl+shift+f13", "a" or
// "rctrl" into a [KeySpec]. Tokens are case-insensitive and separated by '+';
// the last token is the trigger key, everything before it must be a modifier.
func ParseKeySpec(spec string) (KeySpec, error) {
	if strings.TrimSpace(spec) == "" {
		return KeySpec{}, fmt.Errorf("hotkey: empty key spec")
	}

	parts := strings.Split(spec, "+")
	for i := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(parts[i]))
	}

	keyToken := parts[len(parts)-1]
	var mods []Modifier
	for _, p := range parts[:len(parts)-1] {
		mod, ok := modifierAliases[p]
		if !ok {
			return KeySpec{}, fmt.Errorf("hotkey: %q is not a modifier in spec %q", p, spec)
		}
		mods = append(mods, mod)
	}

	if !validKeyToken(keyToken) {
		return KeySpec{}, fmt.Errorf("hotkey: unsupported key token %q in spec %q", keyToken, spec)
	}

	return KeySpec{Mods: mods, Key: keyToken}, nil
}

// FromCode builds a [KeySpec] from a raw OS key code, for keys that have no
// portable name (extra mouse-adjacent keys, exotic layouts).
func FromCode(code int) KeySpec {
	return KeySpec{Code: code}
}

// validKeyToken reports whether token names a key ParseKeySpec understands.
func validKeyToken(token string) bool {
	if len(token) == 1 {
		ch := token[0]
		return (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9')
	}
	if namedKeys[token] || bareModifierKeys[token] {
		return true
	}
	if n, ok := fKeyNumber(token); ok {
		return n >= 1 && n <= 20
	}
	return false
}

// fKeyNumber parses function key tokens ("f1".."f20").
func fKeyNumber(token string) (int, bool) {
	if !strings.HasPrefix(token, "f") || len(token) < 2 {
		return 0, false
	}
	n, err := strconv.Atoi(token[1:])
	if err != nil {
		return 0, false
	}
	return n, true
}

// IsBareModifier reports whether the key spec triggers on a modifier held
// on its own rather than a regular key.
func (k KeySpec) IsBareModifier() bool {
	return bareModifierKeys[k.Key]
}

// String renders the key spec in canonical "mod+mod+key" form.
func (k KeySpec) String() string {
	if k.Code != 0 && k.Key == "" {
		return fmt.Sprintf("code:%d", k.Code)
	}
	parts := make([]string, 0, len(k.Mods)+1)
	for _, m := range k.Mods {
		parts = append(parts, string(m))
	}
	parts = append(parts, k.Key)
	return strings.Join(parts, "+")
}
