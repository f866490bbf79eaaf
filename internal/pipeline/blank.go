package pipeline

import "strings"

// blankSentinels are the tokens whisper emits for silence or noise-only
// audio. A result consisting solely of these carries no usable text.
var blankSentinels = map[string]bool{
	"[blank_audio]":   true,
	"[silence]":       true,
	"(silence)":       true,
	"[inaudible]":     true,
	"[sound]":         true,
	"[music]":         true,
	"(wind blowing)":  true,
	"(breathing)":     true,
	"[typing sounds]": true,
}

// isBlank reports whether text contains no transcribable speech: empty
// after trimming, or made up entirely of blank-audio sentinel tokens.
func isBlank(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}

	rest := strings.ToLower(trimmed)
	for rest != "" {
		matched := false
		for sentinel := range blankSentinels {
			if strings.HasPrefix(rest, sentinel) {
				rest = strings.TrimSpace(rest[len(sentinel):])
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
