// Package keymap holds the literal key-code lookup table for raw key
// events. Callers embed WebDriver sentinel codepoints (the U+E000 private
// block) in text to request control keys; everything below the threshold
// is a printable character.
package keymap

// ControlThreshold is the first codepoint of the sentinel control block.
const ControlThreshold = ''

// Key is one control key: its protocol name and platform virtual-key code.
type Key struct {
	Name string
	Code int
}

var keys = map[rune]Key{
	'': {"Backspace", 8},
	'': {"Tab", 9},
	'': {"Enter", 13},
	'': {"Enter", 13},
	'': {"Shift", 16},
	'': {"Control", 17},
	'': {"Alt", 18},
	'': {"Pause", 19},
	'': {"Escape", 27},
	'': {"Space", 32},
	'': {"PageUp", 33},
	'': {"PageDown", 34},
	'': {"End", 35},
	'': {"Home", 36},
	'': {"ArrowLeft", 37},
	'': {"ArrowUp", 38},
	'': {"ArrowRight", 39},
	'': {"ArrowDown", 40},
	'': {"Insert", 45},
	'': {"Delete", 46},
	'': {"F1", 112},
	'': {"F2", 113},
	'': {"F3", 114},
	'': {"F4", 115},
	'': {"F5", 116},
	'': {"F6", 117},
	'': {"F7", 118},
	'': {"F8", 119},
	'': {"F9", 120},
	'': {"F10", 121},
	'': {"F11", 122},
	'': {"F12", 123},
}

// IsControl reports whether the rune is a sentinel control codepoint.
func IsControl(r rune) bool { return r >= ControlThreshold }

// Lookup resolves a sentinel codepoint to its key. Unknown codepoints in
// the control block return false; callers skip them with a warning rather
// than guess a code.
func Lookup(r rune) (Key, bool) {
	k, ok := keys[r]
	return k, ok
}
