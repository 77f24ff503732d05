package session

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownKey is returned for a control key name that has no byte
// sequence. It says nothing about the health of the session.
var ErrUnknownKey = errors.New("unknown control key")

// keySequences are the VT100/xterm input sequences for named keys.
var keySequences = map[string]string{
	"enter":   "\r",
	"submit":  "\r",
	"newline": "\n",
	"tab":     "\t",

	"esc":       "\x1b",
	"escape":    "\x1b",
	"interrupt": "\x03",
	"ctrl-c":    "\x03",
	"ctrl-d":    "\x04",
	"ctrl-z":    "\x1a",
	"backspace": "\x7f",

	"up":    "\x1b[A",
	"down":  "\x1b[B",
	"right": "\x1b[C",
	"left":  "\x1b[D",

	"home":     "\x1b[H",
	"end":      "\x1b[F",
	"pageup":   "\x1b[5~",
	"pagedown": "\x1b[6~",
	"insert":   "\x1b[2~",
	"delete":   "\x1b[3~",

	"f1":  "\x1bOP",
	"f2":  "\x1bOQ",
	"f3":  "\x1bOR",
	"f4":  "\x1bOS",
	"f5":  "\x1b[15~",
	"f6":  "\x1b[17~",
	"f7":  "\x1b[18~",
	"f8":  "\x1b[19~",
	"f9":  "\x1b[20~",
	"f10": "\x1b[21~",
	"f11": "\x1b[23~",
	"f12": "\x1b[24~",

	"shift-tab": "\x1b[Z",
	// xterm modifyOtherKeys
	"shift-enter": "\x1b[13;2u",
}

// KeySequence returns the bytes typed for a named key. Names are case
// insensitive.
func KeySequence(name string) ([]byte, error) {
	sequence, ok := keySequences[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, name)
	}
	return []byte(sequence), nil
}

// KeyNames lists every known key name, sorted.
func KeyNames() []string {
	names := make([]string, 0, len(keySequences))
	for name := range keySequences {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
