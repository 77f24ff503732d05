package commands

import (
	"fmt"
	"sort"
)

// Actions the interpreter handles itself. Every other action is a key name
// for the session.
const (
	ActionCancel  = "cancel"
	ActionRepeat  = "repeat"
	ActionRestart = "restart"
	ActionSubmit  = "submit"
)

// PhraseTable maps a canonical spoken phrase to an action name.
type PhraseTable map[string]string

func DefaultPhrases() PhraseTable {
	return PhraseTable{
		"cancel":       ActionCancel,
		"stop":         ActionCancel,
		"never mind":   ActionCancel,
		"scratch that": ActionCancel,

		"submit":      ActionSubmit,
		"send it":     ActionSubmit,
		"press enter": ActionSubmit,
		"enter":       ActionSubmit,
		"yes":         ActionSubmit,
		"confirm":     ActionSubmit,

		"escape":       "escape",
		"press escape": "escape",
		"no":           "escape",
		"dismiss":      "escape",

		"interrupt": "interrupt",
		"control c": "interrupt",

		"up":        "up",
		"go up":     "up",
		"down":      "down",
		"go down":   "down",
		"left":      "left",
		"right":     "right",
		"tab":       "tab",
		"shift tab": "shift-tab",
		"new line":  "newline",
		"page up":   "pageup",
		"page down": "pagedown",

		"again":       ActionRepeat,
		"repeat that": ActionRepeat,

		"restart session": ActionRestart,
		"restart agent":   ActionRestart,
	}
}

// Phrase is one entry of a PhraseTable in match form.
type Phrase struct {
	Text   string
	Action string
}

// Normalize returns the table with every phrase in match form, sorted by
// phrase. It fails when two phrases collapse to the same text with different
// actions.
func (t PhraseTable) Normalize() ([]Phrase, error) {
	seen := map[string]string{}
	phrases := make([]Phrase, 0, len(t))
	for text, action := range t {
		key := matchKey(text)
		if key == "" || action == "" {
			return nil, fmt.Errorf("phrase %q: phrase and action must not be empty", text)
		}
		if existing, ok := seen[key]; ok {
			if existing != action {
				return nil, fmt.Errorf("phrase %q maps to both %q and %q", key, existing, action)
			}
			continue
		}
		seen[key] = action
		phrases = append(phrases, Phrase{Text: key, Action: action})
	}
	sort.Slice(phrases, func(i, j int) bool { return phrases[i].Text < phrases[j].Text })
	return phrases, nil
}

// Actions lists the distinct actions of the table, sorted.
func (t PhraseTable) Actions() []string {
	seen := map[string]struct{}{}
	var actions []string
	for _, action := range t {
		if _, ok := seen[action]; ok {
			continue
		}
		seen[action] = struct{}{}
		actions = append(actions, action)
	}
	sort.Strings(actions)
	return actions
}
