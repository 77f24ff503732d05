package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/koscakluka/ema-voice/core/commands"
	"github.com/koscakluka/ema-voice/core/session"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("8"))).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

// writePhrases renders the phrase table in match form, grouped by action.
func writePhrases(w io.Writer, phraseTable commands.PhraseTable) error {
	phrases, err := phraseTable.Normalize()
	if err != nil {
		return err
	}
	sort.SliceStable(phrases, func(i, j int) bool {
		return phrases[i].Action < phrases[j].Action
	})

	t := newTable("PHRASE", "ACTION", "KIND")
	for _, phrase := range phrases {
		t.Row(phrase.Text, phrase.Action, actionKind(phrase.Action))
	}
	_, err = fmt.Fprintln(w, t.String())
	return err
}

func actionKind(action string) string {
	switch action {
	case commands.ActionCancel, commands.ActionRepeat, commands.ActionRestart:
		return "pipeline"
	default:
		return "key"
	}
}

// writeKeys renders the key names the session understands with their byte
// sequences.
func writeKeys(w io.Writer) error {
	t := newTable("KEY", "SEQUENCE")
	for _, name := range session.KeyNames() {
		sequence, err := session.KeySequence(name)
		if err != nil {
			return err
		}
		t.Row(name, strconv.Quote(string(sequence)))
	}
	_, err := fmt.Fprintln(w, t.String())
	return err
}
