package commands

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var typographyReplacer = strings.NewReplacer(
	"\u2018", "'", "\u2019", "'", "\u201a", "'", "\u2032", "'",
	"\u201c", `"`, "\u201d", `"`, "\u201e", `"`, "\u2033", `"`,
	"\u2013", "-", "\u2014", "-", "\u2212", "-",
	"\u2026", "...",
	"\u00a0", " ", "\u202f", " ",
)

// NormalizeTranscript prepares recognized text for typing: NFC form, ASCII
// quotes and dashes, single spaces and no space before punctuation.
func NormalizeTranscript(text string) string {
	text = typographyReplacer.Replace(norm.NFC.String(text))
	text = strings.Join(strings.Fields(text), " ")

	var b strings.Builder
	b.Grow(len(text))
	for i, r := range text {
		if r == ' ' && i+1 < len(text) && strings.ContainsRune(",.;:!?", rune(text[i+1])) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// matchKey reduces text to the form phrases are compared in: case folded,
// without punctuation, single spaces.
func matchKey(text string) string {
	folded := cases.Fold().String(typographyReplacer.Replace(norm.NFC.String(text)))
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r == '\'':
			return -1
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			return ' '
		}
		return r
	}, folded)
	return strings.Join(strings.Fields(mapped), " ")
}
