package commands

import (
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Match is a phrase a transcript was matched to.
type Match struct {
	Phrase   string
	Action   string
	Distance int
}

// Matcher finds the control phrase an entire transcript corresponds to.
type Matcher interface {
	Match(text string) (Match, bool)
}

// DistanceFunc is the similarity measure used for fuzzy matches.
type DistanceFunc func(a, b string) int

type PhraseMatcherOption func(*PhraseMatcher)

func WithDistance(distance DistanceFunc) PhraseMatcherOption {
	return func(m *PhraseMatcher) {
		m.distance = distance
	}
}

// minFuzzyRunes is the shortest phrase matched by edit distance. Shorter
// phrases are mostly single words one edit away from other words ("stop" and
// "top", "left" and "lift"), so they only match exactly.
const minFuzzyRunes = 9

// PhraseMatcher matches exactly first, then by edit distance. A phrase of at
// least minFuzzyRunes tolerates one edit per four runes, capped by
// maxDistance.
type PhraseMatcher struct {
	phrases     []Phrase
	exact       map[string]string
	maxDistance int
	distance    DistanceFunc
}

var _ Matcher = (*PhraseMatcher)(nil)

func NewPhraseMatcher(table PhraseTable, maxDistance int, opts ...PhraseMatcherOption) (*PhraseMatcher, error) {
	phrases, err := table.Normalize()
	if err != nil {
		return nil, err
	}
	m := &PhraseMatcher{
		phrases:     phrases,
		exact:       make(map[string]string, len(phrases)),
		maxDistance: maxDistance,
		distance:    levenshtein.ComputeDistance,
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, phrase := range phrases {
		m.exact[phrase.Text] = phrase.Action
	}
	return m, nil
}

func (m *PhraseMatcher) Match(text string) (Match, bool) {
	key := matchKey(text)
	if key == "" {
		return Match{}, false
	}
	if action, ok := m.exact[key]; ok {
		return Match{Phrase: key, Action: action}, true
	}
	if m.maxDistance <= 0 {
		return Match{}, false
	}

	best := Match{Distance: -1}
	ambiguous := false
	keyLength := utf8.RuneCountInString(key)
	for _, phrase := range m.phrases {
		phraseLength := utf8.RuneCountInString(phrase.Text)
		if phraseLength < minFuzzyRunes {
			continue
		}
		allowed := min(m.maxDistance, phraseLength/4)
		if allowed == 0 || abs(phraseLength-keyLength) > allowed {
			continue
		}
		distance := m.distance(key, phrase.Text)
		if distance > allowed {
			continue
		}
		switch {
		case best.Distance < 0 || distance < best.Distance:
			best = Match{Phrase: phrase.Text, Action: phrase.Action, Distance: distance}
			ambiguous = false
		case distance == best.Distance && phrase.Action != best.Action:
			ambiguous = true
		}
	}
	if best.Distance < 0 || ambiguous {
		return Match{}, false
	}
	return best, true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
