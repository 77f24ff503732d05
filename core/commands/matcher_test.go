package commands

import "testing"

func TestPhraseMatcherMatchesExactPhrases(t *testing.T) {
	matcher, err := NewPhraseMatcher(DefaultPhrases(), DefaultMaxEditDistance)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := map[string]string{
		"Cancel.":         ActionCancel,
		"  NEVER   mind ": ActionCancel,
		"Scratch that!":   ActionCancel,
		"go up":           "up",
		"Shift-Tab":       "shift-tab",
		"yes":             ActionSubmit,
		"Restart session": ActionRestart,
	}
	for text, action := range cases {
		match, ok := matcher.Match(text)
		if !ok {
			t.Fatalf("expected %q to match, got no match", text)
		}
		if match.Action != action {
			t.Fatalf("expected %q to map to %q, got %q", text, action, match.Action)
		}
		if match.Distance != 0 {
			t.Fatalf("expected exact match for %q, got distance %d", text, match.Distance)
		}
	}
}

func TestPhraseMatcherToleratesMinorNoise(t *testing.T) {
	matcher, err := NewPhraseMatcher(DefaultPhrases(), DefaultMaxEditDistance)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	match, ok := matcher.Match("scratch dat")
	if !ok || match.Action != ActionCancel {
		t.Fatalf("expected fuzzy cancel match, got %+v (%v)", match, ok)
	}
	if match.Distance != 2 {
		t.Fatalf("expected distance 2, got %d", match.Distance)
	}

	match, ok = matcher.Match("restart sesion")
	if !ok || match.Action != ActionRestart {
		t.Fatalf("expected fuzzy restart match, got %+v (%v)", match, ok)
	}
}

func TestPhraseMatcherShortPhrasesMatchExactlyOnly(t *testing.T) {
	matcher, err := NewPhraseMatcher(DefaultPhrases(), DefaultMaxEditDistance)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, text := range []string{"so", "yet", "nope", "tap", "op"} {
		if match, ok := matcher.Match(text); ok {
			t.Fatalf("expected %q not to match, got %+v", text, match)
		}
	}
}

func TestPhraseMatcherSingleWordsNeedExactMatch(t *testing.T) {
	matcher, err := NewPhraseMatcher(DefaultPhrases(), DefaultMaxEditDistance)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Each is one edit away from a control word.
	for _, text := range []string{"top", "shop", "step", "light", "center", "town", "lift", "cancer"} {
		if match, ok := matcher.Match(text); ok {
			t.Fatalf("expected %q not to match, got %+v", text, match)
		}
	}
}

func TestPhraseMatcherRejectsDictation(t *testing.T) {
	matcher, err := NewPhraseMatcher(DefaultPhrases(), DefaultMaxEditDistance)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, text := range []string{
		"insert a comment saying hello",
		"cancel the order when the user clicks stop",
		"",
		"...",
	} {
		if match, ok := matcher.Match(text); ok {
			t.Fatalf("expected %q not to match, got %+v", text, match)
		}
	}
}

func TestPhraseMatcherAmbiguousFuzzyMatchIsNoMatch(t *testing.T) {
	table := PhraseTable{
		"alpha one": "first",
		"alpha two": "second",
	}
	matcher, err := NewPhraseMatcher(table, 2, WithDistance(func(a, b string) int { return 1 }))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if match, ok := matcher.Match("alpha six"); ok {
		t.Fatalf("expected ambiguous match to be rejected, got %+v", match)
	}
}

func TestPhraseMatcherDisabledFuzzyMatching(t *testing.T) {
	matcher, err := NewPhraseMatcher(DefaultPhrases(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := matcher.Match("scratch dat"); ok {
		t.Fatalf("expected no fuzzy match with a zero distance budget")
	}
	if _, ok := matcher.Match("scratch that"); !ok {
		t.Fatalf("expected exact match with a zero distance budget")
	}
}

func TestPhraseTableNormalizeDetectsConflicts(t *testing.T) {
	table := PhraseTable{
		"Go Up": "up",
		"go up": "down",
	}
	if _, err := table.Normalize(); err == nil {
		t.Fatalf("expected conflicting phrases to fail")
	}

	table = PhraseTable{"": "up"}
	if _, err := table.Normalize(); err == nil {
		t.Fatalf("expected empty phrase to fail")
	}
}

func TestNormalizeTranscript(t *testing.T) {
	cases := map[string]string{
		"  hello   world  ":  "hello world",
		"it’s done — really": "it's done - really",
		"wait …":             "wait...",
		"“quoted” , ok .":    `"quoted", ok.`,
		"tab\tand\nnewline":  "tab and newline",
		"e\u0301":            "\u00e9",
		"":                   "",
	}
	for in, want := range cases {
		if got := NormalizeTranscript(in); got != want {
			t.Fatalf("expected %q for %q, got %q", want, in, got)
		}
	}
}
