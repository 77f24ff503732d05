package commands

import (
	"fmt"

	"github.com/koscakluka/ema-voice/core/session"
	"github.com/koscakluka/ema-voice/core/speechtotext"
)

const (
	DefaultMinConfidence   = 0.5
	DefaultMaxEditDistance = 2
)

type Config struct {
	// MinConfidence is the lowest final confidence that is typed as text.
	MinConfidence float64
	// ControlMinConfidence is the lowest confidence a control phrase is acted
	// on with.
	ControlMinConfidence float64
	MaxEditDistance      int
	Phrases              PhraseTable
}

func DefaultConfig() Config {
	return Config{
		MinConfidence:   DefaultMinConfidence,
		MaxEditDistance: DefaultMaxEditDistance,
		Phrases:         DefaultPhrases(),
	}
}

type InterpreterOption func(*Interpreter)

// WithMatcher replaces the phrase matcher built from the config.
func WithMatcher(matcher Matcher) InterpreterOption {
	return func(i *Interpreter) {
		i.matcher = matcher
	}
}

// Interpreter maps transcript updates to directives. It keeps no state: the
// same update, session state and history always give the same directive.
type Interpreter struct {
	config  Config
	matcher Matcher
}

func NewInterpreter(config Config, opts ...InterpreterOption) (*Interpreter, error) {
	i := &Interpreter{config: config}
	for _, opt := range opts {
		opt(i)
	}
	if i.matcher == nil {
		matcher, err := NewPhraseMatcher(config.Phrases, config.MaxEditDistance)
		if err != nil {
			return nil, fmt.Errorf("invalid phrase table: %w", err)
		}
		i.matcher = matcher
	}
	return i, nil
}

// Interpret returns the directive for an update. The second result is false
// when the update is not actionable yet, which only happens for partials.
func (i *Interpreter) Interpret(update speechtotext.Update, state session.State, history []Directive) (Directive, bool) {
	directive := Directive{
		UtteranceID: update.UtteranceID,
		Ordinal:     update.Ordinal,
		Confidence:  update.Confidence,
	}

	switch update.Kind {
	case speechtotext.KindError:
		directive.Kind = DirectiveCancel
		directive.Reason = ReasonTranscriptionError
		return directive, true

	case speechtotext.KindPartial:
		// A partial cancel cannot be taken back, so it has to be exact.
		match, ok := i.matcher.Match(update.Text)
		if ok && match.Distance == 0 && match.Action == ActionCancel && update.Confidence >= i.config.ControlMinConfidence {
			directive.Kind = DirectiveCancel
			directive.Reason = ReasonSpoken
			directive.Heard = match.Phrase
			return directive, true
		}
		return Directive{}, false

	case speechtotext.KindFinal:
		directive.Heard = NormalizeTranscript(update.Text)
		if matchKey(directive.Heard) == "" {
			directive.Kind = DirectiveUnrecognized
			directive.Reason = ReasonEmpty
			return directive, true
		}
		if match, ok := i.matcher.Match(directive.Heard); ok && update.Confidence >= i.config.ControlMinConfidence {
			return resolveAction(directive, match.Action, state, history), true
		}
		if update.Confidence < i.config.MinConfidence {
			directive.Kind = DirectiveUnrecognized
			directive.Reason = ReasonLowConfidence
			return directive, true
		}
		directive.Kind = DirectiveInsertText
		directive.Text = directive.Heard
		return directive, true
	}

	return Directive{}, false
}

func resolveAction(directive Directive, action string, state session.State, history []Directive) Directive {
	switch action {
	case ActionCancel:
		directive.Kind = DirectiveCancel
		directive.Reason = ReasonSpoken
		return directive

	case ActionRepeat:
		for j := len(history) - 1; j >= 0; j-- {
			previous := history[j]
			if previous.Kind == DirectiveControlAction && previous.Action != ActionRestart {
				directive.Kind = DirectiveControlAction
				directive.Action = previous.Action
				return directive
			}
		}
		directive.Kind = DirectiveUnrecognized
		directive.Reason = ReasonNothingToRepeat
		return directive

	case ActionRestart:
		// Restarting a healthy agent would throw away its work.
		if state != session.StateDegraded && state != session.StateTerminated {
			directive.Kind = DirectiveUnrecognized
			directive.Reason = ReasonNotApplicable
			return directive
		}
	}

	directive.Kind = DirectiveControlAction
	directive.Action = action
	return directive
}
