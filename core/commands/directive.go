// Package commands interprets transcript updates as directives for the
// agent session.
package commands

import "fmt"

type DirectiveKind string

const (
	DirectiveInsertText    DirectiveKind = "insert_text"
	DirectiveControlAction DirectiveKind = "control_action"
	DirectiveCancel        DirectiveKind = "cancel"
	DirectiveUnrecognized  DirectiveKind = "unrecognized"
)

// Reasons attached to Cancel and Unrecognized directives.
const (
	ReasonSpoken             = "spoken"
	ReasonTranscriptionError = "transcription_error"
	ReasonLowConfidence      = "low_confidence"
	ReasonEmpty              = "empty"
	ReasonNotApplicable      = "not_applicable"
	ReasonNothingToRepeat    = "nothing_to_repeat"
)

// Directive is the interpreted meaning of one transcript update.
type Directive struct {
	Kind        DirectiveKind
	UtteranceID string
	// Ordinal is the acceptance order of the utterance.
	Ordinal    uint64
	Confidence float64

	// Text is set for InsertText.
	Text string
	// Action is set for ControlAction.
	Action string
	// Reason is set for Cancel and Unrecognized.
	Reason string
	// Heard is the normalized transcript the directive came from.
	Heard string
}

// CancelsEarlier reports whether the directive cancels every pending
// directive up to and including its own utterance, as opposed to only its own
// utterance.
func (d Directive) CancelsEarlier() bool {
	return d.Kind == DirectiveCancel && d.Reason == ReasonSpoken
}

func (d Directive) String() string {
	switch d.Kind {
	case DirectiveInsertText:
		return fmt.Sprintf("insert %q", d.Text)
	case DirectiveControlAction:
		return "control " + d.Action
	case DirectiveCancel:
		return "cancel (" + d.Reason + ")"
	case DirectiveUnrecognized:
		return "unrecognized (" + d.Reason + ")"
	}
	return string(d.Kind)
}
