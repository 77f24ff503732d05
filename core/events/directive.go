package events

import (
	"time"

	"github.com/koscakluka/ema-voice/core/commands"
)

const (
	// KindDirectiveProduced identifies a directive produced by the interpreter.
	KindDirectiveProduced Kind = "directive.produced"
	// KindDirectiveDelivered identifies a directive written to the session.
	KindDirectiveDelivered Kind = "directive.delivered"
	// KindDirectiveDropped identifies a directive that will never be
	// delivered.
	KindDirectiveDropped Kind = "directive.dropped"
)

type DirectiveProduced struct {
	Base
	Directive commands.Directive
}

func NewDirectiveProduced(directive commands.Directive) DirectiveProduced {
	return DirectiveProduced{Base: NewBase(KindDirectiveProduced), Directive: directive}
}

// DirectiveDelivered marks a directive accepted by the session terminal.
// Took is the time spent writing it, including an automatic submit.
type DirectiveDelivered struct {
	Base
	Directive commands.Directive
	Took      time.Duration
}

func NewDirectiveDelivered(directive commands.Directive, took time.Duration) DirectiveDelivered {
	return DirectiveDelivered{Base: NewBase(KindDirectiveDelivered), Directive: directive, Took: took}
}

type DirectiveDropped struct {
	Base
	Directive commands.Directive
	Reason    string
}

func NewDirectiveDropped(directive commands.Directive, reason string) DirectiveDropped {
	return DirectiveDropped{Base: NewBase(KindDirectiveDropped), Directive: directive, Reason: reason}
}
