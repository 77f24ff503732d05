package events

import "github.com/koscakluka/ema-voice/core/session"

const (
	// KindSessionFault identifies a failed interaction with the agent session.
	KindSessionFault Kind = "session.fault"
	// KindSessionRestarted identifies a successful agent restart.
	KindSessionRestarted Kind = "session.restarted"
	// KindSessionStateChanged identifies a session state transition.
	KindSessionStateChanged Kind = "session.state_changed"
)

// SessionFault carries the error that moved the session to degraded.
type SessionFault struct {
	Base
	Err error
}

func NewSessionFault(err error) SessionFault {
	return SessionFault{Base: NewBase(KindSessionFault), Err: err}
}

// Restarted marks a fresh agent process. Attempt counts restarts since the
// last fault, starting at 1.
type Restarted struct {
	Base
	Attempt int
}

func NewRestarted(attempt int) Restarted {
	return Restarted{Base: NewBase(KindSessionRestarted), Attempt: attempt}
}

type SessionStateChanged struct {
	Base
	From session.State
	To   session.State
}

func NewSessionStateChanged(from, to session.State) SessionStateChanged {
	return SessionStateChanged{Base: NewBase(KindSessionStateChanged), From: from, To: to}
}
