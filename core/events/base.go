package events

import "time"

type Kind string

// Event is one observability signal of the pipeline. Events describe what
// happened; no component depends on them being handled.
type Event interface {
	Kind() Kind
	Timestamp() time.Time
}

type Base struct {
	kind      Kind
	timestamp time.Time
}

func NewBase(kind Kind) Base {
	return NewBaseAt(kind, time.Now())
}

// NewBaseAt creates a base stamped with a known time, such as the capture
// time of the audio the event is about.
func NewBaseAt(kind Kind, timestamp time.Time) Base {
	return Base{kind: kind, timestamp: timestamp}
}

func (b Base) Kind() Kind {
	return b.kind
}

func (b Base) Timestamp() time.Time {
	return b.timestamp
}

// Handler receives pipeline events. Handlers are called synchronously from
// pipeline goroutines and must not block.
type Handler func(Event)
