package vad

import (
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-voice/core/audio"
)

type Status int

const (
	StatusOpen Status = iota
	StatusClosed
	StatusDiscarded
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	case StatusDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Segment is one utterance: the contiguous frames from speech start to speech
// end.
type Segment struct {
	ID      string
	Ordinal uint64
	Start   time.Time
	End     time.Time
	Status  Status
	Frames  []audio.Frame

	// Reason explains why a segment was discarded or force closed.
	Reason string
}

func (s *Segment) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Audio concatenates the PCM of all frames.
func (s *Segment) Audio() []byte {
	size := 0
	for _, frame := range s.Frames {
		size += len(frame.PCM)
	}
	pcm := make([]byte, 0, size)
	for _, frame := range s.Frames {
		pcm = append(pcm, frame.PCM...)
	}
	return pcm
}

// IDGenerator returns a new unique utterance ID on every call.
type IDGenerator func() string

func newUUID() string {
	return uuid.NewString()
}
