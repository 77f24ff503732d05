package events

import "time"

const (
	// KindUtteranceOpened identifies the start of detected speech.
	KindUtteranceOpened Kind = "utterance.opened"
	// KindUtteranceClosed identifies a closed utterance handed to transcription.
	KindUtteranceClosed Kind = "utterance.closed"
	// KindUtteranceDiscarded identifies speech that was dropped before
	// transcription.
	KindUtteranceDiscarded Kind = "utterance.discarded"
)

// UtteranceOpened marks the first frame of a new utterance.
type UtteranceOpened struct {
	Base
	UtteranceID string
	Ordinal     uint64
}

// NewUtteranceOpened creates an utterance opened event at the speech start.
func NewUtteranceOpened(utteranceID string, ordinal uint64, start time.Time) UtteranceOpened {
	return UtteranceOpened{Base: NewBaseAt(KindUtteranceOpened, start), UtteranceID: utteranceID, Ordinal: ordinal}
}

// UtteranceClosed marks the end of an utterance that will be transcribed.
type UtteranceClosed struct {
	Base
	UtteranceID string
	Ordinal     uint64
	Start       time.Time
	End         time.Time
	Frames      int
	Reason      string
}

// NewUtteranceClosed creates an utterance closed event.
func NewUtteranceClosed(utteranceID string, ordinal uint64, start, end time.Time, frames int, reason string) UtteranceClosed {
	return UtteranceClosed{
		Base:        NewBase(KindUtteranceClosed),
		UtteranceID: utteranceID,
		Ordinal:     ordinal,
		Start:       start,
		End:         end,
		Frames:      frames,
		Reason:      reason,
	}
}

func (e UtteranceClosed) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// UtteranceDiscarded marks speech that is never transcribed, either because
// it was too short or because listening was switched off.
type UtteranceDiscarded struct {
	Base
	UtteranceID string
	Ordinal     uint64
	Start       time.Time
	End         time.Time
	Reason      string
}

// NewUtteranceDiscarded creates an utterance discarded event.
func NewUtteranceDiscarded(utteranceID string, ordinal uint64, start, end time.Time, reason string) UtteranceDiscarded {
	return UtteranceDiscarded{
		Base:        NewBase(KindUtteranceDiscarded),
		UtteranceID: utteranceID,
		Ordinal:     ordinal,
		Start:       start,
		End:         end,
		Reason:      reason,
	}
}
