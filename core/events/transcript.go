package events

import "github.com/koscakluka/ema-voice/core/speechtotext"

// KindTranscriptUpdated identifies an accepted transcript update.
const KindTranscriptUpdated Kind = "transcript.updated"

// TranscriptUpdated carries an update accepted by the transcription stream.
// Stale and shed updates never show up here.
type TranscriptUpdated struct {
	Base
	Update speechtotext.Update
}

// NewTranscriptUpdated creates a transcript updated event.
func NewTranscriptUpdated(update speechtotext.Update) TranscriptUpdated {
	return TranscriptUpdated{Base: NewBase(KindTranscriptUpdated), Update: update}
}
