// Package speechtotext turns closed utterances into ordered transcript
// updates on top of an external speech recognizer.
package speechtotext

import (
	"context"
	"errors"
	"time"

	"github.com/koscakluka/ema-voice/core/audio"
)

// ErrTranscription marks a failed utterance. It is carried by error updates
// and never retried.
var ErrTranscription = errors.New("transcription error")

type Kind string

const (
	KindPartial Kind = "partial"
	KindFinal   Kind = "final"
	KindError   Kind = "error"
)

// IsTerminal reports whether no more updates may follow for the utterance.
func (k Kind) IsTerminal() bool {
	return k == KindFinal || k == KindError
}

// Update is one transcript update for an utterance.
type Update struct {
	UtteranceID string
	Ordinal     uint64
	Seq         int
	Text        string
	Kind        Kind
	Confidence  float64
	Err         error
}

// Utterance is the audio of one closed segment handed to a recognizer.
type Utterance struct {
	ID           string
	Ordinal      uint64
	Audio        []byte
	EncodingInfo audio.EncodingInfo
	Duration     time.Duration
}

// Result is one response from a recognizer. Seq must grow with every result
// the recognizer produces, even if they arrive out of order.
type Result struct {
	Seq        int
	Text       string
	IsFinal    bool
	Confidence float64
	Err        error
}

// Recognizer is the external speech recognizer. Recognize starts recognizing
// an utterance and streams results until the final one. Implementations stop
// sending once ctx is done and always close the channel when they stop.
type Recognizer interface {
	Recognize(ctx context.Context, utterance Utterance) (<-chan Result, error)
}
