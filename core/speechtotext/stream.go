package speechtotext

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	errCanceled     = errors.New("utterance canceled")
	errTimeout      = errors.New("recognizer timed out")
	errNoFinal      = errors.New("recognizer closed the stream without a final result")
	errNoRecognizer = errors.New("no recognizer configured")
)

// Stream enforces the update ordering rules on top of a Recognizer: stale
// results are dropped, exactly one terminal update ends an utterance, and
// partials are shed when the consumer falls behind.
type Stream struct {
	recognizer Recognizer
	timeout    time.Duration

	mu       sync.Mutex
	inFlight map[string]context.CancelCauseFunc
}

func NewStream(recognizer Recognizer, opts ...StreamOption) *Stream {
	s := &Stream{
		recognizer: recognizer,
		timeout:    DefaultTimeout,
		inFlight:   map[string]context.CancelCauseFunc{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Transcribe submits the utterance and returns its updates. The channel is
// closed after the terminal update, or without one when the utterance is
// canceled or ctx ends.
func (s *Stream) Transcribe(ctx context.Context, utterance Utterance) <-chan Update {
	out := make(chan Update)

	cancelCtx, cancel := context.WithCancelCause(ctx)
	s.mu.Lock()
	s.inFlight[utterance.ID] = cancel
	s.mu.Unlock()

	go func() {
		defer close(out)
		defer func() {
			s.mu.Lock()
			delete(s.inFlight, utterance.ID)
			s.mu.Unlock()
			cancel(nil)
		}()
		s.run(cancelCtx, utterance, out)
	}()

	return out
}

// Cancel aborts recognition of the utterance. It is a no-op for unknown or
// finished utterances.
func (s *Stream) Cancel(utteranceID string) {
	s.mu.Lock()
	cancel, ok := s.inFlight[utteranceID]
	s.mu.Unlock()
	if ok {
		cancel(errCanceled)
	}
}

func (s *Stream) run(ctx context.Context, utterance Utterance, out chan<- Update) {
	ctx, span := tracer.Start(ctx, "transcribe utterance")
	defer span.End()
	span.SetAttributes(
		attribute.String("utterance.id", utterance.ID),
		attribute.Int("utterance.audio_bytes", len(utterance.Audio)),
	)

	sendTerminal := func(update Update) {
		if update.Kind == KindError {
			span.RecordError(update.Err)
			span.SetStatus(codes.Error, "transcription failed")
		}
		select {
		case out <- update:
		case <-ctx.Done():
		}
	}
	fail := func(seq int, err error) {
		sendTerminal(Update{
			UtteranceID: utterance.ID,
			Ordinal:     utterance.Ordinal,
			Seq:         seq,
			Kind:        KindError,
			Err:         fmt.Errorf("%w: %w", ErrTranscription, err),
		})
	}

	if s.recognizer == nil {
		fail(0, errNoRecognizer)
		return
	}

	recognizeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if s.timeout > 0 {
		recognizeCtx, cancel = context.WithTimeoutCause(recognizeCtx, s.timeout, errTimeout)
		defer cancel()
	}

	results, err := s.recognizer.Recognize(recognizeCtx, utterance)
	if err != nil {
		if ctx.Err() == nil {
			fail(0, err)
		}
		return
	}
	defer func() {
		// Whatever the recognizer still sends is ignored.
		go func() {
			for range results {
			}
		}()
	}()

	lastSeq, accepted := 0, false
	var pending *Update
	for {
		var sendCh chan<- Update
		var next Update
		if pending != nil {
			sendCh = out
			next = *pending
		}

		select {
		case sendCh <- next:
			pending = nil

		case result, ok := <-results:
			if !ok {
				fail(lastSeq+1, errNoFinal)
				return
			}
			if accepted && result.Seq <= lastSeq {
				logger.DebugContext(ctx, "dropping stale transcript result",
					"utterance_id", utterance.ID, "seq", result.Seq, "last_seq", lastSeq)
				continue
			}
			lastSeq, accepted = result.Seq, true

			switch {
			case result.Err != nil:
				fail(result.Seq, result.Err)
				return
			case result.IsFinal:
				span.SetAttributes(attribute.Float64("transcript.confidence", result.Confidence))
				sendTerminal(Update{
					UtteranceID: utterance.ID,
					Ordinal:     utterance.Ordinal,
					Seq:         result.Seq,
					Text:        result.Text,
					Kind:        KindFinal,
					Confidence:  clampConfidence(result.Confidence),
				})
				return
			default:
				// A newer partial replaces one the consumer has not taken yet.
				pending = &Update{
					UtteranceID: utterance.ID,
					Ordinal:     utterance.Ordinal,
					Seq:         result.Seq,
					Text:        result.Text,
					Kind:        KindPartial,
					Confidence:  clampConfidence(result.Confidence),
				}
			}

		case <-recognizeCtx.Done():
			if ctx.Err() != nil {
				// Canceled by the caller or the pipeline is shutting down.
				return
			}
			if errors.Is(context.Cause(recognizeCtx), errTimeout) {
				fail(lastSeq+1, errTimeout)
			}
			return
		}
	}
}

func clampConfidence(confidence float64) float64 {
	switch {
	case confidence < 0:
		return 0
	case confidence > 1:
		return 1
	}
	return confidence
}
