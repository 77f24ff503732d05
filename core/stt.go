package orchestration

import (
	"context"

	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/speechtotext"
	"github.com/koscakluka/ema-voice/core/vad"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// runTranscription transcribes closed utterances one at a time, in order,
// and submits the interpreted directives. Spoken cancels coming back from
// the dispatcher abort the utterance being recognized and skip queued ones
// they cover.
func (p *Pipeline) runTranscription(ctx context.Context, segments <-chan *vad.Segment) error {
	var canceledThrough uint64
	for {
		select {
		case <-ctx.Done():
			return nil

		case cancellation := <-p.dispatcher.Cancellations():
			canceledThrough = max(canceledThrough, cancellation.Ordinal)

		case segment, ok := <-segments:
			if !ok {
				return nil
			}
			if segment.Ordinal <= canceledThrough {
				segment.Reason = reasonCanceled
				p.emitDiscarded(segment)
				continue
			}
			canceledThrough = p.transcribe(ctx, segment, canceledThrough)
		}
	}
}

func (p *Pipeline) transcribe(ctx context.Context, segment *vad.Segment, canceledThrough uint64) uint64 {
	ctx, span := tracer.Start(ctx, "process utterance", trace.WithAttributes(
		attribute.String("utterance.id", segment.ID),
		attribute.Int64("utterance.ordinal", int64(segment.Ordinal)),
	))
	defer span.End()

	updates := p.stream.Transcribe(ctx, speechtotext.Utterance{
		ID:           segment.ID,
		Ordinal:      segment.Ordinal,
		Audio:        segment.Audio(),
		EncodingInfo: p.capture.EncodingInfo(),
		Duration:     segment.Duration(),
	})

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return canceledThrough
			}
			p.emit(events.NewTranscriptUpdated(update))
			if update.Kind == speechtotext.KindError {
				span.RecordError(update.Err)
				span.SetStatus(codes.Error, "transcription failed")
			}

			directive, ok := p.interpreter.Interpret(update, p.dispatcher.State(), p.dispatcher.History())
			if ok {
				p.dispatcher.Submit(directive)
			}

		case cancellation := <-p.dispatcher.Cancellations():
			canceledThrough = max(canceledThrough, cancellation.Ordinal)
			if cancellation.Ordinal >= segment.Ordinal {
				logger.Debug("aborting canceled transcription", "utterance_id", segment.ID)
				p.stream.Cancel(segment.ID)
			}

		case <-ctx.Done():
			return canceledThrough
		}
	}
}
