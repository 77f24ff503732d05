package orchestration

import (
	"context"

	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/vad"
)

const (
	reasonMuted    = "muted"
	reasonCanceled = "canceled"
)

// runDetection groups frames into utterances and hands closed ones to
// transcription, waiting when the segment queue is full.
func (p *Pipeline) runDetection(ctx context.Context, frames <-chan audio.Frame, segments chan<- *vad.Segment) error {
	defer close(segments)

	muted := false
	for {
		select {
		case <-ctx.Done():
			return nil

		case frame, ok := <-frames:
			if !ok {
				if segment := p.detector.Reset(); segment != nil {
					p.emitDiscarded(segment)
				}
				return nil
			}

			if !p.listening.Load() {
				if !muted {
					muted = true
					if segment := p.detector.Reset(); segment != nil {
						segment.Reason = reasonMuted
						p.emitDiscarded(segment)
					}
				}
				continue
			}
			muted = false

			result := p.detector.Process(frame)
			if result.Closed != nil && !p.handleClosed(ctx, result.Closed, segments) {
				return nil
			}
			if opened := result.Opened; opened != nil {
				logger.Debug("utterance opened", "utterance_id", opened.ID, "ordinal", opened.Ordinal)
				p.emit(events.NewUtteranceOpened(opened.ID, opened.Ordinal, opened.Start))
			}
		}
	}
}

// handleClosed reports false when ctx ended while waiting for queue space.
func (p *Pipeline) handleClosed(ctx context.Context, segment *vad.Segment, segments chan<- *vad.Segment) bool {
	if segment.Status == vad.StatusDiscarded {
		p.emitDiscarded(segment)
		return true
	}

	logger.Debug("utterance closed",
		"utterance_id", segment.ID,
		"ordinal", segment.Ordinal,
		"duration", segment.Duration(),
		"reason", segment.Reason)
	p.emit(events.NewUtteranceClosed(segment.ID, segment.Ordinal, segment.Start, segment.End, len(segment.Frames), segment.Reason))

	select {
	case segments <- segment:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *Pipeline) emitDiscarded(segment *vad.Segment) {
	logger.Debug("utterance discarded", "utterance_id", segment.ID, "reason", segment.Reason)
	p.emit(events.NewUtteranceDiscarded(segment.ID, segment.Ordinal, segment.Start, segment.End, segment.Reason))
}
