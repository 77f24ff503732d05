package orchestration

import (
	"context"
	"fmt"
	"sync"

	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/events"
)

// runCapture feeds captured frames to speech detection. The device callback
// never waits: when the queue is full the frame is dropped and reported as
// an overrun.
func (p *Pipeline) runCapture(ctx context.Context, frames chan<- audio.Frame) error {
	var mu sync.Mutex
	closed := false
	defer func() {
		mu.Lock()
		closed = true
		close(frames)
		mu.Unlock()
	}()

	err := p.capture.Run(ctx, func(frame audio.Frame) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}

		select {
		case frames <- frame:
		default:
			logger.Warn("frame queue full, dropping frame", "seq", frame.Seq)
			p.emit(events.NewFrameOverrun(frame.Seq,
				fmt.Errorf("%w: %d frames waiting for speech detection", ErrOverrun, cap(frames))))
		}
	})
	if err != nil {
		logger.Error("audio capture failed", "error", err)
		p.emit(events.NewCaptureFault(err))
		return err
	}
	return nil
}
