package audio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const DefaultStallTimeout = 2 * time.Second

type CaptureOption func(*Capture)

func WithFrameDuration(d time.Duration) CaptureOption {
	return func(c *Capture) {
		c.frameDuration = d
	}
}

// WithStallTimeout sets how long the device may stay quiet before the
// capture fails. Zero disables the watchdog.
func WithStallTimeout(d time.Duration) CaptureOption {
	return func(c *Capture) {
		c.stallTimeout = d
	}
}

func WithClock(now func() time.Time) CaptureOption {
	return func(c *Capture) {
		c.now = now
	}
}

// Capture turns a Source into a stream of contiguous frames and watches the
// device for stalls.
type Capture struct {
	source        Source
	frameDuration time.Duration
	stallTimeout  time.Duration
	now           func() time.Time

	frames atomic.Uint64
}

func NewCapture(source Source, opts ...CaptureOption) *Capture {
	c := &Capture{
		source:        source,
		frameDuration: DefaultFrameDuration,
		stallTimeout:  DefaultStallTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EncodingInfo is the encoding of the frames produced by Run.
func (c *Capture) EncodingInfo() EncodingInfo {
	if c.source == nil {
		return GetDefaultEncodingInfo()
	}
	return c.source.EncodingInfo()
}

// FramesProduced reports how many frames were handed to onFrame so far.
func (c *Capture) FramesProduced() uint64 {
	return c.frames.Load()
}

// Run streams the source until ctx is done. onFrame is called from the
// device goroutine and must not block. The returned error wraps
// ErrCaptureFault unless the context ended the capture.
func (c *Capture) Run(ctx context.Context, onFrame func(Frame)) error {
	if c.source == nil {
		return fmt.Errorf("%w: no audio source configured", ErrCaptureFault)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := c.now()
	framer := NewFramer(c.source.EncodingInfo(), c.frameDuration, start)
	if framer.FrameSize() == 0 {
		return fmt.Errorf("%w: unsupported encoding %q", ErrCaptureFault, c.source.EncodingInfo().Format.Name())
	}

	var mu sync.Mutex
	lastAudio := atomic.Int64{}
	lastAudio.Store(start.UnixNano())

	streamErr := make(chan error, 1)
	go func() {
		streamErr <- c.source.Stream(ctx, func(chunk []byte) {
			lastAudio.Store(c.now().UnixNano())

			mu.Lock()
			frames := framer.Push(chunk)
			mu.Unlock()

			for _, frame := range frames {
				c.frames.Add(1)
				onFrame(frame)
			}
		})
	}()

	var watchdog <-chan time.Time
	if c.stallTimeout > 0 {
		ticker := time.NewTicker(c.stallTimeout / 4)
		defer ticker.Stop()
		watchdog = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			<-streamErr
			return nil

		case err := <-streamErr:
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				return fmt.Errorf("%w: %w", ErrCaptureFault, err)
			}
			return fmt.Errorf("%w: device stream ended", ErrCaptureFault)

		case <-watchdog:
			quiet := c.now().Sub(time.Unix(0, lastAudio.Load()))
			if quiet > c.stallTimeout {
				cancel()
				<-streamErr
				return fmt.Errorf("%w: no audio from device for %s", ErrCaptureFault, quiet.Round(time.Millisecond))
			}
		}
	}
}
