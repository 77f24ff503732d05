package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"time"
)

// ErrCaptureFault is returned when the microphone is unavailable or stops
// delivering audio. It is fatal to the pipeline that owns the capture.
var ErrCaptureFault = errors.New("capture fault")

// Source is a capture device. Stream blocks, calling onAudio with raw device
// chunks of arbitrary size, until the context is done or the device fails.
type Source interface {
	EncodingInfo() EncodingInfo
	Stream(ctx context.Context, onAudio func(audio []byte)) error
	Close()
}

// Frame is a fixed-duration block of PCM audio. Frames are never mutated
// after the framer hands them out.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Duration  time.Duration
	PCM       []byte
}

// End returns the timestamp right after the last sample of the frame.
func (f Frame) End() time.Time {
	return f.Timestamp.Add(f.Duration)
}

// Samples decodes linear16 little endian PCM.
func (f Frame) Samples() []int16 {
	samples := make([]int16, len(f.PCM)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(f.PCM[i*2:]))
	}
	return samples
}
