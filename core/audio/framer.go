package audio

import "time"

// Framer cuts device chunks into frames of exactly one frame duration.
// Leftover bytes are carried over to the next chunk so the frame timeline
// stays contiguous.
type Framer struct {
	encoding      EncodingInfo
	frameDuration time.Duration
	frameSize     int
	start         time.Time

	next     uint64
	leftover []byte
}

func NewFramer(encoding EncodingInfo, frameDuration time.Duration, start time.Time) *Framer {
	if encoding.IsZero() {
		encoding = GetDefaultEncodingInfo()
	}
	if frameDuration <= 0 {
		frameDuration = DefaultFrameDuration
	}
	return &Framer{
		encoding:      encoding,
		frameDuration: frameDuration,
		frameSize:     encoding.FrameSize(frameDuration),
		start:         start,
	}
}

// FrameSize is the number of bytes in every emitted frame.
func (f *Framer) FrameSize() int {
	return f.frameSize
}

// Push appends a chunk and returns every frame it completes.
func (f *Framer) Push(chunk []byte) []Frame {
	if f.frameSize == 0 || len(chunk) == 0 {
		return nil
	}

	buffered := append(f.leftover, chunk...)
	var frames []Frame
	for len(buffered) >= f.frameSize {
		pcm := make([]byte, f.frameSize)
		copy(pcm, buffered[:f.frameSize])
		buffered = buffered[f.frameSize:]

		frames = append(frames, Frame{
			Seq:       f.next,
			Timestamp: f.start.Add(time.Duration(f.next) * f.frameDuration),
			Duration:  f.frameDuration,
			PCM:       pcm,
		})
		f.next++
	}

	f.leftover = append(f.leftover[:0:0], buffered...)
	return frames
}
