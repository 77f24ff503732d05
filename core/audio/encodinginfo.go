package audio

import "time"

const (
	DefaultSampleRate    = 16000
	DefaultFrameDuration = 20 * time.Millisecond
)

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Format: EncodingLinear16}
}

// EncodingInfo describes mono PCM audio as produced by a capture device.
type EncodingInfo struct {
	SampleRate int
	Format     encodingFormat
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

// FrameSize returns the number of bytes that make up exactly d of audio,
// rounded down to a whole sample.
func (e EncodingInfo) FrameSize(d time.Duration) int {
	size := e.Format.ByteSize()
	if size <= 0 || d <= 0 {
		return 0
	}
	samples := int(int64(e.SampleRate) * int64(d) / int64(time.Second))
	return samples * size
}

// Duration returns how long n bytes of audio play for, the inverse of
// FrameSize.
func (e EncodingInfo) Duration(n int) time.Duration {
	size := e.Format.ByteSize()
	if size <= 0 || e.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(n/size) * int64(time.Second) / int64(e.SampleRate))
}

type encodingFormat string

func (e encodingFormat) Name() string {
	return string(e)
}

func (e encodingFormat) ByteSize() int {
	switch e {
	case EncodingMulaw, EncodingALaw:
		return 1
	case EncodingLinear16:
		return 2
	}
	return -1
}

const (
	EncodingMulaw    encodingFormat = "mulaw"
	EncodingALaw     encodingFormat = "alaw"
	EncodingLinear16 encodingFormat = "linear16"
)
