package audio

import (
	"testing"
	"time"
)

func TestFramerCarriesLeftoverAcrossChunks(t *testing.T) {
	start := time.Unix(100, 0)
	framer := NewFramer(GetDefaultEncodingInfo(), 20*time.Millisecond, start)

	if got := framer.FrameSize(); got != 640 {
		t.Fatalf("expected 640 byte frames at 16kHz linear16, got %d", got)
	}

	var frames []Frame
	for _, size := range []int{100, 700, 500, 620, 1} {
		frames = append(frames, framer.Push(make([]byte, size))...)
	}

	// 1921 bytes in total make three whole frames.
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	for i, frame := range frames {
		if frame.Seq != uint64(i) {
			t.Fatalf("expected frame %d to have seq %d, got %d", i, i, frame.Seq)
		}
		if want := start.Add(time.Duration(i) * 20 * time.Millisecond); !frame.Timestamp.Equal(want) {
			t.Fatalf("expected frame %d at %v, got %v", i, want, frame.Timestamp)
		}
		if len(frame.PCM) != 640 {
			t.Fatalf("expected frame %d to hold 640 bytes, got %d", i, len(frame.PCM))
		}
	}
}

func TestFramerFramesDoNotAliasInput(t *testing.T) {
	framer := NewFramer(GetDefaultEncodingInfo(), 10*time.Millisecond, time.Time{})

	chunk := make([]byte, framer.FrameSize())
	chunk[0] = 7
	frames := framer.Push(chunk)
	chunk[0] = 9

	if len(frames) != 1 {
		t.Fatalf("expected a single frame, got %d", len(frames))
	}
	if frames[0].PCM[0] != 7 {
		t.Fatalf("expected frame to keep its own copy of the audio, got %d", frames[0].PCM[0])
	}
}

func TestFrameSamplesDecodesLittleEndian(t *testing.T) {
	frame := Frame{PCM: []byte{0x01, 0x00, 0xff, 0xff, 0x00, 0x80}}

	samples := frame.Samples()
	expected := []int16{1, -1, -32768}
	if len(samples) != len(expected) {
		t.Fatalf("expected %d samples, got %d", len(expected), len(samples))
	}
	for i := range expected {
		if samples[i] != expected[i] {
			t.Fatalf("expected sample %d to be %d, got %d", i, expected[i], samples[i])
		}
	}
}

func TestEncodingInfoSizes(t *testing.T) {
	info := EncodingInfo{SampleRate: 8000, Format: EncodingMulaw}

	if got := info.FrameSize(30 * time.Millisecond); got != 240 {
		t.Fatalf("expected 240 bytes, got %d", got)
	}
	if got := info.Duration(800); got != 100*time.Millisecond {
		t.Fatalf("expected 100ms, got %v", got)
	}
	if got := (EncodingInfo{SampleRate: 8000, Format: "opus"}).FrameSize(time.Second); got != 0 {
		t.Fatalf("expected unknown formats to have no frame size, got %d", got)
	}
	linear := GetDefaultEncodingInfo()
	if got := linear.Duration(linear.FrameSize(DefaultFrameDuration)); got != DefaultFrameDuration {
		t.Fatalf("expected a frame to last %v, got %v", DefaultFrameDuration, got)
	}
	if got := (EncodingInfo{SampleRate: 8000, Format: "opus"}).Duration(800); got != 0 {
		t.Fatalf("expected unknown formats to have no duration, got %v", got)
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	wav, err := EncodeWAV(make([]byte, 100), GetDefaultEncodingInfo())
	if err != nil {
		t.Fatalf("expected wav, got %v", err)
	}
	if len(wav) != 144 {
		t.Fatalf("expected 44 byte header plus audio, got %d bytes", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("expected RIFF/WAVE/data markers, got %q", wav[:40])
	}
	if _, err := EncodeWAV(nil, EncodingInfo{SampleRate: 16000, Format: "opus"}); err == nil {
		t.Fatalf("expected unknown formats to be rejected")
	}
}
