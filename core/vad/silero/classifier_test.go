package silero

import (
	"encoding/binary"
	"errors"
	"os"
	"testing"

	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/streamer45/silero-vad-go/speech"
)

type detectorStub struct {
	inputs  []int
	results [][]speech.Segment
	err     error
}

func (d *detectorStub) Detect(pcm []float32) ([]speech.Segment, error) {
	d.inputs = append(d.inputs, len(pcm))
	if d.err != nil {
		return nil, d.err
	}
	if len(d.results) == 0 {
		return nil, nil
	}
	result := d.results[0]
	d.results = d.results[1:]
	return result, nil
}

func frameOf(samples int, amplitude int16) audio.Frame {
	pcm := make([]byte, 2*samples)
	for i := 0; i < len(pcm); i += 2 {
		binary.LittleEndian.PutUint16(pcm[i:], uint16(amplitude))
	}
	return audio.Frame{PCM: pcm}
}

func TestClassifierBuffersWholeWindows(t *testing.T) {
	stub := &detectorStub{results: [][]speech.Segment{
		{{SpeechStartAt: 0.1}},
		nil,
		{{SpeechEndAt: 0.4}},
	}}
	classifier := newClassifier(stub, func() {}, func() {}, 4)

	steps := []struct {
		expected bool
		inputs   int
	}{
		{expected: false, inputs: 0},
		{expected: true, inputs: 1},
		{expected: true, inputs: 2},
		{expected: true, inputs: 2},
		{expected: false, inputs: 3},
	}
	for i, step := range steps {
		if got := classifier.Voiced(frameOf(3, 1000)); got != step.expected {
			t.Fatalf("step %d: expected voiced=%v, got %v", i, step.expected, got)
		}
		if len(stub.inputs) != step.inputs {
			t.Fatalf("step %d: expected %d detect calls, got %d", i, step.inputs, len(stub.inputs))
		}
	}
	// Each call gets one whole window plus the sample after it.
	for i, n := range stub.inputs {
		if n != 5 {
			t.Fatalf("detect call %d: expected 5 samples, got %d", i, n)
		}
	}
}

func TestClassifierShortSpeechWithinOneCallIsNotVoiced(t *testing.T) {
	stub := &detectorStub{results: [][]speech.Segment{
		{{SpeechStartAt: 0.1, SpeechEndAt: 0.2}},
	}}
	classifier := newClassifier(stub, func() {}, func() {}, 4)

	if classifier.Voiced(frameOf(8, 1000)) {
		t.Fatalf("expected closed speech not to be voiced")
	}
}

func TestClassifierResetsAfterDetectionError(t *testing.T) {
	resets := 0
	stub := &detectorStub{results: [][]speech.Segment{{{SpeechStartAt: 0.1}}}}
	classifier := newClassifier(stub, func() { resets++ }, func() {}, 4)

	if !classifier.Voiced(frameOf(5, 1000)) {
		t.Fatalf("expected voiced frame")
	}
	stub.err = errors.New("unexpected speech end")
	if classifier.Voiced(frameOf(5, 1000)) {
		t.Fatalf("expected failed detection not to be voiced")
	}
	if resets != 1 {
		t.Fatalf("expected model state to be reset once, got %d", resets)
	}
	if len(classifier.pending) != 0 {
		t.Fatalf("expected buffered samples to be dropped, got %d", len(classifier.pending))
	}
}

func TestClassifierClose(t *testing.T) {
	destroyed := false
	classifier := newClassifier(&detectorStub{}, func() {}, func() { destroyed = true }, 4)

	if err := classifier.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !destroyed {
		t.Fatalf("expected the model to be released")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	if _, err := New(Config{SampleRate: 16000}); !errors.Is(err, ErrNoModel) {
		t.Fatalf("expected ErrNoModel, got %v", err)
	}
	if _, err := New(Config{ModelPath: "silero_vad.onnx", SampleRate: 44100}); !errors.Is(err, ErrUnsupportedRate) {
		t.Fatalf("expected ErrUnsupportedRate, got %v", err)
	}
}

func TestModelDoesNotHearSilence(t *testing.T) {
	path := os.Getenv("EMA_VOICE_SILERO_MODEL")
	if path == "" {
		t.Skip("EMA_VOICE_SILERO_MODEL is not set")
	}
	classifier, err := New(Config{ModelPath: path, SampleRate: 16000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer classifier.Close()

	for i := 0; i < 50; i++ {
		if classifier.Voiced(frameOf(320, 0)) {
			t.Fatalf("frame %d: expected silence not to be voiced", i)
		}
	}
}
