// Package silero classifies speech frames with the Silero VAD model through
// onnxruntime.
package silero

import (
	"errors"
	"fmt"

	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/streamer45/silero-vad-go/speech"
)

const (
	DefaultThreshold = 0.5

	// minSilenceMs is kept short so pauses are judged by the segment
	// detector's trailing grace, not by the model.
	minSilenceMs = 100
)

var (
	ErrNoModel         = errors.New("silero model path is not set")
	ErrUnsupportedRate = errors.New("silero supports 8000 and 16000 Hz only")
)

type Config struct {
	ModelPath  string
	SampleRate int
	// Threshold is the speech probability that marks a window voiced. Zero
	// means DefaultThreshold.
	Threshold float64
}

// windowDetector is the part of speech.Detector the classifier drives.
type windowDetector interface {
	Detect(pcm []float32) ([]speech.Segment, error)
}

// Classifier is a vad.Classifier backed by the Silero model. The model reads
// fixed windows, so frame samples are buffered until a window is complete and
// a frame is voiced while the model reports open speech.
type Classifier struct {
	detector   windowDetector
	reset      func()
	destroy    func()
	windowSize int

	pending []float32
	voiced  bool
}

// New loads the model. Close releases it.
func New(config Config) (*Classifier, error) {
	if config.ModelPath == "" {
		return nil, ErrNoModel
	}
	windowSize, err := WindowSize(config.SampleRate)
	if err != nil {
		return nil, err
	}
	threshold := config.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}

	detector, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            config.ModelPath,
		SampleRate:           config.SampleRate,
		Threshold:            float32(threshold),
		MinSilenceDurationMs: minSilenceMs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load silero model %s: %w", config.ModelPath, err)
	}
	return newClassifier(detector, func() { detector.Reset() }, func() { detector.Destroy() }, windowSize), nil
}

func newClassifier(detector windowDetector, reset, destroy func(), windowSize int) *Classifier {
	return &Classifier{
		detector:   detector,
		reset:      reset,
		destroy:    destroy,
		windowSize: windowSize,
		pending:    make([]float32, 0, 2*windowSize),
	}
}

// WindowSize returns the samples the model reads at once for a sample rate.
func WindowSize(sampleRate int) (int, error) {
	switch sampleRate {
	case 16000:
		return 512, nil
	case 8000:
		return 256, nil
	default:
		return 0, fmt.Errorf("%w, got %d", ErrUnsupportedRate, sampleRate)
	}
}

func (c *Classifier) Voiced(frame audio.Frame) bool {
	for _, sample := range frame.Samples() {
		c.pending = append(c.pending, float32(sample)/32768.0)
	}
	// Detect reads whole windows and wants at least one sample past the last.
	if len(c.pending) <= c.windowSize {
		return c.voiced
	}
	n := (len(c.pending) - 1) / c.windowSize * c.windowSize

	segments, err := c.detector.Detect(c.pending[:n+1])
	c.pending = c.pending[:copy(c.pending, c.pending[n:])]
	if err != nil {
		logger.Warn("silero detection failed, resetting model state", "error", err)
		c.Reset()
		return false
	}

	// A segment without an end is speech still in progress.
	for _, segment := range segments {
		c.voiced = segment.SpeechEndAt == 0
	}
	return c.voiced
}

func (c *Classifier) Reset() {
	c.pending = c.pending[:0]
	c.voiced = false
	c.reset()
}

func (c *Classifier) Close() error {
	c.destroy()
	return nil
}
