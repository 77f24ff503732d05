package vad

import (
	"math"

	"github.com/koscakluka/ema-voice/core/audio"
)

// Classifier decides whether a single frame contains speech. Implementations
// may keep state between frames.
type Classifier interface {
	Voiced(frame audio.Frame) bool
	Reset()
}

// EnergyClassifier is an RMS energy classifier with hysteresis: a frame has
// to reach Threshold to become voiced, and stays voiced until the level
// drops under Threshold*ReleaseRatio.
type EnergyClassifier struct {
	Threshold    float64
	ReleaseRatio float64

	voiced bool
}

func NewEnergyClassifier(threshold, releaseRatio float64) *EnergyClassifier {
	return &EnergyClassifier{Threshold: threshold, ReleaseRatio: releaseRatio}
}

func (c *EnergyClassifier) Voiced(frame audio.Frame) bool {
	level := RMS(frame.Samples())
	if c.voiced {
		c.voiced = level >= c.Threshold*c.ReleaseRatio
	} else {
		c.voiced = level >= c.Threshold
	}
	return c.voiced
}

func (c *EnergyClassifier) Reset() {
	c.voiced = false
}

// RMS returns the root mean square of the samples normalized to [0, 1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
