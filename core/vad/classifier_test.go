package vad

import (
	"encoding/binary"
	"testing"

	"github.com/koscakluka/ema-voice/core/audio"
)

func constantFrame(amplitude int16) audio.Frame {
	pcm := make([]byte, 320)
	for i := 0; i < len(pcm); i += 2 {
		binary.LittleEndian.PutUint16(pcm[i:], uint16(amplitude))
	}
	return audio.Frame{PCM: pcm}
}

func TestEnergyClassifierHysteresis(t *testing.T) {
	// Threshold 0.1 to enter, 0.05 to stay.
	classifier := NewEnergyClassifier(0.1, 0.5)

	steps := []struct {
		amplitude int16
		expected  bool
	}{
		{amplitude: 2000, expected: false},
		{amplitude: 4000, expected: true},
		{amplitude: 2000, expected: true},
		{amplitude: 1000, expected: false},
		{amplitude: 2000, expected: false},
	}
	for i, step := range steps {
		if got := classifier.Voiced(constantFrame(step.amplitude)); got != step.expected {
			t.Fatalf("step %d: expected voiced=%v for amplitude %d, got %v", i, step.expected, step.amplitude, got)
		}
	}
}

func TestRMSOfSilenceIsZero(t *testing.T) {
	if got := RMS(make([]int16, 10)); got != 0 {
		t.Fatalf("expected 0, got %g", got)
	}
	if got := RMS(nil); got != 0 {
		t.Fatalf("expected 0 for no samples, got %g", got)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got %v", err)
	}

	config := DefaultConfig()
	config.VoicedFrames = 0
	config.EnergyThreshold = 2
	if err := config.Validate(); err == nil {
		t.Fatalf("expected invalid config to fail validation")
	}
}
