package vad

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultVoicedFrames    = 3
	DefaultTrailingGrace   = 600 * time.Millisecond
	DefaultMinUtterance    = 250 * time.Millisecond
	DefaultMaxUtterance    = 30 * time.Second
	DefaultEnergyThreshold = 0.015
	DefaultReleaseRatio    = 0.6
)

// Config holds the detector thresholds. Durations are measured in frame time,
// not wall time.
type Config struct {
	// VoicedFrames is the number of consecutive voiced frames that open an
	// utterance.
	VoicedFrames int
	// TrailingGrace is how much silence an utterance tolerates before it
	// closes.
	TrailingGrace time.Duration
	// MinUtterance is the shortest utterance that is forwarded; shorter ones
	// are discarded as noise.
	MinUtterance time.Duration
	// MaxUtterance force closes an utterance that runs this long. Zero
	// disables the limit.
	MaxUtterance time.Duration

	EnergyThreshold float64
	ReleaseRatio    float64
}

func DefaultConfig() Config {
	return Config{
		VoicedFrames:    DefaultVoicedFrames,
		TrailingGrace:   DefaultTrailingGrace,
		MinUtterance:    DefaultMinUtterance,
		MaxUtterance:    DefaultMaxUtterance,
		EnergyThreshold: DefaultEnergyThreshold,
		ReleaseRatio:    DefaultReleaseRatio,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.VoicedFrames < 1 {
		errs = append(errs, fmt.Errorf("voiced frames must be at least 1, got %d", c.VoicedFrames))
	}
	if c.TrailingGrace < 0 {
		errs = append(errs, fmt.Errorf("trailing grace must not be negative, got %s", c.TrailingGrace))
	}
	if c.MinUtterance < 0 {
		errs = append(errs, fmt.Errorf("minimum utterance must not be negative, got %s", c.MinUtterance))
	}
	if c.MaxUtterance < 0 || (c.MaxUtterance > 0 && c.MaxUtterance < c.MinUtterance) {
		errs = append(errs, fmt.Errorf("maximum utterance %s must be zero or at least the minimum %s", c.MaxUtterance, c.MinUtterance))
	}
	if c.EnergyThreshold <= 0 || c.EnergyThreshold >= 1 {
		errs = append(errs, fmt.Errorf("energy threshold must be in (0, 1), got %g", c.EnergyThreshold))
	}
	if c.ReleaseRatio <= 0 || c.ReleaseRatio > 1 {
		errs = append(errs, fmt.Errorf("release ratio must be in (0, 1], got %g", c.ReleaseRatio))
	}
	return errors.Join(errs...)
}
