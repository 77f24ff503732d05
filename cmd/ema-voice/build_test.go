package main

import (
	"errors"
	"testing"

	"github.com/koscakluka/ema-voice/core/vad"
	"github.com/koscakluka/ema-voice/core/vad/silero"
	"github.com/koscakluka/ema-voice/internal/config"
)

func TestNewClassifierDefaultsToEnergy(t *testing.T) {
	classifier, closer, err := newClassifier(config.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closer.Close()

	if _, ok := classifier.(*vad.EnergyClassifier); !ok {
		t.Fatalf("expected an energy classifier, got %T", classifier)
	}
}

func TestNewClassifierSileroNeedsModel(t *testing.T) {
	cfg := config.Default()
	cfg.VAD.Classifier = config.ClassifierSilero

	_, closer, err := newClassifier(cfg)
	if !errors.Is(err, silero.ErrNoModel) {
		t.Fatalf("expected ErrNoModel, got %v", err)
	}
	if closer == nil {
		t.Fatalf("expected a closer even on error")
	}
}

func TestNewClassifierRejectsUnknown(t *testing.T) {
	cfg := config.Default()
	cfg.VAD.Classifier = "webrtc"

	if _, _, err := newClassifier(cfg); err == nil {
		t.Fatalf("expected an error for an unknown classifier")
	}
}
