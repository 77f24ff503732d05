package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ema-voice.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	defaults := Default()
	if cfg.VAD != defaults.VAD {
		t.Fatalf("expected default vad section %+v, got %+v", defaults.VAD, cfg.VAD)
	}
	if !slices.Equal(cfg.Dispatcher.RestartBackoff, defaults.Dispatcher.RestartBackoff) {
		t.Fatalf("expected default backoff %v, got %v", defaults.Dispatcher.RestartBackoff, cfg.Dispatcher.RestartBackoff)
	}
	if !slices.Equal(cfg.Session.Command, []string{"claude"}) {
		t.Fatalf("expected default agent command, got %v", cfg.Session.Command)
	}
	if !cfg.Transcription.InterimResults {
		t.Fatalf("expected interim results by default")
	}
	if cfg.VAD.Classifier != ClassifierEnergy {
		t.Fatalf("expected the energy classifier by default, got %q", cfg.VAD.Classifier)
	}
}

func TestLoadFromUserConfigDir(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG_CONFIG_HOME only locates the user config directory on linux")
	}
	t.Chdir(t.TempDir())
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", home)

	dir := filepath.Join(home, "ema-voice")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	content := "vad:\n  voiced_frames: 9\ntranscription:\n  interim_results: false\n"
	if err := os.WriteFile(filepath.Join(dir, DefaultFileName), []byte(content), 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.VAD.VoicedFrames != 9 {
		t.Fatalf("expected voiced frames from the user config file, got %d", cfg.VAD.VoicedFrames)
	}
	if cfg.Transcription.InterimResults {
		t.Fatalf("expected interim results to be turned off")
	}
}

func TestLoadFileAndEnvironment(t *testing.T) {
	path := writeConfig(t, `
vad:
  trailing_grace: 900ms
  voiced_frames: 5
dispatcher:
  restart_backoff: [100ms, 2s]
  auto_submit: false
session:
  command: ["aider", "--no-git"]
interpreter:
  phrases:
    ship it: submit
`)
	t.Setenv("EMA_VOICE_VAD_VOICED_FRAMES", "7")
	t.Setenv("EMA_VOICE_LOG_LEVEL", "debug")
	t.Setenv("GROQ_API_KEY", "secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.VAD.TrailingGrace != 900*time.Millisecond {
		t.Fatalf("expected trailing grace 900ms, got %s", cfg.VAD.TrailingGrace)
	}
	if cfg.VAD.VoicedFrames != 7 {
		t.Fatalf("expected env to override file, got %d voiced frames", cfg.VAD.VoicedFrames)
	}
	if !slices.Equal(cfg.Dispatcher.RestartBackoff, []time.Duration{100 * time.Millisecond, 2 * time.Second}) {
		t.Fatalf("expected configured backoff, got %v", cfg.Dispatcher.RestartBackoff)
	}
	if cfg.Dispatcher.AutoSubmit {
		t.Fatalf("expected auto submit to be off")
	}
	if !slices.Equal(cfg.Session.Command, []string{"aider", "--no-git"}) {
		t.Fatalf("expected configured command, got %v", cfg.Session.Command)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected debug level, got %s", cfg.Log.Level)
	}
	if cfg.Transcription.GroqAPIKey != "secret" {
		t.Fatalf("expected groq key from environment")
	}

	phrases := cfg.InterpreterConfig().Phrases
	if phrases["ship it"] != "submit" || phrases["scratch that"] != "cancel" {
		t.Fatalf("expected configured phrases merged over defaults, got %v", phrases)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.Transcription.DeepgramAPIKey = "key"
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected defaults with a key to be valid, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing key", func(c *Config) { c.Transcription.DeepgramAPIKey = "" }, "DEEPGRAM_API_KEY"},
		{"unknown provider", func(c *Config) { c.Transcription.Provider = "whisper" }, "transcription.provider"},
		{"unknown backend", func(c *Config) { c.Audio.Backend = "alsa" }, "audio.backend"},
		{"threshold", func(c *Config) { c.VAD.EnergyThreshold = 2 }, "energy threshold"},
		{"classifier", func(c *Config) { c.VAD.Classifier = "webrtc" }, "vad.classifier"},
		{"model", func(c *Config) { c.VAD.Classifier = ClassifierSilero }, "vad.model_path"},
		{"silero rate", func(c *Config) {
			c.VAD.Classifier = ClassifierSilero
			c.VAD.ModelPath = "silero_vad.onnx"
			c.Audio.SampleRate = 44100
		}, "vad.classifier"},
		{"confidence", func(c *Config) { c.Interpreter.MinConfidence = 1.5 }, "interpreter.min_confidence"},
		{"command", func(c *Config) { c.Session.Command = nil }, "session.command"},
		{"env", func(c *Config) { c.Session.Env = []string{"NOVALUE"} }, "session.env"},
		{"queue", func(c *Config) { c.Dispatcher.QueueBound = 0 }, "dispatcher.queue_bound"},
		{"backoff", func(c *Config) { c.Dispatcher.RestartBackoff = []time.Duration{-time.Second} }, "restart_backoff[0]"},
		{"level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"kafka", func(c *Config) { c.Telemetry.Kafka.Enabled = true }, "telemetry.kafka.brokers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := valid.Clone()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.mutate(cfg)

			err = cfg.Validate()
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q in %q", tt.want, err)
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	cfg := Default()
	cfg.Interpreter.Phrases = map[string]string{"ship it": "submit"}

	clone, err := cfg.Clone()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clone.Session.Command[0] = "other"
	clone.Dispatcher.RestartBackoff[0] = time.Hour
	clone.Interpreter.Phrases["ship it"] = "escape"

	if cfg.Session.Command[0] != "claude" {
		t.Fatalf("expected command to be copied, got %v", cfg.Session.Command)
	}
	if cfg.Dispatcher.RestartBackoff[0] == time.Hour {
		t.Fatalf("expected backoff to be copied")
	}
	if cfg.Interpreter.Phrases["ship it"] != "submit" {
		t.Fatalf("expected phrases to be copied")
	}
}

func TestWriteYAMLRoundTrips(t *testing.T) {
	cfg := Default()
	cfg.Transcription.GroqAPIKey = "secret"

	var buf bytes.Buffer
	if err := cfg.WriteYAML(&buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "trailing_grace: 600ms") {
		t.Fatalf("expected durations in string form, got:\n%s", out)
	}
	if strings.Contains(out, "secret") {
		t.Fatalf("expected secrets to be left out, got:\n%s", out)
	}

	loaded, err := Load(writeConfig(t, out))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.VAD != cfg.VAD || loaded.Dispatcher.SubmitDelay != cfg.Dispatcher.SubmitDelay {
		t.Fatalf("expected rendered config to load back unchanged")
	}
}

func TestSchemaDescribesSections(t *testing.T) {
	data, err := Schema()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var schema struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(data, &schema); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, section := range []string{"audio", "vad", "transcription", "interpreter", "session", "dispatcher", "log", "telemetry"} {
		if _, ok := schema.Properties[section]; !ok {
			t.Fatalf("expected %q section in schema", section)
		}
	}
	if strings.Contains(string(data), "GroqAPIKey") {
		t.Fatalf("expected secrets to be left out of the schema")
	}
}
