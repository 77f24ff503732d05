// Package config loads the ema-voice configuration from defaults, a YAML
// file and EMA_VOICE_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jinzhu/copier"
	"github.com/koscakluka/ema-voice/core/vad/silero"
)

type Config struct {
	Audio         AudioConfig         `mapstructure:"audio" yaml:"audio" json:"audio"`
	VAD           VADConfig           `mapstructure:"vad" yaml:"vad" json:"vad"`
	Transcription TranscriptionConfig `mapstructure:"transcription" yaml:"transcription" json:"transcription"`
	Interpreter   InterpreterConfig   `mapstructure:"interpreter" yaml:"interpreter" json:"interpreter"`
	Session       SessionConfig       `mapstructure:"session" yaml:"session" json:"session"`
	Dispatcher    DispatcherConfig    `mapstructure:"dispatcher" yaml:"dispatcher" json:"dispatcher"`
	Log           LogConfig           `mapstructure:"log" yaml:"log" json:"log"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry" yaml:"telemetry" json:"telemetry"`
}

type AudioConfig struct {
	Backend       string        `mapstructure:"backend" yaml:"backend" json:"backend" jsonschema:"enum=miniaudio,enum=portaudio,description=Capture backend"`
	SampleRate    int           `mapstructure:"sample_rate" yaml:"sample_rate" json:"sample_rate" jsonschema:"minimum=8000,description=Capture sample rate in Hz"`
	FrameDuration time.Duration `mapstructure:"frame_duration" yaml:"frame_duration" json:"frame_duration" jsonschema:"type=string,description=Duration of one audio frame"`
	StallTimeout  time.Duration `mapstructure:"stall_timeout" yaml:"stall_timeout" json:"stall_timeout" jsonschema:"type=string,description=Device silence that counts as a capture fault (0 disables)"`
	FrameQueue    int           `mapstructure:"frame_queue" yaml:"frame_queue" json:"frame_queue" jsonschema:"minimum=1,description=Frames buffered between capture and speech detection"`
	Debug         bool          `mapstructure:"debug" yaml:"debug" json:"debug" jsonschema:"description=Log capture device diagnostics"`
}

const (
	ClassifierEnergy = "energy"
	ClassifierSilero = "silero"
)

type VADConfig struct {
	Classifier      string        `mapstructure:"classifier" yaml:"classifier" json:"classifier" jsonschema:"enum=energy,enum=silero,description=Speech classifier"`
	ModelPath       string        `mapstructure:"model_path" yaml:"model_path,omitempty" json:"model_path,omitempty" jsonschema:"description=Silero VAD ONNX model (silero classifier only)"`
	EnergyThreshold float64       `mapstructure:"energy_threshold" yaml:"energy_threshold" json:"energy_threshold" jsonschema:"exclusiveMinimum=0,exclusiveMaximum=1"`
	ReleaseRatio    float64       `mapstructure:"release_ratio" yaml:"release_ratio" json:"release_ratio" jsonschema:"exclusiveMinimum=0,maximum=1"`
	VoicedFrames    int           `mapstructure:"voiced_frames" yaml:"voiced_frames" json:"voiced_frames" jsonschema:"minimum=1"`
	TrailingGrace   time.Duration `mapstructure:"trailing_grace" yaml:"trailing_grace" json:"trailing_grace" jsonschema:"type=string"`
	MinUtterance    time.Duration `mapstructure:"min_utterance" yaml:"min_utterance" json:"min_utterance" jsonschema:"type=string"`
	MaxUtterance    time.Duration `mapstructure:"max_utterance" yaml:"max_utterance" json:"max_utterance" jsonschema:"type=string"`
}

const (
	ProviderDeepgram = "deepgram"
	ProviderGroq     = "groq"
	ProviderGoogle   = "google"
)

type TranscriptionConfig struct {
	Provider        string        `mapstructure:"provider" yaml:"provider" json:"provider" jsonschema:"enum=deepgram,enum=groq,enum=google"`
	Language        string        `mapstructure:"language" yaml:"language" json:"language"`
	Model           string        `mapstructure:"model" yaml:"model" json:"model,omitempty" jsonschema:"description=Provider model, empty for the provider default"`
	InterimResults  bool          `mapstructure:"interim_results" yaml:"interim_results" json:"interim_results" jsonschema:"description=Ask for partial transcripts (needed for spoken barge-in)"`
	Keywords        []string      `mapstructure:"keywords" yaml:"keywords,omitempty" json:"keywords,omitempty" jsonschema:"description=Words the recognizer should favor"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout" jsonschema:"type=string,description=Longest wait for a final transcript"`
	SegmentQueue    int           `mapstructure:"segment_queue" yaml:"segment_queue" json:"segment_queue" jsonschema:"minimum=1"`
	CredentialsFile string        `mapstructure:"credentials_file" yaml:"credentials_file,omitempty" json:"credentials_file,omitempty" jsonschema:"description=Google service account file"`

	// Secrets are read from the environment only and never rendered.
	DeepgramAPIKey string `mapstructure:"-" yaml:"-" json:"-"`
	GroqAPIKey     string `mapstructure:"-" yaml:"-" json:"-"`
}

type InterpreterConfig struct {
	MinConfidence        float64 `mapstructure:"min_confidence" yaml:"min_confidence" json:"min_confidence" jsonschema:"minimum=0,maximum=1"`
	ControlMinConfidence float64 `mapstructure:"control_min_confidence" yaml:"control_min_confidence" json:"control_min_confidence" jsonschema:"minimum=0,maximum=1"`
	MaxEditDistance      int     `mapstructure:"max_edit_distance" yaml:"max_edit_distance" json:"max_edit_distance" jsonschema:"minimum=0"`
	// Phrases extend and override the built-in phrase table.
	Phrases map[string]string `mapstructure:"phrases" yaml:"phrases,omitempty" json:"phrases,omitempty" jsonschema:"description=Extra spoken phrases mapped to actions or key names"`
}

type SessionConfig struct {
	Command            []string      `mapstructure:"command" yaml:"command" json:"command" jsonschema:"minItems=1,description=Agent command and arguments"`
	Term               string        `mapstructure:"term" yaml:"term" json:"term"`
	Dir                string        `mapstructure:"dir" yaml:"dir,omitempty" json:"dir,omitempty" jsonschema:"description=Working directory of the agent (defaults to the current one)"`
	Env                []string      `mapstructure:"env" yaml:"env,omitempty" json:"env,omitempty" jsonschema:"description=Extra KEY=VALUE variables for the agent"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" json:"write_timeout" jsonschema:"type=string"`
	RestartOnExit      bool          `mapstructure:"restart_on_exit" yaml:"restart_on_exit" json:"restart_on_exit"`
	PassthroughInput   bool          `mapstructure:"passthrough_input" yaml:"passthrough_input" json:"passthrough_input" jsonschema:"description=Forward the keyboard to the agent"`
	ToggleListeningKey string        `mapstructure:"toggle_listening_key" yaml:"toggle_listening_key" json:"toggle_listening_key" jsonschema:"description=Key that switches listening on and off, such as ctrl-t"`
}

type DispatcherConfig struct {
	QueueBound       int             `mapstructure:"queue_bound" yaml:"queue_bound" json:"queue_bound" jsonschema:"minimum=1"`
	RestartBackoff   []time.Duration `mapstructure:"restart_backoff" yaml:"restart_backoff" json:"restart_backoff" jsonschema:"description=Waits before each automatic restart attempt"`
	AutoSubmit       bool            `mapstructure:"auto_submit" yaml:"auto_submit" json:"auto_submit" jsonschema:"description=Press enter after inserted text"`
	SubmitDelay      time.Duration   `mapstructure:"submit_delay" yaml:"submit_delay" json:"submit_delay" jsonschema:"type=string"`
	LivenessInterval time.Duration   `mapstructure:"liveness_interval" yaml:"liveness_interval" json:"liveness_interval" jsonschema:"type=string,description=How often an idle session is checked (0 disables)"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level" json:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	File  string `mapstructure:"file" yaml:"file" json:"file" jsonschema:"description=Log file, the terminal belongs to the agent"`
}

type TelemetryConfig struct {
	MetricsAddr string      `mapstructure:"metrics_addr" yaml:"metrics_addr" json:"metrics_addr" jsonschema:"description=Prometheus listen address, empty disables"`
	Kafka       KafkaConfig `mapstructure:"kafka" yaml:"kafka" json:"kafka"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Brokers []string `mapstructure:"brokers" yaml:"brokers" json:"brokers"`
	Topic   string   `mapstructure:"topic" yaml:"topic" json:"topic"`
}

// Validate reports every invalid value at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Audio.Backend {
	case "miniaudio", "portaudio":
	default:
		add("audio.backend: unknown backend %q", c.Audio.Backend)
	}
	if c.Audio.SampleRate < 8000 {
		add("audio.sample_rate: must be at least 8000, got %d", c.Audio.SampleRate)
	}
	if c.Audio.FrameDuration <= 0 {
		add("audio.frame_duration: must be positive, got %s", c.Audio.FrameDuration)
	}
	if c.Audio.StallTimeout < 0 {
		add("audio.stall_timeout: must not be negative, got %s", c.Audio.StallTimeout)
	}
	if c.Audio.FrameQueue < 1 {
		add("audio.frame_queue: must be at least 1, got %d", c.Audio.FrameQueue)
	}

	if err := c.VADConfig().Validate(); err != nil {
		add("vad: %w", err)
	}
	switch c.VAD.Classifier {
	case ClassifierEnergy:
	case ClassifierSilero:
		if c.VAD.ModelPath == "" {
			add("vad.model_path: required by the silero classifier")
		}
		if _, err := silero.WindowSize(c.Audio.SampleRate); err != nil {
			add("vad.classifier: %w", err)
		}
	default:
		add("vad.classifier: unknown classifier %q", c.VAD.Classifier)
	}

	switch c.Transcription.Provider {
	case ProviderDeepgram:
		if c.Transcription.DeepgramAPIKey == "" {
			add("transcription: DEEPGRAM_API_KEY is not set")
		}
	case ProviderGroq:
		if c.Transcription.GroqAPIKey == "" {
			add("transcription: GROQ_API_KEY is not set")
		}
	case ProviderGoogle:
	default:
		add("transcription.provider: unknown provider %q", c.Transcription.Provider)
	}
	if c.Transcription.Timeout <= 0 {
		add("transcription.timeout: must be positive, got %s", c.Transcription.Timeout)
	}
	if c.Transcription.SegmentQueue < 1 {
		add("transcription.segment_queue: must be at least 1, got %d", c.Transcription.SegmentQueue)
	}

	if c.Interpreter.MinConfidence < 0 || c.Interpreter.MinConfidence > 1 {
		add("interpreter.min_confidence: must be in [0, 1], got %g", c.Interpreter.MinConfidence)
	}
	if c.Interpreter.ControlMinConfidence < 0 || c.Interpreter.ControlMinConfidence > 1 {
		add("interpreter.control_min_confidence: must be in [0, 1], got %g", c.Interpreter.ControlMinConfidence)
	}
	if c.Interpreter.MaxEditDistance < 0 {
		add("interpreter.max_edit_distance: must not be negative, got %d", c.Interpreter.MaxEditDistance)
	}

	if len(c.Session.Command) == 0 || c.Session.Command[0] == "" {
		add("session.command: must name the agent executable")
	}
	if c.Session.WriteTimeout < 0 {
		add("session.write_timeout: must not be negative, got %s", c.Session.WriteTimeout)
	}
	for _, variable := range c.Session.Env {
		if !strings.Contains(variable, "=") {
			add("session.env: %q is not KEY=VALUE", variable)
		}
	}

	if c.Dispatcher.QueueBound < 1 {
		add("dispatcher.queue_bound: must be at least 1, got %d", c.Dispatcher.QueueBound)
	}
	for i, backoff := range c.Dispatcher.RestartBackoff {
		if backoff < 0 {
			add("dispatcher.restart_backoff[%d]: must not be negative, got %s", i, backoff)
		}
	}
	if c.Dispatcher.SubmitDelay < 0 {
		add("dispatcher.submit_delay: must not be negative, got %s", c.Dispatcher.SubmitDelay)
	}
	if c.Dispatcher.LivenessInterval < 0 {
		add("dispatcher.liveness_interval: must not be negative, got %s", c.Dispatcher.LivenessInterval)
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		add("log.level: %w", err)
	}
	if c.Telemetry.Kafka.Enabled && len(c.Telemetry.Kafka.Brokers) == 0 {
		add("telemetry.kafka.brokers: required when kafka is enabled")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Clone returns a deep copy.
func (c *Config) Clone() (*Config, error) {
	var clone Config
	if err := copier.CopyWithOption(&clone, c, copier.Option{DeepCopy: true}); err != nil {
		return nil, fmt.Errorf("failed to copy configuration: %w", err)
	}
	return &clone, nil
}
