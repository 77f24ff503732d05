package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	orchestration "github.com/koscakluka/ema-voice/core"
	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/commands"
	"github.com/koscakluka/ema-voice/core/session"
	"github.com/koscakluka/ema-voice/core/speechtotext"
	"github.com/koscakluka/ema-voice/core/vad"
	"github.com/spf13/viper"
)

const (
	EnvPrefix       = "EMA_VOICE"
	DefaultFileName = "ema-voice.yaml"

	DefaultLivenessInterval = time.Second
	DefaultToggleKey        = "ctrl-t"
	DefaultLogFile          = "ema-voice.log"
	DefaultKafkaTopic       = "ema-voice.events"
)

// Default returns the built-in configuration.
func Default() *Config {
	detector := vad.DefaultConfig()
	interpreter := commands.DefaultConfig()

	return &Config{
		Audio: AudioConfig{
			Backend:       "miniaudio",
			SampleRate:    audio.DefaultSampleRate,
			FrameDuration: audio.DefaultFrameDuration,
			StallTimeout:  audio.DefaultStallTimeout,
			FrameQueue:    orchestration.DefaultFrameQueue,
		},
		VAD: VADConfig{
			Classifier:      ClassifierEnergy,
			EnergyThreshold: detector.EnergyThreshold,
			ReleaseRatio:    detector.ReleaseRatio,
			VoicedFrames:    detector.VoicedFrames,
			TrailingGrace:   detector.TrailingGrace,
			MinUtterance:    detector.MinUtterance,
			MaxUtterance:    detector.MaxUtterance,
		},
		Transcription: TranscriptionConfig{
			Provider:       ProviderDeepgram,
			Language:       speechtotext.DefaultLanguage,
			InterimResults: true,
			Timeout:        speechtotext.DefaultTimeout,
			SegmentQueue:   orchestration.DefaultSegmentQueue,
		},
		Interpreter: InterpreterConfig{
			MinConfidence:        interpreter.MinConfidence,
			ControlMinConfidence: interpreter.ControlMinConfidence,
			MaxEditDistance:      interpreter.MaxEditDistance,
		},
		Session: SessionConfig{
			Command:            []string{"claude"},
			Term:               session.DefaultTerm,
			WriteTimeout:       session.DefaultWriteTimeout,
			PassthroughInput:   true,
			ToggleListeningKey: DefaultToggleKey,
		},
		Dispatcher: DispatcherConfig{
			QueueBound:       orchestration.DefaultQueueBound,
			RestartBackoff:   orchestration.DefaultRestartBackoff(),
			AutoSubmit:       true,
			SubmitDelay:      orchestration.DefaultSubmitDelay,
			LivenessInterval: DefaultLivenessInterval,
		},
		Log: LogConfig{
			Level: "info",
			File:  DefaultLogFile,
		},
		Telemetry: TelemetryConfig{
			Kafka: KafkaConfig{Topic: DefaultKafkaTopic},
		},
	}
}

// Load reads the configuration. An explicit path must exist; without one the
// working directory and the user config directory are searched and a missing
// file falls back to defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFileName, filepath.Ext(DefaultFileName)))
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "ema-voice"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Transcription.DeepgramAPIKey = os.Getenv("DEEPGRAM_API_KEY")
	cfg.Transcription.GroqAPIKey = os.Getenv("GROQ_API_KEY")
	return &cfg, nil
}

// setDefaults registers every key, so environment variables can override keys
// that no file mentions.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("audio.backend", cfg.Audio.Backend)
	v.SetDefault("audio.sample_rate", cfg.Audio.SampleRate)
	v.SetDefault("audio.frame_duration", cfg.Audio.FrameDuration)
	v.SetDefault("audio.stall_timeout", cfg.Audio.StallTimeout)
	v.SetDefault("audio.frame_queue", cfg.Audio.FrameQueue)
	v.SetDefault("audio.debug", cfg.Audio.Debug)

	v.SetDefault("vad.classifier", cfg.VAD.Classifier)
	v.SetDefault("vad.model_path", cfg.VAD.ModelPath)
	v.SetDefault("vad.energy_threshold", cfg.VAD.EnergyThreshold)
	v.SetDefault("vad.release_ratio", cfg.VAD.ReleaseRatio)
	v.SetDefault("vad.voiced_frames", cfg.VAD.VoicedFrames)
	v.SetDefault("vad.trailing_grace", cfg.VAD.TrailingGrace)
	v.SetDefault("vad.min_utterance", cfg.VAD.MinUtterance)
	v.SetDefault("vad.max_utterance", cfg.VAD.MaxUtterance)

	v.SetDefault("transcription.provider", cfg.Transcription.Provider)
	v.SetDefault("transcription.language", cfg.Transcription.Language)
	v.SetDefault("transcription.model", cfg.Transcription.Model)
	v.SetDefault("transcription.interim_results", cfg.Transcription.InterimResults)
	v.SetDefault("transcription.keywords", cfg.Transcription.Keywords)
	v.SetDefault("transcription.timeout", cfg.Transcription.Timeout)
	v.SetDefault("transcription.segment_queue", cfg.Transcription.SegmentQueue)
	v.SetDefault("transcription.credentials_file", cfg.Transcription.CredentialsFile)

	v.SetDefault("interpreter.min_confidence", cfg.Interpreter.MinConfidence)
	v.SetDefault("interpreter.control_min_confidence", cfg.Interpreter.ControlMinConfidence)
	v.SetDefault("interpreter.max_edit_distance", cfg.Interpreter.MaxEditDistance)

	v.SetDefault("session.command", cfg.Session.Command)
	v.SetDefault("session.term", cfg.Session.Term)
	v.SetDefault("session.dir", cfg.Session.Dir)
	v.SetDefault("session.env", cfg.Session.Env)
	v.SetDefault("session.write_timeout", cfg.Session.WriteTimeout)
	v.SetDefault("session.restart_on_exit", cfg.Session.RestartOnExit)
	v.SetDefault("session.passthrough_input", cfg.Session.PassthroughInput)
	v.SetDefault("session.toggle_listening_key", cfg.Session.ToggleListeningKey)

	v.SetDefault("dispatcher.queue_bound", cfg.Dispatcher.QueueBound)
	v.SetDefault("dispatcher.restart_backoff", cfg.Dispatcher.RestartBackoff)
	v.SetDefault("dispatcher.auto_submit", cfg.Dispatcher.AutoSubmit)
	v.SetDefault("dispatcher.submit_delay", cfg.Dispatcher.SubmitDelay)
	v.SetDefault("dispatcher.liveness_interval", cfg.Dispatcher.LivenessInterval)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.file", cfg.Log.File)

	v.SetDefault("telemetry.metrics_addr", cfg.Telemetry.MetricsAddr)
	v.SetDefault("telemetry.kafka.enabled", cfg.Telemetry.Kafka.Enabled)
	v.SetDefault("telemetry.kafka.brokers", cfg.Telemetry.Kafka.Brokers)
	v.SetDefault("telemetry.kafka.topic", cfg.Telemetry.Kafka.Topic)
}

// ParseLevel maps a log level name to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	var parsed slog.Level
	if err := parsed.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", level)
	}
	return parsed, nil
}

// VADConfig converts the vad section to detector thresholds.
func (c *Config) VADConfig() vad.Config {
	return vad.Config{
		VoicedFrames:    c.VAD.VoicedFrames,
		TrailingGrace:   c.VAD.TrailingGrace,
		MinUtterance:    c.VAD.MinUtterance,
		MaxUtterance:    c.VAD.MaxUtterance,
		EnergyThreshold: c.VAD.EnergyThreshold,
		ReleaseRatio:    c.VAD.ReleaseRatio,
	}
}

// InterpreterConfig converts the interpreter section, merging the configured
// phrases over the built-in table.
func (c *Config) InterpreterConfig() commands.Config {
	phrases := commands.DefaultPhrases()
	for phrase, action := range c.Interpreter.Phrases {
		phrases[phrase] = action
	}
	return commands.Config{
		MinConfidence:        c.Interpreter.MinConfidence,
		ControlMinConfidence: c.Interpreter.ControlMinConfidence,
		MaxEditDistance:      c.Interpreter.MaxEditDistance,
		Phrases:              phrases,
	}
}
