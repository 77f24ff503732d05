package main

import (
	"context"
	"fmt"
	"io"
	"time"

	orchestration "github.com/koscakluka/ema-voice/core"
	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/audio/miniaudio"
	"github.com/koscakluka/ema-voice/core/audio/portaudio"
	"github.com/koscakluka/ema-voice/core/commands"
	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/speechtotext"
	"github.com/koscakluka/ema-voice/core/speechtotext/deepgram"
	"github.com/koscakluka/ema-voice/core/speechtotext/google"
	"github.com/koscakluka/ema-voice/core/speechtotext/groq"
	"github.com/koscakluka/ema-voice/core/telemetry/logsink"
	"github.com/koscakluka/ema-voice/core/telemetry/metrics"
	"github.com/koscakluka/ema-voice/core/telemetry/publisher"
	"github.com/koscakluka/ema-voice/core/vad"
	"github.com/koscakluka/ema-voice/core/vad/silero"
	"github.com/koscakluka/ema-voice/internal/config"
)

// portaudioBuffer is the read size of the PortAudio backend in samples.
const portaudioBuffer = 512

func newSource(cfg config.AudioConfig) (audio.Source, error) {
	switch cfg.Backend {
	case "portaudio":
		return portaudio.NewClient(cfg.SampleRate, portaudioBuffer)
	case "miniaudio", "":
		options := []miniaudio.ClientOption{miniaudio.WithSampleRate(cfg.SampleRate)}
		if cfg.Debug {
			options = append(options, miniaudio.WithDebugLogging())
		}
		return miniaudio.NewClient(options...)
	default:
		return nil, fmt.Errorf("unknown audio backend %q", cfg.Backend)
	}
}

// newRecognizer builds the configured provider. The returned closer releases
// provider clients and is never nil.
func newRecognizer(ctx context.Context, cfg config.TranscriptionConfig, phrases commands.PhraseTable) (speechtotext.Recognizer, io.Closer, error) {
	options := []speechtotext.RecognizerOption{
		speechtotext.WithLanguage(cfg.Language),
		speechtotext.WithKeywords(cfg.Keywords...),
	}
	if cfg.Model != "" {
		options = append(options, speechtotext.WithModel(cfg.Model))
	}
	if !cfg.InterimResults {
		options = append(options, speechtotext.WithoutInterimResults())
	}
	// Control phrases are boosted as keywords.
	for phrase := range phrases {
		options = append(options, speechtotext.WithKeywords(phrase))
	}

	switch cfg.Provider {
	case config.ProviderDeepgram:
		recognizer, err := deepgram.NewRecognizer(
			deepgram.WithAPIKey(cfg.DeepgramAPIKey),
			deepgram.WithRecognizerOptions(options...),
		)
		return recognizer, nopCloser{}, err
	case config.ProviderGroq:
		recognizer, err := groq.NewRecognizer(
			groq.WithAPIKey(cfg.GroqAPIKey),
			groq.WithRecognizerOptions(options...),
		)
		return recognizer, nopCloser{}, err
	case config.ProviderGoogle:
		googleOptions := []google.RecognizerOption{google.WithRecognizerOptions(options...)}
		if cfg.CredentialsFile != "" {
			googleOptions = append(googleOptions, google.WithCredentialsFile(cfg.CredentialsFile))
		}
		recognizer, err := google.NewRecognizer(ctx, googleOptions...)
		if err != nil {
			return nil, nopCloser{}, err
		}
		return recognizer, recognizer, nil
	default:
		return nil, nopCloser{}, fmt.Errorf("unknown transcription provider %q", cfg.Provider)
	}
}

// newClassifier builds the configured speech classifier. The returned closer
// releases the model and is never nil.
func newClassifier(cfg *config.Config) (vad.Classifier, io.Closer, error) {
	switch cfg.VAD.Classifier {
	case config.ClassifierSilero:
		classifier, err := silero.New(silero.Config{
			ModelPath:  cfg.VAD.ModelPath,
			SampleRate: cfg.Audio.SampleRate,
		})
		if err != nil {
			return nil, nopCloser{}, err
		}
		return classifier, classifier, nil
	case config.ClassifierEnergy, "":
		detector := cfg.VADConfig()
		return vad.NewEnergyClassifier(detector.EnergyThreshold, detector.ReleaseRatio), nopCloser{}, nil
	default:
		return nil, nopCloser{}, fmt.Errorf("unknown speech classifier %q", cfg.VAD.Classifier)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// telemetrySinks are the event handlers and background services configured
// for a run.
type telemetrySinks struct {
	handlers []events.Handler
	services []func(context.Context) error
}

func newTelemetry(cfg *config.Config) telemetrySinks {
	var sinks telemetrySinks
	sinks.handlers = append(sinks.handlers, logsink.New().Handle)

	if cfg.Telemetry.MetricsAddr != "" {
		m := metrics.New()
		sinks.handlers = append(sinks.handlers, m.Handle)
		sinks.services = append(sinks.services, func(ctx context.Context) error {
			return m.Serve(ctx, cfg.Telemetry.MetricsAddr)
		})
	}

	if cfg.Telemetry.Kafka.Enabled {
		p := publisher.New(&publisher.Config{
			Enabled: true,
			Brokers: cfg.Telemetry.Kafka.Brokers,
			Topic:   cfg.Telemetry.Kafka.Topic,
		})
		sinks.handlers = append(sinks.handlers, p.Handle)
		sinks.services = append(sinks.services, p.Run)
	}
	return sinks
}

// pipelineOptions turns the configuration into pipeline options. Capture,
// classifier, recognizer and terminal come from the caller.
func pipelineOptions(cfg *config.Config, source audio.Source, classifier vad.Classifier, recognizer speechtotext.Recognizer, terminal orchestration.Terminal, handlers ...events.Handler) ([]orchestration.PipelineOption, error) {
	interpreter, err := commands.NewInterpreter(cfg.InterpreterConfig())
	if err != nil {
		return nil, fmt.Errorf("invalid phrase table: %w", err)
	}

	detector := vad.NewDetector(cfg.VADConfig(), vad.WithClassifier(classifier))

	dispatcherOptions := []orchestration.DispatcherOption{
		orchestration.WithQueueBound(cfg.Dispatcher.QueueBound),
		orchestration.WithRestartBackoff(cfg.Dispatcher.RestartBackoff...),
		orchestration.WithLivenessInterval(cfg.Dispatcher.LivenessInterval),
	}
	if cfg.Dispatcher.AutoSubmit {
		dispatcherOptions = append(dispatcherOptions, orchestration.WithAutoSubmit(cfg.Dispatcher.SubmitDelay))
	}

	options := []orchestration.PipelineOption{
		orchestration.WithCapture(audio.NewCapture(source,
			audio.WithFrameDuration(cfg.Audio.FrameDuration),
			audio.WithStallTimeout(cfg.Audio.StallTimeout),
		)),
		orchestration.WithDetector(detector),
		orchestration.WithTranscriptionStream(speechtotext.NewStream(recognizer,
			speechtotext.WithTimeout(cfg.Transcription.Timeout))),
		orchestration.WithInterpreter(interpreter),
		orchestration.WithTerminal(terminal),
		orchestration.WithDispatcherOptions(dispatcherOptions...),
		orchestration.WithFrameQueue(cfg.Audio.FrameQueue),
		orchestration.WithSegmentQueue(cfg.Transcription.SegmentQueue),
	}
	for _, handler := range handlers {
		options = append(options, orchestration.WithEventHandler(handler))
	}
	return options, nil
}

// shutdownTimeout bounds flushing logs and telemetry on exit.
const shutdownTimeout = 3 * time.Second
