// Package logsink writes pipeline events to a structured logger.
package logsink

import (
	"context"
	"log/slog"
	"sort"

	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/telemetry"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/koscakluka/ema-voice/core/telemetry/logsink"

type SinkOption func(*Sink)

// WithLogger replaces the default otelslog logger.
func WithLogger(logger *slog.Logger) SinkOption {
	return func(s *Sink) {
		s.logger = logger
	}
}

// WithTranscriptText controls whether transcript and directive text is
// logged. It is on by default.
func WithTranscriptText(enabled bool) SinkOption {
	return func(s *Sink) {
		s.includeText = enabled
	}
}

type Sink struct {
	logger      *slog.Logger
	includeText bool
}

func New(opts ...SinkOption) *Sink {
	s := &Sink{
		logger:      otelslog.NewLogger(scopeName),
		includeText: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle logs one event. Faults are logged at error level, drops and
// overruns at warn, partial transcripts at debug and the rest at info.
func (s *Sink) Handle(event events.Event) {
	record := telemetry.Describe(event)

	attrs := make([]slog.Attr, 0, len(record.Fields)+2)
	if record.UtteranceID != "" {
		attrs = append(attrs,
			slog.String("utterance_id", record.UtteranceID),
			slog.Uint64("ordinal", record.Ordinal))
	}

	keys := make([]string, 0, len(record.Fields))
	for key := range record.Fields {
		if key == "text" && !s.includeText {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		attrs = append(attrs, slog.Any(key, record.Fields[key]))
	}

	s.logger.LogAttrs(context.Background(), level(event), string(record.Kind), attrs...)
}

func level(event events.Event) slog.Level {
	switch e := event.(type) {
	case events.CaptureFault, events.SessionFault:
		return slog.LevelError
	case events.Overrun, events.DirectiveDropped, events.UtteranceDiscarded:
		return slog.LevelWarn
	case events.TranscriptUpdated:
		if !e.Update.Kind.IsTerminal() {
			return slog.LevelDebug
		}
	}
	return slog.LevelInfo
}
