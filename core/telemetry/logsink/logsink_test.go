package logsink

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/koscakluka/ema-voice/core/commands"
	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/speechtotext"
)

func newTestSink(opts ...SinkOption) (*Sink, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return New(append([]SinkOption{WithLogger(logger)}, opts...)...), &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("expected JSON log line, got %q: %v", line, err)
		}
		lines = append(lines, entry)
	}
	return lines
}

func TestSinkLogsEventFields(t *testing.T) {
	sink, buf := newTestSink()

	sink.Handle(events.NewDirectiveProduced(commands.Directive{
		Kind:        commands.DirectiveInsertText,
		UtteranceID: "u-7",
		Ordinal:     7,
		Text:        "hello",
		Confidence:  0.9,
	}))

	lines := decodeLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d", len(lines))
	}
	entry := lines[0]
	if entry["msg"] != string(events.KindDirectiveProduced) {
		t.Fatalf("expected message %q, got %v", events.KindDirectiveProduced, entry["msg"])
	}
	if entry["utterance_id"] != "u-7" || entry["text"] != "hello" || entry["directive"] != "insert_text" {
		t.Fatalf("expected directive fields, got %v", entry)
	}
	if entry["level"] != "INFO" {
		t.Fatalf("expected INFO, got %v", entry["level"])
	}
}

func TestSinkLevels(t *testing.T) {
	tests := []struct {
		event events.Event
		level string
	}{
		{events.NewCaptureFault(errors.New("unplugged")), "ERROR"},
		{events.NewSessionFault(errors.New("exited")), "ERROR"},
		{events.NewFrameOverrun(3, errors.New("full")), "WARN"},
		{events.NewDirectiveDropped(commands.Directive{}, "overrun"), "WARN"},
		{events.NewTranscriptUpdated(speechtotext.Update{Kind: speechtotext.KindPartial}), "DEBUG"},
		{events.NewTranscriptUpdated(speechtotext.Update{Kind: speechtotext.KindFinal}), "INFO"},
		{events.NewListeningChanged(true), "INFO"},
	}

	for _, tt := range tests {
		t.Run(string(tt.event.Kind())+"/"+tt.level, func(t *testing.T) {
			sink, buf := newTestSink()
			sink.Handle(tt.event)
			lines := decodeLines(t, buf)
			if len(lines) != 1 || lines[0]["level"] != tt.level {
				t.Fatalf("expected one %s line, got %v", tt.level, lines)
			}
		})
	}
}

func TestSinkCanOmitText(t *testing.T) {
	sink, buf := newTestSink(WithTranscriptText(false))

	sink.Handle(events.NewTranscriptUpdated(speechtotext.Update{
		UtteranceID: "u-1",
		Kind:        speechtotext.KindFinal,
		Text:        "my password is hunter2",
	}))

	if strings.Contains(buf.String(), "hunter2") {
		t.Fatalf("expected transcript text to be omitted, got %s", buf.String())
	}
}
