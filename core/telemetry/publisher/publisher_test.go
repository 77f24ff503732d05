package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-voice/core/commands"
	"github.com/koscakluka/ema-voice/core/events"
	"github.com/segmentio/kafka-go"
)

type writerStub struct {
	mu       sync.Mutex
	messages []kafka.Message
	closed   bool
	err      error
}

func (w *writerStub) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *writerStub) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *writerStub) Messages() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.messages...)
}

func TestNewDisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			if p.Enabled() {
				t.Fatalf("expected publisher to be disabled")
			}
			if p.writer != nil {
				t.Fatalf("expected no writer when disabled")
			}

			p.Handle(events.NewListeningChanged(true))

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			if err := p.Run(ctx); err != nil {
				t.Fatalf("expected no error when disabled, got %v", err)
			}
		})
	}
}

func TestNewEnabledUsesTopic(t *testing.T) {
	p := New(&Config{Enabled: true, Brokers: []string{"localhost:9092"}, Topic: "voice"})
	if !p.Enabled() || p.topic != "voice" {
		t.Fatalf("expected enabled publisher on topic voice, got enabled=%v topic=%s", p.Enabled(), p.topic)
	}
	if writer, ok := p.writer.(*kafka.Writer); !ok || writer.Topic != "voice" {
		t.Fatalf("expected kafka writer for topic voice, got %T", p.writer)
	}
}

func TestPublisherWritesKeyedRecords(t *testing.T) {
	writer := &writerStub{}
	p := New(nil, withWriter(writer))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	p.Handle(events.NewDirectiveDelivered(commands.Directive{
		Kind:        commands.DirectiveInsertText,
		UtteranceID: "u-3",
		Ordinal:     3,
		Text:        "hello",
	}, 5*time.Millisecond))
	p.Handle(events.NewListeningChanged(false))

	deadline := time.Now().Add(time.Second)
	for len(writer.Messages()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 messages, got %d", len(writer.Messages()))
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	messages := writer.Messages()
	if string(messages[0].Key) != "u-3" {
		t.Fatalf("expected utterance key, got %q", messages[0].Key)
	}
	if string(messages[1].Key) != string(events.KindListeningChanged) {
		t.Fatalf("expected kind key for events without utterance, got %q", messages[1].Key)
	}

	var payload map[string]any
	if err := json.Unmarshal(messages[0].Value, &payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload["kind"] != string(events.KindDirectiveDelivered) {
		t.Fatalf("expected delivered kind, got %v", payload["kind"])
	}
	if !writer.closed {
		t.Fatalf("expected writer to be closed after Run")
	}
}

func TestPublisherDropsWhenBufferFull(t *testing.T) {
	p := New(nil, withWriter(&writerStub{}), WithBuffer(1))

	p.Handle(events.NewListeningChanged(true))
	p.Handle(events.NewListeningChanged(false))
	p.Handle(events.NewListeningChanged(true))

	if dropped := p.Dropped(); dropped != 2 {
		t.Fatalf("expected 2 dropped events, got %d", dropped)
	}
}

func TestPublisherSurvivesWriteErrors(t *testing.T) {
	writer := &writerStub{err: errors.New("broker down")}
	p := New(nil, withWriter(writer))
	p.Handle(events.NewRestarted(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Run(ctx); err != nil {
		t.Fatalf("expected write errors to be logged, got %v", err)
	}
}
