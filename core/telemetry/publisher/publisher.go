// Package publisher publishes pipeline events to Kafka.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/telemetry"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const (
	scopeName = "github.com/koscakluka/ema-voice/core/telemetry/publisher"

	DefaultTopic  = "ema-voice.events"
	DefaultBuffer = 256
)

var logger = otelslog.NewLogger(scopeName)

type Config struct {
	Brokers []string
	Topic   string
	Enabled bool
}

// messageWriter is the part of kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type PublisherOption func(*Publisher)

// WithBuffer sets how many events may wait for Kafka before new ones are
// dropped.
func WithBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		p.buffer = size
	}
}

func withWriter(writer messageWriter) PublisherOption {
	return func(p *Publisher) {
		p.writer = writer
		p.enabled = true
	}
}

// Publisher forwards events to a Kafka topic, keyed by utterance ID so one
// utterance's events stay on one partition. When disabled it only logs.
type Publisher struct {
	writer  messageWriter
	topic   string
	enabled bool
	buffer  int

	queue chan kafka.Message

	mu      sync.Mutex
	dropped uint64
	closed  bool
}

func New(cfg *Config, opts ...PublisherOption) *Publisher {
	p := &Publisher{topic: DefaultTopic, buffer: DefaultBuffer}
	if cfg != nil && cfg.Topic != "" {
		p.topic = cfg.Topic
	}

	switch {
	case cfg == nil:
		logger.Info("kafka disabled (nil config), using log-only mode")
	case !cfg.Enabled || len(cfg.Brokers) == 0:
		logger.Info("kafka disabled, using log-only mode")
	default:
		dialer := &kafka.Dialer{
			Timeout:   10 * time.Second,
			DualStack: true,
		}
		p.writer = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        p.topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    &kafka.Transport{Dial: dialer.DialFunc},
		}
		p.enabled = true
		logger.Info("kafka publisher initialized", "brokers", cfg.Brokers, "topic", p.topic)
	}

	for _, opt := range opts {
		opt(p)
	}
	p.queue = make(chan kafka.Message, max(p.buffer, 1))
	return p
}

func (p *Publisher) Enabled() bool {
	return p.enabled
}

// Dropped reports how many events were discarded because the buffer was
// full.
func (p *Publisher) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Handle queues one event for publishing. It never blocks.
func (p *Publisher) Handle(event events.Event) {
	msg, err := p.message(event)
	if err != nil {
		logger.Error("failed to marshal event", "kind", event.Kind(), "error", err)
		return
	}

	if !p.enabled {
		logger.Debug("publishing event", "topic", p.topic, "key", string(msg.Key), "payload", string(msg.Value))
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- msg:
	default:
		p.dropped++
		logger.Warn("event buffer full, dropping event", "kind", event.Kind(), "dropped", p.dropped)
	}
}

func (p *Publisher) message(event events.Event) (kafka.Message, error) {
	record := telemetry.Describe(event)
	payload, err := json.Marshal(record)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal %s event: %w", record.Kind, err)
	}

	key := record.UtteranceID
	if key == "" {
		key = string(record.Kind)
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  record.Timestamp,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(record.Kind)},
		},
	}, nil
}

// Run writes queued events until ctx is done, then flushes what is left and
// closes the writer.
func (p *Publisher) Run(ctx context.Context) error {
	if !p.enabled {
		<-ctx.Done()
		return nil
	}
	defer p.close()

	for {
		select {
		case <-ctx.Done():
			p.flush()
			return nil
		case msg := <-p.queue:
			p.write(ctx, msg)
		}
	}
}

func (p *Publisher) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case msg := <-p.queue:
			p.write(ctx, msg)
		default:
			return
		}
	}
}

func (p *Publisher) write(ctx context.Context, msg kafka.Message) {
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		logger.Error("failed to write to kafka", "topic", p.topic, "key", string(msg.Key), "error", err)
	}
}

func (p *Publisher) close() {
	if err := p.writer.Close(); err != nil {
		logger.Error("error closing kafka writer", "error", err)
	}
}
