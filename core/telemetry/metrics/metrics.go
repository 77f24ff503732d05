// Package metrics exposes pipeline events as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	namespace = "ema_voice"
	scopeName = "github.com/koscakluka/ema-voice/core/telemetry/metrics"
)

var logger = otelslog.NewLogger(scopeName)

// Metrics holds the Prometheus collectors fed by pipeline events.
type Metrics struct {
	registry *prometheus.Registry

	Events *prometheus.CounterVec

	// Utterance metrics
	UtteranceDuration  prometheus.Histogram
	UtterancesDiscard  *prometheus.CounterVec
	TranscriptsByKind  *prometheus.CounterVec
	TranscriptFailures prometheus.Counter

	// Directive metrics
	DirectivesProduced *prometheus.CounterVec
	DirectivesDropped  *prometheus.CounterVec
	DeliveryDuration   prometheus.Histogram

	// Session metrics
	SessionFaults   prometheus.Counter
	SessionRestarts prometheus.Counter
	SessionState    *prometheus.GaugeVec

	// Pipeline metrics
	Overruns  *prometheus.CounterVec
	Listening prometheus.Gauge
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of pipeline events by kind",
		}, []string{"kind"}),

		UtteranceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "utterance_duration_seconds",
			Help:      "Duration of utterances handed to transcription",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 5, 10, 20, 30},
		}),
		UtterancesDiscard: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_discarded_total",
			Help:      "Total number of utterances dropped before transcription",
		}, []string{"reason"}),
		TranscriptsByKind: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_total",
			Help:      "Total number of transcript updates by kind",
		}, []string{"kind"}),
		TranscriptFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_errors_total",
			Help:      "Total number of utterances whose transcription failed",
		}),

		DirectivesProduced: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directives_produced_total",
			Help:      "Total number of directives produced by kind",
		}, []string{"kind"}),
		DirectivesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directives_dropped_total",
			Help:      "Total number of directives never delivered",
		}, []string{"reason"}),
		DeliveryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Time spent writing a directive to the session",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		SessionFaults: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_faults_total",
			Help:      "Total number of session faults",
		}),
		SessionRestarts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_restarts_total",
			Help:      "Total number of successful agent restarts",
		}),
		SessionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "Current session state, 1 for the active state",
		}, []string{"state"}),

		Overruns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overruns_total",
			Help:      "Total number of items dropped by full queues",
		}, []string{"stage"}),
		Listening: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "listening",
			Help:      "Whether the listening gate is open",
		}),
	}
}

// Registry is the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handle records one event.
func (m *Metrics) Handle(event events.Event) {
	m.Events.WithLabelValues(string(event.Kind())).Inc()

	switch e := event.(type) {
	case events.UtteranceClosed:
		m.UtteranceDuration.Observe(e.Duration().Seconds())
	case events.UtteranceDiscarded:
		m.UtterancesDiscard.WithLabelValues(e.Reason).Inc()
	case events.TranscriptUpdated:
		m.TranscriptsByKind.WithLabelValues(string(e.Update.Kind)).Inc()
		if e.Update.Err != nil {
			m.TranscriptFailures.Inc()
		}
	case events.DirectiveProduced:
		m.DirectivesProduced.WithLabelValues(string(e.Directive.Kind)).Inc()
	case events.DirectiveDropped:
		m.DirectivesDropped.WithLabelValues(e.Reason).Inc()
	case events.DirectiveDelivered:
		m.DeliveryDuration.Observe(e.Took.Seconds())
	case events.SessionFault:
		m.SessionFaults.Inc()
	case events.Restarted:
		m.SessionRestarts.Inc()
	case events.SessionStateChanged:
		m.recordState(e.To)
	case events.Overrun:
		m.Overruns.WithLabelValues(e.Stage).Inc()
	case events.ListeningChanged:
		if e.Listening {
			m.Listening.Set(1)
		} else {
			m.Listening.Set(0)
		}
	}
}

func (m *Metrics) recordState(current session.State) {
	for _, state := range []session.State{
		session.StateStarting,
		session.StateReady,
		session.StateBusy,
		session.StateDegraded,
		session.StateTerminated,
	} {
		value := 0.0
		if state == current {
			value = 1
		}
		m.SessionState.WithLabelValues(state.String()).Set(value)
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return otelhttp.NewHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}), "metrics")
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", "addr", addr)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-serveErr; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
