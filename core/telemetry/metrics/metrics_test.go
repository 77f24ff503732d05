package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/koscakluka/ema-voice/core/commands"
	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/session"
	"github.com/koscakluka/ema-voice/core/speechtotext"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCountEvents(t *testing.T) {
	m := New()

	m.Handle(events.NewListeningChanged(true))
	m.Handle(events.NewDirectiveProduced(commands.Directive{Kind: commands.DirectiveInsertText}))
	m.Handle(events.NewDirectiveProduced(commands.Directive{Kind: commands.DirectiveInsertText}))
	m.Handle(events.NewDirectiveDropped(commands.Directive{}, "overrun"))
	m.Handle(events.NewTranscriptUpdated(speechtotext.Update{Kind: speechtotext.KindError, Err: errors.New("timeout")}))
	m.Handle(events.NewFrameOverrun(4, errors.New("full")))

	if got := testutil.ToFloat64(m.Events.WithLabelValues(string(events.KindDirectiveProduced))); got != 2 {
		t.Fatalf("expected 2 produced events, got %v", got)
	}
	if got := testutil.ToFloat64(m.DirectivesProduced.WithLabelValues("insert_text")); got != 2 {
		t.Fatalf("expected 2 insert directives, got %v", got)
	}
	if got := testutil.ToFloat64(m.DirectivesDropped.WithLabelValues("overrun")); got != 1 {
		t.Fatalf("expected 1 overrun drop, got %v", got)
	}
	if got := testutil.ToFloat64(m.TranscriptFailures); got != 1 {
		t.Fatalf("expected 1 transcription failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.Overruns.WithLabelValues(events.StageCapture)); got != 1 {
		t.Fatalf("expected 1 capture overrun, got %v", got)
	}
	if got := testutil.ToFloat64(m.Listening); got != 1 {
		t.Fatalf("expected listening gauge 1, got %v", got)
	}
}

func TestMetricsTrackSessionState(t *testing.T) {
	m := New()

	m.Handle(events.NewSessionStateChanged(session.StateStarting, session.StateReady))
	m.Handle(events.NewSessionStateChanged(session.StateReady, session.StateDegraded))

	if got := testutil.ToFloat64(m.SessionState.WithLabelValues("degraded")); got != 1 {
		t.Fatalf("expected degraded to be active, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionState.WithLabelValues("ready")); got != 0 {
		t.Fatalf("expected ready to be inactive, got %v", got)
	}
}

func TestMetricsHandlerServesRegistry(t *testing.T) {
	m := New()
	m.Handle(events.NewDirectiveDelivered(commands.Directive{}, 20*time.Millisecond))

	server := httptest.NewServer(m.Handler())
	defer server.Close()

	resp, err := server.Client().Get(server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), "ema_voice_delivery_duration_seconds_count 1") {
		t.Fatalf("expected delivery histogram in output, got:\n%s", body)
	}
}

func TestNewUsesIsolatedRegistries(t *testing.T) {
	first, second := New(), New()
	first.Handle(events.NewRestarted(1))

	if got := testutil.ToFloat64(second.SessionRestarts); got != 0 {
		t.Fatalf("expected independent registries, got %v restarts", got)
	}
}
