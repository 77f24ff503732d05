package deepgram

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/speechtotext"
)

type fakeListenServer struct {
	replies       []string
	receivedAudio atomic.Int64
	authorization atomic.Value
	model         atomic.Value
	interim       atomic.Value
}

func (f *fakeListenServer) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		f.authorization.Store(r.Header.Get("Authorization"))
		f.model.Store(r.URL.Query().Get("model"))
		f.interim.Store(r.URL.Query().Get("interim_results"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("failed to upgrade: %v", err)
			return
		}
		defer conn.Close()

		for {
			msgType, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType == websocket.BinaryMessage {
				f.receivedAudio.Add(int64(len(msg)))
				continue
			}
			if strings.Contains(string(msg), "CloseStream") {
				break
			}
		}

		for _, reply := range f.replies {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
}

func startFakeServer(t *testing.T, replies ...string) (*fakeListenServer, *Recognizer) {
	t.Helper()
	fake := &fakeListenServer{replies: replies}
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)

	recognizer, err := NewRecognizer(
		WithAPIKey("secret"),
		WithEndpoint("ws"+strings.TrimPrefix(server.URL, "http")),
	)
	if err != nil {
		t.Fatalf("expected recognizer, got %v", err)
	}
	return fake, recognizer
}

func recognizeAll(t *testing.T, recognizer *Recognizer, pcm []byte) []speechtotext.Result {
	t.Helper()
	results, err := recognizer.Recognize(context.Background(), speechtotext.Utterance{
		ID:           "u1",
		Audio:        pcm,
		EncodingInfo: audio.GetDefaultEncodingInfo(),
	})
	if err != nil {
		t.Fatalf("expected recognition to start, got %v", err)
	}

	var collected []speechtotext.Result
	timeout := time.After(2 * time.Second)
	for {
		select {
		case result, ok := <-results:
			if !ok {
				return collected
			}
			collected = append(collected, result)
		case <-timeout:
			t.Fatalf("timed out waiting for results")
		}
	}
}

func TestRecognizerStreamsPartialsAndFinal(t *testing.T) {
	fake, recognizer := startFakeServer(t,
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"insert a","confidence":0.5}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"insert a comment","confidence":0.9}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"saying hello","confidence":0.7}]}}`,
		`{"type":"Metadata"}`,
	)

	results := recognizeAll(t, recognizer, make([]byte, 8000))

	expected := []speechtotext.Result{
		{Seq: 1, Text: "insert a"},
		{Seq: 2, Text: "insert a comment"},
		{Seq: 3, Text: "insert a comment saying hello"},
		{Seq: 4, Text: "insert a comment saying hello", IsFinal: true},
	}
	if len(results) != len(expected) {
		t.Fatalf("expected %d results, got %+v", len(expected), results)
	}
	for i, want := range expected {
		got := results[i]
		if got.Seq != want.Seq || got.Text != want.Text || got.IsFinal != want.IsFinal || got.Err != nil {
			t.Fatalf("expected result %d to be %+v, got %+v", i, want, got)
		}
	}
	if confidence := results[3].Confidence; math.Abs(confidence-0.8) > 1e-9 {
		t.Fatalf("expected averaged confidence 0.8, got %g", confidence)
	}

	if got := fake.receivedAudio.Load(); got != 8000 {
		t.Fatalf("expected server to receive 8000 audio bytes, got %d", got)
	}
	if got := fake.authorization.Load(); got != "Token secret" {
		t.Fatalf("expected token authorization, got %v", got)
	}
	if got := fake.model.Load(); got != defaultModel {
		t.Fatalf("expected model %q, got %v", defaultModel, got)
	}
}

func TestRecognizerFinalizesOnNormalClose(t *testing.T) {
	_, recognizer := startFakeServer(t,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"submit","confidence":0.95}]}}`,
	)

	results := recognizeAll(t, recognizer, make([]byte, 640))
	last := results[len(results)-1]
	if !last.IsFinal || last.Text != "submit" {
		t.Fatalf("expected final %q, got %+v", "submit", last)
	}
}

func TestRecognizerReportsDeepgramErrors(t *testing.T) {
	_, recognizer := startFakeServer(t, `{"type":"Error","description":"bad audio"}`)

	results := recognizeAll(t, recognizer, make([]byte, 640))
	if len(results) != 1 || results[0].Err == nil || !strings.Contains(results[0].Err.Error(), "bad audio") {
		t.Fatalf("expected a single error result, got %+v", results)
	}
}

func TestNewRecognizerRequiresAPIKey(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "")

	if _, err := NewRecognizer(); !errors.Is(err, errMissingAPIKey) {
		t.Fatalf("expected missing api key error, got %v", err)
	}
}

func TestConvertEncodingRejectsCompandedAudioAbove8kHz(t *testing.T) {
	if _, err := convertEncoding(audio.EncodingInfo{SampleRate: 16000, Format: audio.EncodingMulaw}); err == nil {
		t.Fatalf("expected mulaw at 16kHz to be rejected")
	}
	converted, err := convertEncoding(audio.EncodingInfo{SampleRate: 8000, Format: audio.EncodingMulaw})
	if err != nil || converted.Format != encodingMulaw {
		t.Fatalf("expected mulaw at 8kHz, got %+v, %v", converted, err)
	}
}

func TestRecognizerCanSkipInterimResults(t *testing.T) {
	fake := &fakeListenServer{replies: []string{
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"go up","confidence":0.9}]}}`,
	}}
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)

	recognizer, err := NewRecognizer(
		WithAPIKey("secret"),
		WithEndpoint("ws"+strings.TrimPrefix(server.URL, "http")),
		WithRecognizerOptions(speechtotext.WithoutInterimResults()),
	)
	if err != nil {
		t.Fatalf("expected recognizer, got %v", err)
	}

	recognizeAll(t, recognizer, make([]byte, 640))

	if got, _ := fake.interim.Load().(string); got != "" {
		t.Fatalf("expected no interim_results parameter, got %q", got)
	}
}
