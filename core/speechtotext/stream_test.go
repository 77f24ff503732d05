package speechtotext

import (
	"context"
	"errors"
	"testing"
	"time"
)

type scriptedRecognizer struct {
	results []Result
	// hold keeps the channel open after the script until ctx is done.
	hold bool
	err  error
	// sent is closed once every scripted result was taken.
	sent chan struct{}
}

func (r *scriptedRecognizer) Recognize(ctx context.Context, _ Utterance) (<-chan Result, error) {
	if r.err != nil {
		return nil, r.err
	}
	results := make(chan Result)
	go func() {
		defer close(results)
		for _, result := range r.results {
			select {
			case results <- result:
			case <-ctx.Done():
				return
			}
		}
		if r.sent != nil {
			close(r.sent)
		}
		if r.hold {
			<-ctx.Done()
		}
	}()
	return results, nil
}

func collect(t *testing.T, updates <-chan Update) []Update {
	t.Helper()
	var collected []Update
	timeout := time.After(2 * time.Second)
	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return collected
			}
			collected = append(collected, update)
		case <-timeout:
			t.Fatalf("timed out waiting for updates, got %d so far", len(collected))
		}
	}
}

func TestStreamDropsStaleAndPostTerminalResults(t *testing.T) {
	recognizer := &scriptedRecognizer{results: []Result{
		{Seq: 1, Text: "in"},
		{Seq: 3, Text: "insert a"},
		{Seq: 2, Text: "insert"},
		{Seq: 4, Text: "insert a comment", IsFinal: true, Confidence: 0.9},
		{Seq: 5, Text: "late"},
		{Seq: 6, Text: "later", IsFinal: true},
	}}
	stream := NewStream(recognizer)

	updates := collect(t, stream.Transcribe(context.Background(), Utterance{ID: "u1"}))
	if len(updates) == 0 {
		t.Fatalf("expected updates")
	}

	last := 0
	for i, update := range updates {
		if update.UtteranceID != "u1" {
			t.Fatalf("expected utterance u1, got %q", update.UtteranceID)
		}
		if update.Seq <= last {
			t.Fatalf("expected increasing sequence numbers, got %d after %d", update.Seq, last)
		}
		if update.Seq == 2 {
			t.Fatalf("expected stale result 2 to be dropped")
		}
		if update.Kind.IsTerminal() && i != len(updates)-1 {
			t.Fatalf("expected the terminal update to be last")
		}
		last = update.Seq
	}

	final := updates[len(updates)-1]
	if final.Kind != KindFinal || final.Seq != 4 || final.Text != "insert a comment" {
		t.Fatalf("expected final 4 %q, got %+v", "insert a comment", final)
	}
}

func TestStreamFailsWhenRecognizerClosesWithoutFinal(t *testing.T) {
	stream := NewStream(&scriptedRecognizer{results: []Result{{Seq: 1, Text: "hel"}}})

	updates := collect(t, stream.Transcribe(context.Background(), Utterance{ID: "u1"}))
	final := updates[len(updates)-1]
	if final.Kind != KindError || !errors.Is(final.Err, ErrTranscription) {
		t.Fatalf("expected a transcription error, got %+v", final)
	}
	if final.Seq != 2 {
		t.Fatalf("expected the error to follow the last accepted result, got seq %d", final.Seq)
	}
}

func TestStreamTurnsRecognizerErrorsIntoSingleErrorUpdate(t *testing.T) {
	connErr := errors.New("connection reset")
	stream := NewStream(&scriptedRecognizer{err: connErr})

	updates := collect(t, stream.Transcribe(context.Background(), Utterance{ID: "u1"}))
	if len(updates) != 1 {
		t.Fatalf("expected a single update, got %d", len(updates))
	}
	if updates[0].Kind != KindError || !errors.Is(updates[0].Err, connErr) {
		t.Fatalf("expected error update wrapping %v, got %+v", connErr, updates[0])
	}
}

func TestStreamStopsAtResultError(t *testing.T) {
	resultErr := errors.New("disconnected")
	stream := NewStream(&scriptedRecognizer{results: []Result{
		{Seq: 1, Err: resultErr},
		{Seq: 2, Text: "ignored", IsFinal: true},
	}})

	updates := collect(t, stream.Transcribe(context.Background(), Utterance{ID: "u1"}))
	if len(updates) != 1 || updates[0].Kind != KindError || !errors.Is(updates[0].Err, resultErr) {
		t.Fatalf("expected a single error update, got %+v", updates)
	}
}

func TestStreamTimesOut(t *testing.T) {
	stream := NewStream(&scriptedRecognizer{hold: true}, WithTimeout(30*time.Millisecond))

	updates := collect(t, stream.Transcribe(context.Background(), Utterance{ID: "u1"}))
	if len(updates) != 1 || updates[0].Kind != KindError || !errors.Is(updates[0].Err, ErrTranscription) {
		t.Fatalf("expected a timeout error update, got %+v", updates)
	}
}

func TestStreamCancelEndsWithoutTerminalUpdate(t *testing.T) {
	stream := NewStream(&scriptedRecognizer{hold: true}, WithTimeout(time.Minute))

	updates := stream.Transcribe(context.Background(), Utterance{ID: "u1"})
	stream.Cancel("u1")
	stream.Cancel("unknown")

	if got := collect(t, updates); len(got) != 0 {
		t.Fatalf("expected no updates after cancel, got %+v", got)
	}
}

func TestStreamShedsPartialsForSlowConsumer(t *testing.T) {
	var results []Result
	for i := 1; i <= 50; i++ {
		results = append(results, Result{Seq: i, Text: "partial"})
	}
	recognizer := &scriptedRecognizer{results: results, hold: true, sent: make(chan struct{})}
	stream := NewStream(recognizer, WithTimeout(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := stream.Transcribe(ctx, Utterance{ID: "u1"})

	select {
	case <-recognizer.sent:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the stream to take every result")
	}

	select {
	case update := <-updates:
		if update.Seq != 50 {
			t.Fatalf("expected only the newest partial to survive, got seq %d", update.Seq)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the newest partial")
	}
}

func TestStreamWithoutRecognizerFails(t *testing.T) {
	updates := collect(t, NewStream(nil).Transcribe(context.Background(), Utterance{ID: "u1"}))
	if len(updates) != 1 || updates[0].Kind != KindError {
		t.Fatalf("expected a single error update, got %+v", updates)
	}
}
