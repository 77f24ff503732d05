// Package telemetry turns pipeline events into flat records that sinks can
// log, count or publish.
package telemetry

import (
	"time"

	"github.com/koscakluka/ema-voice/core/events"
)

// Record is the flattened form of a pipeline event. Fields holds the
// event-specific values with stable snake_case keys.
type Record struct {
	Kind        events.Kind    `json:"kind"`
	Timestamp   time.Time      `json:"timestamp"`
	UtteranceID string         `json:"utterance_id,omitempty"`
	Ordinal     uint64         `json:"ordinal,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
}

// Describe flattens an event. Unknown event types produce a record with only
// the kind and timestamp.
func Describe(event events.Event) Record {
	record := Record{
		Kind:      event.Kind(),
		Timestamp: event.Timestamp(),
		Fields:    map[string]any{},
	}

	switch e := event.(type) {
	case events.UtteranceOpened:
		record.UtteranceID, record.Ordinal = e.UtteranceID, e.Ordinal
	case events.UtteranceClosed:
		record.UtteranceID, record.Ordinal = e.UtteranceID, e.Ordinal
		record.Fields["duration_ms"] = e.Duration().Milliseconds()
		record.Fields["frames"] = e.Frames
		record.Fields["reason"] = e.Reason
	case events.UtteranceDiscarded:
		record.UtteranceID, record.Ordinal = e.UtteranceID, e.Ordinal
		record.Fields["duration_ms"] = e.End.Sub(e.Start).Milliseconds()
		record.Fields["reason"] = e.Reason

	case events.TranscriptUpdated:
		record.UtteranceID, record.Ordinal = e.Update.UtteranceID, e.Update.Ordinal
		record.Fields["seq"] = e.Update.Seq
		record.Fields["update"] = string(e.Update.Kind)
		record.Fields["text"] = e.Update.Text
		record.Fields["confidence"] = e.Update.Confidence
		if e.Update.Err != nil {
			record.Fields["error"] = e.Update.Err.Error()
		}

	case events.DirectiveProduced:
		record.UtteranceID, record.Ordinal = e.Directive.UtteranceID, e.Directive.Ordinal
		describeDirective(record.Fields, e.Directive.Kind, e.Directive.Text, e.Directive.Action, e.Directive.Reason)
		record.Fields["confidence"] = e.Directive.Confidence
	case events.DirectiveDelivered:
		record.UtteranceID, record.Ordinal = e.Directive.UtteranceID, e.Directive.Ordinal
		describeDirective(record.Fields, e.Directive.Kind, e.Directive.Text, e.Directive.Action, e.Directive.Reason)
		record.Fields["took_ms"] = e.Took.Milliseconds()
	case events.DirectiveDropped:
		record.UtteranceID, record.Ordinal = e.Directive.UtteranceID, e.Directive.Ordinal
		describeDirective(record.Fields, e.Directive.Kind, e.Directive.Text, e.Directive.Action, "")
		record.Fields["reason"] = e.Reason

	case events.SessionFault:
		record.Fields["error"] = errorString(e.Err)
	case events.Restarted:
		record.Fields["attempt"] = e.Attempt
	case events.SessionStateChanged:
		record.Fields["from"] = e.From.String()
		record.Fields["to"] = e.To.String()

	case events.Overrun:
		record.UtteranceID, record.Ordinal = e.UtteranceID, e.Ordinal
		record.Fields["stage"] = e.Stage
		if e.Stage == events.StageCapture {
			record.Fields["frame_seq"] = e.FrameSeq
		}
		record.Fields["error"] = errorString(e.Err)
	case events.CaptureFault:
		record.Fields["error"] = errorString(e.Err)
	case events.ListeningChanged:
		record.Fields["listening"] = e.Listening
	}

	if len(record.Fields) == 0 {
		record.Fields = nil
	}
	return record
}

func describeDirective[K ~string](fields map[string]any, kind K, text, action, reason string) {
	fields["directive"] = string(kind)
	if text != "" {
		fields["text"] = text
	}
	if action != "" {
		fields["action"] = action
	}
	if reason != "" {
		fields["reason"] = reason
	}
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
