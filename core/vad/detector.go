// Package vad groups a stream of audio frames into utterance segments.
package vad

import (
	"github.com/koscakluka/ema-voice/core/audio"
)

type State int

const (
	StateSilence State = iota
	StateSpeech
	StateTrailing
)

func (s State) String() string {
	switch s {
	case StateSilence:
		return "silence"
	case StateSpeech:
		return "speech"
	case StateTrailing:
		return "trailing"
	default:
		return "unknown"
	}
}

const (
	ReasonTooShort    = "too_short"
	ReasonMaxLength   = "max_length"
	ReasonFrameGap    = "frame_gap"
	ReasonReset       = "reset"
	ReasonEndOfSpeech = "end_of_speech"
)

// Result is the outcome of processing one frame. Opened carries the header
// of a segment that just opened (its Frames stay with the detector until it
// closes). Closed carries a segment that is now closed or discarded.
type Result struct {
	Opened *Segment
	Closed *Segment
}

type DetectorOption func(*Detector)

func WithClassifier(classifier Classifier) DetectorOption {
	return func(d *Detector) {
		d.classifier = classifier
	}
}

func WithIDGenerator(generate IDGenerator) DetectorOption {
	return func(d *Detector) {
		d.newID = generate
	}
}

// Detector is the silence/speech/trailing state machine. It is not safe for
// concurrent use; one goroutine feeds it frames in order.
type Detector struct {
	config     Config
	classifier Classifier
	newID      IDGenerator

	state      State
	pending    []audio.Frame
	open       *Segment
	lastVoiced int
	haveLast   bool
	lastSeq    uint64
	ordinal    uint64
}

func NewDetector(config Config, opts ...DetectorOption) *Detector {
	d := &Detector{
		config: config,
		newID:  newUUID,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.classifier == nil {
		d.classifier = NewEnergyClassifier(config.EnergyThreshold, config.ReleaseRatio)
	}
	return d
}

func (d *Detector) State() State {
	return d.state
}

// Process classifies a frame and advances the state machine.
func (d *Detector) Process(frame audio.Frame) Result {
	var result Result

	// A sequence gap means frames were lost upstream; an open segment cannot
	// span it.
	if d.haveLast && frame.Seq != d.lastSeq+1 {
		if d.open != nil {
			result.Closed = d.close(ReasonFrameGap)
		}
		d.pending = d.pending[:0]
	}
	d.haveLast = true
	d.lastSeq = frame.Seq

	voiced := d.classifier.Voiced(frame)

	switch d.state {
	case StateSilence:
		if !voiced {
			d.pending = d.pending[:0]
			break
		}
		d.pending = append(d.pending, frame)
		if len(d.pending) < d.config.VoicedFrames {
			break
		}
		d.ordinal++
		d.open = &Segment{
			ID:      d.newID(),
			Ordinal: d.ordinal,
			Start:   d.pending[0].Timestamp,
			End:     frame.End(),
			Status:  StatusOpen,
			Frames:  append([]audio.Frame(nil), d.pending...),
		}
		d.pending = d.pending[:0]
		d.lastVoiced = len(d.open.Frames) - 1
		d.state = StateSpeech
		result.Opened = &Segment{
			ID:      d.open.ID,
			Ordinal: d.open.Ordinal,
			Start:   d.open.Start,
			Status:  StatusOpen,
		}

	case StateSpeech, StateTrailing:
		d.open.Frames = append(d.open.Frames, frame)
		if voiced {
			d.lastVoiced = len(d.open.Frames) - 1
			d.state = StateSpeech
		} else {
			d.state = StateTrailing
			lastVoicedEnd := d.open.Frames[d.lastVoiced].End()
			if frame.End().Sub(lastVoicedEnd) >= d.config.TrailingGrace {
				result.Closed = d.close(ReasonEndOfSpeech)
				return result
			}
		}
	}

	if d.open != nil && d.config.MaxUtterance > 0 && frame.End().Sub(d.open.Start) >= d.config.MaxUtterance {
		result.Closed = d.close(ReasonMaxLength)
	}

	return result
}

// Reset drops the open segment, if any, and returns it marked discarded.
func (d *Detector) Reset() *Segment {
	d.pending = d.pending[:0]
	d.classifier.Reset()
	d.haveLast = false
	if d.open == nil {
		d.state = StateSilence
		return nil
	}
	segment := d.open
	segment.Frames = segment.Frames[:d.lastVoiced+1]
	segment.End = segment.Frames[d.lastVoiced].End()
	segment.Status = StatusDiscarded
	segment.Reason = ReasonReset
	d.open = nil
	d.state = StateSilence
	return segment
}

func (d *Detector) close(reason string) *Segment {
	segment := d.open
	d.open = nil
	d.state = StateSilence

	// The segment ends at the last voiced frame; trailing silence is not
	// part of the utterance.
	segment.Frames = segment.Frames[:d.lastVoiced+1]
	segment.End = segment.Frames[d.lastVoiced].End()
	segment.Reason = reason
	segment.Status = StatusClosed
	if segment.Duration() < d.config.MinUtterance {
		segment.Status = StatusDiscarded
		segment.Reason = ReasonTooShort
	}
	return segment
}
