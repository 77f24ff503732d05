package orchestration

import (
	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/commands"
	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/speechtotext"
	"github.com/koscakluka/ema-voice/core/vad"
)

const (
	DefaultFrameQueue   = 50
	DefaultSegmentQueue = 4
)

type PipelineOption func(*Pipeline)

// WithCapture sets the audio capture the pipeline listens to.
func WithCapture(capture *audio.Capture) PipelineOption {
	return func(p *Pipeline) {
		p.capture = capture
	}
}

func WithDetector(detector *vad.Detector) PipelineOption {
	return func(p *Pipeline) {
		p.detector = detector
	}
}

func WithTranscriptionStream(stream *speechtotext.Stream) PipelineOption {
	return func(p *Pipeline) {
		p.stream = stream
	}
}

func WithInterpreter(interpreter *commands.Interpreter) PipelineOption {
	return func(p *Pipeline) {
		p.interpreter = interpreter
	}
}

// WithTerminal sets the agent session directives are delivered to.
func WithTerminal(terminal Terminal) PipelineOption {
	return func(p *Pipeline) {
		p.terminal = terminal
	}
}

func WithDispatcherOptions(opts ...DispatcherOption) PipelineOption {
	return func(p *Pipeline) {
		p.dispatcherOptions = append(p.dispatcherOptions, opts...)
	}
}

// WithEventHandler registers an observer of pipeline events. Handlers are
// called in registration order.
func WithEventHandler(handler events.Handler) PipelineOption {
	return func(p *Pipeline) {
		if handler != nil {
			p.handlers = append(p.handlers, handler)
		}
	}
}

// WithFrameQueue sets how many frames may wait for speech detection before
// new frames are dropped.
func WithFrameQueue(size int) PipelineOption {
	return func(p *Pipeline) {
		if size > 0 {
			p.frameQueue = size
		}
	}
}

// WithSegmentQueue sets how many closed utterances may wait for
// transcription before speech detection blocks.
func WithSegmentQueue(size int) PipelineOption {
	return func(p *Pipeline) {
		if size > 0 {
			p.segmentQueue = size
		}
	}
}

// WithListening sets the initial state of the listening gate.
func WithListening(listening bool) PipelineOption {
	return func(p *Pipeline) {
		p.listening.Store(listening)
	}
}
