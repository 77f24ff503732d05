package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/commands"
	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/speechtotext"
	"github.com/koscakluka/ema-voice/core/vad"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// Pipeline wires capture, speech detection, transcription, interpretation
// and delivery. Each stage runs in its own goroutine; stages are connected
// by bounded queues and the dispatcher is the only one touching the agent
// session.
type Pipeline struct {
	capture     *audio.Capture
	detector    *vad.Detector
	stream      *speechtotext.Stream
	interpreter *commands.Interpreter
	terminal    Terminal

	dispatcher        *Dispatcher
	dispatcherOptions []DispatcherOption

	handlers []events.Handler
	emit     eventEmitter

	frameQueue   int
	segmentQueue int

	listening atomic.Bool
	running   atomic.Bool
}

func NewPipeline(opts ...PipelineOption) (*Pipeline, error) {
	p := &Pipeline{
		frameQueue:   DefaultFrameQueue,
		segmentQueue: DefaultSegmentQueue,
		emit:         noopEventEmitter,
	}
	p.listening.Store(true)

	for _, opt := range opts {
		opt(p)
	}

	if p.capture == nil {
		return nil, fmt.Errorf("no audio capture configured")
	}
	if p.stream == nil {
		return nil, fmt.Errorf("no transcription stream configured")
	}
	if p.terminal == nil {
		return nil, fmt.Errorf("no terminal configured")
	}
	if p.detector == nil {
		p.detector = vad.NewDetector(vad.DefaultConfig())
	}
	if p.interpreter == nil {
		interpreter, err := commands.NewInterpreter(commands.DefaultConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create interpreter: %w", err)
		}
		p.interpreter = interpreter
	}

	p.emit = newFanOutEventEmitter(p.handlers)
	dispatcherOptions := append(p.dispatcherOptions, WithDispatchEventHandler(events.Handler(p.emit)))
	p.dispatcher = NewDispatcher(p.terminal, dispatcherOptions...)

	return p, nil
}

// Dispatcher exposes session state and recovery to the process that owns the
// pipeline.
func (p *Pipeline) Dispatcher() *Dispatcher {
	return p.dispatcher
}

func (p *Pipeline) Listening() bool {
	return p.listening.Load()
}

// SetListening switches the listening gate. While off, audio is still
// captured but never reaches speech detection, and an utterance that was
// being heard is discarded.
func (p *Pipeline) SetListening(listening bool) {
	if p.listening.Swap(listening) != listening {
		logger.Info("listening changed", "listening", listening)
		p.emit(events.NewListeningChanged(listening))
	}
}

// ToggleListening flips the listening gate and returns the new state.
func (p *Pipeline) ToggleListening() bool {
	for {
		current := p.listening.Load()
		if p.listening.CompareAndSwap(current, !current) {
			logger.Info("listening changed", "listening", !current)
			p.emit(events.NewListeningChanged(!current))
			return !current
		}
	}
}

// Run runs every stage until ctx is done or capture fails. A capture failure
// is returned wrapping audio.ErrCaptureFault.
//
// Contract: call Run at most once per pipeline.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("pipeline already running")
	}

	ctx, span := tracer.Start(ctx, "run pipeline")
	defer span.End()

	frames := make(chan audio.Frame, p.frameQueue)
	segments := make(chan *vad.Segment, p.segmentQueue)

	workers := []workerRun{
		panicSafeNamedWorker("capture", func(ctx context.Context) error {
			return p.runCapture(ctx, frames)
		}),
		panicSafeNamedWorker("speech detection", func(ctx context.Context) error {
			return p.runDetection(ctx, frames, segments)
		}),
		panicSafeNamedWorker("transcription", func(ctx context.Context) error {
			return p.runTranscription(ctx, segments)
		}),
		panicSafeNamedWorker("dispatch", p.dispatcher.Run),
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, worker := range workers {
		group.Go(func() error { return worker(groupCtx) })
	}

	if err := group.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")
		if !errors.Is(err, audio.ErrCaptureFault) {
			logger.Error("pipeline stage failed", "error", err)
		}
		return err
	}
	return nil
}
