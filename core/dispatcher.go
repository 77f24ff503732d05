package orchestration

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koscakluka/ema-voice/core/commands"
	"github.com/koscakluka/ema-voice/core/events"
	"github.com/koscakluka/ema-voice/core/session"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ErrOverrun is carried by Overrun events when a bounded queue dropped work.
var ErrOverrun = errors.New("queue overrun")

var errAborted = errors.New("delivery aborted")

const (
	DefaultQueueBound  = 3
	DefaultSubmitDelay = 100 * time.Millisecond

	historySize       = 16
	cancellationQueue = 16
)

func DefaultRestartBackoff() []time.Duration {
	return []time.Duration{250 * time.Millisecond, time.Second, 3 * time.Second}
}

// Reasons carried by DirectiveDropped events.
const (
	DropUnrecognized  = "unrecognized"
	DropCanceled      = "canceled"
	DropOverrun       = "overrun"
	DropSessionFault  = "session_fault"
	DropUnknownKey    = "unknown_key"
	DropStale         = "stale"
	DropShutdown      = "shutdown"
	DropRestartFailed = "restart_failed"
	DropNotNeeded     = "not_needed"
	DropNoOrdinal     = "no_ordinal"
)

// Terminal is the agent session as seen by the dispatcher.
type Terminal interface {
	SendText(ctx context.Context, text string) error
	SendControlKey(ctx context.Context, name string) error
	IsAlive() bool
	Restart(ctx context.Context) error
}

// Cancellation tells the transcription stage that every utterance up to and
// including Ordinal was canceled.
type Cancellation struct {
	UtteranceID string
	Ordinal     uint64
}

type DispatcherOption func(*Dispatcher)

// WithQueueBound sets how many undelivered utterances may wait. Older ones
// are dropped first.
func WithQueueBound(bound int) DispatcherOption {
	return func(d *Dispatcher) {
		if bound > 0 {
			d.queueBound = bound
		}
	}
}

// WithRestartBackoff sets the waits before each automatic restart attempt.
// The number of waits is the number of attempts.
func WithRestartBackoff(backoff ...time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.restartBackoff = append([]time.Duration(nil), backoff...)
	}
}

// WithAutoSubmit makes every inserted text followed by a submit key after
// delay.
func WithAutoSubmit(delay time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.autoSubmit = true
		d.submitDelay = delay
	}
}

// WithLivenessInterval polls the terminal for a dead process while idle.
func WithLivenessInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.livenessInterval = interval
	}
}

func WithDispatchEventHandler(handler events.Handler) DispatcherOption {
	return func(d *Dispatcher) {
		if handler == nil {
			d.emit = noopEventEmitter
			return
		}
		d.emit = eventEmitter(handler)
	}
}

type entry struct {
	directive commands.Directive
	canceled  bool
	// abort ends the waits between the steps of a delivering entry.
	abort  context.Context
	cancel context.CancelFunc
}

type recoverRequest struct {
	reply     chan error
	directive *commands.Directive
}

// Dispatcher delivers directives to the terminal one at a time in utterance
// order. It is the only component that changes the session state and the
// only one that restarts the agent.
type Dispatcher struct {
	terminal         Terminal
	queueBound       int
	restartBackoff   []time.Duration
	autoSubmit       bool
	submitDelay      time.Duration
	livenessInterval time.Duration
	emit             eventEmitter

	wake            chan struct{}
	recoverRequests chan recoverRequest
	cancellations   chan Cancellation
	running         atomic.Bool

	mu         sync.Mutex
	state      session.State
	exhausted  bool
	queue      []*entry
	delivering *entry
	watermark  uint64
	history    []commands.Directive

	deliveryDuration metric.Float64Histogram
	restarts         metric.Int64Counter
}

func NewDispatcher(terminal Terminal, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		terminal:        terminal,
		queueBound:      DefaultQueueBound,
		restartBackoff:  DefaultRestartBackoff(),
		submitDelay:     DefaultSubmitDelay,
		emit:            noopEventEmitter,
		wake:            make(chan struct{}, 1),
		recoverRequests: make(chan recoverRequest, 1),
		cancellations:   make(chan Cancellation, cancellationQueue),
		state:           session.StateStarting,
	}
	for _, opt := range opts {
		opt(d)
	}

	var err error
	if d.deliveryDuration, err = meter.Float64Histogram(
		"ema_voice.dispatcher.delivery.duration",
		metric.WithDescription("Time spent writing a directive to the agent session"),
		metric.WithUnit("s"),
	); err != nil {
		logger.Warn("failed to create delivery duration histogram", "error", err)
	}
	if d.restarts, err = meter.Int64Counter(
		"ema_voice.dispatcher.restarts",
		metric.WithDescription("Agent restart attempts"),
	); err != nil {
		logger.Warn("failed to create restart counter", "error", err)
	}

	return d
}

func (d *Dispatcher) State() session.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Exhausted reports whether automatic restarts gave up. Only Recover leaves
// this state.
func (d *Dispatcher) Exhausted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exhausted
}

// History returns the most recently delivered directives, oldest first.
func (d *Dispatcher) History() []commands.Directive {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.history)
}

// Pending reports how many utterances wait for delivery.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Cancellations delivers spoken cancels so recognition of canceled
// utterances can be aborted.
func (d *Dispatcher) Cancellations() <-chan Cancellation {
	return d.cancellations
}

// Submit hands a directive to the dispatcher. It never blocks on delivery.
// Ordinals start at 1; a directive without one is dropped with DropNoOrdinal,
// since ordinal 0 would sit below every cancel watermark.
func (d *Dispatcher) Submit(directive commands.Directive) {
	d.emit(events.NewDirectiveProduced(directive))

	if directive.Ordinal == 0 {
		logger.Warn("dropping directive without an ordinal", "utterance_id", directive.UtteranceID, "kind", directive.Kind)
		d.emit(events.NewDirectiveDropped(directive, DropNoOrdinal))
		return
	}

	switch directive.Kind {
	case commands.DirectiveUnrecognized:
		logger.Debug("dropping unrecognized directive", "utterance_id", directive.UtteranceID, "reason", directive.Reason)
		d.emit(events.NewDirectiveDropped(directive, DropUnrecognized))
		return
	case commands.DirectiveCancel:
		d.cancel(directive)
		return
	case commands.DirectiveControlAction:
		if directive.Action == commands.ActionRestart {
			select {
			case d.recoverRequests <- recoverRequest{directive: &directive}:
			default:
				d.emit(events.NewDirectiveDropped(directive, DropNotNeeded))
			}
			return
		}
	}

	d.mu.Lock()
	if directive.Ordinal <= d.watermark {
		d.mu.Unlock()
		d.emit(events.NewDirectiveDropped(directive, DropCanceled))
		return
	}

	position := sort.Search(len(d.queue), func(i int) bool {
		return d.queue[i].directive.Ordinal > directive.Ordinal
	})
	d.queue = slices.Insert(d.queue, position, &entry{directive: directive})

	var overrun *entry
	if len(d.queue) > d.queueBound {
		overrun = d.queue[0]
		d.queue = slices.Delete(d.queue, 0, 1)
	}
	d.mu.Unlock()

	if overrun != nil {
		dropped := overrun.directive
		logger.Warn("dispatch queue overrun, dropping oldest directive",
			"utterance_id", dropped.UtteranceID,
			"ordinal", dropped.Ordinal,
			"bound", d.queueBound)
		d.emit(events.NewDispatchOverrun(dropped.UtteranceID, dropped.Ordinal,
			fmt.Errorf("%w: more than %d undelivered utterances", ErrOverrun, d.queueBound)))
		d.emit(events.NewDirectiveDropped(dropped, DropOverrun))
	}

	d.signal()
}

// cancel removes pending work. A spoken cancel covers its own and every
// earlier utterance; any other cancel only its own.
func (d *Dispatcher) cancel(directive commands.Directive) {
	spoken := directive.CancelsEarlier()
	covers := func(e *entry) bool {
		if spoken {
			return e.directive.Ordinal <= directive.Ordinal
		}
		return e.directive.UtteranceID == directive.UtteranceID
	}

	d.mu.Lock()
	if spoken && directive.Ordinal > d.watermark {
		d.watermark = directive.Ordinal
	}
	var dropped []commands.Directive
	d.queue = slices.DeleteFunc(d.queue, func(e *entry) bool {
		if covers(e) {
			dropped = append(dropped, e.directive)
			return true
		}
		return false
	})
	if d.delivering != nil && !d.delivering.canceled && covers(d.delivering) {
		d.delivering.canceled = true
		d.delivering.cancel()
	}
	d.mu.Unlock()

	for _, directive := range dropped {
		d.emit(events.NewDirectiveDropped(directive, DropCanceled))
	}

	if spoken {
		select {
		case d.cancellations <- Cancellation{UtteranceID: directive.UtteranceID, Ordinal: directive.Ordinal}:
		default:
			logger.Warn("cancellation queue full", "utterance_id", directive.UtteranceID)
		}
	}
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Recover restarts a degraded session on request. On success the directives
// queued while degraded are dropped rather than caught up on. It is a no-op
// for a healthy session.
func (d *Dispatcher) Recover(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case d.recoverRequests <- recoverRequest{reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run delivers directives until ctx is done. The session is terminated when
// it returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatcher already running")
	}
	defer d.shutdown()

	if d.terminal.IsAlive() {
		d.setState(session.StateReady)
	} else {
		d.handleFault(ctx, fmt.Errorf("%w: agent is not running", session.ErrSessionFault))
	}

	var liveness <-chan time.Time
	if d.livenessInterval > 0 {
		ticker := time.NewTicker(d.livenessInterval)
		defer ticker.Stop()
		liveness = ticker.C
	}

	for {
		d.deliverQueued(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-d.wake:
		case request := <-d.recoverRequests:
			d.handleRecover(ctx, request)
		case <-liveness:
			if d.State().AcceptsDelivery() && !d.terminal.IsAlive() {
				d.handleFault(ctx, fmt.Errorf("%w: agent exited", session.ErrSessionFault))
			}
		}
	}
}

func (d *Dispatcher) deliverQueued(ctx context.Context) {
	for ctx.Err() == nil {
		e := d.next(ctx)
		if e == nil {
			return
		}
		d.deliver(ctx, e)
	}
}

func (d *Dispatcher) next(ctx context.Context) *entry {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.state.AcceptsDelivery() || len(d.queue) == 0 {
		return nil
	}
	e := d.queue[0]
	d.queue = slices.Delete(d.queue, 0, 1)
	e.abort, e.cancel = context.WithCancel(ctx)
	d.delivering = e
	return e
}

func (d *Dispatcher) deliver(ctx context.Context, e *entry) {
	directive := e.directive
	ctx, span := tracer.Start(ctx, "deliver directive", trace.WithAttributes(
		attribute.String("utterance.id", directive.UtteranceID),
		attribute.String("directive.kind", string(directive.Kind)),
		attribute.String("session.action", directive.Action),
	))
	defer span.End()

	d.setState(session.StateBusy)
	started := time.Now()
	err := d.runSteps(ctx, e)
	took := time.Since(started)

	d.mu.Lock()
	d.delivering = nil
	d.mu.Unlock()
	e.cancel()

	switch {
	case err != nil && ctx.Err() != nil:
		d.emit(events.NewDirectiveDropped(directive, DropShutdown))

	case errors.Is(err, errAborted):
		logger.Debug("delivery canceled", "utterance_id", directive.UtteranceID)
		d.emit(events.NewDirectiveDropped(directive, DropCanceled))
		d.setState(session.StateReady)

	case errors.Is(err, session.ErrUnknownKey):
		span.RecordError(err)
		span.SetStatus(codes.Error, "unknown control key")
		logger.Warn("directive names an unknown key", "utterance_id", directive.UtteranceID, "action", directive.Action)
		d.emit(events.NewDirectiveDropped(directive, DropUnknownKey))
		d.setState(session.StateReady)

	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		d.emit(events.NewDirectiveDropped(directive, DropSessionFault))
		d.handleFault(ctx, err)

	default:
		if d.deliveryDuration != nil {
			d.deliveryDuration.Record(ctx, took.Seconds(),
				metric.WithAttributes(attribute.String("directive.kind", string(directive.Kind))))
		}
		d.mu.Lock()
		d.history = append(d.history, directive)
		if len(d.history) > historySize {
			d.history = slices.Delete(d.history, 0, len(d.history)-historySize)
		}
		d.mu.Unlock()
		d.emit(events.NewDirectiveDelivered(directive, took))
		d.setState(session.StateReady)
	}
}

func (d *Dispatcher) runSteps(ctx context.Context, e *entry) error {
	directive := e.directive
	switch directive.Kind {
	case commands.DirectiveInsertText:
		if err := d.terminal.SendText(ctx, directive.Text); err != nil {
			return err
		}
		if !d.autoSubmit {
			return nil
		}
		if !sleepContext(e.abort, d.submitDelay) {
			if err := ctx.Err(); err != nil {
				return err
			}
			return errAborted
		}
		return d.terminal.SendControlKey(ctx, commands.ActionSubmit)

	case commands.DirectiveControlAction:
		return d.terminal.SendControlKey(ctx, directive.Action)
	}
	return nil
}

// handleFault moves the session to degraded and restarts it with backoff.
// If every attempt fails the session stays degraded until Recover.
func (d *Dispatcher) handleFault(ctx context.Context, cause error) {
	logger.Error("agent session fault", "error", cause)
	d.setState(session.StateDegraded)
	d.emit(events.NewSessionFault(cause))

	for attempt, backoff := range d.restartBackoff {
		if !sleepContext(ctx, backoff) {
			return
		}
		if err := d.restart(ctx); err != nil {
			logger.Warn("failed to restart agent", "attempt", attempt+1, "error", err)
			continue
		}

		d.mu.Lock()
		d.exhausted = false
		d.mu.Unlock()
		logger.Info("agent restarted", "attempt", attempt+1)
		d.setState(session.StateReady)
		d.emit(events.NewRestarted(attempt + 1))
		return
	}

	d.mu.Lock()
	d.exhausted = true
	d.mu.Unlock()
	logger.Error("giving up on restarting the agent", "attempts", len(d.restartBackoff))
}

func (d *Dispatcher) restart(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "restart session")
	defer span.End()

	d.setState(session.StateStarting)
	err := d.terminal.Restart(ctx)
	outcome := "ok"
	if err != nil {
		outcome = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, "restart failed")
		d.setState(session.StateDegraded)
	}
	if d.restarts != nil {
		d.restarts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	return err
}

func (d *Dispatcher) handleRecover(ctx context.Context, request recoverRequest) {
	reply := func(err error) {
		if request.reply != nil {
			request.reply <- err
		}
	}

	if d.State().AcceptsDelivery() {
		if request.directive != nil {
			d.emit(events.NewDirectiveDropped(*request.directive, DropNotNeeded))
		}
		reply(nil)
		return
	}

	started := time.Now()
	if err := d.restart(ctx); err != nil {
		if request.directive != nil {
			d.emit(events.NewDirectiveDropped(*request.directive, DropRestartFailed))
		}
		reply(fmt.Errorf("failed to recover session: %w", err))
		return
	}

	d.mu.Lock()
	stale := d.queue
	d.queue = nil
	d.exhausted = false
	d.mu.Unlock()

	for _, e := range stale {
		d.emit(events.NewDirectiveDropped(e.directive, DropStale))
	}
	logger.Info("agent recovered", "dropped", len(stale))
	d.setState(session.StateReady)
	d.emit(events.NewRestarted(1))
	if request.directive != nil {
		d.emit(events.NewDirectiveDelivered(*request.directive, time.Since(started)))
	}
	reply(nil)
}

func (d *Dispatcher) shutdown() {
	d.mu.Lock()
	remaining := d.queue
	d.queue = nil
	d.mu.Unlock()

	for _, e := range remaining {
		d.emit(events.NewDirectiveDropped(e.directive, DropShutdown))
	}
	d.setState(session.StateTerminated)
}

func (d *Dispatcher) setState(to session.State) {
	d.mu.Lock()
	from := d.state
	d.state = to
	d.mu.Unlock()

	if from != to {
		logger.Debug("session state changed", "from", from.String(), "to", to.String())
		d.emit(events.NewSessionStateChanged(from, to))
	}
}
