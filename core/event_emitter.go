package orchestration

import "github.com/koscakluka/ema-voice/core/events"

type eventEmitter func(events.Event)

func noopEventEmitter(events.Event) {}

// newFanOutEventEmitter calls every handler in registration order. A
// panicking handler is logged and skipped so observers cannot stop the
// pipeline.
func newFanOutEventEmitter(handlers []events.Handler) eventEmitter {
	if len(handlers) == 0 {
		return noopEventEmitter
	}

	handlers = append([]events.Handler(nil), handlers...)
	return func(event events.Event) {
		for _, handle := range handlers {
			callHandler(handle, event)
		}
	}
}

func callHandler(handle events.Handler, event events.Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("event handler panicked", "kind", string(event.Kind()), "panic", recovered)
		}
	}()
	handle(event)
}
