// Package observer implements the observer bus (spec.md §4.I, §6): a simple
// in-process publish/subscribe fan-out with per-subscriber error isolation
// (spec §7: "Observer-callback error: isolated; logged; other observers
// continue").
package observer

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sharplee/signalcore/internal/model"
)

// Handler consumes one observer-bus event. A panicking handler is recovered
// and logged; it never takes down the publisher or other subscribers.
type Handler func(ctx context.Context, event model.Event)

// Bus is the default in-process ObserverBus implementation.
type Bus struct {
	log      zerolog.Logger
	mu       sync.RWMutex
	handlers []Handler
}

// New creates a bus. A zero-value logger is fine; callers typically pass a
// component-scoped sub-logger.
func New(log zerolog.Logger) *Bus {
	return &Bus{log: log.With().Str("component", "observer").Logger()}
}

// Subscribe registers a handler. Subscribe is not safe to call concurrently
// with Publish against the SAME handler slice mutation guarantee beyond the
// mutex below — i.e. it is safe, just serialized.
func (b *Bus) Subscribe(handler func(ctx context.Context, event model.Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Publish fans the event out to every subscriber, isolating panics/errors
// per-subscriber so one broken observer never blocks the others.
func (b *Bus) Publish(ctx context.Context, event model.Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for i, h := range handlers {
		b.safeCall(ctx, i, h, event)
	}
}

func (b *Bus) safeCall(ctx context.Context, idx int, h Handler, event model.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Int("subscriber", idx).
				Str("event_kind", string(event.Kind)).
				Interface("panic", r).
				Msg("observer callback panicked; isolated")
		}
	}()
	h(ctx, event)
}
