package events

import (
	"context"
	"time"

	"github.com/fedex-dca/control-tower/internal/shared/logging"
)

// Emitter publishes domain events fire-and-forget: failures are logged,
// never propagated to the caller. State transitions and pipeline results
// must not depend on the event store being reachable.
type Emitter struct {
	bus    EventBus
	source string
}

// NewEmitter creates an emitter for a given source component. A nil bus
// produces a no-op emitter, which keeps call sites unconditional.
func NewEmitter(bus EventBus, source string) *Emitter {
	return &Emitter{bus: bus, source: source}
}

// Emit publishes asynchronously with its own timeout, detached from the
// request context so an aborted request cannot cancel the publish.
func (e *Emitter) Emit(eventType string, actorID, actorType string, data any) {
	if e == nil || e.bus == nil {
		return
	}

	event := NewEvent(eventType, e.source, data).WithActor(actorID, actorType, "")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := e.bus.Publish(ctx, event); err != nil {
			logging.WithComponent("events").
				WithField("event_type", eventType).
				WithError(err).Warn("event emission failed")
		}
	}()
}
