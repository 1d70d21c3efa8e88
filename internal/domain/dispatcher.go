package domain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"datahub.migas.id/clearinghouse/internal/pkg/logger"
)

// EventHandler processes a domain event.
type EventHandler func(ctx context.Context, event *DomainEvent) error

// EventDispatcher fans lifecycle events out to handlers. Handlers registered
// with RegisterAll see every event type, which is how the stream publisher
// is attached.
type EventDispatcher struct {
	handlers map[LifecycleEventType][]EventHandler
	all      []EventHandler
	mu       sync.RWMutex
}

// NewEventDispatcher creates a new EventDispatcher.
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{
		handlers: make(map[LifecycleEventType][]EventHandler),
	}
}

// Register registers a handler for a specific event type.
func (d *EventDispatcher) Register(eventType LifecycleEventType, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], handler)
}

// RegisterAll registers a handler for every event type.
func (d *EventDispatcher) RegisterAll(handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.all = append(d.all, handler)
}

// Dispatch runs the handlers for event.EventType, then the catch-all
// handlers. Every handler runs even when an earlier one fails; failures are
// logged and returned joined.
func (d *EventDispatcher) Dispatch(ctx context.Context, event *DomainEvent) error {
	if event == nil {
		return errors.New("dispatch: nil event")
	}

	d.mu.RLock()
	handlers := make([]EventHandler, 0, len(d.all)+len(d.handlers[event.EventType]))
	handlers = append(handlers, d.handlers[event.EventType]...)
	handlers = append(handlers, d.all...)
	d.mu.RUnlock()

	if len(handlers) == 0 {
		logger.Debug("No handlers registered for event type",
			zap.String("event_type", string(event.EventType)),
			zap.String("event_id", event.EventID),
		)
		return nil
	}

	var errs []error
	for i, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			logger.Error("Event handler failed",
				zap.String("event_type", string(event.EventType)),
				zap.String("event_id", event.EventID),
				zap.Int("handler", i),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("handler %d for %s: %w", i, event.EventType, err))
		}
	}
	return errors.Join(errs...)
}
