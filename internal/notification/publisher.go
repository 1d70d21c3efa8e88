// Package notification fans lifecycle events out to downstream systems.
//
// Events are published after the audit row has committed. Publishing is
// best-effort: a lost event never rolls back or fails the audited operation,
// and consumers reconcile against the audit chains.
package notification

import (
	"context"
	"fmt"
	"strings"

	"datahub.migas.id/clearinghouse/internal/domain"
)

// Publisher delivers domain events to an external stream.
type Publisher interface {
	Publish(ctx context.Context, event *domain.DomainEvent) error
	Close() error
}

// Subject returns the stream subject for event: prefix.aggregate.event_type.
func Subject(prefix string, event *domain.DomainEvent) string {
	return fmt.Sprintf("%s.%s.%s", prefix, event.AggregateType, strings.ToLower(string(event.EventType)))
}

// NoopPublisher drops every event. Used when events are disabled.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, *domain.DomainEvent) error { return nil }
func (NoopPublisher) Close() error                                     { return nil }

// Handler adapts p to a dispatcher handler.
func Handler(p Publisher) domain.EventHandler {
	return func(ctx context.Context, event *domain.DomainEvent) error {
		return p.Publish(ctx, event)
	}
}
