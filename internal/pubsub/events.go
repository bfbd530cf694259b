// Package pubsub provides a generic publish/subscribe event system.
// sassbridge uses it to fan out log entries and watch-mode results to
// whoever is rendering them.
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// EntryEvent carries a formatted log entry.
	EntryEvent EventType = "entry"
	// CompiledEvent reports a target that was recompiled.
	CompiledEvent EventType = "compiled"
	// SkippedEvent reports a target whose output was already up to date.
	SkippedEvent EventType = "skipped"
	// FailedEvent reports a target that failed to compile.
	FailedEvent EventType = "failed"
)

// Event represents a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
