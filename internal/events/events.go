// Package events carries dispatch lifecycle notifications from the
// dispatcher to observers that must not influence the dispatch result.
package events

import (
	"context"
	"time"

	"github.com/theognis1002/nimbus-dispatch/internal/job"
)

const (
	MessageSeen      = "message.seen"
	MessageInvalid   = "message.invalid"
	MessageStart     = "message.start"
	MessageException = "message.exception"
	MessageSuccess   = "message.success"
	MessageReject    = "message.reject"
	MessageFailure   = "message.failure"
)

// Event is a single lifecycle notification. QueueMessage is set only for
// message.seen; Message for every other event; Err only for message.exception.
type Event struct {
	Name         string
	At           time.Time
	QueueMessage *job.RawMessage
	Message      *job.Message
	Err          error
}

// Payload returns the event data keyed the way subscribers look it up.
func (e Event) Payload() map[string]any {
	p := make(map[string]any, 2)
	if e.QueueMessage != nil {
		p["queueMessage"] = e.QueueMessage
	}
	if e.Message != nil {
		p["message"] = e.Message
	}
	if e.Err != nil {
		p["exception"] = e.Err
	}
	return p
}

// MessageID returns the transport id of the message the event is about.
func (e Event) MessageID() string {
	switch {
	case e.Message != nil:
		return e.Message.ID()
	case e.QueueMessage != nil:
		return e.QueueMessage.ID
	default:
		return ""
	}
}

// Sink receives notifications. Implementations must be safe for concurrent
// use when shared between workers.
type Sink interface {
	Notify(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event)

// Notify implements Sink.
func (fn SinkFunc) Notify(ctx context.Context, ev Event) {
	fn(ctx, ev)
}

// NopSink drops every notification.
type NopSink struct{}

// Notify implements Sink.
func (NopSink) Notify(context.Context, Event) {}
