// Package archive keeps a copy of every message the dispatcher turned away,
// so rejected and malformed payloads can be inspected after they leave the
// queue.
package archive

import (
	"context"
	"log/slog"
	"time"

	"github.com/theognis1002/nimbus-dispatch/internal/events"
)

const putTimeout = 10 * time.Second

const (
	KindInvalid  = "invalid"
	KindRejected = "rejected"
)

// Store persists archived bodies. MinIOStore is the production implementation.
type Store interface {
	Put(ctx context.Context, key string, data []byte, meta map[string]string) error
}

// Sink archives the body of messages announced by message.invalid and
// message.reject; other events are ignored.
type Sink struct {
	store  Store
	logger *slog.Logger
}

func NewSink(store Store, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sink{store: store, logger: logger}
}

// Events lists the event names the sink acts on, for bus subscription.
func (s *Sink) Events() []string {
	return []string{events.MessageInvalid, events.MessageReject}
}

func (s *Sink) Notify(ctx context.Context, ev events.Event) {
	var kind string
	switch ev.Name {
	case events.MessageInvalid:
		kind = KindInvalid
	case events.MessageReject:
		kind = KindRejected
	default:
		return
	}
	if ev.Message == nil {
		return
	}

	raw := ev.Message.Raw()
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	key := ObjectKey(kind, raw.ID, at, raw.Body)
	meta := map[string]string{
		"message-id": raw.ID,
		"event":      ev.Name,
		"ref":        ev.Message.Callable().String(),
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), putTimeout)
	defer cancel()

	if err := s.store.Put(ctx, key, raw.Body, meta); err != nil {
		s.logger.Warn("failed to archive message", "message_id", raw.ID, "key", key, "error", err)
		return
	}
	s.logger.Debug("archived message", "message_id", raw.ID, "key", key)
}
