// Package audit writes the dispatcher's lifecycle events to Postgres.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/theognis1002/nimbus-dispatch/internal/database/models"
	"github.com/theognis1002/nimbus-dispatch/internal/events"
)

const writeTimeout = 3 * time.Second

// Recorder is an events.Sink that inserts one message_events row per event.
// Insert failures are logged and never reach the dispatcher.
type Recorder struct {
	db     models.DB
	logger *slog.Logger
}

func NewRecorder(db models.DB, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Recorder{db: db, logger: logger}
}

func (r *Recorder) Notify(ctx context.Context, ev events.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := models.InsertMessageEvent(ctx, r.db, FromEvent(ev)); err != nil {
		r.logger.Warn("failed to record message event", "event", ev.Name, "message_id", ev.MessageID(), "error", err)
	}
}

// FromEvent flattens ev into a row.
func FromEvent(ev events.Event) models.MessageEvent {
	rec := models.MessageEvent{
		Event:      ev.Name,
		MessageID:  ev.MessageID(),
		OccurredAt: ev.At,
	}
	if ev.Message != nil {
		rec.Ref = ev.Message.Callable().String()
	}
	if ev.Err != nil {
		rec.Error = ev.Err.Error()
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now()
	}
	return rec
}
