package models

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the queries here need.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type MessageEvent struct {
	Event      string
	MessageID  string
	Ref        string
	Error      string
	OccurredAt time.Time
}

func InsertMessageEvent(ctx context.Context, db DB, e MessageEvent) error {
	_, err := db.Exec(ctx,
		`INSERT INTO message_events (event, message_id, ref, error, occurred_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.Event, e.MessageID, e.Ref, e.Error, e.OccurredAt)
	if err != nil {
		return fmt.Errorf("inserting %s event for %s: %w", e.Event, e.MessageID, err)
	}
	return nil
}
