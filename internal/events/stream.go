package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultStream is where StreamSink writes when no stream is configured.
	DefaultStream = "stream:dispatch:events"

	streamWriteTimeout  = 2 * time.Second
	defaultStreamMaxLen = 10000
)

// StreamSink appends every notification to a capped Redis stream so other
// processes can follow dispatch activity.
type StreamSink struct {
	rdb    *redis.Client
	stream string
	maxLen int64
	logger *slog.Logger
}

func NewStreamSink(rdb *redis.Client, stream string, maxLen int64, logger *slog.Logger) *StreamSink {
	if stream == "" {
		stream = DefaultStream
	}
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &StreamSink{rdb: rdb, stream: stream, maxLen: maxLen, logger: logger}
}

// Notify implements Sink. Write failures are logged, never returned.
func (s *StreamSink) Notify(ctx context.Context, ev Event) {
	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	values := map[string]interface{}{
		"event":      ev.Name,
		"message_id": ev.MessageID(),
		"at":         at.Format(time.RFC3339Nano),
	}
	if ev.Message != nil {
		values["ref"] = ev.Message.Callable().String()
	}
	if ev.Err != nil {
		values["error"] = ev.Err.Error()
	}

	// The write must not be cut short by a cancelled worker context.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), streamWriteTimeout)
	defer cancel()

	err := s.rdb.XAdd(wctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		s.logger.Error("failed to write event to stream", "error", err, "stream", s.stream, "event", ev.Name)
	}
}
