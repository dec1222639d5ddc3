package queue

import (
	"context"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	JobStream    = "stream:jobs"
	JobStreamDLQ = "stream:jobs:dlq"
	WorkerGroup  = "dispatch-workers"

	payloadField = "payload"
)

// StreamGroup names a stream and the consumer group reading it.
type StreamGroup struct {
	Stream string
	Group  string
}

// EnsureStreams creates consumer groups (and their underlying streams) idempotently.
func EnsureStreams(ctx context.Context, rdb *redis.Client, logger *slog.Logger, groups ...StreamGroup) error {
	if len(groups) == 0 {
		groups = []StreamGroup{{Stream: JobStream, Group: WorkerGroup}}
	}

	for _, g := range groups {
		err := rdb.XGroupCreateMkStream(ctx, g.Stream, g.Group, "0").Err()
		if err != nil {
			// BUSYGROUP: the group already exists.
			if !isBusyGroupError(err) {
				return err
			}
			logger.Debug("consumer group already exists", "stream", g.Stream, "group", g.Group)
		} else {
			logger.Info("created consumer group", "stream", g.Stream, "group", g.Group)
		}
	}
	return nil
}

func isBusyGroupError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}
