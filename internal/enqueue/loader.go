// Package enqueue loads jobs from a JSON-lines file and pushes them onto the
// queue.
package enqueue

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/theognis1002/nimbus-dispatch/internal/job"
	"github.com/theognis1002/nimbus-dispatch/internal/mailer"
	"github.com/theognis1002/nimbus-dispatch/internal/queue"
)

// line is one job. Either Class is set, or Mailer and Action are.
type line struct {
	Class   *job.Ref          `json:"class"`
	Mailer  string            `json:"mailer"`
	Action  string            `json:"action"`
	Args    map[string]any    `json:"args"`
	Headers map[string]string `json:"headers"`
}

// batchPusher is implemented by pushers that can enqueue many jobs in one
// round trip. Load groups consecutive class lines for them.
type batchPusher interface {
	PushBatch(ctx context.Context, jobs []queue.Job) error
}

func LoadFile(ctx context.Context, path string, pusher queue.Pusher, mailers *mailer.Directory, logger *slog.Logger) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening job file: %w", err)
	}
	defer f.Close()
	return Load(ctx, f, pusher, mailers, logger)
}

// Load pushes every valid line of r and returns how many were queued.
// Malformed lines are logged and skipped; a push failure stops the load.
// When pusher also implements PushBatch, class lines are sent in batches
// flushed before each mailer line and at the end of input, so queue order
// still follows file order.
func Load(ctx context.Context, r io.Reader, pusher queue.Pusher, mailers *mailer.Directory, logger *slog.Logger) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	count := 0
	lineNo := 0

	bp, batching := pusher.(batchPusher)
	var batch []queue.Job
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := bp.PushBatch(ctx, batch); err != nil {
			return fmt.Errorf("pushing batch ending at line %d: %w", lineNo, err)
		}
		count += len(batch)
		logger.Debug("queued job batch", "line", lineNo, "jobs", len(batch))
		batch = batch[:0]
		return nil
	}

	for scanner.Scan() {
		lineNo++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		var l line
		if err := json.Unmarshal([]byte(text), &l); err != nil {
			logger.Warn("invalid job line", "line", lineNo, "error", err)
			continue
		}

		var (
			id  string
			err error
		)
		switch {
		case l.Class != nil && batching:
			batch = append(batch, queue.Job{Ref: *l.Class, Args: l.Args, Headers: l.Headers})
			continue
		case l.Class != nil:
			id, err = pusher.Push(ctx, *l.Class, l.Args, l.Headers)
		case l.Mailer != "":
			m, ok := mailers.Lookup(l.Mailer)
			if !ok {
				logger.Warn("unknown mailer", "line", lineNo, "mailer", l.Mailer)
				continue
			}
			if err := flush(); err != nil {
				return count, err
			}
			id, err = m.Push(ctx, l.Action, l.Args, l.Headers)
			if errors.Is(err, mailer.ErrMissingAction) {
				logger.Warn("invalid mailer job", "line", lineNo, "error", err)
				continue
			}
		default:
			logger.Warn("job line has neither class nor mailer", "line", lineNo)
			continue
		}
		if err != nil {
			return count, fmt.Errorf("pushing line %d: %w", lineNo, err)
		}

		count++
		logger.Debug("queued job", "line", lineNo, "id", id)
	}

	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("reading job file: %w", err)
	}
	if err := flush(); err != nil {
		return count, err
	}

	logger.Info("enqueue complete", "count", count)
	return count, nil
}
