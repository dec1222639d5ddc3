package queue

import (
	"context"
	"fmt"
	"maps"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/theognis1002/nimbus-dispatch/internal/job"
)

// pipelineBatchMax bounds how many XADDs go into one pipeline round trip.
const pipelineBatchMax = 500

// Job is a unit of work waiting to be enqueued.
type Job struct {
	Ref     job.Ref
	Args    map[string]any
	Headers map[string]string
}

// Pusher enqueues jobs for the dispatcher.
type Pusher interface {
	Push(ctx context.Context, ref job.Ref, args map[string]any, headers map[string]string) (string, error)
}

// Publisher enqueues jobs onto a Redis stream.
type Publisher struct {
	rdb    *redis.Client
	stream string
}

func NewPublisher(rdb *redis.Client, stream string) *Publisher {
	if stream == "" {
		stream = JobStream
	}
	return &Publisher{rdb: rdb, stream: stream}
}

// Push enqueues a single job and returns its message id.
func (p *Publisher) Push(ctx context.Context, ref job.Ref, args map[string]any, headers map[string]string) (string, error) {
	values, id, err := encodeJob(Job{Ref: ref, Args: args, Headers: headers})
	if err != nil {
		return "", err
	}
	if err := p.rdb.XAdd(ctx, &redis.XAddArgs{Stream: p.stream, Values: values}).Err(); err != nil {
		return "", fmt.Errorf("adding job to %s: %w", p.stream, err)
	}
	return id, nil
}

// PushBatch enqueues jobs in pipelined chunks.
func (p *Publisher) PushBatch(ctx context.Context, jobs []Job) error {
	for start := 0; start < len(jobs); start += pipelineBatchMax {
		end := min(start+pipelineBatchMax, len(jobs))

		pipe := p.rdb.Pipeline()
		for _, j := range jobs[start:end] {
			values, _, err := encodeJob(j)
			if err != nil {
				return err
			}
			pipe.XAdd(ctx, &redis.XAddArgs{Stream: p.stream, Values: values})
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("pipelining jobs to %s: %w", p.stream, err)
		}
	}
	return nil
}

// StreamLen reports the number of entries in stream.
func (p *Publisher) StreamLen(ctx context.Context, stream string) (int64, error) {
	return p.rdb.XLen(ctx, stream).Result()
}

// encodeJob stamps a message id header when the caller did not set one.
func encodeJob(j Job) (map[string]interface{}, string, error) {
	headers := maps.Clone(j.Headers)
	if headers == nil {
		headers = map[string]string{}
	}
	id := headers["id"]
	if id == "" {
		id = uuid.NewString()
		headers["id"] = id
	}

	body, err := job.Encode(j.Ref, j.Args, headers)
	if err != nil {
		return nil, "", fmt.Errorf("encoding job %s: %w", j.Ref, err)
	}
	return map[string]interface{}{payloadField: string(body)}, id, nil
}
