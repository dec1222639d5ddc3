package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/theognis1002/nimbus-dispatch/internal/job"
)

const (
	// JobTarget is the reference name mailer jobs are queued under.
	JobTarget      = "MailerJob"
	dispatchMember = "dispatchAction"

	argMailerName = "mailerName"
	argAction     = "action"
	argArgs       = "args"
	argHeaders    = "headers"
)

// Limiter throttles sends per key. *cache.RateLimiter satisfies it.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Marker records completed sends. *cache.Marker satisfies it.
type Marker interface {
	Done(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

// Job runs queued mailer actions. Limiter and Sent are optional.
type Job struct {
	Directory *Directory
	Sender    Sender
	From      string
	BaseURL   string
	Limiter   Limiter
	Sent      Marker
	Logger    *slog.Logger
}

// Register makes [MailerJob, dispatchAction] resolvable in reg. Each
// invocation gets its own copy of proto.
func Register(reg *job.Registry, proto Job) {
	job.RegisterTarget(reg, JobTarget, func() *Job {
		j := proto
		return &j
	})
}

// DispatchAction looks up the mailer and action named in the message, runs
// the action and sends the result. Unknown mailers, unknown actions and
// ErrBadArgs reject the message; a throttled recipient domain asks for a
// retry; anything else that fails is returned as an error.
func (j *Job) DispatchAction(ctx context.Context, msg *job.Message) (job.Outcome, error) {
	logger := j.logger().With("message_id", msg.ID())

	mailerName := msg.StringArg(argMailerName)
	actionName := msg.StringArg(argAction)

	m, ok := j.Directory.Lookup(mailerName)
	if !ok {
		logger.Warn("unknown mailer, rejecting", "mailer", mailerName)
		return job.Rejected, nil
	}
	action, ok := m.action(actionName)
	if !ok {
		logger.Warn("unknown mailer action, rejecting", "mailer", mailerName, "action", actionName)
		return job.Rejected, nil
	}

	sentKey := "mail:" + messageKey(msg)
	if j.Sent != nil {
		done, err := j.Sent.Done(ctx, sentKey)
		if err != nil {
			return job.NoOutcome, fmt.Errorf("checking sent marker: %w", err)
		}
		if done {
			logger.Info("email already sent, skipping", "mailer", mailerName, "action", actionName)
			return job.Success, nil
		}
	}

	email, err := action(ctx, mapArg(msg, argArgs))
	if errors.Is(err, ErrBadArgs) {
		logger.Warn("mailer action refused its arguments, rejecting", "mailer", mailerName, "action", actionName, "error", err)
		return job.Rejected, nil
	}
	if err != nil {
		return job.NoOutcome, fmt.Errorf("running %s::%s: %w", mailerName, actionName, err)
	}

	if email.From == "" {
		email.From = j.From
	}
	if email.Headers == nil {
		email.Headers = map[string]string{}
	}
	for k, v := range mapArg(msg, argHeaders) {
		if s, ok := v.(string); ok {
			email.Headers[k] = s
		}
	}

	email, err = Render(email, j.BaseURL)
	if err != nil {
		return job.NoOutcome, err
	}

	if j.Limiter != nil {
		allowed, err := j.Limiter.Allow(ctx, "mail:"+recipientDomain(email.To))
		if err != nil {
			return job.NoOutcome, fmt.Errorf("checking send rate: %w", err)
		}
		if !allowed {
			logger.Info("recipient domain throttled, retrying later", "to", email.To)
			return job.Retry, nil
		}
	}

	if err := j.Sender.Send(ctx, email); err != nil {
		return job.NoOutcome, fmt.Errorf("sending email: %w", err)
	}

	if j.Sent != nil {
		if err := j.Sent.Mark(ctx, sentKey); err != nil {
			logger.Warn("failed to mark email sent", "error", err)
		}
	}
	return job.Success, nil
}

func (j *Job) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return j.Logger
}

// messageKey prefers the producer-stamped id, which survives redelivery on
// every transport.
func messageKey(msg *job.Message) string {
	if id := msg.Header("id"); id != "" {
		return id
	}
	return msg.ID()
}

func mapArg(msg *job.Message, name string) map[string]any {
	v, _ := msg.Arg(name)
	m, ok := v.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return m
}

func recipientDomain(addr string) string {
	at := strings.LastIndexByte(addr, '@')
	if at < 0 {
		return strings.ToLower(addr)
	}
	return strings.ToLower(strings.TrimSuffix(addr[at+1:], ">"))
}
