package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/theognis1002/nimbus-dispatch/internal/events"
	"github.com/theognis1002/nimbus-dispatch/internal/job"
)

// PanicError wraps a value recovered from a panicking handler.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// Dispatcher resolves, runs and settles messages. It keeps no per-message
// state and may be shared between workers.
type Dispatcher struct {
	registry *job.Registry
	logger   *slog.Logger
	sink     events.Sink
	now      func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. Outcome branches log at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithSink sets where lifecycle notifications go.
func WithSink(s events.Sink) Option {
	return func(d *Dispatcher) {
		if s != nil {
			d.sink = s
		}
	}
}

// New creates a Dispatcher resolving references through reg.
func New(reg *job.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: reg,
		logger:   slog.New(slog.DiscardHandler),
		sink:     events.NopSink{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.registry == nil {
		d.registry = job.NewRegistry()
	}
	return d
}

// Process runs the message through the dispatch state machine and returns
// what the transport should do with it.
func (d *Dispatcher) Process(ctx context.Context, raw job.RawMessage, dctx job.DeliveryContext) job.Disposition {
	d.notify(ctx, events.Event{Name: events.MessageSeen, QueueMessage: &raw})

	msg := job.NewMessage(raw, dctx)
	logger := d.logger.With("message_id", raw.ID, "ref", msg.Callable().String())

	handler, err := d.registry.Resolve(msg.Callable())
	if err != nil {
		logger.Debug("invalid callable for message, rejecting message from queue", "error", err)
		d.notify(ctx, events.Event{Name: events.MessageInvalid, Message: msg})
		return job.Reject
	}

	d.notify(ctx, events.Event{Name: events.MessageStart, Message: msg})

	outcome, err := invoke(ctx, handler, msg)
	if err != nil {
		logger.Debug("message encountered exception", "error", err)
		d.notify(ctx, events.Event{Name: events.MessageException, Message: msg, Err: err})
		return job.Requeue
	}

	switch outcome {
	case job.NoOutcome, job.Success:
		logger.Debug("message processed successfully")
		d.notify(ctx, events.Event{Name: events.MessageSuccess, Message: msg})
		return job.Ack
	case job.Rejected:
		logger.Debug("message processed with rejection")
		d.notify(ctx, events.Event{Name: events.MessageReject, Message: msg})
		return job.Reject
	default:
		logger.Debug("message processed with failure, requeuing", "outcome", outcome.String())
		d.notify(ctx, events.Event{Name: events.MessageFailure, Message: msg})
		return job.Requeue
	}
}

// invoke runs h and turns a panic into an error.
func invoke(ctx context.Context, h job.Handler, msg *job.Message) (outcome job.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome, err = job.NoOutcome, &PanicError{Value: r}
		}
	}()
	return h(ctx, msg)
}

// notify delivers ev and swallows subscriber panics so they cannot change
// the disposition.
func (d *Dispatcher) notify(ctx context.Context, ev events.Event) {
	ev.At = d.now().UTC()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("notification sink panicked", "event", ev.Name, "panic", fmt.Sprint(r))
		}
	}()
	d.sink.Notify(ctx, ev)
}
