// Package worker runs a fixed set of goroutines that feed deliveries to the
// dispatcher and settle each one with the disposition it returns.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/theognis1002/nimbus-dispatch/internal/job"
	"github.com/theognis1002/nimbus-dispatch/internal/queue"
)

// Processor decides what to do with one message. *dispatch.Dispatcher
// satisfies it.
type Processor interface {
	Process(ctx context.Context, raw job.RawMessage, dctx job.DeliveryContext) job.Disposition
}

// ErrDeliveriesClosed reports that the delivery channel closed while the
// pool was still meant to be running, which means the transport went away.
var ErrDeliveriesClosed = errors.New("delivery channel closed")

// Stats counts settled messages by disposition since the pool started.
type Stats struct {
	Acked        int64
	Rejected     int64
	Requeued     int64
	SettleErrors int64
}

// Pool feeds deliveries to a Processor from a fixed number of goroutines.
type Pool struct {
	proc        Processor
	workers     int
	callTimeout time.Duration
	logger      *slog.Logger

	acked        atomic.Int64
	rejected     atomic.Int64
	requeued     atomic.Int64
	settleErrors atomic.Int64
	closed       atomic.Bool
}

// New builds a pool of workers goroutines. A callTimeout of zero leaves
// handler calls bounded only by the run context.
func New(proc Processor, workers int, callTimeout time.Duration, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pool{
		proc:        proc,
		workers:     workers,
		callTimeout: callTimeout,
		logger:      logger,
	}
}

// Run blocks until ctx is cancelled or deliveries is closed and every
// worker has returned. It returns ErrDeliveriesClosed when the channel
// closed before ctx was cancelled.
func (p *Pool) Run(ctx context.Context, deliveries <-chan queue.Delivery) error {
	var wg sync.WaitGroup

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.worker(ctx, workerID, deliveries)
		}(i)
	}

	wg.Wait()
	st := p.Stats()
	p.logger.Info("all dispatch workers stopped",
		"acked", st.Acked,
		"rejected", st.Rejected,
		"requeued", st.Requeued,
		"settle_errors", st.SettleErrors,
	)

	if p.closed.Load() && ctx.Err() == nil {
		return ErrDeliveriesClosed
	}
	return nil
}

// Stats returns a snapshot of the settle counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Acked:        p.acked.Load(),
		Rejected:     p.rejected.Load(),
		Requeued:     p.requeued.Load(),
		SettleErrors: p.settleErrors.Load(),
	}
}

func (p *Pool) worker(ctx context.Context, id int, deliveries <-chan queue.Delivery) {
	logger := p.logger.With("worker", id)
	logger.Info("dispatch worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("dispatch worker stopping")
			return
		case d, ok := <-deliveries:
			if !ok {
				p.closed.Store(true)
				logger.Info("delivery channel closed")
				return
			}
			p.handle(ctx, logger, d)
		}
	}
}

func (p *Pool) handle(ctx context.Context, logger *slog.Logger, d queue.Delivery) {
	callCtx := ctx
	if p.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.callTimeout)
		defer cancel()
	}

	disp := p.proc.Process(callCtx, d.Raw, d.Context)

	switch disp {
	case job.Ack:
		p.acked.Add(1)
	case job.Reject:
		p.rejected.Add(1)
	case job.Requeue:
		p.requeued.Add(1)
	}

	if err := queue.Settle(d, disp); err != nil {
		p.settleErrors.Add(1)
		logger.Error("failed to settle message", "message_id", d.Raw.ID, "disposition", disp.String(), "error", err)
		return
	}
	logger.Debug("message settled", "message_id", d.Raw.ID, "disposition", disp.String())
}
