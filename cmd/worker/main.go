package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/theognis1002/nimbus-dispatch/internal/archive"
	"github.com/theognis1002/nimbus-dispatch/internal/audit"
	"github.com/theognis1002/nimbus-dispatch/internal/cache"
	"github.com/theognis1002/nimbus-dispatch/internal/config"
	"github.com/theognis1002/nimbus-dispatch/internal/database"
	"github.com/theognis1002/nimbus-dispatch/internal/dispatch"
	"github.com/theognis1002/nimbus-dispatch/internal/events"
	"github.com/theognis1002/nimbus-dispatch/internal/job"
	"github.com/theognis1002/nimbus-dispatch/internal/mailer"
	"github.com/theognis1002/nimbus-dispatch/internal/queue"
	"github.com/theognis1002/nimbus-dispatch/internal/worker"
)

func main() {
	cfg, cfgErr := config.Load("configs/development.yaml")
	if cfgErr != nil {
		cfg = config.LoadFromEnv()
	}

	logger := newLogger(cfg.Log.Level)
	if cfgErr != nil {
		logger.Info("config file not found, using env vars", "error", cfgErr)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancelCause(sigCtx)
	defer cancel(nil)

	rdb, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer rdb.Close()

	bus := events.NewBus(logger)
	closeSinks, err := subscribeSinks(ctx, cfg, rdb, bus, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	var (
		pusher     queue.Pusher
		deliveries <-chan queue.Delivery
		consumer   *queue.Consumer
	)

	switch cfg.Worker.Transport {
	case config.TransportRabbitMQ:
		conn, err := queue.NewConnection(cfg.RabbitMQ.URL(), logger)
		if err != nil {
			return fmt.Errorf("connect to rabbitmq: %w", err)
		}
		defer conn.Close()
		go queue.WatchClose(ctx, conn.NotifyClose(), logger, cancel)

		if err := conn.SetPrefetch(cfg.Worker.PrefetchCount); err != nil {
			return fmt.Errorf("set prefetch: %w", err)
		}
		pub, err := queue.NewRabbitPublisher(conn)
		if err != nil {
			return fmt.Errorf("create publisher: %w", err)
		}
		defer pub.Close()
		pusher = pub

		deliveries, err = conn.Consume(ctx, cfg.Worker.Queue)
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.Worker.Queue, err)
		}

	default:
		group := queue.StreamGroup{Stream: cfg.Worker.Stream, Group: cfg.Worker.Group}
		if err := queue.EnsureStreams(ctx, rdb, logger, group); err != nil {
			return fmt.Errorf("ensure streams: %w", err)
		}
		pusher = queue.NewPublisher(rdb, cfg.Worker.Stream)

		consumerName := cfg.Worker.ConsumerName
		if consumerName == "" {
			consumerName = fmt.Sprintf("worker-%d", os.Getpid())
		}
		consumer = queue.NewConsumer(rdb, cfg.Worker.Stream, cfg.Worker.DLQ, cfg.Worker.Group, consumerName, cfg.Worker.PrefetchCount, logger)
		deliveries = consumer.Run(ctx)
	}

	reg := job.NewRegistry()
	registerJobs(reg, cfg, rdb, pusher, logger)

	dispatcher := dispatch.New(reg, dispatch.WithLogger(logger), dispatch.WithSink(bus))
	pool := worker.New(dispatcher, cfg.Worker.Workers, time.Duration(cfg.Worker.CallTimeoutSecs)*time.Second, logger)

	logger.Info("worker starting",
		"transport", cfg.Worker.Transport,
		"workers", cfg.Worker.Workers,
		"targets", reg.Names(),
	)
	runErr := pool.Run(ctx, deliveries)

	if consumer != nil {
		consumer.Wait()
	}
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return runErr
}

// subscribeSinks attaches the configured event subscribers to bus. The
// returned func releases whatever they hold open.
func subscribeSinks(ctx context.Context, cfg *config.Config, rdb *redis.Client, bus *events.Bus, logger *slog.Logger) (func(), error) {
	closers := []func(){}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Events.StreamEnabled {
		bus.Subscribe(events.NewStreamSink(rdb, cfg.Events.Stream, cfg.Events.StreamMaxLen, logger))
		logger.Info("publishing events to stream", "stream", cfg.Events.Stream)
	}

	if cfg.Events.AuditEnabled {
		pool, err := database.NewPool(ctx, cfg.Postgres)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		bus.Subscribe(audit.NewRecorder(pool, logger))
		logger.Info("recording events to postgres", "db", cfg.Postgres.Database)
	}

	if cfg.Events.ArchiveEnabled {
		store, err := archive.NewMinIOStore(ctx, cfg.MinIO)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("connect to minio: %w", err)
		}
		sink := archive.NewSink(store, logger)
		bus.Subscribe(sink, sink.Events()...)
		logger.Info("archiving rejected messages", "bucket", cfg.MinIO.Bucket)
	}

	return closeAll, nil
}

func registerJobs(reg *job.Registry, cfg *config.Config, rdb *redis.Client, pusher queue.Pusher, logger *slog.Logger) {
	proto := mailer.Job{
		Directory: mailer.NewDirectory(mailer.NewWelcome(pusher)),
		Sender:    mailer.LogSender{Logger: logger},
		From:      cfg.Mail.From,
		BaseURL:   cfg.Mail.BaseURL,
		Sent:      cache.NewMarker(rdb, time.Duration(cfg.Mail.SentTTLHours)*time.Hour),
		Logger:    logger,
	}
	if cfg.Mail.SendLimit > 0 {
		proto.Limiter = cache.NewRateLimiter(rdb, time.Duration(cfg.Mail.SendWindowSecs)*time.Second, cfg.Mail.SendLimit)
	}
	mailer.Register(reg, proto)
}
