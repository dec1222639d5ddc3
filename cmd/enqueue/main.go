package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/theognis1002/nimbus-dispatch/internal/cache"
	"github.com/theognis1002/nimbus-dispatch/internal/config"
	"github.com/theognis1002/nimbus-dispatch/internal/enqueue"
	"github.com/theognis1002/nimbus-dispatch/internal/mailer"
	"github.com/theognis1002/nimbus-dispatch/internal/queue"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	if err := run(logger); err != nil {
		logger.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load("configs/development.yaml")
	if err != nil {
		logger.Debug("config file not found, using env vars", "error", err)
		cfg = config.LoadFromEnv()
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		pusher queue.Pusher
		stream *queue.Publisher
	)
	switch cfg.Worker.Transport {
	case config.TransportRabbitMQ:
		conn, err := queue.NewConnection(cfg.RabbitMQ.URL(), logger)
		if err != nil {
			return fmt.Errorf("connect to rabbitmq: %w", err)
		}
		defer conn.Close()

		pub, err := queue.NewRabbitPublisher(conn)
		if err != nil {
			return fmt.Errorf("create publisher: %w", err)
		}
		defer pub.Close()
		pusher = pub

	default:
		rdb, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer rdb.Close()

		group := queue.StreamGroup{Stream: cfg.Worker.Stream, Group: cfg.Worker.Group}
		if err := queue.EnsureStreams(ctx, rdb, logger, group); err != nil {
			return fmt.Errorf("ensure streams: %w", err)
		}
		stream = queue.NewPublisher(rdb, cfg.Worker.Stream)
		pusher = stream
	}

	jobFile := "jobs.jsonl"
	if len(os.Args) > 1 {
		jobFile = os.Args[1]
	}

	mailers := mailer.NewDirectory(mailer.NewWelcome(pusher))
	if _, err := enqueue.LoadFile(ctx, jobFile, pusher, mailers, logger); err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}

	if stream != nil {
		n, err := stream.StreamLen(ctx, cfg.Worker.Stream)
		if err != nil {
			return fmt.Errorf("reading stream length: %w", err)
		}
		logger.Info("stream length", "stream", cfg.Worker.Stream, "length", n)
	}

	return nil
}
