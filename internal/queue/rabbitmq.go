package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/theognis1002/nimbus-dispatch/internal/job"
)

const (
	ExchangeName    = "dispatch.topic"
	DLXExchangeName = "dispatch.dlx"

	JobQueue    = "jobs_queue"
	JobQueueDLQ = "jobs_dlq"

	RoutingKeyJob = "job.dispatch"
)

// Connection is an AMQP connection with the job topology declared.
type Connection struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
}

func NewConnection(url string, logger *slog.Logger) (*Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	c := &Connection{conn: conn, channel: ch, logger: logger}
	if err := c.declareTopology(); err != nil {
		c.Close()
		return nil, err
	}

	return c, nil
}

// declareTopology routes rejected messages through the DLX into JobQueueDLQ.
func (c *Connection) declareTopology() error {
	if err := c.channel.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring exchange %s: %w", ExchangeName, err)
	}

	if err := c.channel.ExchangeDeclare(DLXExchangeName, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring DLX exchange: %w", err)
	}

	dlArgs := amqp.Table{"x-dead-letter-exchange": DLXExchangeName}

	if _, err := c.channel.QueueDeclare(JobQueue, true, false, false, false, dlArgs); err != nil {
		return fmt.Errorf("declaring job queue: %w", err)
	}
	if err := c.channel.QueueBind(JobQueue, RoutingKeyJob, ExchangeName, false, nil); err != nil {
		return fmt.Errorf("binding job queue: %w", err)
	}

	if _, err := c.channel.QueueDeclare(JobQueueDLQ, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring job DLQ: %w", err)
	}
	if err := c.channel.QueueBind(JobQueueDLQ, RoutingKeyJob, DLXExchangeName, false, nil); err != nil {
		return fmt.Errorf("binding job DLQ: %w", err)
	}

	return nil
}

func (c *Connection) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

func (c *Connection) NotifyClose() chan *amqp.Error {
	return c.conn.NotifyClose(make(chan *amqp.Error, 1))
}

// WatchClose waits for the broker to drop the connection and hands the
// reason to lost. A clean Close or a cancelled ctx returns without calling
// lost.
func WatchClose(ctx context.Context, closed <-chan *amqp.Error, logger *slog.Logger, lost func(error)) {
	select {
	case <-ctx.Done():
	case err, ok := <-closed:
		if !ok || err == nil {
			return
		}
		logger.Error("rabbitmq connection lost", "error", err)
		lost(fmt.Errorf("rabbitmq connection lost: %w", err))
	}
}

// SetPrefetch sets QoS prefetch count on the channel.
func (c *Connection) SetPrefetch(count int) error {
	return c.channel.Qos(count, 0, false)
}

// Consume starts a manual-ack consumer on queue. The returned channel is
// closed when ctx is cancelled or the broker closes the consumer.
func (c *Connection) Consume(ctx context.Context, queue string) (<-chan Delivery, error) {
	msgs, err := c.channel.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consuming %s: %w", queue, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					c.logger.Info("rabbitmq consumer stopped", "queue", queue)
					return
				}
				select {
				case out <- fromAMQP(d):
				case <-ctx.Done():
					// Unsettled; the broker redelivers it once the channel closes.
					return
				}
			}
		}
	}()
	return out, nil
}

// fromAMQP maps dispositions onto AMQP: reject dead-letters through the DLX,
// requeue nacks with requeue set.
func fromAMQP(d amqp.Delivery) Delivery {
	id := d.MessageId
	if id == "" {
		id = strconv.FormatUint(d.DeliveryTag, 10)
	}

	headers := make(map[string]string, len(d.Headers)+1)
	for k, v := range d.Headers {
		switch val := v.(type) {
		case string:
			headers[k] = val
		case nil:
		default:
			headers[k] = fmt.Sprint(val)
		}
	}
	if d.Redelivered {
		headers["redelivered"] = "true"
	}

	return Delivery{
		Raw:     job.RawMessage{ID: id, Headers: headers, Body: d.Body},
		Context: d,
		Ack:     func() error { return d.Ack(false) },
		Reject:  func() error { return d.Reject(false) },
		Requeue: func() error { return d.Nack(false, true) },
	}
}

// RabbitPublisher enqueues jobs onto the job exchange.
type RabbitPublisher struct {
	mu         sync.Mutex
	ch         *amqp.Channel
	routingKey string
}

func NewRabbitPublisher(conn *Connection) (*RabbitPublisher, error) {
	ch, err := conn.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("opening publish channel: %w", err)
	}
	return &RabbitPublisher{ch: ch, routingKey: RoutingKeyJob}, nil
}

// Push implements Pusher.
func (p *RabbitPublisher) Push(ctx context.Context, ref job.Ref, args map[string]any, headers map[string]string) (string, error) {
	values, id, err := encodeJob(Job{Ref: ref, Args: args, Headers: headers})
	if err != nil {
		return "", err
	}
	body := values[payloadField].(string)

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, ExchangeName, p.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Body:         []byte(body),
	})
	if err != nil {
		return "", fmt.Errorf("publishing job: %w", err)
	}
	return id, nil
}

func (p *RabbitPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		p.ch.Close()
	}
}
