package queue

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupConsumer(t *testing.T) (*miniredis.Miniredis, *redis.Client, *Consumer) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	stream := "stream:test"
	dlq := "stream:test:dlq"
	group := "test-group"
	consumer := "test-consumer"

	// Create consumer group
	err := rdb.XGroupCreateMkStream(context.Background(), stream, group, "0").Err()
	if err != nil {
		t.Fatalf("XGroupCreateMkStream: %v", err)
	}

	c := NewConsumer(rdb, stream, dlq, group, consumer, 10, testLogger())
	return mr, rdb, c
}

func TestBuildDelivery_ValidPayload(t *testing.T) {
	t.Parallel()
	_, _, c := setupConsumer(t)

	msg := redis.XMessage{
		ID:     "1-0",
		Values: map[string]interface{}{"payload": `{"class":"cleanup"}`, "source": "test"},
	}

	d := c.buildDelivery(msg)
	if string(d.Raw.Body) != `{"class":"cleanup"}` {
		t.Errorf("body = %q, want JSON payload", string(d.Raw.Body))
	}
	if d.Raw.ID != "1-0" {
		t.Errorf("id = %q, want 1-0", d.Raw.ID)
	}
	if d.Raw.Headers["source"] != "test" {
		t.Errorf("headers = %v, want source=test", d.Raw.Headers)
	}
	if _, ok := d.Raw.Headers["payload"]; ok {
		t.Error("payload field leaked into headers")
	}
	if xm, ok := d.Context.(redis.XMessage); !ok || xm.ID != "1-0" {
		t.Errorf("context = %v, want the stream entry", d.Context)
	}
}

func TestBuildDelivery_MissingPayload(t *testing.T) {
	t.Parallel()
	_, _, c := setupConsumer(t)

	msg := redis.XMessage{
		ID:     "1-0",
		Values: map[string]interface{}{"other": "data"},
	}

	d := c.buildDelivery(msg)
	if len(d.Raw.Body) != 0 {
		t.Errorf("body = %q, want empty", d.Raw.Body)
	}
	if d.Ack == nil || d.Reject == nil || d.Requeue == nil {
		t.Error("delivery without payload must still be settleable")
	}
}

func TestConsumerRun_DeliversMessage(t *testing.T) {
	t.Parallel()
	_, rdb, c := setupConsumer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := c.Run(ctx)

	// Add a message to the stream
	err := rdb.XAdd(context.Background(), &redis.XAddArgs{
		Stream: "stream:test",
		Values: map[string]interface{}{"payload": `{"class":["Mailer\\Welcome","send"]}`},
	}).Err()
	if err != nil {
		t.Fatalf("XAdd: %v", err)
	}

	select {
	case d, ok := <-ch:
		if !ok {
			t.Fatal("channel closed unexpectedly")
		}
		if string(d.Raw.Body) != `{"class":["Mailer\\Welcome","send"]}` {
			t.Errorf("body = %q, want JSON payload", string(d.Raw.Body))
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestConsumerRun_ContextCancelClosesChannel(t *testing.T) {
	t.Parallel()
	_, _, c := setupConsumer(t)

	ctx, cancel := context.WithCancel(context.Background())
	ch := c.Run(ctx)

	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			// Got a message, drain and wait for close
			for range ch {
			}
		}
		// Channel closed as expected
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestDelivery_Ack(t *testing.T) {
	t.Parallel()
	_, rdb, c := setupConsumer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := c.Run(ctx)

	err := rdb.XAdd(context.Background(), &redis.XAddArgs{
		Stream: "stream:test",
		Values: map[string]interface{}{"payload": "test-data"},
	}).Err()
	if err != nil {
		t.Fatalf("XAdd: %v", err)
	}

	select {
	case d := <-ch:
		if err := d.Ack(); err != nil {
			t.Fatalf("Ack: %v", err)
		}

		// Verify PEL is empty
		pending, err := rdb.XPending(context.Background(), "stream:test", "test-group").Result()
		if err != nil {
			t.Fatalf("XPending: %v", err)
		}
		if pending.Count != 0 {
			t.Errorf("PEL count = %d, want 0", pending.Count)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestDelivery_RejectToDLQ(t *testing.T) {
	t.Parallel()
	_, rdb, c := setupConsumer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := c.Run(ctx)

	err := rdb.XAdd(context.Background(), &redis.XAddArgs{
		Stream: "stream:test",
		Values: map[string]interface{}{"payload": "bad-data"},
	}).Err()
	if err != nil {
		t.Fatalf("XAdd: %v", err)
	}

	select {
	case d := <-ch:
		if err := d.Reject(); err != nil {
			t.Fatalf("Reject: %v", err)
		}

		// Verify message in DLQ
		dlqLen, err := rdb.XLen(context.Background(), "stream:test:dlq").Result()
		if err != nil {
			t.Fatalf("XLen DLQ: %v", err)
		}
		if dlqLen != 1 {
			t.Errorf("DLQ length = %d, want 1", dlqLen)
		}
		entries, err := rdb.XRange(context.Background(), "stream:test:dlq", "-", "+").Result()
		if err != nil {
			t.Fatalf("XRange DLQ: %v", err)
		}
		if len(entries) == 1 {
			if entries[0].Values["payload"] != "bad-data" {
				t.Errorf("DLQ payload = %v, want bad-data", entries[0].Values["payload"])
			}
			if entries[0].Values["rejected_id"] != d.Raw.ID {
				t.Errorf("DLQ rejected_id = %v, want %s", entries[0].Values["rejected_id"], d.Raw.ID)
			}
		}

		// Verify PEL is cleared
		pending, err := rdb.XPending(context.Background(), "stream:test", "test-group").Result()
		if err != nil {
			t.Fatalf("XPending: %v", err)
		}
		if pending.Count != 0 {
			t.Errorf("PEL count = %d, want 0 after Reject", pending.Count)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestDelivery_RequeueLeavesPending(t *testing.T) {
	t.Parallel()
	_, rdb, c := setupConsumer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := c.Run(ctx)

	err := rdb.XAdd(context.Background(), &redis.XAddArgs{
		Stream: "stream:test",
		Values: map[string]interface{}{"payload": "retry-data"},
	}).Err()
	if err != nil {
		t.Fatalf("XAdd: %v", err)
	}

	select {
	case d := <-ch:
		if err := d.Requeue(); err != nil {
			t.Fatalf("Requeue: %v", err)
		}

		// Verify DLQ is empty
		dlqLen, err := rdb.XLen(context.Background(), "stream:test:dlq").Result()
		if err != nil {
			t.Fatalf("XLen DLQ: %v", err)
		}
		if dlqLen != 0 {
			t.Errorf("DLQ length = %d, want 0 (requeue is a no-op)", dlqLen)
		}

		// Verify message stays in PEL
		pending, err := rdb.XPending(context.Background(), "stream:test", "test-group").Result()
		if err != nil {
			t.Fatalf("XPending: %v", err)
		}
		if pending.Count != 1 {
			t.Errorf("PEL count = %d, want 1 (message should remain)", pending.Count)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}
