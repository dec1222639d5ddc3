package mailer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/theognis1002/nimbus-dispatch/internal/cache"
	"github.com/theognis1002/nimbus-dispatch/internal/dispatch"
	"github.com/theognis1002/nimbus-dispatch/internal/events"
	"github.com/theognis1002/nimbus-dispatch/internal/job"
)

type captureSender struct {
	mu   sync.Mutex
	sent []Email
	err  error
}

func (s *captureSender) Send(_ context.Context, e Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, e)
	return nil
}

type fakeLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (l *fakeLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allow, l.err
}

// queuedMessage pushes through m and decodes the result the way a worker
// would see it.
func queuedMessage(t *testing.T, m *Mailer, action string, args map[string]any, headers map[string]string) *job.Message {
	t.Helper()
	p := &capturePusher{}
	m.pusher = p
	if _, err := m.Push(context.Background(), action, args, headers); err != nil {
		t.Fatalf("Push: %v", err)
	}
	j := p.jobs[0]
	body, err := job.Encode(j.ref, j.args, j.headers)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return job.NewMessage(job.RawMessage{ID: "1-0", Body: body}, nil)
}

// rawMessage builds a mailer job message without going through Push, for
// payloads Push would refuse.
func rawMessage(t *testing.T, args map[string]any) *job.Message {
	t.Helper()
	body, err := job.Encode(job.MethodRef(JobTarget, dispatchMember), args, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return job.NewMessage(job.RawMessage{ID: "2-0", Body: body}, nil)
}

func newTestJob(sender Sender) (*Job, *Mailer) {
	m := NewWelcome(nil)
	return &Job{
		Directory: NewDirectory(m),
		Sender:    sender,
		From:      "noreply@example.com",
		BaseURL:   "https://app.example.com",
	}, m
}

func TestDispatchAction_Sends(t *testing.T) {
	t.Parallel()
	sender := &captureSender{}
	j, m := newTestJob(sender)
	msg := queuedMessage(t, m, "send", map[string]any{"email": "ada@example.com", "name": "Ada"}, map[string]string{"X-Campaign": "spring"})

	outcome, err := j.DispatchAction(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != job.Success {
		t.Fatalf("outcome = %v, want success", outcome)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d emails, want 1", len(sender.sent))
	}

	e := sender.sent[0]
	if e.To != "ada@example.com" || e.From != "noreply@example.com" {
		t.Errorf("email = %+v", e)
	}
	if e.Headers["X-Campaign"] != "spring" {
		t.Errorf("Headers = %v", e.Headers)
	}
	if !strings.Contains(e.Text, "Welcome, Ada!") {
		t.Errorf("Text = %q", e.Text)
	}
	if len(e.Links) != 1 || e.Links[0] != "https://app.example.com/dashboard" {
		t.Errorf("Links = %v", e.Links)
	}
}

func TestDispatchAction_Rejections(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		args map[string]any
	}{
		{"unknown mailer", map[string]any{"mailerName": "digest", "action": "send", "args": map[string]any{}}},
		{"unknown action", map[string]any{"mailerName": "welcome", "action": "farewell", "args": map[string]any{}}},
		{"missing mailer name", map[string]any{"action": "send"}},
		{"bad args", map[string]any{"mailerName": "welcome", "action": "send", "args": map[string]any{}}},
		{"args not an object", map[string]any{"mailerName": "welcome", "action": "confirm", "args": "ada@example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sender := &captureSender{}
			j, _ := newTestJob(sender)

			outcome, err := j.DispatchAction(context.Background(), rawMessage(t, tt.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if outcome != job.Rejected {
				t.Errorf("outcome = %v, want rejected", outcome)
			}
			if len(sender.sent) != 0 {
				t.Errorf("sent %d emails, want 0", len(sender.sent))
			}
		})
	}
}

func TestDispatchAction_ActionError(t *testing.T) {
	t.Parallel()
	boom := errors.New("template store unavailable")
	sender := &captureSender{}
	j, m := newTestJob(sender)
	m.Handle("broken", func(context.Context, map[string]any) (Email, error) { return Email{}, boom })
	msg := queuedMessage(t, m, "broken", nil, nil)

	_, err := j.DispatchAction(context.Background(), msg)
	if !errors.Is(err, boom) {
		t.Fatalf("expected action error, got %v", err)
	}
}

func TestDispatchAction_SenderError(t *testing.T) {
	t.Parallel()
	boom := errors.New("smtp 421")
	j, m := newTestJob(&captureSender{err: boom})
	msg := queuedMessage(t, m, "send", map[string]any{"email": "ada@example.com"}, nil)

	_, err := j.DispatchAction(context.Background(), msg)
	if !errors.Is(err, boom) {
		t.Fatalf("expected sender error, got %v", err)
	}
}

func TestDispatchAction_Throttled(t *testing.T) {
	t.Parallel()
	sender := &captureSender{}
	j, m := newTestJob(sender)
	lim := &fakeLimiter{allow: false}
	j.Limiter = lim
	msg := queuedMessage(t, m, "send", map[string]any{"email": "Ada <ada@Example.com>"}, nil)

	outcome, err := j.DispatchAction(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != job.Retry {
		t.Errorf("outcome = %v, want retry", outcome)
	}
	if len(sender.sent) != 0 {
		t.Errorf("sent %d emails, want 0", len(sender.sent))
	}
	if len(lim.keys) != 1 || lim.keys[0] != "mail:example.com" {
		t.Errorf("limiter keys = %v, want [mail:example.com]", lim.keys)
	}
}

func TestDispatchAction_LimiterError(t *testing.T) {
	t.Parallel()
	j, m := newTestJob(&captureSender{})
	j.Limiter = &fakeLimiter{err: errors.New("redis down")}
	msg := queuedMessage(t, m, "send", map[string]any{"email": "ada@example.com"}, nil)

	if _, err := j.DispatchAction(context.Background(), msg); err == nil {
		t.Error("expected error when limiter fails")
	}
}

func TestDispatchAction_RedeliveryNotResent(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	sender := &captureSender{}
	j, m := newTestJob(sender)
	j.Sent = cache.NewMarker(rdb, time.Hour)
	j.Limiter = cache.NewRateLimiter(rdb, time.Minute, 10)
	msg := queuedMessage(t, m, "send", map[string]any{"email": "ada@example.com"}, map[string]string{"id": "fixed-id"})

	for i := 0; i < 2; i++ {
		outcome, err := j.DispatchAction(context.Background(), msg)
		if err != nil {
			t.Fatalf("attempt %d: unexpected error: %v", i, err)
		}
		if outcome != job.Success {
			t.Fatalf("attempt %d: outcome = %v, want success", i, outcome)
		}
	}
	if len(sender.sent) != 1 {
		t.Errorf("sent %d emails, want 1", len(sender.sent))
	}
	if !mr.Exists("done:mail:fixed-id") {
		t.Error("sent marker should be stored under the producer id")
	}
}

func TestDispatchAction_ThroughDispatcher(t *testing.T) {
	t.Parallel()
	sender := &captureSender{}
	welcome := NewWelcome(nil)
	reg := job.NewRegistry()
	Register(reg, Job{Directory: NewDirectory(welcome), Sender: sender, From: "noreply@example.com"})

	var mu sync.Mutex
	var names []string
	sink := events.SinkFunc(func(_ context.Context, ev events.Event) {
		mu.Lock()
		defer mu.Unlock()
		names = append(names, ev.Name)
	})
	d := dispatch.New(reg, dispatch.WithSink(sink))

	tests := []struct {
		name   string
		args   map[string]any
		want   job.Disposition
		events []string
	}{
		{
			name:   "sent",
			args:   map[string]any{"mailerName": "welcome", "action": "send", "args": map[string]any{"email": "ada@example.com"}},
			want:   job.Ack,
			events: []string{events.MessageSeen, events.MessageStart, events.MessageSuccess},
		},
		{
			name:   "unknown action",
			args:   map[string]any{"mailerName": "welcome", "action": "nope"},
			want:   job.Reject,
			events: []string{events.MessageSeen, events.MessageStart, events.MessageReject},
		},
	}
	for _, tt := range tests {
		mu.Lock()
		names = nil
		mu.Unlock()

		disp := d.Process(context.Background(), rawMessage(t, tt.args).Raw(), nil)
		if disp != tt.want {
			t.Errorf("%s: disposition = %v, want %v", tt.name, disp, tt.want)
		}
		mu.Lock()
		if strings.Join(names, ",") != strings.Join(tt.events, ",") {
			t.Errorf("%s: events = %v, want %v", tt.name, names, tt.events)
		}
		mu.Unlock()
	}
	if len(sender.sent) != 1 {
		t.Errorf("sent %d emails, want 1", len(sender.sent))
	}
}

func TestRecipientDomain(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"ada@example.com":       "example.com",
		"Ada <ada@Example.com>": "example.com",
		"nobody":                "nobody",
	}
	for in, want := range tests {
		if got := recipientDomain(in); got != want {
			t.Errorf("recipientDomain(%q) = %q, want %q", in, got, want)
		}
	}
}
