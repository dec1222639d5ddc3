package events

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

type subscription struct {
	id    int
	sink  Sink
	names map[string]struct{}
}

func (s subscription) wants(name string) bool {
	if len(s.names) == 0 {
		return true
	}
	_, ok := s.names[name]
	return ok
}

// Bus fans each notification out to its subscribers synchronously, in
// subscription order. A panicking subscriber is logged and skipped.
type Bus struct {
	logger *slog.Logger

	mu        sync.RWMutex
	subs      []subscription
	nextSubID int
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bus{logger: logger}
}

// Subscribe registers sink for the named events, or for every event when no
// names are given. The returned func removes the subscription.
func (b *Bus) Subscribe(sink Sink, names ...string) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSubID
	b.nextSubID++

	var set map[string]struct{}
	if len(names) > 0 {
		set = make(map[string]struct{}, len(names))
		for _, n := range names {
			set[n] = struct{}{}
		}
	}
	b.subs = append(b.subs, subscription{id: id, sink: sink, names: set})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subs = slices.DeleteFunc(b.subs, func(s subscription) bool { return s.id == id })
	}
}

// Notify implements Sink.
func (b *Bus) Notify(ctx context.Context, ev Event) {
	b.mu.RLock()
	subs := slices.Clone(b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.wants(ev.Name) {
			continue
		}
		b.deliver(ctx, s, ev)
	}
}

func (b *Bus) deliver(ctx context.Context, s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked",
				"event", ev.Name, "subscriber", s.id, "panic", fmt.Sprint(r))
		}
	}()
	s.sink.Notify(ctx, ev)
}
