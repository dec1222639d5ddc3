// Package mailer lets named mailers queue their actions as jobs. A mailer
// pushes [MailerJob, dispatchAction] onto the queue; the worker runs
// Job.DispatchAction, which renders the email and hands it to a Sender.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"

	"github.com/theognis1002/nimbus-dispatch/internal/job"
	"github.com/theognis1002/nimbus-dispatch/internal/queue"
)

var (
	ErrMissingAction = errors.New("mailer action does not exist")
	// ErrBadArgs marks arguments an action can never succeed with. The
	// message is rejected instead of retried.
	ErrBadArgs = errors.New("invalid mailer arguments")
)

// Email is what an action produces. Text is derived from HTML when empty.
type Email struct {
	From    string
	To      string
	Subject string
	HTML    string
	Text    string
	Headers map[string]string
	Links   []string
}

type Action func(ctx context.Context, args map[string]any) (Email, error)

type Mailer struct {
	name    string
	actions map[string]Action
	pusher  queue.Pusher
}

// New returns a mailer that queues its actions through pusher.
func New(name string, pusher queue.Pusher) *Mailer {
	return &Mailer{name: name, actions: make(map[string]Action), pusher: pusher}
}

func (m *Mailer) Name() string { return m.name }

// Handle registers fn under action and returns m for chaining.
func (m *Mailer) Handle(action string, fn Action) *Mailer {
	m.actions[action] = fn
	return m
}

func (m *Mailer) Actions() []string {
	names := make([]string, 0, len(m.actions))
	for n := range m.actions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (m *Mailer) action(name string) (Action, bool) {
	fn, ok := m.actions[name]
	return fn, ok
}

// Push queues action with args. headers travel both as message headers and
// inside the job arguments so DispatchAction can copy them onto the email.
func (m *Mailer) Push(ctx context.Context, action string, args map[string]any, headers map[string]string) (string, error) {
	if _, ok := m.actions[action]; !ok {
		return "", fmt.Errorf("%w: %s::%s", ErrMissingAction, m.name, action)
	}
	if args == nil {
		args = map[string]any{}
	}
	if headers == nil {
		headers = map[string]string{}
	}

	jobArgs := map[string]any{
		argMailerName: m.name,
		argAction:     action,
		argArgs:       args,
		argHeaders:    maps.Clone(headers),
	}
	id, err := m.pusher.Push(ctx, job.MethodRef(JobTarget, dispatchMember), jobArgs, headers)
	if err != nil {
		return "", fmt.Errorf("queueing %s::%s: %w", m.name, action, err)
	}
	return id, nil
}
