package job

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"unicode"
	"unicode/utf8"
)

// Handler runs the work a message refers to.
type Handler func(ctx context.Context, msg *Message) (Outcome, error)

var (
	contextType = reflect.TypeFor[context.Context]()
	messageType = reflect.TypeFor[*Message]()
	outcomeType = reflect.TypeFor[Outcome]()
	errorType   = reflect.TypeFor[error]()
)

type target struct {
	typ   reflect.Type
	newFn func() any
}

// Registry maps reference names to targets and functions. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	targets map[string]target
	funcs   map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{
		targets: make(map[string]target),
		funcs:   make(map[string]Handler),
	}
}

// RegisterTarget registers a constructor for method references naming
// target. A fresh instance is built for every invocation. Handler methods
// must have the signature func(context.Context, *Message) (Outcome, error)
// and are looked up on T, not on the dynamic type newFn returns.
//
// RegisterTarget panics if name is empty, newFn is nil, or T has no handler
// methods, since such a target could never resolve.
func RegisterTarget[T any](r *Registry, name string, newFn func() T) {
	typ := reflect.TypeFor[T]()
	switch {
	case name == "":
		panic("job: RegisterTarget with empty name")
	case newFn == nil:
		panic("job: RegisterTarget " + name + " with nil constructor")
	case !hasAnyHandlerMethod(typ):
		panic(fmt.Sprintf("job: RegisterTarget %s: type %s has no handler methods", name, typ))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[name] = target{
		typ:   typ,
		newFn: func() any { return newFn() },
	}
}

// RegisterFunc registers h for function references naming name.
func (r *Registry) RegisterFunc(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = h
}

// Names returns every registered reference, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.targets)+len(r.funcs))
	for n := range r.targets {
		names = append(names, n)
	}
	for n := range r.funcs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve checks that ref names something invocable and returns a Handler
// for it. Targets are not instantiated until the Handler is called.
func (r *Registry) Resolve(ref Ref) (Handler, error) {
	switch ref.Kind {
	case KindFunction:
		if !ref.Valid() {
			break
		}
		r.mu.RLock()
		h, ok := r.funcs[ref.Target]
		r.mu.RUnlock()
		if !ok || h == nil {
			return nil, &ResolveError{Ref: ref, Err: ErrUnknownFunction}
		}
		return h, nil

	case KindMethod:
		if !ref.Valid() {
			break
		}
		r.mu.RLock()
		t, ok := r.targets[ref.Target]
		r.mu.RUnlock()
		if !ok {
			return nil, &ResolveError{Ref: ref, Err: ErrUnknownTarget}
		}
		name := methodName(ref.Member)
		if !hasHandlerMethod(t.typ, name) {
			return nil, &ResolveError{Ref: ref, Err: ErrUnknownMethod}
		}
		return methodHandler(t, name), nil
	}
	return nil, &ResolveError{Ref: ref, Err: ErrInvalidRef}
}

func methodHandler(t target, name string) Handler {
	return func(ctx context.Context, msg *Message) (Outcome, error) {
		instance := t.newFn()
		v := reflect.ValueOf(instance)
		if !v.IsValid() {
			return NoOutcome, errors.New("target constructor returned nil")
		}
		m := v.MethodByName(name)
		if !m.IsValid() {
			return NoOutcome, ErrUnknownMethod
		}
		fn, ok := m.Interface().(func(context.Context, *Message) (Outcome, error))
		if !ok {
			return NoOutcome, ErrUnknownMethod
		}
		return fn(ctx, msg)
	}
}

func hasHandlerMethod(typ reflect.Type, name string) bool {
	m, ok := typ.MethodByName(name)
	if !ok {
		return false
	}
	ft := m.Type
	// Methods of concrete types carry the receiver as the first input.
	in := 0
	if typ.Kind() != reflect.Interface {
		in = 1
	}
	return ft.NumIn() == in+2 &&
		ft.In(in) == contextType &&
		ft.In(in+1) == messageType &&
		ft.NumOut() == 2 &&
		ft.Out(0) == outcomeType &&
		ft.Out(1) == errorType
}

func hasAnyHandlerMethod(typ reflect.Type) bool {
	for i := 0; i < typ.NumMethod(); i++ {
		if hasHandlerMethod(typ, typ.Method(i).Name) {
			return true
		}
	}
	return false
}

// methodName maps a reference member such as "send" onto the exported
// method name "Send".
func methodName(member string) string {
	r, size := utf8.DecodeRuneInString(member)
	if r == utf8.RuneError {
		return member
	}
	return string(unicode.ToUpper(r)) + member[size:]
}
