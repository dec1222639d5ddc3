package job

import (
	"encoding/json"
	"fmt"
	"maps"
)

// RawMessage is the transport-level message before interpretation.
type RawMessage struct {
	ID      string
	Headers map[string]string
	Body    []byte
}

// DeliveryContext is the transport handle for settling a message. The
// dispatcher passes it through untouched.
type DeliveryContext any

// Message is the typed view of a RawMessage. It is built once per delivery
// and not modified afterwards.
type Message struct {
	raw     RawMessage
	dctx    DeliveryContext
	ref     Ref
	args    map[string]any
	headers map[string]string
}

type payload struct {
	Class   json.RawMessage `json:"class"`
	Args    json.RawMessage `json:"args,omitempty"`
	Headers json.RawMessage `json:"headers,omitempty"`
}

// NewMessage decodes raw into a Message. Malformed bodies do not fail: they
// produce a Message whose Callable is invalid and whose Args are empty.
func NewMessage(raw RawMessage, dctx DeliveryContext) *Message {
	m := &Message{
		raw:     raw,
		dctx:    dctx,
		args:    map[string]any{},
		headers: map[string]string{},
	}
	maps.Copy(m.headers, raw.Headers)

	var p payload
	if err := json.Unmarshal(raw.Body, &p); err != nil {
		return m
	}

	m.ref = parseRef(p.Class)

	if len(p.Args) > 0 {
		var args map[string]any
		if err := json.Unmarshal(p.Args, &args); err == nil {
			maps.Copy(m.args, args)
		}
	}
	if len(p.Headers) > 0 {
		var headers map[string]any
		if err := json.Unmarshal(p.Headers, &headers); err == nil {
			for k, v := range headers {
				if s, ok := v.(string); ok {
					m.headers[k] = s
				} else if v != nil {
					m.headers[k] = fmt.Sprint(v)
				}
			}
		}
	}
	return m
}

// Encode builds a message body that NewMessage decodes back into ref, args
// and headers.
func Encode(ref Ref, args map[string]any, headers map[string]string) ([]byte, error) {
	if !ref.Valid() {
		return nil, ErrInvalidRef
	}
	class, err := json.Marshal(ref)
	if err != nil {
		return nil, fmt.Errorf("marshaling ref: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	if headers == nil {
		headers = map[string]string{}
	}
	a, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshaling args: %w", err)
	}
	h, err := json.Marshal(headers)
	if err != nil {
		return nil, fmt.Errorf("marshaling headers: %w", err)
	}
	return json.Marshal(payload{Class: class, Args: a, Headers: h})
}

func (m *Message) ID() string                 { return m.raw.ID }
func (m *Message) Raw() RawMessage            { return m.raw }
func (m *Message) Context() DeliveryContext   { return m.dctx }
func (m *Message) Callable() Ref              { return m.ref }
func (m *Message) Args() map[string]any       { return maps.Clone(m.args) }
func (m *Message) Headers() map[string]string { return maps.Clone(m.headers) }

func (m *Message) Arg(name string) (any, bool) {
	v, ok := m.args[name]
	return v, ok
}

// StringArg returns the named argument when it is a string.
func (m *Message) StringArg(name string) string {
	s, _ := m.args[name].(string)
	return s
}

func (m *Message) Header(name string) string {
	return m.headers[name]
}
