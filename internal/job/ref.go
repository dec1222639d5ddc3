package job

import (
	"encoding/json"
	"strings"
)

// Kind tags the shape of a Ref.
type Kind int

const (
	KindInvalid Kind = iota
	KindMethod
	KindFunction
)

// Ref identifies the unit of work a message asks for: either a method on a
// registered target or a registered function.
type Ref struct {
	Kind   Kind
	Target string
	Member string
}

// MethodRef references method member on a fresh instance of target.
func MethodRef(target, member string) Ref {
	if target == "" || member == "" {
		return Ref{}
	}
	return Ref{Kind: KindMethod, Target: target, Member: member}
}

// FuncRef references a registered function.
func FuncRef(name string) Ref {
	if name == "" {
		return Ref{}
	}
	return Ref{Kind: KindFunction, Target: name}
}

func (r Ref) Valid() bool {
	switch r.Kind {
	case KindMethod:
		return r.Target != "" && r.Member != ""
	case KindFunction:
		return r.Target != ""
	default:
		return false
	}
}

func (r Ref) String() string {
	switch {
	case !r.Valid():
		return "<invalid>"
	case r.Kind == KindMethod:
		return r.Target + "::" + r.Member
	default:
		return r.Target
	}
}

// MarshalJSON encodes a function reference as a string and a method
// reference as a two element array.
func (r Ref) MarshalJSON() ([]byte, error) {
	switch {
	case !r.Valid():
		return nil, ErrInvalidRef
	case r.Kind == KindMethod:
		return json.Marshal([2]string{r.Target, r.Member})
	default:
		return json.Marshal(r.Target)
	}
}

// UnmarshalJSON accepts the forms MarshalJSON produces and fails with
// ErrInvalidRef on anything else.
func (r *Ref) UnmarshalJSON(data []byte) error {
	ref := parseRef(data)
	if !ref.Valid() {
		return ErrInvalidRef
	}
	*r = ref
	return nil
}

// parseRef never fails; anything it does not recognise becomes an invalid Ref.
func parseRef(raw json.RawMessage) Ref {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return Ref{}
	}

	switch raw[0] {
	case '"':
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return Ref{}
		}
		return FuncRef(name)
	case '[':
		var parts []string
		if err := json.Unmarshal(raw, &parts); err != nil || len(parts) != 2 {
			return Ref{}
		}
		return MethodRef(parts[0], parts[1])
	default:
		return Ref{}
	}
}
