package state

import "fmt"

// Kind discriminates the typed value variants a property can hold.
type Kind int

const (
	// KindBool is an on/off state (switch entities).
	KindBool Kind = iota

	// KindEnum is one option from an ordered option list (select entities).
	KindEnum

	// KindNumber is a float measurement (sensor entities).
	KindNumber
)

// String returns the kind name for logging.
func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindEnum:
		return "enum"
	case KindNumber:
		return "number"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is one typed property value read from or written to the local store.
// Exactly one of Bool, Option, or Number is meaningful, selected by Kind.
type Value struct {
	Kind   Kind
	Bool   bool
	Option string
	Number float64
}

// BoolValue returns a bool-kinded Value.
func BoolValue(v bool) Value {
	return Value{Kind: KindBool, Bool: v}
}

// EnumValue returns an enum-kinded Value.
func EnumValue(option string) Value {
	return Value{Kind: KindEnum, Option: option}
}

// NumberValue returns a number-kinded Value.
func NumberValue(v float64) Value {
	return Value{Kind: KindNumber, Number: v}
}

// Snapshot maps property names to their current typed values.
type Snapshot map[string]Value

// Params maps wire field names to their numeric wire values. Everything the
// broker sees is numeric: booleans as 0/1, enums as option indices, numbers
// as themselves.
type Params map[string]float64

// Clone returns an independent copy of the params.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge copies every field of other into p, overwriting existing fields.
func (p Params) Merge(other Params) {
	for k, v := range other {
		p[k] = v
	}
}
