package translate

import (
	"math"

	"github.com/Dmxmj/ha-163-plug/internal/state"
)

// Shape selects how a rule converts between a typed local value and its
// numeric wire form.
type Shape int

const (
	// ShapeBool maps false/true to 0/1.
	ShapeBool Shape = iota

	// ShapeEnum maps an option to its index in the rule's ordered Options
	// list. Options order is part of the wire contract, never sort it.
	ShapeEnum

	// ShapeNumber passes floats through unchanged.
	ShapeNumber
)

// Rule binds one local property to one wire field.
type Rule struct {
	// Property is the local property name (e.g. "all_switch").
	Property string

	// Field is the wire field name (e.g. "state0").
	Field string

	// Shape selects the conversion.
	Shape Shape

	// Options is the ordered option list for ShapeEnum rules.
	Options []string
}

// Table is an ordered, bidirectional property/field mapping.
//
// Both directions consult the same rule list, so the mapping cannot drift
// apart: a value sent to the wire and echoed back resolves to the same
// property it came from.
type Table struct {
	rules   []Rule
	byProp  map[string]int
	byField map[string]int
}

// NewTable builds a table from an ordered rule list. On duplicate property
// or field names the first rule wins, matching first-match-wins resolution
// everywhere else in the bridge.
func NewTable(rules []Rule) *Table {
	t := &Table{
		rules:   rules,
		byProp:  make(map[string]int, len(rules)),
		byField: make(map[string]int, len(rules)),
	}
	for i, r := range rules {
		if _, ok := t.byProp[r.Property]; !ok {
			t.byProp[r.Property] = i
		}
		if _, ok := t.byField[r.Field]; !ok {
			t.byField[r.Field] = i
		}
	}
	return t
}

// Default returns the smart-socket mapping this bridge ships with.
func Default() *Table {
	return NewTable([]Rule{
		{Property: "all_switch", Field: "state0", Shape: ShapeBool},
		{Property: "jack_1", Field: "state1", Shape: ShapeBool},
		{Property: "jack_2", Field: "state2", Shape: ShapeBool},
		{Property: "jack_3", Field: "state3", Shape: ShapeBool},
		{Property: "jack_4", Field: "state4", Shape: ShapeBool},
		{Property: "jack_5", Field: "state5", Shape: ShapeBool},
		{Property: "jack_6", Field: "state6", Shape: ShapeBool},
		{Property: "default_power_on_state", Field: "default", Shape: ShapeEnum,
			Options: []string{"off", "on", "memory"}},
		{Property: "electric_power", Field: "active_power", Shape: ShapeNumber},
		{Property: "electric_current", Field: "current", Shape: ShapeNumber},
		{Property: "voltage", Field: "voltage", Shape: ShapeNumber},
		{Property: "power_consumption", Field: "energy", Shape: ShapeNumber},
	})
}

// ToWire converts a property snapshot into wire params.
//
// Properties without a rule, and enum options outside the rule's option
// list, are dropped rather than erroring: one bad value must not block the
// rest of the report.
func (t *Table) ToWire(snap state.Snapshot) state.Params {
	if len(snap) == 0 {
		return nil
	}

	out := make(state.Params, len(snap))
	for prop, v := range snap {
		i, ok := t.byProp[prop]
		if !ok {
			continue
		}
		r := t.rules[i]

		switch r.Shape {
		case ShapeBool:
			if v.Kind != state.KindBool {
				continue
			}
			if v.Bool {
				out[r.Field] = 1
			} else {
				out[r.Field] = 0
			}
		case ShapeEnum:
			if v.Kind != state.KindEnum {
				continue
			}
			idx, ok := optionIndex(r.Options, v.Option)
			if !ok {
				continue
			}
			out[r.Field] = float64(idx)
		case ShapeNumber:
			if v.Kind != state.KindNumber {
				continue
			}
			out[r.Field] = v.Number
		}
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

// FromWire converts inbound wire params into a property snapshot.
//
// Unknown fields, non-numeric values, and out-of-range enum indices are
// dropped. JSON numbers arrive as float64; anything else is a malformed
// command field.
func (t *Table) FromWire(params map[string]any) state.Snapshot {
	if len(params) == 0 {
		return nil
	}

	out := make(state.Snapshot, len(params))
	for field, raw := range params {
		i, ok := t.byField[field]
		if !ok {
			continue
		}
		r := t.rules[i]

		num, ok := asFloat(raw)
		if !ok {
			continue
		}

		switch r.Shape {
		case ShapeBool:
			out[r.Property] = state.BoolValue(num != 0)
		case ShapeEnum:
			idx := int(num)
			if float64(idx) != num || idx < 0 || idx >= len(r.Options) {
				continue
			}
			out[r.Property] = state.EnumValue(r.Options[idx])
		case ShapeNumber:
			out[r.Property] = state.NumberValue(num)
		}
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

// FieldFor returns the wire field for a property.
func (t *Table) FieldFor(property string) (string, bool) {
	i, ok := t.byProp[property]
	if !ok {
		return "", false
	}
	return t.rules[i].Field, true
}

// PropertyFor returns the property for a wire field.
func (t *Table) PropertyFor(field string) (string, bool) {
	i, ok := t.byField[field]
	if !ok {
		return "", false
	}
	return t.rules[i].Property, true
}

// optionIndex returns the position of option in the ordered list.
func optionIndex(options []string, option string) (int, bool) {
	for i, o := range options {
		if o == option {
			return i, true
		}
	}
	return 0, false
}

// asFloat coerces a decoded JSON value into a float64.
func asFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	case int:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
