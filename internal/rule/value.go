package rule

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf16"
)

// Value is a sealed interface over the types a primitive parameter or
// snapshot field may hold. Only Str, Int, Float, Bool, Array and Object
// implement it. JSON null has no representation: an absent field is
// absent, never null.
type Value interface {
	value() // sealed
}

// Str is a string value.
type Str string

func (Str) value() {}

// Int is an integer value, always int64.
type Int int64

func (Int) value() {}

// Float is a floating point value. NaN and infinities are rejected at
// canonical serialization time, not at construction.
type Float float64

func (Float) value() {}

// Bool is a boolean value.
type Bool bool

func (Bool) value() {}

// Array is an ordered list of Values.
type Array []Value

func (Array) value() {}

// Object is a map of string keys to Values.
// Use SortedKeys for deterministic iteration.
type Object map[string]Value

func (Object) value() {}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code
// units). Go's sort.Strings sorts by UTF-8 bytes, which differs for
// strings outside the BMP, so the comparison is explicit.
func (o Object) SortedKeys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysUTF16)
	return keys
}

func compareKeysUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := len(a16)
	if len(b16) < n {
		n = len(b16)
	}
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	default:
		return 0
	}
}

// FromGo converts a plain Go value (as produced by yaml or encoding/json
// decoding) into a Value. Null is rejected: absent means absent.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is not a valid value: omit the field instead")
	case Value:
		return val, nil
	case string:
		return Str(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case float64:
		// yaml and json both decode whole numbers as float64 in the
		// generic path; keep them integral where they are integral.
		if val == float64(int64(val)) {
			return Int(int64(val)), nil
		}
		return Float(val), nil
	case float32:
		return FromGo(float64(val))
	case json.Number:
		s := string(val)
		if !strings.ContainsAny(s, ".eE") {
			n, err := val.Int64()
			if err != nil {
				return nil, fmt.Errorf("number out of int64 range: %s", s)
			}
			return Int(n), nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number: %s", s)
		}
		return Float(f), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			ev, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = ev
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			ev, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = ev
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// ObjectFromGo converts a map of plain Go values into an Object.
func ObjectFromGo(m map[string]any) (Object, error) {
	obj := make(Object, len(m))
	for k, v := range m {
		val, err := FromGo(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		obj[k] = val
	}
	return obj, nil
}

// UnmarshalValue parses JSON into a Value with strict number handling:
// integral numbers become Int, fractional ones Float, null is rejected.
func UnmarshalValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return FromGo(raw)
}

// UnmarshalObject parses JSON into an Object.
func UnmarshalObject(data []byte) (Object, error) {
	v, err := UnmarshalValue(data)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(Object)
	if !ok {
		return nil, fmt.Errorf("expected JSON object, got %T", v)
	}
	return obj, nil
}

// AsFloat extracts a numeric value as float64.
// Returns false for non-numeric Values.
func AsFloat(v Value) (float64, bool) {
	switch n := v.(type) {
	case Int:
		return float64(n), true
	case Float:
		return float64(n), true
	default:
		return 0, false
	}
}

// AsString extracts a string value.
func AsString(v Value) (string, bool) {
	s, ok := v.(Str)
	return string(s), ok
}

// AsBool extracts a boolean value.
func AsBool(v Value) (bool, bool) {
	b, ok := v.(Bool)
	return bool(b), ok
}

// AsStrings extracts an Array of Str values as a []string.
func AsStrings(v Value) ([]string, bool) {
	arr, ok := v.(Array)
	if !ok {
		return nil, false
	}
	out := make([]string, len(arr))
	for i, elem := range arr {
		s, ok := elem.(Str)
		if !ok {
			return nil, false
		}
		out[i] = string(s)
	}
	return out, true
}
