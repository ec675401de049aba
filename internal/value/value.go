// Package value implements the tagged-variant response representation
// called for in spec.md §9 ("Response transformation as in-place dict
// mutation"): policies operate on a Value tree and produce new Value trees
// rather than mutating a dynamic map in place.
package value

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Value is an immutable tagged union over the JSON data model, plus
// ordered-map objects so field order round-trips predictably through the
// audit log and MCP responses.
type Value struct {
	kind   Kind
	b      bool
	n      float64
	s      string
	arr    []Value
	fields []ObjectField
}

// ObjectField is one key/value pair of an Object value, preserving
// declaration order.
type ObjectField struct {
	Key   string
	Value Value
}

func Null() Value                 { return Value{kind: KindNull} }
func Bool(b bool) Value           { return Value{kind: KindBool, b: b} }
func Number(n float64) Value      { return Value{kind: KindNumber, n: n} }
func String(s string) Value       { return Value{kind: KindString, s: s} }
func Array(items []Value) Value   { return Value{kind: KindArray, arr: items} }
func Object(fields []ObjectField) Value {
	return Value{kind: KindObject, fields: fields}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) Bool() (bool, bool)       { return v.b, v.kind == KindBool }
func (v Value) Number() (float64, bool)  { return v.n, v.kind == KindNumber }
func (v Value) String() (string, bool)   { return v.s, v.kind == KindString }
func (v Value) Items() ([]Value, bool)   { return v.arr, v.kind == KindArray }
func (v Value) Fields() ([]ObjectField, bool) {
	return v.fields, v.kind == KindObject
}

// Get returns the value of a top-level object field and whether it was
// present. Non-objects always report absent, matching the "silent skip"
// invariant for filter/mask policies applied to non-object payloads.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	for _, f := range v.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// WithoutFields returns a copy of v with the named top-level fields removed.
// If v is an array, the removal is applied element-wise. Non-existent field
// names are silently ignored (spec.md §8 testable property 6).
func (v Value) WithoutFields(names map[string]struct{}) Value {
	switch v.kind {
	case KindObject:
		out := make([]ObjectField, 0, len(v.fields))
		for _, f := range v.fields {
			if _, drop := names[f.Key]; drop {
				continue
			}
			out = append(out, f)
		}
		return Object(out)
	case KindArray:
		out := make([]Value, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.WithoutFields(names)
		}
		return Array(out)
	default:
		return v
	}
}

// WithMaskedFields returns a copy of v with the named top-level fields'
// values replaced by mask. Array semantics and silent-skip mirror
// WithoutFields.
func (v Value) WithMaskedFields(names map[string]struct{}, mask string) Value {
	switch v.kind {
	case KindObject:
		out := make([]ObjectField, len(v.fields))
		for i, f := range v.fields {
			if _, match := names[f.Key]; match {
				out[i] = ObjectField{Key: f.Key, Value: String(mask)}
			} else {
				out[i] = f
			}
		}
		return Object(out)
	case KindArray:
		out := make([]Value, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.WithMaskedFields(names, mask)
		}
		return Array(out)
	default:
		return v
	}
}

// ToNative converts a Value into plain Go data (map[string]any, []any,
// string, float64, bool, nil) suitable for json.Marshal or a CEL activation.
func (v Value) ToNative() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.ToNative()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.fields))
		for _, f := range v.fields {
			out[f.Key] = f.Value.ToNative()
		}
		return out
	default:
		return nil
	}
}

// FromNative builds a Value tree from decoded JSON (the output of
// json.Unmarshal into an any, or a native Go value produced by a native
// endpoint function).
func FromNative(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case int:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case string:
		return String(t), nil
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			iv, err := FromNative(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = iv
		}
		return Array(items), nil
	case map[string]any:
		fields := make([]ObjectField, 0, len(t))
		for k, fv := range t {
			vv, err := FromNative(fv)
			if err != nil {
				return Value{}, err
			}
			fields = append(fields, ObjectField{Key: k, Value: vv})
		}
		return Object(fields), nil
	default:
		return Value{}, fmt.Errorf("value: unsupported native type %T", v)
	}
}

// MarshalJSON implements json.Marshaler, preserving object field order.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		return json.Marshal(v.n)
	case KindString:
		return json.Marshal(v.s)
	case KindArray:
		return json.Marshal(v.arr)
	case KindObject:
		buf := []byte{'{'}
		for i, f := range v.fields {
			if i > 0 {
				buf = append(buf, ',')
			}
			key, err := json.Marshal(f.Key)
			if err != nil {
				return nil, err
			}
			buf = append(buf, key...)
			buf = append(buf, ':')
			val, err := json.Marshal(f.Value)
			if err != nil {
				return nil, err
			}
			buf = append(buf, val...)
		}
		buf = append(buf, '}')
		return buf, nil
	default:
		return nil, fmt.Errorf("value: unknown kind %d", v.kind)
	}
}

// UnmarshalJSON implements json.Unmarshaler, preserving object field order
// via json.Decoder's token stream.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytesReader(data))
	dec.UseNumber()
	val, err := decodeValue(dec, nil)
	if err != nil {
		return err
	}
	*v = val
	return nil
}
