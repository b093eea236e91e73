package statesync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// ValueKind discriminates the snapshot value union.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindBool
	KindInt
	KindDouble
	KindString
	KindArray
	KindObject
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(k))
	}
}

// Value is a snapshot value: the only shape state crosses the sync engine in.
// Int and Double are kept distinct so wire encodings preserve numeric type.
type Value struct {
	Kind   ValueKind
	BoolV  bool
	IntV   int64
	DblV   float64
	StrV   string
	Arr    []Value
	Obj    *Object
}

func Null() Value            { return Value{Kind: KindNull} }
func Bool(b bool) Value      { return Value{Kind: KindBool, BoolV: b} }
func Int(i int64) Value      { return Value{Kind: KindInt, IntV: i} }
func Double(f float64) Value { return Value{Kind: KindDouble, DblV: f} }
func String(s string) Value  { return Value{Kind: KindString, StrV: s} }

func Array(items ...Value) Value {
	return Value{Kind: KindArray, Arr: items}
}

func ObjectValue(obj *Object) Value {
	if obj == nil {
		obj = NewObject()
	}
	return Value{Kind: KindObject, Obj: obj}
}

// Object is a string-keyed value map that remembers insertion order.
// Field enumeration follows declaration order; hashing sorts keys itself.
type Object struct {
	keys    []string
	entries map[string]Value
}

func NewObject() *Object {
	return &Object{entries: make(map[string]Value)}
}

func (o *Object) Len() int { return len(o.keys) }

func (o *Object) Keys() []string { return o.keys }

// SortedKeys returns the keys in lexicographic order.
func (o *Object) SortedKeys() []string {
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	sort.Strings(out)
	return out
}

func (o *Object) Get(key string) (Value, bool) {
	v, ok := o.entries[key]
	return v, ok
}

func (o *Object) Set(key string, v Value) {
	if _, ok := o.entries[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.entries[key] = v
}

func (o *Object) Delete(key string) {
	if _, ok := o.entries[key]; !ok {
		return
	}
	delete(o.entries, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
}

// Equal reports deep equality. Int and Double never compare equal even when
// numerically identical; replay hashing depends on the distinction.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.BoolV == other.BoolV
	case KindInt:
		return v.IntV == other.IntV
	case KindDouble:
		return v.DblV == other.DblV
	case KindString:
		return v.StrV == other.StrV
	case KindArray:
		if len(v.Arr) != len(other.Arr) {
			return false
		}
		for i := range v.Arr {
			if !v.Arr[i].Equal(other.Arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if v.Obj.Len() != other.Obj.Len() {
			return false
		}
		for _, k := range v.Obj.keys {
			ov, ok := other.Obj.Get(k)
			if !ok || !v.Obj.entries[k].Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// Clone returns a deep copy that shares no mutable structure with v.
func (v Value) Clone() Value {
	switch v.Kind {
	case KindArray:
		arr := make([]Value, len(v.Arr))
		for i := range v.Arr {
			arr[i] = v.Arr[i].Clone()
		}
		return Value{Kind: KindArray, Arr: arr}
	case KindObject:
		obj := NewObject()
		for _, k := range v.Obj.keys {
			obj.Set(k, v.Obj.entries[k].Clone())
		}
		return Value{Kind: KindObject, Obj: obj}
	default:
		return v
	}
}

// MarshalJSON emits the compact form: bare JSON values, object keys in
// insertion order.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return strconv.AppendBool(nil, v.BoolV), nil
	case KindInt:
		return strconv.AppendInt(nil, v.IntV, 10), nil
	case KindDouble:
		return json.Marshal(v.DblV)
	case KindString:
		return json.Marshal(v.StrV)
	case KindArray:
		buf := []byte{'['}
		for i, item := range v.Arr {
			if i > 0 {
				buf = append(buf, ',')
			}
			b, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf = append(buf, b...)
		}
		return append(buf, ']'), nil
	case KindObject:
		buf := []byte{'{'}
		for i, k := range v.Obj.keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := v.Obj.entries[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		return append(buf, '}'), nil
	}
	return nil, fmt.Errorf("marshal: unknown value kind %d", v.Kind)
}

// UnmarshalJSON parses the compact form. JSON numbers without a fractional
// part or exponent decode as Int, everything else as Double.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromInterface(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromInterface converts decoded JSON (or any Go primitives) into a Value.
// map iteration order is not deterministic, so object keys are sorted; typed
// wire frames are the path that preserves declaration order.
func FromInterface(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("number %q: %w", t.String(), err)
		}
		return Double(f), nil
	case int:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case float64:
		return Double(t), nil
	case string:
		return String(t), nil
	case []any:
		arr := make([]Value, 0, len(t))
		for _, item := range t {
			cv, err := FromInterface(item)
			if err != nil {
				return Value{}, err
			}
			arr = append(arr, cv)
		}
		return Value{Kind: KindArray, Arr: arr}, nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		obj := NewObject()
		for _, k := range keys {
			cv, err := FromInterface(t[k])
			if err != nil {
				return Value{}, err
			}
			obj.Set(k, cv)
		}
		return ObjectValue(obj), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", raw)
	}
}

// Interface converts the value back into plain Go types, suitable for
// encoding through json or msgpack.
func (v Value) Interface() any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.BoolV
	case KindInt:
		return v.IntV
	case KindDouble:
		return v.DblV
	case KindString:
		return v.StrV
	case KindArray:
		out := make([]any, len(v.Arr))
		for i := range v.Arr {
			out[i] = v.Arr[i].Interface()
		}
		return out
	case KindObject:
		out := make(map[string]any, v.Obj.Len())
		for _, k := range v.Obj.keys {
			out[k] = v.Obj.entries[k].Interface()
		}
		return out
	}
	return nil
}
