package statesync

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Typed wire form: {"type":"int","value":3}. Crossing the wire in this form
// keeps the int/double distinction that bare JSON numbers lose. Arrays and
// objects nest typed values.

// ToTyped converts a value into plain Go structures in typed form.
func ToTyped(v Value) any {
	switch v.Kind {
	case KindNull:
		return map[string]any{"type": "null"}
	case KindBool:
		return map[string]any{"type": "bool", "value": v.BoolV}
	case KindInt:
		return map[string]any{"type": "int", "value": v.IntV}
	case KindDouble:
		return map[string]any{"type": "double", "value": v.DblV}
	case KindString:
		return map[string]any{"type": "string", "value": v.StrV}
	case KindArray:
		items := make([]any, len(v.Arr))
		for i := range v.Arr {
			items[i] = ToTyped(v.Arr[i])
		}
		return map[string]any{"type": "array", "value": items}
	case KindObject:
		entries := make(map[string]any, v.Obj.Len())
		for _, k := range v.Obj.Keys() {
			item, _ := v.Obj.Get(k)
			entries[k] = ToTyped(item)
		}
		return map[string]any{"type": "object", "value": entries}
	}
	return map[string]any{"type": "null"}
}

// FromTyped parses the typed form back into a Value.
func FromTyped(raw any) (Value, error) {
	m, err := asStringMap(raw)
	if err != nil {
		return Value{}, err
	}
	kind, _ := m["type"].(string)
	val := m["value"]
	switch kind {
	case "null":
		return Null(), nil
	case "bool":
		b, ok := val.(bool)
		if !ok {
			return Value{}, fmt.Errorf("typed bool: got %T", val)
		}
		return Bool(b), nil
	case "int":
		i, err := asInt64(val)
		if err != nil {
			return Value{}, fmt.Errorf("typed int: %w", err)
		}
		return Int(i), nil
	case "double":
		f, err := asFloat64(val)
		if err != nil {
			return Value{}, fmt.Errorf("typed double: %w", err)
		}
		return Double(f), nil
	case "string":
		s, ok := val.(string)
		if !ok {
			return Value{}, fmt.Errorf("typed string: got %T", val)
		}
		return String(s), nil
	case "array":
		items, ok := val.([]any)
		if !ok {
			return Value{}, fmt.Errorf("typed array: got %T", val)
		}
		arr := make([]Value, 0, len(items))
		for _, item := range items {
			cv, err := FromTyped(item)
			if err != nil {
				return Value{}, err
			}
			arr = append(arr, cv)
		}
		return Value{Kind: KindArray, Arr: arr}, nil
	case "object":
		entries, err := asStringMap(val)
		if err != nil {
			return Value{}, fmt.Errorf("typed object: %w", err)
		}
		keys := make([]string, 0, len(entries))
		for k := range entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		obj := NewObject()
		for _, k := range keys {
			cv, err := FromTyped(entries[k])
			if err != nil {
				return Value{}, err
			}
			obj.Set(k, cv)
		}
		return ObjectValue(obj), nil
	default:
		return Value{}, fmt.Errorf("typed value: unknown type %q", kind)
	}
}

func asStringMap(raw any) (map[string]any, error) {
	switch t := raw.(type) {
	case map[string]any:
		return t, nil
	case map[any]any:
		// msgpack decodes maps with interface keys
		out := make(map[string]any, len(t))
		for k, v := range t {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("non-string map key %v", k)
			}
			out[ks] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected object, got %T", raw)
	}
}

func asInt64(raw any) (int64, error) {
	switch t := raw.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case uint64:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint8:
		return int64(t), nil
	case float64:
		return int64(t), nil
	case json.Number:
		return t.Int64()
	default:
		return 0, fmt.Errorf("got %T", raw)
	}
}

func asFloat64(raw any) (float64, error) {
	switch t := raw.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case int:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	default:
		return 0, fmt.Errorf("got %T", raw)
	}
}
