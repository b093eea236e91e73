package statesync

import (
	"fmt"
)

// FieldSpec declares one stored field of a MapState.
type FieldSpec struct {
	Name    string
	Policy  Policy
	Kind    FieldKind
	Default Value // zero Value means Null for leaves, empty object for maps
}

// MapState is a generic descriptor-driven state: fields live in a value map
// and mutation goes through setters that flip dirty bits. Scripted lands and
// tests use it; hand-written state types can implement their own schema
// instead. Accessed only from the keeper goroutine, so no locks.
type MapState struct {
	specs  []FieldSpec
	values map[string]Value

	dirty     map[string]bool
	dirtyKeys map[string]map[string]bool // map fields: field -> changed keys
}

// NewMapState builds a state with every field at its default value. All
// fields start clean.
func NewMapState(specs []FieldSpec) *MapState {
	s := &MapState{
		specs:     specs,
		values:    make(map[string]Value, len(specs)),
		dirty:     make(map[string]bool),
		dirtyKeys: make(map[string]map[string]bool),
	}
	for _, spec := range specs {
		s.values[spec.Name] = defaultFor(spec)
	}
	return s
}

func defaultFor(spec FieldSpec) Value {
	if spec.Default.Kind != KindNull {
		return spec.Default.Clone()
	}
	switch spec.Kind {
	case MapField, NestedNode:
		return ObjectValue(NewObject())
	default:
		return Null()
	}
}

// Get returns the current value of a field.
func (s *MapState) Get(field string) Value {
	return s.values[field]
}

// Set replaces a field value and marks it dirty.
func (s *MapState) Set(field string, v Value) error {
	if _, ok := s.values[field]; !ok {
		return fmt.Errorf("unknown field %q", field)
	}
	s.values[field] = v
	s.dirty[field] = true
	return nil
}

// GetKey reads one key of a map field.
func (s *MapState) GetKey(field, key string) (Value, bool) {
	cur, ok := s.values[field]
	if !ok || cur.Kind != KindObject {
		return Value{}, false
	}
	return cur.Obj.Get(key)
}

// SetKey writes one key of a map field and marks the key dirty.
func (s *MapState) SetKey(field, key string, v Value) error {
	cur, ok := s.values[field]
	if !ok {
		return fmt.Errorf("unknown field %q", field)
	}
	if cur.Kind != KindObject {
		return fmt.Errorf("field %q is not a map", field)
	}
	cur.Obj.Set(key, v)
	s.markKey(field, key)
	return nil
}

// DeleteKey removes one key of a map field and marks the key dirty.
func (s *MapState) DeleteKey(field, key string) error {
	cur, ok := s.values[field]
	if !ok {
		return fmt.Errorf("unknown field %q", field)
	}
	if cur.Kind != KindObject {
		return fmt.Errorf("field %q is not a map", field)
	}
	cur.Obj.Delete(key)
	s.markKey(field, key)
	return nil
}

func (s *MapState) markKey(field, key string) {
	s.dirty[field] = true
	keys := s.dirtyKeys[field]
	if keys == nil {
		keys = make(map[string]bool)
		s.dirtyKeys[field] = keys
	}
	keys[key] = true
}

// BuildMapSchema builds the descriptor table for a MapState's field specs. The
// descriptors close over field names and type-assert the state argument,
// mirroring how packet handlers recover their session type.
func BuildMapSchema(name string, specs []FieldSpec) *Schema {
	fields := make([]FieldDescriptor, 0, len(specs))
	for _, spec := range specs {
		spec := spec
		fields = append(fields, FieldDescriptor{
			Name:   spec.Name,
			Policy: spec.Policy,
			Kind:   spec.Kind,
			Read: func(state any) Value {
				return state.(*MapState).Get(spec.Name).Clone()
			},
			Write: func(state any, v Value) error {
				return state.(*MapState).Set(spec.Name, v.Clone())
			},
			IsDirty: func(state any) bool {
				return state.(*MapState).dirty[spec.Name]
			},
			DirtyKeys: func(state any) []string {
				ms := state.(*MapState)
				keys := ms.dirtyKeys[spec.Name]
				out := make([]string, 0, len(keys))
				for k := range keys {
					out = append(out, k)
				}
				return out
			},
			ClearDirty: func(state any) {
				ms := state.(*MapState)
				delete(ms.dirty, spec.Name)
				delete(ms.dirtyKeys, spec.Name)
			},
		})
	}
	return &Schema{
		Name:   name,
		Fields: fields,
		Clone: func(state any) any {
			return state.(*MapState).clone()
		},
	}
}

func (s *MapState) clone() *MapState {
	out := &MapState{
		specs:     s.specs,
		values:    make(map[string]Value, len(s.values)),
		dirty:     make(map[string]bool, len(s.dirty)),
		dirtyKeys: make(map[string]map[string]bool, len(s.dirtyKeys)),
	}
	for k, v := range s.values {
		out.values[k] = v.Clone()
	}
	for k, v := range s.dirty {
		out.dirty[k] = v
	}
	for f, keys := range s.dirtyKeys {
		cp := make(map[string]bool, len(keys))
		for k, v := range keys {
			cp[k] = v
		}
		out.dirtyKeys[f] = cp
	}
	return out
}
