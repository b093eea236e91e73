package statesync

import (
	"errors"
	"fmt"
)

// Policy controls who a stored field is synchronized to.
type Policy uint8

const (
	// Broadcast fields are visible to every joined session.
	Broadcast Policy = iota
	// PerPlayerSlice fields are maps keyed by playerID; each session sees
	// only its own key.
	PerPlayerSlice
	// ServerOnly fields never leave the server but participate in hashing.
	ServerOnly
	// Internal fields are invisible to the sync engine entirely.
	Internal
)

func (p Policy) String() string {
	switch p {
	case Broadcast:
		return "broadcast"
	case PerPlayerSlice:
		return "perPlayerSlice"
	case ServerOnly:
		return "serverOnly"
	case Internal:
		return "internal"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(p))
	}
}

// ParsePolicy maps the manifest spelling of a policy to its constant.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "broadcast":
		return Broadcast, nil
	case "perPlayerSlice":
		return PerPlayerSlice, nil
	case "serverOnly":
		return ServerOnly, nil
	case "internal":
		return Internal, nil
	default:
		return 0, fmt.Errorf("unknown sync policy %q", s)
	}
}

// FieldKind describes the shape of a stored field.
type FieldKind uint8

const (
	Leaf FieldKind = iota
	MapField
	NestedNode
)

// ErrInvalidStateSchema is returned when a land definition's descriptor
// table does not cover its stored fields. Raised at land creation, never at
// message time.
var ErrInvalidStateSchema = errors.New("InvalidStateSchema")

// FieldDescriptor is the pre-resolved accessor for one stored field. The
// state argument is opaque; descriptors close over the concrete type the
// same way packet handlers close over the session type.
type FieldDescriptor struct {
	Name   string
	Policy Policy
	Kind   FieldKind

	// Read yields a deterministic snapshot of the field.
	Read func(state any) Value
	// Write replaces the field from a snapshot value (replay projection).
	Write func(state any, v Value) error
	// IsDirty reports whether the field changed since the last ClearDirty.
	IsDirty func(state any) bool
	// DirtyKeys lists changed map keys; required for PerPlayerSlice fields
	// so only the owning session's slice is re-emitted.
	DirtyKeys func(state any) []string
	// ClearDirty resets dirty bookkeeping for the field.
	ClearDirty func(state any)
}

// Schema is the full descriptor table for one state type, fixed at land
// creation. The sync engine only ever walks pre-resolved descriptors.
type Schema struct {
	// Name identifies the state type; it feeds the land definition ID.
	Name   string
	Fields []FieldDescriptor

	// Clone deep-copies a state value. The keeper relies on it to roll
	// back mutations from failed handlers.
	Clone func(state any) any
}

// Validate checks the table covers the contract. A failure here is a fatal
// configuration error for the land.
func (s *Schema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: schema has no name", ErrInvalidStateSchema)
	}
	if s.Clone == nil {
		return fmt.Errorf("%w: schema %s has no clone function", ErrInvalidStateSchema, s.Name)
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("%w: schema %s declares no fields", ErrInvalidStateSchema, s.Name)
	}
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("%w: schema %s has an unnamed field", ErrInvalidStateSchema, s.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: schema %s declares field %s twice", ErrInvalidStateSchema, s.Name, f.Name)
		}
		seen[f.Name] = true
		if f.Read == nil || f.IsDirty == nil || f.ClearDirty == nil {
			return fmt.Errorf("%w: schema %s field %s missing descriptor functions", ErrInvalidStateSchema, s.Name, f.Name)
		}
		if f.Policy == PerPlayerSlice {
			if f.Kind != MapField {
				return fmt.Errorf("%w: schema %s field %s: perPlayerSlice requires a map field", ErrInvalidStateSchema, s.Name, f.Name)
			}
			if f.DirtyKeys == nil {
				return fmt.Errorf("%w: schema %s field %s: perPlayerSlice requires DirtyKeys", ErrInvalidStateSchema, s.Name, f.Name)
			}
		}
	}
	return nil
}

// Field returns the descriptor for name, or nil.
func (s *Schema) Field(name string) *FieldDescriptor {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i]
		}
	}
	return nil
}

// ClearDirtyAll resets dirty bookkeeping on every field.
func (s *Schema) ClearDirtyAll(state any) {
	for i := range s.Fields {
		s.Fields[i].ClearDirty(state)
	}
}

// AnyDirty reports whether any sync-visible field is dirty.
func (s *Schema) AnyDirty(state any) bool {
	for i := range s.Fields {
		if s.Fields[i].Policy == Internal {
			continue
		}
		if s.Fields[i].IsDirty(state) {
			return true
		}
	}
	return false
}
