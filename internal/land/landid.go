package land

import (
	"strings"
)

// LandID identifies one state-owning room: landType plus an instance id.
// Single-room lands use the land type itself as the canonical instance, so
// "arena" and "arena:arena" name the same land.
type LandID struct {
	Type     string
	Instance string
}

// NewLandID builds a canonical id. Empty instance collapses to single-room
// form.
func NewLandID(landType, instance string) LandID {
	if instance == "" {
		instance = landType
	}
	return LandID{Type: landType, Instance: instance}
}

// ParseLandID reads "landType" or "landType:instanceId".
func ParseLandID(s string) LandID {
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return NewLandID(s[:i], s[i+1:])
	}
	return NewLandID(s, "")
}

// String renders the wire form. Single-room lands render as bare landType.
func (id LandID) String() string {
	if id.Instance == "" || id.Instance == id.Type {
		return id.Type
	}
	return id.Type + ":" + id.Instance
}

// IsZero reports an unset id.
func (id LandID) IsZero() bool { return id.Type == "" }
