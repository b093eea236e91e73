package statesync

import (
	"fmt"
	"strings"
)

// Patch op names. The wire contract fixes these spellings.
const (
	OpAdd     = "add"
	OpReplace = "replace"
	OpRemove  = "remove"
)

// Patch is one JSON-Patch-shaped step transforming the previous snapshot
// into the next one.
type Patch struct {
	Op    string `json:"op" msgpack:"op"`
	Path  string `json:"path" msgpack:"path"`
	Value *Value `json:"value,omitempty" msgpack:"value,omitempty"`
}

func addPatch(path string, v Value) Patch {
	return Patch{Op: OpAdd, Path: path, Value: &v}
}

func replacePatch(path string, v Value) Patch {
	return Patch{Op: OpReplace, Path: path, Value: &v}
}

func removePatch(path string) Patch {
	return Patch{Op: OpRemove, Path: path}
}

// escapePointer applies JSON-Pointer token escaping (~ before /).
func escapePointer(token string) string {
	token = strings.ReplaceAll(token, "~", "~0")
	return strings.ReplaceAll(token, "/", "~1")
}

func unescapePointer(token string) string {
	token = strings.ReplaceAll(token, "~1", "/")
	return strings.ReplaceAll(token, "~0", "~")
}

// splitPointer breaks a JSON-Pointer into unescaped tokens.
func splitPointer(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("bad pointer %q", path)
	}
	raw := strings.Split(path[1:], "/")
	tokens := make([]string, len(raw))
	for i, t := range raw {
		tokens[i] = unescapePointer(t)
	}
	return tokens, nil
}

// Apply replays patches onto a snapshot object and returns the result. The
// input is not mutated. Used by the replay runner's projection and by tests
// verifying that diffs compose.
func Apply(base Value, patches []Patch) (Value, error) {
	out := base.Clone()
	for _, p := range patches {
		tokens, err := splitPointer(p.Path)
		if err != nil {
			return Value{}, err
		}
		if len(tokens) == 0 {
			if p.Op == OpRemove {
				return Value{}, fmt.Errorf("cannot remove document root")
			}
			if p.Value == nil {
				return Value{}, fmt.Errorf("%s at root without value", p.Op)
			}
			out = p.Value.Clone()
			continue
		}
		if err := applyAt(&out, tokens, p); err != nil {
			return Value{}, fmt.Errorf("apply %s %s: %w", p.Op, p.Path, err)
		}
	}
	return out, nil
}

func applyAt(target *Value, tokens []string, p Patch) error {
	if target.Kind != KindObject {
		return fmt.Errorf("path traverses non-object")
	}
	key := tokens[0]
	if len(tokens) == 1 {
		switch p.Op {
		case OpAdd, OpReplace:
			if p.Value == nil {
				return fmt.Errorf("missing value")
			}
			target.Obj.Set(key, p.Value.Clone())
		case OpRemove:
			target.Obj.Delete(key)
		default:
			return fmt.Errorf("unknown op %q", p.Op)
		}
		return nil
	}
	child, ok := target.Obj.Get(key)
	if !ok {
		return fmt.Errorf("missing key %q", key)
	}
	if err := applyAt(&child, tokens[1:], p); err != nil {
		return err
	}
	target.Obj.Set(key, child)
	return nil
}
