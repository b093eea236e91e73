package statesync

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// CanonicalJSON renders a value in the frozen canonical form used for state
// hashing: object keys sorted lexicographically at every level, integers in
// minimal decimal form, doubles via strconv's shortest round-trip form,
// strings NFC-normalized. The output never changes across releases; replay
// verification depends on it.
func CanonicalJSON(v Value) []byte {
	return appendCanonical(nil, v)
}

func appendCanonical(buf []byte, v Value) []byte {
	switch v.Kind {
	case KindNull:
		return append(buf, "null"...)
	case KindBool:
		return strconv.AppendBool(buf, v.BoolV)
	case KindInt:
		return strconv.AppendInt(buf, v.IntV, 10)
	case KindDouble:
		return appendCanonicalFloat(buf, v.DblV)
	case KindString:
		return appendCanonicalString(buf, v.StrV)
	case KindArray:
		buf = append(buf, '[')
		for i, item := range v.Arr {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = appendCanonical(buf, item)
		}
		return append(buf, ']')
	case KindObject:
		buf = append(buf, '{')
		for i, k := range v.Obj.SortedKeys() {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = appendCanonicalString(buf, k)
			buf = append(buf, ':')
			item, _ := v.Obj.Get(k)
			buf = appendCanonical(buf, item)
		}
		return append(buf, '}')
	}
	return buf
}

func appendCanonicalString(buf []byte, s string) []byte {
	b, _ := json.Marshal(norm.NFC.String(s))
	return append(buf, b...)
}

func appendCanonicalFloat(buf []byte, f float64) []byte {
	// NaN and infinities cannot appear in snapshots; render them as null so
	// a handler bug surfaces as a hash mismatch rather than a panic.
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return append(buf, "null"...)
	}
	return strconv.AppendFloat(buf, f, 'g', -1, 64)
}

// HashBytes is fnv1a64 over raw bytes, rendered as 16 hex digits.
func HashBytes(data []byte) string {
	h := fnv.New64a()
	h.Write(data)
	return fmt.Sprintf("%016x", h.Sum64())
}

// HashState is the sole replay match criterion: fnv1a64 of the canonical
// JSON of the full hashing snapshot.
func HashState(schema *Schema, state any) string {
	snap := Snapshot(schema, state, HashView)
	return HashBytes(CanonicalJSON(snap))
}

// SeedFromLandID derives the deterministic RNG seed for a land from its
// full landID string. The mix is fnv1a64 of the UTF-8 bytes; frozen.
func SeedFromLandID(landID string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(landID))
	return h.Sum64()
}
