package wire

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/statetree/server/internal/statesync"
)

// Wire opcodes. Part of the wire contract; never reassign.
const (
	OpcodeAction         = 100
	OpcodeActionResponse = 101
	OpcodeJoin           = 102
	OpcodeEvent          = 103
	OpcodeError          = 104
	OpcodeJoinResponse   = 105
	OpcodeLeave          = 106
)

// OpcodeArrayCodec is the compact positional JSON encoding: every envelope
// is a JSON array with the opcode first. Text frames.
//
// Array layouts (null for absent optionals):
//
//	[100, requestID, landID, typeIdentifier, base64Payload]
//	[101, requestID, result, errorObjOrNull]
//	[102, requestID, landType, instanceId, playerID, deviceID, metadata]
//	[103, landID, direction, type, base64Payload]   direction: 0=fromClient 1=fromServer
//	[104, code, message, requestID, landID]
//	[105, requestID, success, landType, instanceId, playerSlot, encoding, reason, playerID, landID]
//	[106, landID]
type OpcodeArrayCodec struct{}

func (OpcodeArrayCodec) Name() string { return EncodingOpcodeJSONArray }
func (OpcodeArrayCodec) Binary() bool { return false }

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func b64(p []byte) any {
	if len(p) == 0 {
		return nil
	}
	return base64.StdEncoding.EncodeToString(p)
}

func (OpcodeArrayCodec) EncodeEnvelope(env *Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	var arr []any
	switch env.Kind {
	case KindAction:
		a := env.Action
		arr = []any{OpcodeAction, a.RequestID, a.LandID, a.TypeIdentifier, b64(a.Payload)}
	case KindActionResponse:
		ar := env.ActionResponse
		var errObj any
		if ar.Error != nil {
			errObj = map[string]any{"code": ar.Error.Code, "message": ar.Error.Message}
		}
		arr = []any{OpcodeActionResponse, ar.RequestID, ar.Result, errObj}
	case KindJoin:
		j := env.Join
		var meta any
		if len(j.Metadata) > 0 {
			meta = j.Metadata
		}
		arr = []any{OpcodeJoin, j.RequestID, j.LandType, nullable(j.LandInstanceID),
			nullable(j.PlayerID), nullable(j.DeviceID), meta}
	case KindEvent:
		ev := env.Event
		arr = []any{OpcodeEvent, ev.LandID, ev.Direction, ev.Type, b64(ev.Payload)}
	case KindError:
		e := env.Error
		var reqID, landID any
		if e.Details != nil {
			reqID = nullable(e.Details.RequestID)
			landID = nullable(e.Details.LandID)
		}
		arr = []any{OpcodeError, e.Code, e.Message, reqID, landID}
	case KindJoinResponse:
		jr := env.JoinResponse
		arr = []any{OpcodeJoinResponse, jr.RequestID, jr.Success, nullable(jr.LandType),
			nullable(jr.LandInstanceID), jr.PlayerSlot, nullable(jr.Encoding),
			nullable(jr.Reason), nullable(jr.PlayerID), nullable(jr.LandID)}
	case KindLeave:
		arr = []any{OpcodeLeave, env.Leave.LandID}
	default:
		return nil, fmt.Errorf("unknown envelope kind %q", env.Kind)
	}
	return json.Marshal(arr)
}

func (OpcodeArrayCodec) DecodeEnvelope(data []byte) (*Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var arr []any
	if err := dec.Decode(&arr); err != nil {
		return nil, fmt.Errorf("decode opcode array: %w", err)
	}
	if len(arr) == 0 {
		return nil, fmt.Errorf("empty opcode array")
	}
	op, err := arrInt(arr, 0)
	if err != nil {
		return nil, fmt.Errorf("opcode: %w", err)
	}
	switch op {
	case OpcodeAction:
		if err := arrLen(arr, 5); err != nil {
			return nil, err
		}
		payload, err := arrB64(arr, 4)
		if err != nil {
			return nil, err
		}
		return &Envelope{Kind: KindAction, Action: &Action{
			RequestID:      arrStr(arr, 1),
			LandID:         arrStr(arr, 2),
			TypeIdentifier: arrStr(arr, 3),
			Payload:        payload,
		}}, nil
	case OpcodeActionResponse:
		if err := arrLen(arr, 4); err != nil {
			return nil, err
		}
		ar := &ActionResponse{RequestID: arrStr(arr, 1), Result: arr[2]}
		if em, ok := arr[3].(map[string]any); ok {
			eb := &ErrorBody{}
			eb.Code, _ = em["code"].(string)
			eb.Message, _ = em["message"].(string)
			ar.Error = eb
			ar.Result = nil
		}
		return &Envelope{Kind: KindActionResponse, ActionResponse: ar}, nil
	case OpcodeJoin:
		if err := arrLen(arr, 7); err != nil {
			return nil, err
		}
		j := &Join{
			RequestID:      arrStr(arr, 1),
			LandType:       arrStr(arr, 2),
			LandInstanceID: arrStr(arr, 3),
			PlayerID:       arrStr(arr, 4),
			DeviceID:       arrStr(arr, 5),
		}
		if mm, ok := arr[6].(map[string]any); ok {
			j.Metadata = make(map[string]string, len(mm))
			for k, v := range mm {
				if s, ok := v.(string); ok {
					j.Metadata[k] = s
				}
			}
		}
		return &Envelope{Kind: KindJoin, Join: j}, nil
	case OpcodeEvent:
		if err := arrLen(arr, 5); err != nil {
			return nil, err
		}
		dir, err := arrInt(arr, 2)
		if err != nil {
			return nil, err
		}
		payload, err := arrB64(arr, 4)
		if err != nil {
			return nil, err
		}
		return &Envelope{Kind: KindEvent, Event: &Event{
			LandID:    arrStr(arr, 1),
			Direction: dir,
			Type:      arrStr(arr, 3),
			Payload:   payload,
		}}, nil
	case OpcodeError:
		if err := arrLen(arr, 5); err != nil {
			return nil, err
		}
		e := &Error{Code: arrStr(arr, 1), Message: arrStr(arr, 2)}
		if reqID, landID := arrStr(arr, 3), arrStr(arr, 4); reqID != "" || landID != "" {
			e.Details = &ErrorDetails{RequestID: reqID, LandID: landID}
		}
		return &Envelope{Kind: KindError, Error: e}, nil
	case OpcodeJoinResponse:
		// Writers that predate the trailing playerID and landID emit 8
		// elements; those fields default empty.
		if len(arr) < 8 {
			return nil, fmt.Errorf("opcode array: got %d elements, want at least 8", len(arr))
		}
		success, _ := arr[2].(bool)
		slot, err := arrInt(arr, 5)
		if err != nil {
			return nil, err
		}
		jr := &JoinResponse{
			RequestID:      arrStr(arr, 1),
			Success:        success,
			LandType:       arrStr(arr, 3),
			LandInstanceID: arrStr(arr, 4),
			PlayerSlot:     slot,
			Encoding:       arrStr(arr, 6),
			Reason:         arrStr(arr, 7),
		}
		if len(arr) > 8 {
			jr.PlayerID = arrStr(arr, 8)
		}
		if len(arr) > 9 {
			jr.LandID = arrStr(arr, 9)
		}
		return &Envelope{Kind: KindJoinResponse, JoinResponse: jr}, nil
	case OpcodeLeave:
		if err := arrLen(arr, 2); err != nil {
			return nil, err
		}
		return &Envelope{Kind: KindLeave, Leave: &Leave{LandID: arrStr(arr, 1)}}, nil
	default:
		return nil, fmt.Errorf("unknown opcode %d", op)
	}
}

func arrLen(arr []any, want int) error {
	if len(arr) != want {
		return fmt.Errorf("opcode array: got %d elements, want %d", len(arr), want)
	}
	return nil
}

func arrStr(arr []any, i int) string {
	s, _ := arr[i].(string)
	return s
}

func arrInt(arr []any, i int) (int, error) {
	switch t := arr[i].(type) {
	case json.Number:
		v, err := t.Int64()
		return int(v), err
	case float64:
		return int(t), nil
	case int64:
		return int(t), nil
	default:
		return 0, fmt.Errorf("element %d: expected number, got %T", i, arr[i])
	}
}

func arrB64(arr []any, i int) ([]byte, error) {
	s, ok := arr[i].(string)
	if !ok || s == "" {
		return nil, nil
	}
	out, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("element %d: bad base64: %w", i, err)
	}
	return out, nil
}

// EncodeUpdate writes a state update as [type, [[op, path, typedValue], ...]].
func (OpcodeArrayCodec) EncodeUpdate(u *statesync.StateUpdate) ([]byte, error) {
	patches := make([]any, 0, len(u.Patches))
	for _, p := range u.Patches {
		var val any
		if p.Value != nil {
			val = statesync.ToTyped(*p.Value)
		}
		patches = append(patches, []any{p.Op, p.Path, val})
	}
	return json.Marshal([]any{string(u.Type), patches})
}

func (OpcodeArrayCodec) DecodeUpdate(data []byte) (*statesync.StateUpdate, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var arr []any
	if err := dec.Decode(&arr); err != nil {
		return nil, fmt.Errorf("decode update array: %w", err)
	}
	if len(arr) != 2 {
		return nil, fmt.Errorf("update array: got %d elements, want 2", len(arr))
	}
	u := &statesync.StateUpdate{Type: statesync.UpdateType(arrStr(arr, 0))}
	rawPatches, ok := arr[1].([]any)
	if !ok {
		return nil, fmt.Errorf("update array: patches not an array")
	}
	for _, raw := range rawPatches {
		pa, ok := raw.([]any)
		if !ok || len(pa) != 3 {
			return nil, fmt.Errorf("update array: bad patch element")
		}
		p := statesync.Patch{Op: arrStr(pa, 0), Path: arrStr(pa, 1)}
		if pa[2] != nil {
			v, err := statesync.FromTyped(pa[2])
			if err != nil {
				return nil, fmt.Errorf("patch %s %s: %w", p.Op, p.Path, err)
			}
			p.Value = &v
		}
		u.Patches = append(u.Patches, p)
	}
	return u, nil
}
