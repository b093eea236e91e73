package wire

import (
	"encoding/json"
	"testing"

	"github.com/statetree/server/internal/statesync"
)

func codecs(t *testing.T) []Codec {
	t.Helper()
	var out []Codec
	for _, name := range []string{EncodingJSONObject, EncodingOpcodeJSONArray, EncodingMessagePack} {
		c, err := ForEncoding(name)
		if err != nil {
			t.Fatalf("ForEncoding(%q) error = %v", name, err)
		}
		out = append(out, c)
	}
	return out
}

func sampleEnvelopes() []*Envelope {
	return []*Envelope{
		{Kind: KindJoin, Join: &Join{
			RequestID: "r1", LandType: "cookie", LandInstanceID: "room-1",
			PlayerID: "p1", DeviceID: "d1", Metadata: map[string]string{"ver": "2"},
		}},
		{Kind: KindJoin, Join: &Join{RequestID: "r2", LandType: "cookie"}},
		{Kind: KindJoinResponse, JoinResponse: &JoinResponse{
			RequestID: "r1", Success: true, LandType: "cookie", LandInstanceID: "room-1",
			LandID: "cookie:room-1", PlayerID: "p1", PlayerSlot: 2, Encoding: EncodingJSONObject,
		}},
		{Kind: KindJoinResponse, JoinResponse: &JoinResponse{
			RequestID: "r3", Success: false, Reason: CodeJoinRoomFull,
		}},
		{Kind: KindAction, Action: &Action{
			RequestID: "a1", LandID: "cookie:room-1", TypeIdentifier: "click",
			Payload: []byte(`{"count":3}`),
		}},
		{Kind: KindActionResponse, ActionResponse: &ActionResponse{RequestID: "a1"}},
		{Kind: KindActionResponse, ActionResponse: &ActionResponse{
			RequestID: "a2",
			Error:     &ErrorBody{Code: CodeActionNotRegistered, Message: "boost"},
		}},
		{Kind: KindEvent, Event: &Event{
			LandID: "cookie:room-1", Direction: DirFromClient, Type: "wave", Payload: []byte(`{}`),
		}},
		{Kind: KindEvent, Event: &Event{
			LandID: "cookie:room-1", Direction: DirFromServer, Type: "goldenCookie",
		}},
		{Kind: KindError, Error: &Error{
			Code: CodeNotJoined, Message: "cookie:room-9",
			Details: &ErrorDetails{RequestID: "a9", LandID: "cookie:room-9"},
		}},
		{Kind: KindLeave, Leave: &Leave{LandID: "cookie:room-1"}},
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	for _, c := range codecs(t) {
		t.Run(c.Name(), func(t *testing.T) {
			for _, env := range sampleEnvelopes() {
				data, err := c.EncodeEnvelope(env)
				if err != nil {
					t.Fatalf("%s encode: %v", env.Kind, err)
				}
				got, err := c.DecodeEnvelope(data)
				if err != nil {
					t.Fatalf("%s decode: %v", env.Kind, err)
				}
				if got.Kind != env.Kind {
					t.Fatalf("kind = %q, want %q", got.Kind, env.Kind)
				}
				if err := got.Validate(); err != nil {
					t.Fatalf("%s round trip invalid: %v", env.Kind, err)
				}
				checkEnvelopeFields(t, env, got)
			}
		})
	}
}

func checkEnvelopeFields(t *testing.T, want, got *Envelope) {
	t.Helper()
	switch want.Kind {
	case KindJoin:
		if got.Join.RequestID != want.Join.RequestID || got.Join.LandType != want.Join.LandType ||
			got.Join.LandInstanceID != want.Join.LandInstanceID || got.Join.PlayerID != want.Join.PlayerID {
			t.Fatalf("join = %+v, want %+v", got.Join, want.Join)
		}
		for k, v := range want.Join.Metadata {
			if got.Join.Metadata[k] != v {
				t.Fatalf("metadata[%q] = %q, want %q", k, got.Join.Metadata[k], v)
			}
		}
	case KindJoinResponse:
		if *got.JoinResponse != *want.JoinResponse {
			t.Fatalf("joinResponse = %+v, want %+v", got.JoinResponse, want.JoinResponse)
		}
	case KindAction:
		if got.Action.RequestID != want.Action.RequestID ||
			got.Action.LandID != want.Action.LandID ||
			got.Action.TypeIdentifier != want.Action.TypeIdentifier ||
			string(got.Action.Payload) != string(want.Action.Payload) {
			t.Fatalf("action = %+v, want %+v", got.Action, want.Action)
		}
	case KindActionResponse:
		if got.ActionResponse.RequestID != want.ActionResponse.RequestID {
			t.Fatalf("requestID = %q, want %q", got.ActionResponse.RequestID, want.ActionResponse.RequestID)
		}
		if (got.ActionResponse.Error == nil) != (want.ActionResponse.Error == nil) {
			t.Fatalf("error presence = %v, want %v", got.ActionResponse.Error != nil, want.ActionResponse.Error != nil)
		}
		if want.ActionResponse.Error != nil && got.ActionResponse.Error.Code != want.ActionResponse.Error.Code {
			t.Fatalf("error code = %q, want %q", got.ActionResponse.Error.Code, want.ActionResponse.Error.Code)
		}
	case KindEvent:
		if got.Event.LandID != want.Event.LandID || got.Event.Direction != want.Event.Direction ||
			got.Event.Type != want.Event.Type || string(got.Event.Payload) != string(want.Event.Payload) {
			t.Fatalf("event = %+v, want %+v", got.Event, want.Event)
		}
	case KindError:
		if got.Error.Code != want.Error.Code || got.Error.Message != want.Error.Message {
			t.Fatalf("error = %+v, want %+v", got.Error, want.Error)
		}
	case KindLeave:
		if got.Leave.LandID != want.Leave.LandID {
			t.Fatalf("leave landID = %q, want %q", got.Leave.LandID, want.Leave.LandID)
		}
	}
}

func TestUpdateRoundTrip(t *testing.T) {
	seven := statesync.Int(7)
	obj := statesync.NewObject()
	obj.Set("score", statesync.Double(1.5))
	nested := statesync.ObjectValue(obj)
	u := &statesync.StateUpdate{
		Type: statesync.UpdateDiff,
		Patches: []statesync.Patch{
			{Op: statesync.OpReplace, Path: "/cookies", Value: &seven},
			{Op: statesync.OpAdd, Path: "/players/p1", Value: &nested},
			{Op: statesync.OpRemove, Path: "/players/p2"},
		},
	}
	for _, c := range codecs(t) {
		t.Run(c.Name(), func(t *testing.T) {
			data, err := c.EncodeUpdate(u)
			if err != nil {
				t.Fatalf("EncodeUpdate() error = %v", err)
			}
			got, err := c.DecodeUpdate(data)
			if err != nil {
				t.Fatalf("DecodeUpdate() error = %v", err)
			}
			if got.Type != u.Type {
				t.Fatalf("type = %q, want %q", got.Type, u.Type)
			}
			if len(got.Patches) != len(u.Patches) {
				t.Fatalf("got %d patches, want %d", len(got.Patches), len(u.Patches))
			}
			for i, p := range got.Patches {
				want := u.Patches[i]
				if p.Op != want.Op || p.Path != want.Path {
					t.Fatalf("patch %d = %s %s, want %s %s", i, p.Op, p.Path, want.Op, want.Path)
				}
				if (p.Value == nil) != (want.Value == nil) {
					t.Fatalf("patch %d value presence mismatch", i)
				}
				if want.Value != nil && !p.Value.Equal(*want.Value) {
					t.Fatalf("patch %d value = %s, want %s",
						i, statesync.CanonicalJSON(*p.Value), statesync.CanonicalJSON(*want.Value))
				}
			}
		})
	}
}

// The opcode assignments are part of the wire contract; a renumbering is a
// breaking protocol change and must fail loudly.
func TestOpcodeAssignments(t *testing.T) {
	if OpcodeAction != 100 || OpcodeActionResponse != 101 || OpcodeJoin != 102 ||
		OpcodeEvent != 103 || OpcodeError != 104 || OpcodeJoinResponse != 105 || OpcodeLeave != 106 {
		t.Fatal("wire opcodes were reassigned")
	}
}

func TestOpcodeArrayLeadsWithOpcode(t *testing.T) {
	c := OpcodeArrayCodec{}
	data, err := c.EncodeEnvelope(&Envelope{Kind: KindLeave, Leave: &Leave{LandID: "cookie"}})
	if err != nil {
		t.Fatalf("EncodeEnvelope() error = %v", err)
	}
	var arr []any
	if err := json.Unmarshal(data, &arr); err != nil {
		t.Fatalf("frame is not a JSON array: %v", err)
	}
	if n, ok := arr[0].(float64); !ok || int(n) != OpcodeLeave {
		t.Fatalf("first element = %v, want opcode %d", arr[0], OpcodeLeave)
	}
}

func TestOpcodeArrayJoinResponseShortForm(t *testing.T) {
	c := OpcodeArrayCodec{}
	env, err := c.DecodeEnvelope([]byte(`[105,"req-1",true,"clicker","room-1",2,"jsonObject",null]`))
	if err != nil {
		t.Fatalf("DecodeEnvelope() error = %v", err)
	}
	jr := env.JoinResponse
	if env.Kind != KindJoinResponse || jr == nil {
		t.Fatalf("envelope = %+v, want joinResponse", env)
	}
	if jr.RequestID != "req-1" || !jr.Success || jr.LandType != "clicker" ||
		jr.LandInstanceID != "room-1" || jr.PlayerSlot != 2 || jr.Encoding != "jsonObject" {
		t.Fatalf("joinResponse = %+v", jr)
	}
	if jr.PlayerID != "" || jr.LandID != "" {
		t.Fatalf("trailing fields = %q/%q, want empty defaults", jr.PlayerID, jr.LandID)
	}

	if _, err := c.DecodeEnvelope([]byte(`[105,"req-1",true,"clicker","room-1",2,"jsonObject"]`)); err == nil {
		t.Fatal("seven-element joinResponse accepted")
	}
}

func TestForEncodingUnknown(t *testing.T) {
	if _, err := ForEncoding("protobuf"); err == nil {
		t.Fatal("ForEncoding accepted an unknown name")
	}
}

func TestForEncodingDefault(t *testing.T) {
	c, err := ForEncoding("")
	if err != nil {
		t.Fatalf("ForEncoding(\"\") error = %v", err)
	}
	if c.Name() != EncodingJSONObject {
		t.Fatalf("default encoding = %q, want %q", c.Name(), EncodingJSONObject)
	}
}
