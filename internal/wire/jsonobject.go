package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/statetree/server/internal/statesync"
)

// JSONObjectCodec is the classical tagged-JSON encoding:
// {"kind":"...", "payload":{"<kind>":{...}}}. Text frames.
type JSONObjectCodec struct{}

func (JSONObjectCodec) Name() string { return EncodingJSONObject }
func (JSONObjectCodec) Binary() bool { return false }

// envelopeDoc is the document shape shared by the jsonObject and
// messagepack codecs; the two encodings are isomorphic by construction.
type envelopeDoc struct {
	Kind    string     `json:"kind" msgpack:"kind"`
	Payload payloadDoc `json:"payload" msgpack:"payload"`
}

type payloadDoc struct {
	Join           *Join              `json:"join,omitempty" msgpack:"join,omitempty"`
	JoinResponse   *JoinResponse      `json:"joinResponse,omitempty" msgpack:"joinResponse,omitempty"`
	Action         *Action            `json:"action,omitempty" msgpack:"action,omitempty"`
	ActionResponse *actionResponseDoc `json:"actionResponse,omitempty" msgpack:"actionResponse,omitempty"`
	Event          *eventDoc          `json:"event,omitempty" msgpack:"event,omitempty"`
	Error          *Error             `json:"error,omitempty" msgpack:"error,omitempty"`
	Leave          *Leave             `json:"leave,omitempty" msgpack:"leave,omitempty"`
}

// actionResponseDoc carries either a success object or {"error":{...}} in
// its response member.
type actionResponseDoc struct {
	RequestID string `json:"requestID" msgpack:"requestID"`
	Response  any    `json:"response,omitempty" msgpack:"response,omitempty"`
}

type errorResponseDoc struct {
	Error *ErrorBody `json:"error" msgpack:"error"`
}

// eventDoc nests the direction union the way the protocol frames it:
// {landID, event: {fromClient|fromServer: {event: {type, payload}}}}.
type eventDoc struct {
	LandID string     `json:"landID" msgpack:"landID"`
	Event  eventUnion `json:"event" msgpack:"event"`
}

type eventUnion struct {
	FromClient *eventBody `json:"fromClient,omitempty" msgpack:"fromClient,omitempty"`
	FromServer *eventBody `json:"fromServer,omitempty" msgpack:"fromServer,omitempty"`
}

type eventBody struct {
	Event eventInner `json:"event" msgpack:"event"`
}

type eventInner struct {
	Type    string `json:"type" msgpack:"type"`
	Payload []byte `json:"payload,omitempty" msgpack:"payload,omitempty"`
}

func toDoc(env *Envelope) (*envelopeDoc, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	doc := &envelopeDoc{Kind: string(env.Kind)}
	switch env.Kind {
	case KindJoin:
		doc.Payload.Join = env.Join
	case KindJoinResponse:
		doc.Payload.JoinResponse = env.JoinResponse
	case KindAction:
		doc.Payload.Action = env.Action
	case KindActionResponse:
		ar := &actionResponseDoc{RequestID: env.ActionResponse.RequestID}
		if env.ActionResponse.Error != nil {
			ar.Response = errorResponseDoc{Error: env.ActionResponse.Error}
		} else {
			ar.Response = env.ActionResponse.Result
		}
		doc.Payload.ActionResponse = ar
	case KindEvent:
		ed := &eventDoc{LandID: env.Event.LandID}
		body := &eventBody{Event: eventInner{Type: env.Event.Type, Payload: env.Event.Payload}}
		if env.Event.Direction == DirFromServer {
			ed.Event.FromServer = body
		} else {
			ed.Event.FromClient = body
		}
		doc.Payload.Event = ed
	case KindError:
		doc.Payload.Error = env.Error
	case KindLeave:
		doc.Payload.Leave = env.Leave
	}
	return doc, nil
}

func fromDoc(doc *envelopeDoc) (*Envelope, error) {
	env := &Envelope{Kind: Kind(doc.Kind)}
	switch env.Kind {
	case KindJoin:
		env.Join = doc.Payload.Join
	case KindJoinResponse:
		env.JoinResponse = doc.Payload.JoinResponse
	case KindAction:
		env.Action = doc.Payload.Action
	case KindActionResponse:
		ar := doc.Payload.ActionResponse
		if ar == nil {
			return nil, fmt.Errorf("actionResponse envelope missing payload")
		}
		env.ActionResponse = &ActionResponse{RequestID: ar.RequestID}
		if eb := decodeErrorResponse(ar.Response); eb != nil {
			env.ActionResponse.Error = eb
		} else {
			env.ActionResponse.Result = ar.Response
		}
	case KindEvent:
		ed := doc.Payload.Event
		if ed == nil {
			return nil, fmt.Errorf("event envelope missing payload")
		}
		env.Event = &Event{LandID: ed.LandID}
		switch {
		case ed.Event.FromClient != nil:
			env.Event.Direction = DirFromClient
			env.Event.Type = ed.Event.FromClient.Event.Type
			env.Event.Payload = ed.Event.FromClient.Event.Payload
		case ed.Event.FromServer != nil:
			env.Event.Direction = DirFromServer
			env.Event.Type = ed.Event.FromServer.Event.Type
			env.Event.Payload = ed.Event.FromServer.Event.Payload
		default:
			return nil, fmt.Errorf("event envelope missing direction")
		}
	case KindError:
		env.Error = doc.Payload.Error
	case KindLeave:
		env.Leave = doc.Payload.Leave
	default:
		return nil, fmt.Errorf("unknown envelope kind %q", doc.Kind)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// decodeErrorResponse recognizes the {"error":{code,...}} response shape.
func decodeErrorResponse(resp any) *ErrorBody {
	m, ok := resp.(map[string]any)
	if !ok || len(m) != 1 {
		return nil
	}
	raw, ok := m["error"]
	if !ok {
		return nil
	}
	em, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	code, ok := em["code"].(string)
	if !ok {
		return nil
	}
	eb := &ErrorBody{Code: code}
	if msg, ok := em["message"].(string); ok {
		eb.Message = msg
	}
	eb.Details = em["details"]
	return eb
}

func (JSONObjectCodec) EncodeEnvelope(env *Envelope) ([]byte, error) {
	doc, err := toDoc(env)
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

func (JSONObjectCodec) DecodeEnvelope(data []byte) (*Envelope, error) {
	var doc envelopeDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return fromDoc(&doc)
}

// patchDoc carries patch values in the typed wire form so numeric kinds
// survive the trip.
type patchDoc struct {
	Op    string `json:"op" msgpack:"op"`
	Path  string `json:"path" msgpack:"path"`
	Value any    `json:"value,omitempty" msgpack:"value,omitempty"`
}

type updateDoc struct {
	Type    string     `json:"type" msgpack:"type"`
	Patches []patchDoc `json:"patches,omitempty" msgpack:"patches,omitempty"`
}

func updateToDoc(u *statesync.StateUpdate) *updateDoc {
	doc := &updateDoc{Type: string(u.Type)}
	for _, p := range u.Patches {
		pd := patchDoc{Op: p.Op, Path: p.Path}
		if p.Value != nil {
			pd.Value = statesync.ToTyped(*p.Value)
		}
		doc.Patches = append(doc.Patches, pd)
	}
	return doc
}

func updateFromDoc(doc *updateDoc) (*statesync.StateUpdate, error) {
	u := &statesync.StateUpdate{Type: statesync.UpdateType(doc.Type)}
	for _, pd := range doc.Patches {
		p := statesync.Patch{Op: pd.Op, Path: pd.Path}
		if pd.Value != nil {
			v, err := statesync.FromTyped(pd.Value)
			if err != nil {
				return nil, fmt.Errorf("patch %s %s: %w", pd.Op, pd.Path, err)
			}
			p.Value = &v
		}
		u.Patches = append(u.Patches, p)
	}
	return u, nil
}

func (JSONObjectCodec) EncodeUpdate(u *statesync.StateUpdate) ([]byte, error) {
	return json.Marshal(updateToDoc(u))
}

func (JSONObjectCodec) DecodeUpdate(data []byte) (*statesync.StateUpdate, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc updateDoc
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode update: %w", err)
	}
	return updateFromDoc(&doc)
}
