package wire

import (
	"fmt"
)

// Kind tags an envelope message.
type Kind string

const (
	KindJoin           Kind = "join"
	KindJoinResponse   Kind = "joinResponse"
	KindAction         Kind = "action"
	KindActionResponse Kind = "actionResponse"
	KindEvent          Kind = "event"
	KindError          Kind = "error"
	KindLeave          Kind = "leave"
)

// Event direction tags. The opcode array encoding carries these as integers.
const (
	DirFromClient = 0
	DirFromServer = 1
)

// Envelope is one wire message. Exactly one payload pointer is set,
// matching Kind.
type Envelope struct {
	Kind           Kind
	Join           *Join
	JoinResponse   *JoinResponse
	Action         *Action
	ActionResponse *ActionResponse
	Event          *Event
	Error          *Error
	Leave          *Leave
}

// Join asks to enter a land. LandInstanceID is empty in single-room mode.
type Join struct {
	RequestID      string            `json:"requestID" msgpack:"requestID"`
	LandType       string            `json:"landType" msgpack:"landType"`
	LandInstanceID string            `json:"landInstanceId,omitempty" msgpack:"landInstanceId,omitempty"`
	PlayerID       string            `json:"playerID,omitempty" msgpack:"playerID,omitempty"`
	DeviceID       string            `json:"deviceID,omitempty" msgpack:"deviceID,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
}

// JoinResponse answers a Join. On success LandID is authoritative: the
// client must use it for all subsequent routing on this session.
type JoinResponse struct {
	RequestID      string `json:"requestID" msgpack:"requestID"`
	Success        bool   `json:"success" msgpack:"success"`
	LandType       string `json:"landType,omitempty" msgpack:"landType,omitempty"`
	LandInstanceID string `json:"landInstanceId,omitempty" msgpack:"landInstanceId,omitempty"`
	LandID         string `json:"landID,omitempty" msgpack:"landID,omitempty"`
	PlayerID       string `json:"playerID,omitempty" msgpack:"playerID,omitempty"`
	PlayerSlot     int    `json:"playerSlot,omitempty" msgpack:"playerSlot,omitempty"`
	Encoding       string `json:"encoding,omitempty" msgpack:"encoding,omitempty"`
	Reason         string `json:"reason,omitempty" msgpack:"reason,omitempty"`
}

// Leave exits a land without closing the connection.
type Leave struct {
	LandID string `json:"landID" msgpack:"landID"`
}

// Action is a request/response op against a land. Payload bytes are opaque
// to the transport; the registered handler decodes them.
type Action struct {
	RequestID      string `json:"requestID" msgpack:"requestID"`
	LandID         string `json:"landID" msgpack:"landID"`
	TypeIdentifier string `json:"typeIdentifier" msgpack:"typeIdentifier"`
	Payload        []byte `json:"payload,omitempty" msgpack:"payload,omitempty"`
}

// ActionResponse correlates back to an Action by RequestID. Either Result
// or Error is set.
type ActionResponse struct {
	RequestID string      `json:"requestID" msgpack:"requestID"`
	Result    any         `json:"result,omitempty" msgpack:"result,omitempty"`
	Error     *ErrorBody  `json:"error,omitempty" msgpack:"error,omitempty"`
}

// Event is a fire-and-forget payload in either direction.
type Event struct {
	LandID    string `json:"landID" msgpack:"landID"`
	Direction int    `json:"direction" msgpack:"direction"` // DirFromClient or DirFromServer
	Type      string `json:"type" msgpack:"type"`
	Payload   []byte `json:"payload,omitempty" msgpack:"payload,omitempty"`
}

// Error is a standalone protocol error message.
type Error struct {
	Code    string        `json:"code" msgpack:"code"`
	Message string        `json:"message,omitempty" msgpack:"message,omitempty"`
	Details *ErrorDetails `json:"details,omitempty" msgpack:"details,omitempty"`
}

// ErrorBody is an error nested inside an actionResponse.
type ErrorBody struct {
	Code    string `json:"code" msgpack:"code"`
	Message string `json:"message,omitempty" msgpack:"message,omitempty"`
	Details any    `json:"details,omitempty" msgpack:"details,omitempty"`
}

// ErrorDetails correlates an error with the request or land it concerns.
type ErrorDetails struct {
	RequestID string `json:"requestID,omitempty" msgpack:"requestID,omitempty"`
	LandID    string `json:"landID,omitempty" msgpack:"landID,omitempty"`
}

// Validate checks that exactly the payload matching Kind is present.
func (e *Envelope) Validate() error {
	var want, got int
	set := func(p bool) {
		if p {
			got++
		}
	}
	set(e.Join != nil)
	set(e.JoinResponse != nil)
	set(e.Action != nil)
	set(e.ActionResponse != nil)
	set(e.Event != nil)
	set(e.Error != nil)
	set(e.Leave != nil)
	want = 1
	if got != want {
		return fmt.Errorf("envelope %s: %d payloads set", e.Kind, got)
	}
	switch e.Kind {
	case KindJoin:
		if e.Join == nil {
			return fmt.Errorf("join envelope missing payload")
		}
	case KindJoinResponse:
		if e.JoinResponse == nil {
			return fmt.Errorf("joinResponse envelope missing payload")
		}
	case KindAction:
		if e.Action == nil {
			return fmt.Errorf("action envelope missing payload")
		}
	case KindActionResponse:
		if e.ActionResponse == nil {
			return fmt.Errorf("actionResponse envelope missing payload")
		}
	case KindEvent:
		if e.Event == nil {
			return fmt.Errorf("event envelope missing payload")
		}
	case KindError:
		if e.Error == nil {
			return fmt.Errorf("error envelope missing payload")
		}
	case KindLeave:
		if e.Leave == nil {
			return fmt.Errorf("leave envelope missing payload")
		}
	default:
		return fmt.Errorf("unknown envelope kind %q", e.Kind)
	}
	return nil
}

// LandID extracts the routing land id from inbound message payloads, or ""
// when the kind carries none.
func (e *Envelope) LandID() string {
	switch e.Kind {
	case KindAction:
		return e.Action.LandID
	case KindEvent:
		return e.Event.LandID
	case KindLeave:
		return e.Leave.LandID
	}
	return ""
}
