package land

import (
	"github.com/statetree/server/internal/statesync"
	"github.com/statetree/server/internal/wire"
)

// Outbound is the keeper's view of one session's send path. The transport
// adapter implements it over the websocket write pump; tests implement it
// in memory; reevaluation sessions leave it nil.
type Outbound interface {
	SendEnvelope(env *wire.Envelope) error
	SendUpdate(u *statesync.StateUpdate) error
	// Encoding names the codec the session's update frames use; echoed in
	// joinResponse.encoding.
	Encoding() string
}

// SessionInfo is the keeper-side record of a joined session. Owned by the
// keeper goroutine after join; the transport only holds the immutable
// identity fields.
type SessionInfo struct {
	ID       string
	PlayerID string
	DeviceID string
	Metadata map[string]string

	// PlayerSlot is the join-order slot assigned at admission.
	PlayerSlot int

	Out Outbound

	tracker  *statesync.Tracker
	joinedAt uint64 // tickID at admission, for ReplaceOldest ordering
}

// NewSessionInfo builds the record handed to EnqueueJoin. PlayerID may be
// empty; the keeper assigns one at admission.
func NewSessionInfo(id, playerID, deviceID string, out Outbound) *SessionInfo {
	return &SessionInfo{ID: id, PlayerID: playerID, DeviceID: deviceID, Out: out}
}

func (s *SessionInfo) sendEnvelope(env *wire.Envelope) {
	if s.Out != nil {
		_ = s.Out.SendEnvelope(env)
	}
}

func (s *SessionInfo) sendUpdate(u *statesync.StateUpdate) {
	if s.Out != nil {
		_ = s.Out.SendUpdate(u)
	}
}

func (s *SessionInfo) encoding() string {
	if s.Out != nil {
		return s.Out.Encoding()
	}
	return ""
}
