package land

import (
	"context"
)

// RecordedServerEvent is one server event captured alongside an op.
type RecordedServerEvent struct {
	TypeIdentifier string `json:"typeIdentifier"`
	Payload        []byte `json:"payload,omitempty"`
}

// RecordEntry is one processed op in a reevaluation record. Join and leave
// ops are recorded too: they run hooks that mutate state, so a replay that
// skipped them would diverge. Ops whose handler ran and failed are also
// recorded; the handler drew from the land RNG, so a replay has to re-run
// the failure to stay aligned. An admin kick is recorded as the victim's
// leave.
type RecordEntry struct {
	TickID    uint64 `json:"tickId"`
	Kind      string `json:"kind"` // join, leave, action, event, tick, admin
	SessionID string `json:"sessionID,omitempty"`
	PlayerID  string `json:"playerID,omitempty"`
	// Type is the action/event type identifier; empty for tick/join/leave.
	Type    string            `json:"type,omitempty"`
	Payload []byte            `json:"payload,omitempty"`
	Meta    map[string]string `json:"meta,omitempty"`

	StateHash    string                `json:"stateHash"`
	ServerEvents []RecordedServerEvent `json:"serverEvents,omitempty"`
}

// Recorder appends committed ops to a reevaluation record. The live keeper
// calls it after every op; implementations own the file format.
type Recorder interface {
	Append(e RecordEntry) error
}

// SnapshotSink is the external persistence collaborator. The keeper hands
// it canonical snapshots off the hot path; failures are logged, never
// propagated into land state.
type SnapshotSink interface {
	SaveSnapshot(ctx context.Context, landID string, tickID uint64, stateHash string, canonicalJSON []byte) error
}
