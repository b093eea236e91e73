package land

import (
	"fmt"

	"github.com/statetree/server/internal/statesync"
)

// ReplayStep feeds one recorded op through the keeper, bypassing the
// transport, and returns the resulting state hash. Reevaluation mode only:
// the keeper has no loop goroutine, so processing is synchronous and the
// caller owns the pacing.
func (k *Keeper) ReplayStep(e RecordEntry) (string, error) {
	if k.mode != ModeReevaluation {
		return "", fmt.Errorf("replay step on live keeper")
	}
	switch e.Kind {
	case "join":
		sess := NewSessionInfo(e.SessionID, e.PlayerID, "", nil)
		k.process(joinOp{sess: sess, meta: e.Meta})
	case "leave":
		k.process(leaveOp{sessionID: e.SessionID, reason: "replay"})
	case "action":
		k.process(actionOp{sessionID: e.SessionID, typeIdentifier: e.Type, payload: e.Payload,
			synthetic: e.SessionID == ""})
	case "event":
		k.process(clientEventOp{sessionID: e.SessionID, typeIdentifier: e.Type, payload: e.Payload})
	case "tick":
		k.process(tickOp{})
	case "admin":
		// Admin auth is a live-mode concern; the recorded command applies
		// directly.
		switch e.Type {
		case "resetTick":
			k.tickDisabled = false
		default:
			return "", fmt.Errorf("unknown recorded admin command %q", e.Type)
		}
	default:
		return "", fmt.Errorf("unknown recorded op kind %q", e.Kind)
	}
	return statesync.HashState(k.def.Schema, k.state), nil
}

// ProjectedState renders the full current snapshot for replay inspection.
// Reevaluation mode only.
func (k *Keeper) ProjectedState() statesync.Value {
	return statesync.Snapshot(k.def.Schema, k.state, statesync.FullView)
}
