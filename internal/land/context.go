package land

import (
	"github.com/statetree/server/internal/statesync"
)

// TargetKind addresses a server event.
type TargetKind int

const (
	TargetSession TargetKind = iota
	TargetPlayer
	TargetAll
	TargetAllExcept
)

// Target is a server-event fan-out spec.
type Target struct {
	Kind      TargetKind
	SessionID string // TargetSession
	PlayerID  string // TargetPlayer
	ExceptID  string // TargetAllExcept: origin session id
}

func ToSession(sessionID string) Target { return Target{Kind: TargetSession, SessionID: sessionID} }
func ToPlayer(playerID string) Target   { return Target{Kind: TargetPlayer, PlayerID: playerID} }
func ToAll() Target                     { return Target{Kind: TargetAll} }
func ToAllExcept(originSessionID string) Target {
	return Target{Kind: TargetAllExcept, ExceptID: originSessionID}
}

// ServerEvent is one emitted effect, delivered after the op's sync pass.
type ServerEvent struct {
	Target  Target
	Type    string
	Payload []byte
}

// Context is the per-op handler context. It collects effects; the keeper
// applies them after the handler commits. Handlers must not retain it.
type Context struct {
	Land   LandID
	TickID uint64

	// Session is the originating session; nil for tick and admin ops.
	Session *SessionInfo
	// PlayerID of the originator, empty for tick ops.
	PlayerID string

	// RNG is the land's deterministic random source.
	RNG *statesync.RNG
	// Services is the land's read-only services bag.
	Services map[string]any

	keeper *Keeper
	events []ServerEvent
}

// Emit queues a server event for fan-out after the op commits. Emission
// order is preserved.
func (c *Context) Emit(target Target, eventType string, payload []byte) {
	c.events = append(c.events, ServerEvent{Target: target, Type: eventType, Payload: payload})
}

// Spawn runs fn outside the single-writer loop. Subtasks may not touch
// state; to mutate they enqueue a synthetic action through EnqueueAction,
// which re-enters the op queue. No-op in reevaluation mode, where only the
// recorded op sequence may drive state.
func (c *Context) Spawn(fn func(enqueue func(typeIdentifier string, payload []byte))) {
	k := c.keeper
	if k == nil || k.mode == ModeReevaluation {
		return
	}
	go fn(func(typeIdentifier string, payload []byte) {
		k.EnqueueSyntheticAction(typeIdentifier, payload)
	})
}
