package land

import (
	"fmt"
	"time"

	"github.com/statetree/server/internal/statesync"
)

// JoinDecisionKind is the outcome of an access-control check.
type JoinDecisionKind int

const (
	// JoinAllow admits the session.
	JoinAllow JoinDecisionKind = iota
	// JoinDeny rejects with a reason; delivered as a failed joinResponse,
	// not a protocol error.
	JoinDeny
	// JoinReplaceOldest admits the session after kicking the
	// longest-joined one. Used by full rooms with turnover policies.
	JoinReplaceOldest
)

// JoinDecision carries the access-control verdict.
type JoinDecision struct {
	Kind   JoinDecisionKind
	Reason string
}

func Allow() JoinDecision                { return JoinDecision{Kind: JoinAllow} }
func Deny(reason string) JoinDecision    { return JoinDecision{Kind: JoinDeny, Reason: reason} }
func ReplaceOldest() JoinDecision        { return JoinDecision{Kind: JoinReplaceOldest} }

// HandlerError carries a stable error code back to the requesting client.
// Handlers return it (or wrap it) to control actionResponse error codes;
// any other error maps to UNKNOWN_ERROR.
type HandlerError struct {
	Code    string
	Message string
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Handler signatures. Handlers run inside the keeper's single-writer loop:
// they may mutate state freely but must not retain it past their return.
type (
	ActionHandler func(state any, payload []byte, ctx *Context) (statesync.Value, error)
	EventHandler  func(state any, payload []byte, ctx *Context) error
	TickHandler   func(state any, ctx *Context) error
)

// Definition is the immutable declarative description of a land type.
type Definition struct {
	LandType string
	// DefinitionID versions the schema + rules; replay records carry it
	// and refuse to run against a different one.
	DefinitionID string

	Schema   *statesync.Schema
	NewState func() any

	TickInterval time.Duration // 0 = no tick
	OnTick       TickHandler

	Actions map[string]ActionHandler
	Events  map[string]EventHandler
	// ServerEvents registers emittable server event types for the wire.
	ServerEvents map[string]bool

	// Access control.
	MaxPlayers  int // 0 = unlimited
	AllowPublic bool
	// CanJoin may veto or override; nil means admit while under MaxPlayers.
	CanJoin func(sess *SessionInfo, meta map[string]string, state any) JoinDecision

	// MultiRoom lands mint fresh instance ids on join; single-room lands
	// use the land type as their canonical instance.
	MultiRoom bool
	// IdleDestroyTicks destroys the land after this many consecutive
	// ticks with no joined sessions. 0 = keep forever.
	IdleDestroyTicks int

	// Lifetime hooks. All run inside the keeper loop except AfterFinalize,
	// which runs during removal after the loop has drained.
	AfterCreate   func(state any, ctx *Context)
	OnJoin        func(state any, ctx *Context) error
	OnLeave       func(state any, ctx *Context)
	AfterFinalize func(state any)
}

// Validate is the fail-fast check run at registration. Schema problems
// surface here, never at message time.
func (d *Definition) Validate() error {
	if d.LandType == "" {
		return fmt.Errorf("land definition has no landType")
	}
	if d.Schema == nil {
		return fmt.Errorf("land %s: %w", d.LandType, statesync.ErrInvalidStateSchema)
	}
	if err := d.Schema.Validate(); err != nil {
		return fmt.Errorf("land %s: %w", d.LandType, err)
	}
	if d.NewState == nil {
		return fmt.Errorf("land %s has no state factory", d.LandType)
	}
	if d.TickInterval < 0 {
		return fmt.Errorf("land %s: negative tick interval", d.LandType)
	}
	return nil
}

// ID returns the definition id, defaulting to landType/schemaName@1.
func (d *Definition) ID() string {
	if d.DefinitionID != "" {
		return d.DefinitionID
	}
	return fmt.Sprintf("%s/%s@1", d.LandType, d.Schema.Name)
}
