package transport

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/statetree/server/internal/land"
	"github.com/statetree/server/internal/wire"
)

// adminPrefix marks actions handled by the keeper's admin path instead of a
// registered handler.
const adminPrefix = "admin:"

// adminRequest is the payload shape of an admin action.
type adminRequest struct {
	Key  string            `json:"key"`
	Args map[string]string `json:"args,omitempty"`
}

// Adapter routes decoded envelopes from sessions to land keepers. It holds
// no per-land state; everything stateful lives in the session's routing
// table or behind a keeper's queue.
type Adapter struct {
	realm *land.Realm
	log   *zap.Logger
}

func NewAdapter(realm *land.Realm, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{realm: realm, log: log}
}

// HandleEnvelope dispatches one inbound message. Runs on the session's
// readLoop goroutine.
func (a *Adapter) HandleEnvelope(s *Session, env *wire.Envelope) {
	if err := env.Validate(); err != nil {
		_ = s.SendEnvelope(protocolError(wire.CodeBadEnvelope, err.Error(), nil))
		return
	}
	switch env.Kind {
	case wire.KindJoin:
		a.handleJoin(s, env.Join)
	case wire.KindAction:
		a.handleAction(s, env.Action)
	case wire.KindEvent:
		a.handleEvent(s, env.Event)
	case wire.KindLeave:
		a.handleLeave(s, env.Leave)
	default:
		// server-to-client kinds arriving inbound
		_ = s.SendEnvelope(protocolError(wire.CodeBadEnvelope,
			"unexpected inbound kind "+string(env.Kind), nil))
	}
}

func (a *Adapter) handleJoin(s *Session, j *wire.Join) {
	k, err := a.realm.ResolveJoin(j.LandType, j.LandInstanceID)
	if err != nil {
		a.log.Debug("join resolve failed",
			zap.String("landType", j.LandType), zap.Error(err))
		_ = s.SendEnvelope(joinRefused(j.RequestID, wire.CodeViewNotFound))
		return
	}
	s.trackJoin(j.RequestID, k)
	sess := land.NewSessionInfo(s.ID, j.PlayerID, j.DeviceID, s)
	if !k.EnqueueJoin(sess, j.Metadata, j.RequestID) {
		_ = s.SendEnvelope(joinRefused(j.RequestID, wire.CodeCancelled))
	}
}

func (a *Adapter) handleAction(s *Session, act *wire.Action) {
	k, ok := s.joinedLand(act.LandID)
	if !ok {
		// Answered here so a stale client gets an immediate, correlated
		// error instead of silence from a land it never joined.
		_ = s.SendEnvelope(&wire.Envelope{Kind: wire.KindActionResponse, ActionResponse: &wire.ActionResponse{
			RequestID: act.RequestID,
			Error:     &wire.ErrorBody{Code: wire.CodeNotJoined, Message: act.LandID},
		}})
		return
	}
	if cmd, isAdmin := strings.CutPrefix(act.TypeIdentifier, adminPrefix); isAdmin {
		var req adminRequest
		if len(act.Payload) > 0 {
			if err := json.Unmarshal(act.Payload, &req); err != nil {
				_ = s.SendEnvelope(protocolError(wire.CodeBadEnvelope, "bad admin payload", &wire.ErrorDetails{RequestID: act.RequestID}))
				return
			}
		}
		k.EnqueueAdmin(s.ID, act.RequestID, cmd, req.Key, req.Args)
		return
	}
	k.EnqueueAction(s.ID, act.TypeIdentifier, act.Payload, act.RequestID)
}

func (a *Adapter) handleEvent(s *Session, ev *wire.Event) {
	if ev.Direction != wire.DirFromClient {
		_ = s.SendEnvelope(protocolError(wire.CodeBadEnvelope, "event direction must be fromClient", nil))
		return
	}
	k, ok := s.joinedLand(ev.LandID)
	if !ok {
		// Events are fire-and-forget in both directions; an unroutable one
		// is logged and dropped, never answered.
		a.log.Debug("event for unjoined land dropped",
			zap.String("session", s.ID), zap.String("land", ev.LandID),
			zap.String("type", ev.Type))
		return
	}
	k.EnqueueClientEvent(s.ID, ev.Type, ev.Payload)
}

func (a *Adapter) handleLeave(s *Session, l *wire.Leave) {
	k, ok := s.joinedLand(l.LandID)
	if !ok {
		a.log.Debug("leave for unjoined land dropped",
			zap.String("session", s.ID), zap.String("land", l.LandID))
		return
	}
	k.EnqueueLeave(s.ID, "leave")
	s.dropLand(l.LandID)
}

// HandleDisconnect synthesizes leaves for every land the session had
// joined or was still joining, so keeper-side cleanup is identical to an
// explicit leave.
func (a *Adapter) HandleDisconnect(s *Session) {
	for _, k := range s.lands() {
		k.EnqueueLeave(s.ID, "disconnected")
	}
}

func protocolError(code, message string, details *wire.ErrorDetails) *wire.Envelope {
	return &wire.Envelope{Kind: wire.KindError, Error: &wire.Error{
		Code:    code,
		Message: message,
		Details: details,
	}}
}

func joinRefused(requestID, reason string) *wire.Envelope {
	return &wire.Envelope{Kind: wire.KindJoinResponse, JoinResponse: &wire.JoinResponse{
		RequestID: requestID,
		Success:   false,
		Reason:    reason,
	}}
}
