package land

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/statetree/server/internal/statesync"
	"github.com/statetree/server/internal/wire"
)

// Mode selects how a keeper is driven.
type Mode int

const (
	// ModeLive runs the single-writer loop in its own goroutine, fed by
	// the transport.
	ModeLive Mode = iota
	// ModeReevaluation processes recorded ops synchronously via
	// ReplayStep; no goroutine, no timers, no sends.
	ModeReevaluation
)

// KeeperOptions carries the injectable collaborators. Everything here is
// fixed before the loop starts.
type KeeperOptions struct {
	Mode     Mode
	Recorder Recorder
	Sink     SnapshotSink
	// SnapshotEveryTicks pushes a canonical snapshot to the sink every N
	// ticks. 0 disables periodic saves; finalize still saves once.
	SnapshotEveryTicks int
	// AdminKeyHash is the bcrypt hash admin ops must match. Empty
	// disables admin ops entirely.
	AdminKeyHash []byte
	Services     map[string]any
	// OnDestroy is invoked (in its own goroutine) when idle-destroy fires
	// or an admin destroy is processed. The manager uses it to remove the
	// land.
	OnDestroy func(id LandID)
	Log       *zap.Logger
}

// Keeper is the single writer for one land. It owns the state value, the
// tick counter, the op queue and the joined-session set. All mutation
// happens on the loop goroutine; outside callers only enqueue.
type Keeper struct {
	ID  LandID
	def *Definition

	state    any
	tickID   uint64
	sessions map[string]*SessionInfo
	order    []string // session ids in admission order
	nextSlot int

	queue    *opQueue
	rng      *statesync.RNG
	services map[string]any
	recorder Recorder
	sink     SnapshotSink
	snapEvery int
	adminHash []byte
	onDestroy func(id LandID)
	mode      Mode
	log       *zap.Logger

	lastBroadcast statesync.Value
	tickDisabled  bool
	idleTicks     int
	destroying    bool

	// published for lock-free reads by the manager and transport
	pubSessions atomic.Int32
	pubTick     atomic.Uint64

	stopCh  chan struct{}
	doneCh  chan struct{}
	stopped atomic.Bool
}

// NewKeeper validates the definition, builds the initial state and runs the
// afterCreate hook. Live keepers must then be Started.
func NewKeeper(id LandID, def *Definition, opts KeeperOptions) (*Keeper, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	k := &Keeper{
		ID:        id,
		def:       def,
		state:     def.NewState(),
		sessions:  make(map[string]*SessionInfo),
		queue:     newOpQueue(),
		rng:       statesync.NewRNG(id.String()),
		services:  opts.Services,
		recorder:  opts.Recorder,
		sink:      opts.Sink,
		snapEvery: opts.SnapshotEveryTicks,
		adminHash: opts.AdminKeyHash,
		onDestroy: opts.OnDestroy,
		mode:      opts.Mode,
		log:       log.With(zap.String("land", id.String())),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	k.lastBroadcast = statesync.BroadcastSnapshot(def.Schema, k.state)
	if def.AfterCreate != nil {
		ctx := k.makeContext(nil, "")
		def.AfterCreate(k.state, ctx)
		def.Schema.ClearDirtyAll(k.state)
		k.lastBroadcast = statesync.BroadcastSnapshot(def.Schema, k.state)
	}
	return k, nil
}

// Definition returns the immutable land definition.
func (k *Keeper) Definition() *Definition { return k.def }

// Start launches the loop and, if configured, the tick timer. Live mode
// only.
func (k *Keeper) Start() {
	if k.mode != ModeLive {
		return
	}
	go k.run()
	if k.def.TickInterval > 0 {
		go k.tickLoop()
	}
}

func (k *Keeper) tickLoop() {
	t := time.NewTicker(k.def.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			k.queue.push(tickOp{})
		case <-k.stopCh:
			return
		}
	}
}

func (k *Keeper) run() {
	defer close(k.doneCh)
	for {
		o, ok := k.queue.pop(k.stopCh)
		if !ok {
			k.drainCancelled()
			return
		}
		k.process(o)
		if k.destroying {
			k.drainCancelled()
			return
		}
	}
}

// Stop drains the op queue with a grace period, then discards remaining
// ops with cancelled responses.
func (k *Keeper) Stop(grace time.Duration) {
	if !k.stopped.CompareAndSwap(false, true) {
		<-k.doneCh
		return
	}
	k.queue.close()
	if grace > 0 {
		select {
		case <-k.doneCh:
			return
		case <-time.After(grace):
		}
	}
	close(k.stopCh)
	<-k.doneCh
}

// Done closes when the loop has exited.
func (k *Keeper) Done() <-chan struct{} { return k.doneCh }

// drainCancelled resolves queued join/action ops with cancelled errors.
func (k *Keeper) drainCancelled() {
	for _, o := range k.queue.drain() {
		switch t := o.(type) {
		case joinOp:
			t.sess.sendEnvelope(joinFail(t.requestID, wire.CodeCancelled))
		case actionOp:
			if s, ok := k.sessions[t.sessionID]; ok {
				s.sendEnvelope(actionError(t.requestID, wire.CodeCancelled, "land shutting down"))
			}
		}
	}
}

// Enqueue methods. They return false when the keeper no longer accepts
// ops; the caller then treats the land as gone.

func (k *Keeper) EnqueueJoin(sess *SessionInfo, meta map[string]string, requestID string) bool {
	return k.queue.push(joinOp{sess: sess, meta: meta, requestID: requestID})
}

func (k *Keeper) EnqueueLeave(sessionID, reason string) bool {
	return k.queue.push(leaveOp{sessionID: sessionID, reason: reason})
}

func (k *Keeper) EnqueueAction(sessionID, typeIdentifier string, payload []byte, requestID string) bool {
	return k.queue.push(actionOp{sessionID: sessionID, typeIdentifier: typeIdentifier, payload: payload, requestID: requestID})
}

func (k *Keeper) EnqueueSyntheticAction(typeIdentifier string, payload []byte) bool {
	return k.queue.push(actionOp{typeIdentifier: typeIdentifier, payload: payload, synthetic: true})
}

func (k *Keeper) EnqueueClientEvent(sessionID, typeIdentifier string, payload []byte) bool {
	return k.queue.push(clientEventOp{sessionID: sessionID, typeIdentifier: typeIdentifier, payload: payload})
}

func (k *Keeper) EnqueueAdmin(sessionID, requestID, command, key string, args map[string]string) bool {
	return k.queue.push(adminOp{sessionID: sessionID, requestID: requestID, command: command, key: key, args: args})
}

// SessionCount is a lock-free read of the joined-session count.
func (k *Keeper) SessionCount() int { return int(k.pubSessions.Load()) }

// TickID is a lock-free read of the tick counter.
func (k *Keeper) TickID() uint64 { return k.pubTick.Load() }

// ── op processing ──────────────────────────────────────────────────

func (k *Keeper) makeContext(sess *SessionInfo, playerID string) *Context {
	return &Context{
		Land:     k.ID,
		TickID:   k.tickID,
		Session:  sess,
		PlayerID: playerID,
		RNG:      k.rng,
		Services: k.services,
		keeper:   k,
	}
}

func (k *Keeper) process(o op) {
	var (
		ctx            *Context
		removedPlayers []string
		entry          *RecordEntry
	)
	switch t := o.(type) {
	case joinOp:
		ctx, entry, removedPlayers = k.processJoin(t)
	case leaveOp:
		ctx, entry, removedPlayers = k.processLeave(t)
	case actionOp:
		ctx, entry = k.processAction(t)
	case clientEventOp:
		ctx, entry = k.processClientEvent(t)
	case tickOp:
		ctx, entry = k.processTick()
	case adminOp:
		ctx, entry, removedPlayers = k.processAdmin(t)
	}

	k.syncPass(removedPlayers)
	if ctx != nil {
		k.fanOut(ctx.events)
	}
	k.def.Schema.ClearDirtyAll(k.state)
	k.pubSessions.Store(int32(len(k.sessions)))
	k.pubTick.Store(k.tickID)

	if entry != nil && k.recorder != nil {
		entry.StateHash = statesync.HashState(k.def.Schema, k.state)
		if ctx != nil {
			for _, ev := range ctx.events {
				entry.ServerEvents = append(entry.ServerEvents, RecordedServerEvent{
					TypeIdentifier: ev.Type,
					Payload:        ev.Payload,
				})
			}
		}
		if err := k.recorder.Append(*entry); err != nil {
			k.log.Error("record append failed", zap.Error(err))
		}
	}
}

func joinFail(requestID, reason string) *wire.Envelope {
	return &wire.Envelope{Kind: wire.KindJoinResponse, JoinResponse: &wire.JoinResponse{
		RequestID: requestID,
		Success:   false,
		Reason:    reason,
	}}
}

func actionError(requestID, code, message string) *wire.Envelope {
	return &wire.Envelope{Kind: wire.KindActionResponse, ActionResponse: &wire.ActionResponse{
		RequestID: requestID,
		Error:     &wire.ErrorBody{Code: code, Message: message},
	}}
}

func (k *Keeper) processJoin(o joinOp) (*Context, *RecordEntry, []string) {
	s := o.sess
	if _, ok := k.sessions[s.ID]; ok {
		s.sendEnvelope(joinFail(o.requestID, wire.CodeJoinAlreadyJoined))
		return nil, nil, nil
	}

	decision := Allow()
	full := k.def.MaxPlayers > 0 && len(k.sessions) >= k.def.MaxPlayers
	if k.def.CanJoin != nil {
		decision = k.def.CanJoin(s, o.meta, k.state)
	}
	var removed []string
	var removedEvents []ServerEvent
	switch decision.Kind {
	case JoinDeny:
		reason := decision.Reason
		if reason == "" {
			reason = wire.CodeJoinDenied
		}
		s.sendEnvelope(joinFail(o.requestID, reason))
		return nil, nil, nil
	case JoinReplaceOldest:
		if full {
			if oldest := k.oldestSession(); oldest != nil {
				pid, evs := k.removeSession(oldest, "replaced")
				removed = append(removed, pid)
				removedEvents = evs
			}
		}
	case JoinAllow:
		if full {
			s.sendEnvelope(joinFail(o.requestID, wire.CodeJoinRoomFull))
			return nil, nil, nil
		}
	}

	if s.PlayerID == "" {
		s.PlayerID = uuid.NewString()
	}
	s.Metadata = o.meta
	s.PlayerSlot = k.nextSlot
	ctx := k.makeContext(s, s.PlayerID)
	ctx.events = removedEvents

	if k.def.OnJoin != nil {
		pre := k.def.Schema.Clone(k.state)
		if err := k.safeHook(func() error { return k.def.OnJoin(k.state, ctx) }); err != nil {
			k.state = pre
			ctx.events = removedEvents
			k.log.Warn("onJoin rejected session",
				zap.String("session", s.ID), zap.Error(err))
			s.sendEnvelope(joinFail(o.requestID, wire.CodeJoinDenied))
			// Still recorded: the hook ran against the land RNG before the
			// rollback, so a reevaluation must re-run the rejection.
			entry := &RecordEntry{TickID: k.tickID, Kind: "join", SessionID: s.ID, PlayerID: s.PlayerID, Meta: o.meta}
			return ctx, entry, removed
		}
	}

	k.nextSlot++
	k.sessions[s.ID] = s
	k.order = append(k.order, s.ID)
	s.tracker = statesync.NewTracker()
	s.joinedAt = k.tickID
	k.idleTicks = 0

	s.sendEnvelope(&wire.Envelope{Kind: wire.KindJoinResponse, JoinResponse: &wire.JoinResponse{
		RequestID:      o.requestID,
		Success:        true,
		LandType:       k.ID.Type,
		LandInstanceID: k.ID.Instance,
		LandID:         k.ID.String(),
		PlayerID:       s.PlayerID,
		PlayerSlot:     s.PlayerSlot,
		Encoding:       s.encoding(),
	}})
	k.log.Info("session joined",
		zap.String("session", s.ID), zap.String("player", s.PlayerID))

	entry := &RecordEntry{TickID: k.tickID, Kind: "join", SessionID: s.ID, PlayerID: s.PlayerID, Meta: o.meta}
	return ctx, entry, removed
}

func (k *Keeper) oldestSession() *SessionInfo {
	if len(k.order) == 0 {
		return nil
	}
	return k.sessions[k.order[0]]
}

// removeSession runs onLeave and drops the session. Returns the playerID
// for slice-removal synthesis in the sync pass, plus any events the onLeave
// hook emitted so the caller can fan them out.
func (k *Keeper) removeSession(s *SessionInfo, reason string) (string, []ServerEvent) {
	var events []ServerEvent
	if k.def.OnLeave != nil {
		ctx := k.makeContext(s, s.PlayerID)
		_ = k.safeHook(func() error { k.def.OnLeave(k.state, ctx); return nil })
		events = ctx.events
	}
	delete(k.sessions, s.ID)
	for i, id := range k.order {
		if id == s.ID {
			k.order = append(k.order[:i], k.order[i+1:]...)
			break
		}
	}
	k.log.Info("session left",
		zap.String("session", s.ID), zap.String("player", s.PlayerID),
		zap.String("reason", reason))
	return s.PlayerID, events
}

func (k *Keeper) processLeave(o leaveOp) (*Context, *RecordEntry, []string) {
	s, ok := k.sessions[o.sessionID]
	if !ok {
		return nil, nil, nil
	}
	ctx := k.makeContext(s, s.PlayerID)
	pid, events := k.removeSession(s, o.reason)
	ctx.events = events
	entry := &RecordEntry{TickID: k.tickID, Kind: "leave", SessionID: o.sessionID, PlayerID: pid}
	return ctx, entry, []string{pid}
}

func (k *Keeper) processAction(o actionOp) (*Context, *RecordEntry) {
	var s *SessionInfo
	if !o.synthetic {
		var ok bool
		s, ok = k.sessions[o.sessionID]
		if !ok {
			// The transport answers NOT_JOINED before enqueueing; getting
			// here means the session left while the op was queued.
			k.log.Debug("action from departed session",
				zap.String("session", o.sessionID), zap.String("type", o.typeIdentifier))
			return nil, nil
		}
	}
	playerID := ""
	if s != nil {
		playerID = s.PlayerID
	}
	ctx := k.makeContext(s, playerID)

	handler, ok := k.def.Actions[o.typeIdentifier]
	if !ok {
		if s != nil {
			s.sendEnvelope(actionError(o.requestID, wire.CodeActionNotRegistered, o.typeIdentifier))
		}
		return nil, nil
	}

	pre := k.def.Schema.Clone(k.state)
	result, err := k.safeAction(handler, o.payload, ctx)
	if err != nil {
		k.state = pre
		ctx.events = nil
		code, msg := wire.CodeUnknown, err.Error()
		var he *HandlerError
		if errors.As(err, &he) {
			code, msg = he.Code, he.Message
		}
		if s != nil {
			s.sendEnvelope(actionError(o.requestID, code, msg))
		}
		k.log.Debug("action failed",
			zap.String("type", o.typeIdentifier), zap.Error(err))
		// Still recorded: the handler drew from the land RNG before the
		// rollback, so a reevaluation must re-run the failure to stay
		// aligned.
		entry := &RecordEntry{TickID: k.tickID, Kind: "action", SessionID: o.sessionID, PlayerID: playerID,
			Type: o.typeIdentifier, Payload: o.payload}
		return nil, entry
	}

	if s != nil {
		resp := &wire.ActionResponse{RequestID: o.requestID}
		if result.Kind != statesync.KindNull {
			resp.Result = statesync.ToTyped(result)
		}
		s.sendEnvelope(&wire.Envelope{Kind: wire.KindActionResponse, ActionResponse: resp})
	}
	entry := &RecordEntry{TickID: k.tickID, Kind: "action", SessionID: o.sessionID, PlayerID: playerID,
		Type: o.typeIdentifier, Payload: o.payload}
	return ctx, entry
}

func (k *Keeper) processClientEvent(o clientEventOp) (*Context, *RecordEntry) {
	s, ok := k.sessions[o.sessionID]
	if !ok {
		return nil, nil
	}
	handler, ok := k.def.Events[o.typeIdentifier]
	if !ok || handler == nil {
		// unregistered client events drop silently
		return nil, nil
	}
	ctx := k.makeContext(s, s.PlayerID)
	pre := k.def.Schema.Clone(k.state)
	if err := k.safeEvent(handler, o.payload, ctx); err != nil {
		k.state = pre
		ctx.events = nil
		k.log.Warn("client event handler failed",
			zap.String("type", o.typeIdentifier), zap.Error(err))
		entry := &RecordEntry{TickID: k.tickID, Kind: "event", SessionID: o.sessionID, PlayerID: s.PlayerID,
			Type: o.typeIdentifier, Payload: o.payload}
		return nil, entry
	}
	entry := &RecordEntry{TickID: k.tickID, Kind: "event", SessionID: o.sessionID, PlayerID: s.PlayerID,
		Type: o.typeIdentifier, Payload: o.payload}
	return ctx, entry
}

func (k *Keeper) processTick() (*Context, *RecordEntry) {
	k.tickID++

	if k.def.IdleDestroyTicks > 0 {
		if len(k.sessions) == 0 {
			k.idleTicks++
			if k.idleTicks >= k.def.IdleDestroyTicks {
				k.log.Info("idle destroy", zap.Uint64("tick", k.tickID))
				k.initiateDestroy()
				return nil, nil
			}
		} else {
			k.idleTicks = 0
		}
	}

	if k.def.OnTick == nil || k.tickDisabled {
		entry := &RecordEntry{TickID: k.tickID, Kind: "tick"}
		return nil, entry
	}

	ctx := k.makeContext(nil, "")
	pre := k.def.Schema.Clone(k.state)
	if err := k.safeTick(k.def.OnTick, ctx); err != nil {
		// A panicking tick handler is rolled back and disables further
		// ticks until an admin resetTick.
		k.state = pre
		ctx.events = nil
		k.tickDisabled = true
		k.log.Error("tick handler disabled after failure", zap.Error(err))
		entry := &RecordEntry{TickID: k.tickID, Kind: "tick"}
		return nil, entry
	}
	entry := &RecordEntry{TickID: k.tickID, Kind: "tick"}

	if k.sink != nil && k.snapEvery > 0 && k.tickID%uint64(k.snapEvery) == 0 {
		k.saveSnapshot()
	}
	return ctx, entry
}

func (k *Keeper) initiateDestroy() {
	k.destroying = true
	if k.onDestroy != nil {
		id := k.ID
		fn := k.onDestroy
		go fn(id)
	}
}

// saveSnapshot pushes the canonical snapshot to the sink off the loop
// goroutine. Sink failures never touch land state.
func (k *Keeper) saveSnapshot() {
	snap := statesync.Snapshot(k.def.Schema, k.state, statesync.HashView)
	canonical := statesync.CanonicalJSON(snap)
	hash := statesync.HashBytes(canonical)
	landID, tick, sink, log := k.ID.String(), k.tickID, k.sink, k.log
	go func() {
		cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sink.SaveSnapshot(cctx, landID, tick, hash, canonical); err != nil {
			log.Warn("snapshot sink save failed", zap.Error(err))
		}
	}()
}

// Finalize runs afterFinalize and a last sink save. The manager calls it
// once the loop has stopped.
func (k *Keeper) Finalize() {
	if k.sink != nil {
		k.saveSnapshot()
	}
	if k.def.AfterFinalize != nil {
		k.def.AfterFinalize(k.state)
	}
}

// ── sync pass ──────────────────────────────────────────────────────

func (k *Keeper) syncPass(removedPlayers []string) {
	schema := k.def.Schema
	if len(k.sessions) == 0 {
		k.lastBroadcast = statesync.BroadcastSnapshot(schema, k.state)
		return
	}

	anyDirty := schema.AnyDirty(k.state)
	pendingFirst := false
	for _, id := range k.order {
		if k.sessions[id].tracker.FirstSyncPending() {
			pendingFirst = true
			break
		}
	}
	if !anyDirty && !pendingFirst && len(removedPlayers) == 0 {
		return
	}

	sliceDirty := false
	for i := range schema.Fields {
		f := &schema.Fields[i]
		if f.Policy == statesync.PerPlayerSlice && f.IsDirty(k.state) {
			sliceDirty = true
			break
		}
	}

	// Fast path: only broadcast fields changed, every session subscribed.
	// One diff serves all.
	if !sliceDirty && !pendingFirst && len(removedPlayers) == 0 {
		next := statesync.BroadcastSnapshot(schema, k.state)
		patches := statesync.Diff(k.lastBroadcast, next)
		k.lastBroadcast = next
		if len(patches) == 0 {
			return
		}
		for _, id := range k.order {
			s := k.sessions[id]
			u, err := s.tracker.ApplyShared(patches)
			if err != nil {
				k.log.Error("shared diff apply failed",
					zap.String("session", id), zap.Error(err))
				continue
			}
			if u.Type != statesync.UpdateNoChange {
				s.sendUpdate(&u)
			}
		}
		return
	}

	removals := k.sliceRemovalPatches(removedPlayers)
	for _, id := range k.order {
		s := k.sessions[id]
		snap := statesync.Snapshot(schema, k.state, statesync.ViewFor(s.PlayerID))
		u := s.tracker.Update(snap)
		if len(removals) > 0 && u.Type != statesync.UpdateFirstSync {
			u = statesync.StateUpdate{Type: statesync.UpdateDiff,
				Patches: append(append([]statesync.Patch{}, u.Patches...), removals...)}
		}
		if u.Type != statesync.UpdateNoChange {
			s.sendUpdate(&u)
		}
	}
	k.lastBroadcast = statesync.BroadcastSnapshot(schema, k.state)
}

// sliceRemovalPatches synthesizes the per-player-slice key removals for
// departed players. Remaining sessions never saw those keys, but the leave
// diff carries the removal so clients can drop any player-scoped caches in
// the same frame as the rest of the op's changes.
func (k *Keeper) sliceRemovalPatches(removedPlayers []string) []statesync.Patch {
	if len(removedPlayers) == 0 {
		return nil
	}
	var patches []statesync.Patch
	schema := k.def.Schema
	for i := range schema.Fields {
		f := &schema.Fields[i]
		if f.Policy != statesync.PerPlayerSlice {
			continue
		}
		for _, pid := range removedPlayers {
			patches = append(patches, statesync.Patch{
				Op:   statesync.OpRemove,
				Path: "/" + f.Name + "/" + pid,
			})
		}
	}
	return patches
}

// ── server event fan-out ───────────────────────────────────────────

func (k *Keeper) fanOut(events []ServerEvent) {
	for _, ev := range events {
		env := &wire.Envelope{Kind: wire.KindEvent, Event: &wire.Event{
			LandID:    k.ID.String(),
			Direction: wire.DirFromServer,
			Type:      ev.Type,
			Payload:   ev.Payload,
		}}
		switch ev.Target.Kind {
		case TargetSession:
			if s, ok := k.sessions[ev.Target.SessionID]; ok {
				s.sendEnvelope(env)
			}
		case TargetPlayer:
			// A player may own several sessions; deliver to each.
			for _, id := range k.order {
				if s := k.sessions[id]; s.PlayerID == ev.Target.PlayerID {
					s.sendEnvelope(env)
				}
			}
		case TargetAll:
			for _, id := range k.order {
				k.sessions[id].sendEnvelope(env)
			}
		case TargetAllExcept:
			for _, id := range k.order {
				if id == ev.Target.ExceptID {
					continue
				}
				k.sessions[id].sendEnvelope(env)
			}
		}
	}
}

// ── admin ops ──────────────────────────────────────────────────────

func adminAck(requestID string) *wire.Envelope {
	return &wire.Envelope{Kind: wire.KindActionResponse, ActionResponse: &wire.ActionResponse{RequestID: requestID}}
}

// processAdmin authenticates and runs one admin command. Commands that
// mutate land state come back as record entries so a reevaluation sees
// them: a kick is recorded as the victim's leave, a resetTick under its
// own kind.
func (k *Keeper) processAdmin(o adminOp) (*Context, *RecordEntry, []string) {
	s := k.sessions[o.sessionID]
	respond := func(env *wire.Envelope) {
		if s != nil {
			s.sendEnvelope(env)
		}
	}
	if len(k.adminHash) == 0 ||
		bcrypt.CompareHashAndPassword(k.adminHash, []byte(o.key)) != nil {
		respond(actionError(o.requestID, wire.CodeAdminDenied, "admin key rejected"))
		return nil, nil, nil
	}
	switch o.command {
	case "getState":
		snap := statesync.Snapshot(k.def.Schema, k.state, statesync.FullView)
		respond(&wire.Envelope{Kind: wire.KindActionResponse, ActionResponse: &wire.ActionResponse{
			RequestID: o.requestID,
			Result:    statesync.ToTyped(snap),
		}})
		return nil, nil, nil
	case "kick":
		target := o.args["sessionID"]
		victim, ok := k.sessions[target]
		if !ok {
			respond(adminAck(o.requestID))
			return nil, nil, nil
		}
		pid, events := k.removeSession(victim, "kicked")
		respond(adminAck(o.requestID))
		ctx := k.makeContext(victim, pid)
		ctx.events = events
		entry := &RecordEntry{TickID: k.tickID, Kind: "leave", SessionID: target, PlayerID: pid}
		return ctx, entry, []string{pid}
	case "resetTick":
		k.tickDisabled = false
		respond(adminAck(o.requestID))
		entry := &RecordEntry{TickID: k.tickID, Kind: "admin", SessionID: o.sessionID, Type: "resetTick"}
		return nil, entry, nil
	case "destroy":
		respond(adminAck(o.requestID))
		k.initiateDestroy()
		return nil, nil, nil
	default:
		respond(actionError(o.requestID, wire.CodeUnknown, fmt.Sprintf("unknown admin command %q", o.command)))
		return nil, nil, nil
	}
}

// ── panic containment ──────────────────────────────────────────────

// safeAction executes a handler with panic recovery so one bad payload
// cannot take down the land loop.
func (k *Keeper) safeAction(fn ActionHandler, payload []byte, ctx *Context) (result statesync.Value, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			k.log.Error("action handler panic recovered", zap.Any("panic", rec))
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return fn(k.state, payload, ctx)
}

func (k *Keeper) safeEvent(fn EventHandler, payload []byte, ctx *Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			k.log.Error("event handler panic recovered", zap.Any("panic", rec))
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return fn(k.state, payload, ctx)
}

func (k *Keeper) safeTick(fn TickHandler, ctx *Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			k.log.Error("tick handler panic recovered", zap.Any("panic", rec))
			err = fmt.Errorf("tick handler panic: %v", rec)
		}
	}()
	return fn(k.state, ctx)
}

func (k *Keeper) safeHook(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			k.log.Error("hook panic recovered", zap.Any("panic", rec))
			err = fmt.Errorf("hook panic: %v", rec)
		}
	}()
	return fn()
}
