package script

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/statetree/server/internal/land"
	"github.com/statetree/server/internal/statesync"
	"github.com/statetree/server/internal/wire"
)

const quizScript = `
land = {
  after_create = function(state, _, ctx)
    state.set("greeting", "hello")
  end,

  on_join = function(state, _, ctx)
    state.set_key("scores", ctx.player_id, 0)
  end,

  on_leave = function(state, _, ctx)
    state.delete_key("scores", ctx.player_id)
  end,

  can_join = function(state, meta)
    if meta.banned == "yes" then
      return false, "BANNED"
    end
    if meta.vip == "yes" then
      return "replaceOldest"
    end
    return true
  end,

  actions = {
    incr = function(state, payload, ctx)
      local delta = 1
      if payload and payload.delta then
        if payload.delta < 1 then
          fail("BAD_ENVELOPE", "delta out of range")
        end
        delta = payload.delta
      end
      state.set("n", state.get("n") + delta)
      return { n = state.get("n") }
    end,

    poke = function(state, payload, ctx)
      ctx.emit("poked", { by = ctx.player_id })
    end,

    blowup = function(state, payload, ctx)
      local t = nil
      return t.x
    end,
  },

  events = {
    nudge = function(state, payload, ctx)
      state.set("n", state.get("n") + 1)
    end,
  },
}
`

func writeScript(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "game.lua")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func quizSpecs() []statesync.FieldSpec {
	return []statesync.FieldSpec{
		{Name: "n", Policy: statesync.Broadcast, Default: statesync.Int(0)},
		{Name: "greeting", Policy: statesync.Broadcast},
		{Name: "scores", Policy: statesync.PerPlayerSlice, Kind: statesync.MapField},
	}
}

func boundDefinition(t *testing.T, src string) (*land.Definition, *statesync.MapState) {
	t.Helper()
	e, err := NewEngine(writeScript(t, src), zap.NewNop())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	t.Cleanup(e.Close)
	specs := quizSpecs()
	def := &land.Definition{
		LandType: "quiz",
		Schema:   statesync.BuildMapSchema("quiz", specs),
		NewState: func() any { return statesync.NewMapState(specs) },
	}
	if err := e.Bind(def); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	return def, def.NewState().(*statesync.MapState)
}

func handlerContext() *land.Context {
	return &land.Context{
		Land:     land.NewLandID("quiz", "r1"),
		PlayerID: "p1",
		RNG:      statesync.NewRNG("quiz:r1"),
	}
}

func TestEngineRequiresLandTable(t *testing.T) {
	if _, err := NewEngine(writeScript(t, `x = 1`), zap.NewNop()); err == nil {
		t.Fatal("script without a land table was accepted")
	}
}

func TestActionMutatesThroughSetters(t *testing.T) {
	def, ms := boundDefinition(t, quizScript)
	result, err := def.Actions["incr"](ms, []byte(`{"delta":2}`), handlerContext())
	if err != nil {
		t.Fatalf("incr error = %v", err)
	}
	if result.Kind != statesync.KindObject {
		t.Fatalf("result kind = %s, want object", result.Kind)
	}
	if n, ok := result.Obj.Get("n"); !ok || n.IntV != 2 {
		t.Fatalf("result n = %+v, want 2", n)
	}
	if got := ms.Get("n").IntV; got != 2 {
		t.Fatalf("state n = %d, want 2", got)
	}
	// a second call sees the mutated state
	if _, err := def.Actions["incr"](ms, nil, handlerContext()); err != nil {
		t.Fatalf("incr error = %v", err)
	}
	if got := ms.Get("n").IntV; got != 3 {
		t.Fatalf("state n = %d, want 3", got)
	}
}

func TestFailBecomesHandlerError(t *testing.T) {
	def, ms := boundDefinition(t, quizScript)
	_, err := def.Actions["incr"](ms, []byte(`{"delta":0}`), handlerContext())
	var he *land.HandlerError
	if !errors.As(err, &he) {
		t.Fatalf("error = %v (%T), want HandlerError", err, err)
	}
	if he.Code != "BAD_ENVELOPE" || he.Message != "delta out of range" {
		t.Fatalf("HandlerError = %+v", he)
	}
}

func TestNonJSONPayloadRejected(t *testing.T) {
	def, ms := boundDefinition(t, quizScript)
	_, err := def.Actions["incr"](ms, []byte(`{oops`), handlerContext())
	var he *land.HandlerError
	if !errors.As(err, &he) || he.Code != "BAD_ENVELOPE" {
		t.Fatalf("error = %v, want BAD_ENVELOPE HandlerError", err)
	}
}

func TestRuntimeErrorStaysGeneric(t *testing.T) {
	def, ms := boundDefinition(t, quizScript)
	_, err := def.Actions["blowup"](ms, nil, handlerContext())
	if err == nil {
		t.Fatal("runtime error swallowed")
	}
	var he *land.HandlerError
	if errors.As(err, &he) {
		t.Fatalf("runtime error surfaced as HandlerError %+v", he)
	}
}

func TestHooksAndEventsBound(t *testing.T) {
	def, ms := boundDefinition(t, quizScript)
	if def.OnJoin == nil || def.OnLeave == nil || def.AfterCreate == nil || def.CanJoin == nil {
		t.Fatal("lifecycle hooks not bound")
	}
	if def.OnTick != nil {
		t.Fatal("on_tick bound although the script omits it")
	}

	ctx := handlerContext()
	if err := def.OnJoin(ms, ctx); err != nil {
		t.Fatalf("OnJoin error = %v", err)
	}
	if _, ok := ms.GetKey("scores", "p1"); !ok {
		t.Fatal("on_join did not seed the player slice")
	}
	if err := def.Events["nudge"](ms, nil, ctx); err != nil {
		t.Fatalf("nudge error = %v", err)
	}
	if got := ms.Get("n").IntV; got != 1 {
		t.Fatalf("n = %d after nudge, want 1", got)
	}
	def.OnLeave(ms, ctx)
	if _, ok := ms.GetKey("scores", "p1"); ok {
		t.Fatal("on_leave did not drop the player slice")
	}
}

func TestCanJoinVerdicts(t *testing.T) {
	def, ms := boundDefinition(t, quizScript)
	tests := []struct {
		name string
		meta map[string]string
		want land.JoinDecisionKind
	}{
		{"allow", nil, land.JoinAllow},
		{"deny", map[string]string{"banned": "yes"}, land.JoinDeny},
		{"replace oldest", map[string]string{"vip": "yes"}, land.JoinReplaceOldest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := def.CanJoin(nil, tt.meta, ms)
			if d.Kind != tt.want {
				t.Fatalf("decision = %+v, want kind %v", d, tt.want)
			}
			if tt.want == land.JoinDeny && d.Reason != "BANNED" {
				t.Fatalf("deny reason = %q, want script-provided reason", d.Reason)
			}
		})
	}
}

// ── manifest loading ───────────────────────────────────────────────

const quizManifest = `
lands:
  - landType: quiz
    definitionId: quiz@7
    script: game.lua
    tickIntervalMs: 50
    maxPlayers: 4
    multiRoom: true
    idleDestroyTicks: 10
    serverEvents: [poked]
    fields:
      - name: n
        policy: broadcast
        default: 0
      - name: greeting
        policy: broadcast
      - name: scores
        policy: perPlayerSlice
`

func writeManifest(t *testing.T, manifest, script string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "lands.yaml"), []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if script != "" {
		if err := os.WriteFile(filepath.Join(dir, "game.lua"), []byte(script), 0o644); err != nil {
			t.Fatalf("write script: %v", err)
		}
	}
	return filepath.Join(dir, "lands.yaml")
}

func TestManifestLoad(t *testing.T) {
	defs, err := Load(writeManifest(t, quizManifest, quizScript), zap.NewNop())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("Load() returned %d definitions, want 1", len(defs))
	}
	def := defs[0]
	if def.LandType != "quiz" || def.ID() != "quiz@7" {
		t.Fatalf("definition identity = %s / %s", def.LandType, def.ID())
	}
	if def.TickInterval != 50*time.Millisecond || def.MaxPlayers != 4 || !def.MultiRoom || def.IdleDestroyTicks != 10 {
		t.Fatalf("tuning fields = %+v", def)
	}
	if !def.ServerEvents["poked"] {
		t.Fatal("serverEvents not registered")
	}
	if err := def.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestManifestLoadErrors(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		script   string
		wantSub  string
	}{
		{
			name:     "no lands",
			manifest: "lands: []\n",
			wantSub:  "no lands",
		},
		{
			name: "unknown policy",
			manifest: `
lands:
  - landType: quiz
    script: game.lua
    fields:
      - name: n
        policy: everyone
`,
			script:  quizScript,
			wantSub: "unknown sync policy",
		},
		{
			name: "missing script file",
			manifest: `
lands:
  - landType: quiz
    script: nope.lua
    fields:
      - name: n
        policy: broadcast
`,
			wantSub: "nope.lua",
		},
		{
			name: "no fields",
			manifest: `
lands:
  - landType: quiz
    script: game.lua
`,
			script:  quizScript,
			wantSub: "no fields",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeManifest(t, tt.manifest, tt.script), zap.NewNop())
			if err == nil || !strings.Contains(err.Error(), tt.wantSub) {
				t.Fatalf("Load() error = %v, want substring %q", err, tt.wantSub)
			}
		})
	}
}

// ── live keeper integration ────────────────────────────────────────

type chanOut struct {
	envs chan *wire.Envelope
	ups  chan *statesync.StateUpdate
}

func newChanOut() *chanOut {
	return &chanOut{envs: make(chan *wire.Envelope, 16), ups: make(chan *statesync.StateUpdate, 16)}
}

func (o *chanOut) SendEnvelope(env *wire.Envelope) error { o.envs <- env; return nil }

func (o *chanOut) SendUpdate(u *statesync.StateUpdate) error {
	cp := *u
	cp.Patches = append([]statesync.Patch{}, u.Patches...)
	o.ups <- &cp
	return nil
}

func (o *chanOut) Encoding() string { return wire.EncodingJSONObject }

func (o *chanOut) nextEnvelope(t *testing.T) *wire.Envelope {
	t.Helper()
	select {
	case env := <-o.envs:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope received")
		return nil
	}
}

func (o *chanOut) nextUpdate(t *testing.T) *statesync.StateUpdate {
	t.Helper()
	select {
	case u := <-o.ups:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("no update received")
		return nil
	}
}

func TestScriptedLandEndToEnd(t *testing.T) {
	defs, err := Load(writeManifest(t, quizManifest, quizScript), zap.NewNop())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	def := defs[0]
	k, err := land.NewKeeper(land.NewLandID("quiz", "r1"), def, land.KeeperOptions{Mode: land.ModeLive})
	if err != nil {
		t.Fatalf("NewKeeper() error = %v", err)
	}
	k.Start()
	t.Cleanup(func() { k.Stop(time.Second) })

	out := newChanOut()
	k.EnqueueJoin(land.NewSessionInfo("s1", "p1", "", out), nil, "j1")

	jr := out.nextEnvelope(t).JoinResponse
	if jr == nil || !jr.Success || jr.LandID != "quiz:r1" {
		t.Fatalf("join response = %+v", jr)
	}
	first := out.nextUpdate(t)
	if first.Type != statesync.UpdateFirstSync {
		t.Fatalf("first update type = %q", first.Type)
	}
	view, err := statesync.Apply(statesync.ObjectValue(statesync.NewObject()), first.Patches)
	if err != nil {
		t.Fatalf("apply firstSync: %v", err)
	}
	if g, ok := view.Obj.Get("greeting"); !ok || g.StrV != "hello" {
		t.Fatalf("greeting = %+v, want after_create seed", g)
	}

	k.EnqueueAction("s1", "incr", []byte(`{"delta":5}`), "a1")
	resp := out.nextEnvelope(t).ActionResponse
	if resp == nil || resp.Error != nil {
		t.Fatalf("incr response = %+v", resp)
	}
	diff := out.nextUpdate(t)
	if diff.Type != statesync.UpdateDiff || len(diff.Patches) != 1 || diff.Patches[0].Path != "/n" {
		t.Fatalf("incr diff = %+v", diff)
	}

	k.EnqueueAction("s1", "poke", nil, "a2")
	if resp = out.nextEnvelope(t).ActionResponse; resp == nil || resp.Error != nil {
		t.Fatalf("poke response = %+v", resp)
	}
	ev := out.nextEnvelope(t)
	if ev.Kind != wire.KindEvent || ev.Event.Type != "poked" || ev.Event.Direction != wire.DirFromServer {
		t.Fatalf("event = %+v", ev)
	}
}
