package script

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/statetree/server/internal/land"
	"github.com/statetree/server/internal/statesync"
)

// Engine wraps a single gopher-lua VM for one land type's logic. Handlers
// from every room of a multi-room land share the VM, so calls are
// serialized by a mutex; scripts hold no VM-global state between calls.
type Engine struct {
	mu  sync.Mutex
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua VM, installs the helper globals and runs the
// land script. The script must leave a global `land` table behind.
func NewEngine(scriptPath string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	// fail(code, message) raises at level 0 so the message arrives without
	// a source-position prefix and can be parsed back into an error code.
	vm.SetGlobal("fail", vm.NewFunction(func(L *lua.LState) int {
		code := L.CheckString(1)
		msg := L.OptString(2, "")
		L.Error(lua.LString(code+": "+msg), 0)
		return 0
	}))

	e := &Engine{vm: vm, log: log}
	if err := vm.DoFile(scriptPath); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load %s: %w", scriptPath, err)
	}
	if _, ok := vm.GetGlobal("land").(*lua.LTable); !ok {
		vm.Close()
		return nil, fmt.Errorf("%s: no global land table", scriptPath)
	}
	e.log.Debug("loaded land script", zap.String("file", scriptPath))
	return e, nil
}

// Close releases the VM.
func (e *Engine) Close() { e.vm.Close() }

// Bind fills a definition's handlers from the script's land table. Only
// handlers the script declares are wired; the rest stay nil.
func (e *Engine) Bind(def *land.Definition) error {
	root := e.vm.GetGlobal("land").(*lua.LTable)

	if actions, ok := root.RawGetString("actions").(*lua.LTable); ok {
		def.Actions = make(map[string]land.ActionHandler)
		var err error
		actions.ForEach(func(k, v lua.LValue) {
			name, nok := k.(lua.LString)
			fn, fok := v.(*lua.LFunction)
			if !nok || !fok {
				err = fmt.Errorf("land %s: actions table entry %v is not a named function", def.LandType, k)
				return
			}
			def.Actions[string(name)] = e.action(fn)
		})
		if err != nil {
			return err
		}
	}

	if events, ok := root.RawGetString("events").(*lua.LTable); ok {
		def.Events = make(map[string]land.EventHandler)
		var err error
		events.ForEach(func(k, v lua.LValue) {
			name, nok := k.(lua.LString)
			fn, fok := v.(*lua.LFunction)
			if !nok || !fok {
				err = fmt.Errorf("land %s: events table entry %v is not a named function", def.LandType, k)
				return
			}
			def.Events[string(name)] = e.event(fn)
		})
		if err != nil {
			return err
		}
	}

	if fn, ok := root.RawGetString("on_tick").(*lua.LFunction); ok {
		def.OnTick = e.tick(fn)
	}
	if fn, ok := root.RawGetString("after_create").(*lua.LFunction); ok {
		def.AfterCreate = func(state any, ctx *land.Context) {
			if _, err := e.call(fn, state, nil, ctx, false); err != nil {
				e.log.Error("after_create failed", zap.String("land", def.LandType), zap.Error(err))
			}
		}
	}
	if fn, ok := root.RawGetString("on_join").(*lua.LFunction); ok {
		def.OnJoin = func(state any, ctx *land.Context) error {
			_, err := e.call(fn, state, nil, ctx, false)
			return err
		}
	}
	if fn, ok := root.RawGetString("on_leave").(*lua.LFunction); ok {
		def.OnLeave = func(state any, ctx *land.Context) {
			if _, err := e.call(fn, state, nil, ctx, false); err != nil {
				e.log.Warn("on_leave failed", zap.String("land", def.LandType), zap.Error(err))
			}
		}
	}
	if fn, ok := root.RawGetString("can_join").(*lua.LFunction); ok {
		def.CanJoin = e.canJoin(fn)
	}
	return nil
}

func (e *Engine) action(fn *lua.LFunction) land.ActionHandler {
	return func(state any, payload []byte, ctx *land.Context) (statesync.Value, error) {
		return e.call(fn, state, payload, ctx, true)
	}
}

func (e *Engine) event(fn *lua.LFunction) land.EventHandler {
	return func(state any, payload []byte, ctx *land.Context) error {
		_, err := e.call(fn, state, payload, ctx, false)
		return err
	}
}

func (e *Engine) tick(fn *lua.LFunction) land.TickHandler {
	return func(state any, ctx *land.Context) error {
		_, err := e.call(fn, state, nil, ctx, false)
		return err
	}
}

func (e *Engine) canJoin(fn *lua.LFunction) func(sess *land.SessionInfo, meta map[string]string, state any) land.JoinDecision {
	return func(sess *land.SessionInfo, meta map[string]string, state any) land.JoinDecision {
		e.mu.Lock()
		defer e.mu.Unlock()
		metaTbl := e.vm.NewTable()
		for k, v := range meta {
			metaTbl.RawSetString(k, lua.LString(v))
		}
		ms, ok := state.(*statesync.MapState)
		if !ok {
			return land.Deny("bad state type")
		}
		if err := e.vm.CallByParam(lua.P{Fn: fn, NRet: 2, Protect: true},
			e.stateTable(ms), metaTbl); err != nil {
			e.log.Warn("can_join failed", zap.Error(err))
			return land.Deny("")
		}
		verdict := e.vm.Get(-2)
		reason := e.vm.Get(-1)
		e.vm.Pop(2)
		switch t := verdict.(type) {
		case lua.LBool:
			if bool(t) {
				return land.Allow()
			}
			if r, ok := reason.(lua.LString); ok {
				return land.Deny(string(r))
			}
			return land.Deny("")
		case lua.LString:
			if string(t) == "replaceOldest" {
				return land.ReplaceOldest()
			}
		}
		return land.Allow()
	}
}

// call runs one script handler under the VM lock: state accessor table,
// decoded payload and context table in, optional result value out.
func (e *Engine) call(fn *lua.LFunction, state any, payload []byte, ctx *land.Context, wantResult bool) (statesync.Value, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ms, ok := state.(*statesync.MapState)
	if !ok {
		return statesync.Value{}, fmt.Errorf("script land requires MapState, got %T", state)
	}

	payloadLV := lua.LValue(lua.LNil)
	if len(payload) > 0 {
		var v statesync.Value
		if err := json.Unmarshal(payload, &v); err != nil {
			return statesync.Value{}, &land.HandlerError{Code: "BAD_ENVELOPE", Message: "payload is not JSON"}
		}
		payloadLV = valueToLua(e.vm, v)
	}

	nret := 0
	if wantResult {
		nret = 1
	}
	if err := e.vm.CallByParam(lua.P{Fn: fn, NRet: nret, Protect: true},
		e.stateTable(ms), payloadLV, e.contextTable(ctx)); err != nil {
		return statesync.Value{}, scriptError(err)
	}
	if !wantResult {
		return statesync.Null(), nil
	}
	ret := e.vm.Get(-1)
	e.vm.Pop(1)
	result, err := luaToValue(ret)
	if err != nil {
		return statesync.Value{}, fmt.Errorf("script result: %w", err)
	}
	return result, nil
}

// stateTable exposes the MapState through accessor functions, so every
// script mutation flows through the dirty-marking setters.
func (e *Engine) stateTable(ms *statesync.MapState) *lua.LTable {
	t := e.vm.NewTable()
	t.RawSetString("get", e.vm.NewFunction(func(L *lua.LState) int {
		field := L.CheckString(1)
		L.Push(valueToLua(L, ms.Get(field)))
		return 1
	}))
	t.RawSetString("set", e.vm.NewFunction(func(L *lua.LState) int {
		field := L.CheckString(1)
		v, err := luaToValue(L.Get(2))
		if err != nil {
			L.RaiseError("set %s: %v", field, err)
		}
		if err := ms.Set(field, v); err != nil {
			L.RaiseError("%v", err)
		}
		return 0
	}))
	t.RawSetString("get_key", e.vm.NewFunction(func(L *lua.LState) int {
		v, ok := ms.GetKey(L.CheckString(1), L.CheckString(2))
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(valueToLua(L, v))
		return 1
	}))
	t.RawSetString("set_key", e.vm.NewFunction(func(L *lua.LState) int {
		field, key := L.CheckString(1), L.CheckString(2)
		v, err := luaToValue(L.Get(3))
		if err != nil {
			L.RaiseError("set_key %s/%s: %v", field, key, err)
		}
		if err := ms.SetKey(field, key, v); err != nil {
			L.RaiseError("%v", err)
		}
		return 0
	}))
	t.RawSetString("delete_key", e.vm.NewFunction(func(L *lua.LState) int {
		if err := ms.DeleteKey(L.CheckString(1), L.CheckString(2)); err != nil {
			L.RaiseError("%v", err)
		}
		return 0
	}))
	return t
}

// contextTable renders the handler context: identity fields, the land RNG
// and event emission.
func (e *Engine) contextTable(ctx *land.Context) *lua.LTable {
	t := e.vm.NewTable()
	t.RawSetString("land", lua.LString(ctx.Land.String()))
	t.RawSetString("tick_id", lua.LNumber(ctx.TickID))
	t.RawSetString("player_id", lua.LString(ctx.PlayerID))
	if ctx.Session != nil {
		t.RawSetString("session_id", lua.LString(ctx.Session.ID))
	}
	t.RawSetString("rng_int", e.vm.NewFunction(func(L *lua.LState) int {
		n := L.CheckInt(1)
		L.Push(lua.LNumber(ctx.RNG.Intn(n)))
		return 1
	}))
	t.RawSetString("rng_float", e.vm.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(ctx.RNG.Float64()))
		return 1
	}))
	emitPayload := func(L *lua.LState, idx int) []byte {
		lv := L.Get(idx)
		if lv == lua.LNil {
			return nil
		}
		v, err := luaToValue(lv)
		if err != nil {
			L.RaiseError("emit payload: %v", err)
		}
		data, err := json.Marshal(v)
		if err != nil {
			L.RaiseError("emit payload: %v", err)
		}
		return data
	}
	t.RawSetString("emit", e.vm.NewFunction(func(L *lua.LState) int {
		ctx.Emit(land.ToAll(), L.CheckString(1), emitPayload(L, 2))
		return 0
	}))
	t.RawSetString("emit_to", e.vm.NewFunction(func(L *lua.LState) int {
		ctx.Emit(land.ToPlayer(L.CheckString(1)), L.CheckString(2), emitPayload(L, 3))
		return 0
	}))
	return t
}

// scriptError converts a Lua error into a HandlerError when the message
// carries a "CODE: message" prefix raised by fail().
func scriptError(err error) error {
	msg := err.Error()
	if apiErr, ok := err.(*lua.ApiError); ok {
		msg = apiErr.Object.String()
	}
	if code, rest, found := strings.Cut(msg, ": "); found && isErrorCode(code) {
		return &land.HandlerError{Code: code, Message: rest}
	}
	return fmt.Errorf("script: %s", msg)
}

func isErrorCode(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return true
}
