package script

import (
	"fmt"
	"math"

	lua "github.com/yuin/gopher-lua"

	"github.com/statetree/server/internal/statesync"
)

// valueToLua converts a state value to its Lua rendering. Objects become
// string-keyed tables, arrays 1-based tables.
func valueToLua(L *lua.LState, v statesync.Value) lua.LValue {
	switch v.Kind {
	case statesync.KindNull:
		return lua.LNil
	case statesync.KindBool:
		return lua.LBool(v.BoolV)
	case statesync.KindInt:
		return lua.LNumber(v.IntV)
	case statesync.KindDouble:
		return lua.LNumber(v.DblV)
	case statesync.KindString:
		return lua.LString(v.StrV)
	case statesync.KindArray:
		t := L.NewTable()
		for i, item := range v.Arr {
			t.RawSetInt(i+1, valueToLua(L, item))
		}
		return t
	case statesync.KindObject:
		t := L.NewTable()
		for _, key := range v.Obj.Keys() {
			item, _ := v.Obj.Get(key)
			t.RawSetString(key, valueToLua(L, item))
		}
		return t
	}
	return lua.LNil
}

// luaToValue converts a Lua value back. Numbers with no fractional part
// inside the 53-bit safe range come back as ints, matching how JSON
// payload numbers are classified.
func luaToValue(lv lua.LValue) (statesync.Value, error) {
	switch t := lv.(type) {
	case *lua.LNilType:
		return statesync.Null(), nil
	case lua.LBool:
		return statesync.Bool(bool(t)), nil
	case lua.LNumber:
		f := float64(t)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return statesync.Int(int64(f)), nil
		}
		return statesync.Double(f), nil
	case lua.LString:
		return statesync.String(string(t)), nil
	case *lua.LTable:
		return tableToValue(t)
	case nil:
		return statesync.Null(), nil
	}
	return statesync.Value{}, fmt.Errorf("unsupported lua value %s", lv.Type())
}

// tableToValue maps a table to an array when it has only consecutive
// integer keys from 1, otherwise to an object.
func tableToValue(t *lua.LTable) (statesync.Value, error) {
	n := t.Len()
	isArray := n > 0
	t.ForEach(func(k, _ lua.LValue) {
		num, ok := k.(lua.LNumber)
		if !ok || float64(num) != math.Trunc(float64(num)) || int(num) < 1 || int(num) > n {
			isArray = false
		}
	})
	if isArray {
		items := make([]statesync.Value, 0, n)
		for i := 1; i <= n; i++ {
			v, err := luaToValue(t.RawGetInt(i))
			if err != nil {
				return statesync.Value{}, err
			}
			items = append(items, v)
		}
		return statesync.Array(items...), nil
	}
	obj := statesync.NewObject()
	var convErr error
	t.ForEach(func(k, v lua.LValue) {
		if convErr != nil {
			return
		}
		key, ok := k.(lua.LString)
		if !ok {
			convErr = fmt.Errorf("non-string table key %v", k)
			return
		}
		item, err := luaToValue(v)
		if err != nil {
			convErr = err
			return
		}
		obj.Set(string(key), item)
	})
	if convErr != nil {
		return statesync.Value{}, convErr
	}
	return statesync.ObjectValue(obj), nil
}
