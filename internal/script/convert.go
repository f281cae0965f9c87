package script

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/zot/reactive/state"
)

// isArray reports whether a Lua table is a pure sequence: keys 1..n with no
// other entries. Empty tables count as records.
func isArray(tbl *lua.LTable) bool {
	length := tbl.Len()
	if length == 0 {
		return false
	}
	pure := true
	tbl.ForEach(func(k, v lua.LValue) {
		n, ok := k.(lua.LNumber)
		if !ok || float64(n) != float64(int(n)) || int(n) < 1 || int(n) > length {
			pure = false
		}
	})
	return pure
}

// luaToGo converts a Lua value to plain Go data: sequence tables become
// []any, other tables map[string]any.
func luaToGo(val lua.LValue) any {
	switch v := val.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if isArray(v) {
			length := v.Len()
			result := make([]any, length)
			for i := 1; i <= length; i++ {
				result[i-1] = luaToGo(v.RawGetInt(i))
			}
			return result
		}
		result := make(map[string]any)
		v.ForEach(func(k, elem lua.LValue) {
			result[lua.LVAsString(k)] = luaToGo(elem)
		})
		return result
	default:
		return nil
	}
}

// goToLua converts a Go value into a Lua value. Tracked nodes and snapshots
// become deep table copies; cycles resolve to the already-built table.
func goToLua(L *lua.LState, value any) lua.LValue {
	return goToLuaVisited(L, value, make(map[any]*lua.LTable))
}

func goToLuaVisited(L *lua.LState, value any, visited map[any]*lua.LTable) lua.LValue {
	switch v := value.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(v)
	case int:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case string:
		return lua.LString(v)
	case *state.Proxy:
		return goToLuaVisited(L, v.Snapshot(), visited)
	case *state.Snapshot:
		if tbl, ok := visited[v]; ok {
			return tbl
		}
		tbl := L.NewTable()
		visited[v] = tbl
		if v.Kind() == state.KindSlice {
			for i := 0; i < v.Len(); i++ {
				elem, _ := v.Index(i)
				tbl.RawSetInt(i+1, goToLuaVisited(L, elem, visited))
			}
			return tbl
		}
		for _, key := range v.Keys() {
			elem, _ := v.Get(key)
			tbl.RawSetString(key, goToLuaVisited(L, elem, visited))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for key, elem := range v {
			tbl.RawSetString(key, goToLuaVisited(L, elem, visited))
		}
		return tbl
	case []any:
		tbl := L.NewTable()
		for i, elem := range v {
			tbl.RawSetInt(i+1, goToLuaVisited(L, elem, visited))
		}
		return tbl
	default:
		// Absent and anything unrepresentable
		return lua.LNil
	}
}
