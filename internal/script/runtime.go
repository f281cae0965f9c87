// Package script embeds a Lua runtime with a "state" module for reading and
// mutating a tracked store. Used to seed server state and for standalone
// script runs.
package script

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/zot/reactive/internal/config"
	"github.com/zot/reactive/internal/path"
	"github.com/zot/reactive/state"
)

// Runtime is one Lua interpreter bound to one tracked store.
type Runtime struct {
	config *config.Config
	store  *state.Store
	root   *state.Proxy
	L      *lua.LState
}

// NewRuntime creates a runtime with the state module registered.
func NewRuntime(cfg *config.Config, store *state.Store, root *state.Proxy) *Runtime {
	r := &Runtime{
		config: cfg,
		store:  store,
		root:   root,
		L:      lua.NewState(),
	}
	r.registerStateModule()
	return r
}

// Close shuts the interpreter down.
func (r *Runtime) Close() {
	r.L.Close()
}

// RunFile loads and executes a Lua file.
func (r *Runtime) RunFile(filename string) error {
	if err := r.L.DoFile(filename); err != nil {
		return fmt.Errorf("script %s: %w", filename, err)
	}
	return nil
}

// RunString executes Lua source.
func (r *Runtime) RunString(src string) error {
	return r.L.DoString(src)
}

// resolvePath parses a script-supplied path argument.
func (r *Runtime) resolvePath(L *lua.LState, arg int) path.Path {
	p, err := path.Parse(L.OptString(arg, ""))
	if err != nil {
		L.RaiseError("bad path: %v", err)
	}
	return p
}

// node resolves a path to a tracked container, raising on failure.
func (r *Runtime) node(L *lua.LState, p path.Path) *state.Proxy {
	v, ok := path.Resolve(r.root, p)
	if !ok {
		L.RaiseError("path %q not found", p.String())
		return nil
	}
	node, ok := v.(*state.Proxy)
	if !ok {
		L.RaiseError("path %q is not a container", p.String())
		return nil
	}
	return node
}

// registerStateModule installs the global "state" table.
func (r *Runtime) registerStateModule() {
	L := r.L
	mod := L.NewTable()

	// state.get(path) -> value (containers come back as plain tables)
	L.SetField(mod, "get", L.NewFunction(func(L *lua.LState) int {
		p := r.resolvePath(L, 1)
		v, ok := path.Resolve(r.root, p)
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(goToLua(L, v))
		return 1
	}))

	// state.set(path, value)
	L.SetField(mod, "set", L.NewFunction(func(L *lua.LState) int {
		p := r.resolvePath(L, 1)
		value := luaToGo(L.CheckAny(2))
		if err := path.Write(r.root, p, value); err != nil {
			L.RaiseError("set failed: %v", err)
		}
		return 0
	}))

	// state.del(path) -> removed
	L.SetField(mod, "del", L.NewFunction(func(L *lua.LState) int {
		p := r.resolvePath(L, 1)
		err := path.Delete(r.root, p)
		L.Push(lua.LBool(err == nil))
		return 1
	}))

	// state.has(path) -> present
	L.SetField(mod, "has", L.NewFunction(func(L *lua.LState) int {
		p := r.resolvePath(L, 1)
		_, ok := path.Resolve(r.root, p)
		L.Push(lua.LBool(ok))
		return 1
	}))

	// state.len(path) -> element count
	L.SetField(mod, "len", L.NewFunction(func(L *lua.LState) int {
		p := r.resolvePath(L, 1)
		L.Push(lua.LNumber(r.node(L, p).Len()))
		return 1
	}))

	// state.keys(path) -> sequence of keys
	L.SetField(mod, "keys", L.NewFunction(func(L *lua.LState) int {
		p := r.resolvePath(L, 1)
		keys := r.node(L, p).Keys()
		tbl := L.NewTable()
		for i, key := range keys {
			tbl.RawSetInt(i+1, lua.LString(key))
		}
		L.Push(tbl)
		return 1
	}))

	// state.push(path, value...)
	L.SetField(mod, "push", L.NewFunction(func(L *lua.LState) int {
		p := r.resolvePath(L, 1)
		node := r.node(L, p)
		items := make([]any, 0, L.GetTop()-1)
		for i := 2; i <= L.GetTop(); i++ {
			items = append(items, luaToGo(L.CheckAny(i)))
		}
		node.Push(items...)
		return 0
	}))

	// state.splice(path, start, deleteCount, value...) -> removed values
	// start is 1-based like Lua sequences.
	L.SetField(mod, "splice", L.NewFunction(func(L *lua.LState) int {
		p := r.resolvePath(L, 1)
		node := r.node(L, p)
		start := L.CheckInt(2) - 1
		deleteCount := L.CheckInt(3)
		items := make([]any, 0, L.GetTop()-3)
		for i := 4; i <= L.GetTop(); i++ {
			items = append(items, luaToGo(L.CheckAny(i)))
		}
		removed := node.Splice(start, deleteCount, items...)
		tbl := L.NewTable()
		for i, v := range removed {
			tbl.RawSetInt(i+1, goToLua(L, v))
		}
		L.Push(tbl)
		return 1
	}))

	// state.snapshot(path) -> deep plain-table copy
	L.SetField(mod, "snapshot", L.NewFunction(func(L *lua.LState) int {
		p := r.resolvePath(L, 1)
		L.Push(goToLua(L, r.node(L, p).Snapshot()))
		return 1
	}))

	// state.flush() delivers pending batched notifications
	L.SetField(mod, "flush", L.NewFunction(func(L *lua.LState) int {
		r.store.Flush()
		return 0
	}))

	L.SetGlobal("state", mod)
}
