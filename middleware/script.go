package middleware

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/fluxkit/dispatch"
)

// DefaultEntrypoint is the Lua function a script must define.
const DefaultEntrypoint = "intercept"

// ErrScriptClosed is returned when a dispatch reaches a script middleware
// after its Close.
var ErrScriptClosed = errors.New("script middleware is closed")

// ScriptOption configures a scripted middleware.
type ScriptOption func(*scriptConfig)

type scriptConfig struct {
	entrypoint string
}

// WithEntrypoint sets the name of the Lua function to call per dispatch.
func WithEntrypoint(name string) ScriptOption {
	return func(c *scriptConfig) {
		if name != "" {
			c.entrypoint = name
		}
	}
}

// ScriptMiddleware owns the Lua state backing a scripted middleware. Close
// it when the dispatcher it is installed on is discarded; the interpreter is
// not released otherwise.
type ScriptMiddleware struct {
	mu     sync.Mutex
	state  *lua.LState
	fn     *lua.LFunction
	closed bool
}

// Script builds a middleware from Lua source. The source must define a
// function (DefaultEntrypoint unless overridden) taking the action value:
//
//	function intercept(action)
//	    if action == "drop-me" then return false end
//	    return true
//	end
//
// Returning nil or true continues the chain unchanged; false terminates the
// chain (nothing downstream runs); any other value replaces the action seen
// by downstream middleware and the handlers.
//
// Actions cross the boundary as Lua values where possible (nil, bool,
// numbers, strings, []any and map[string]any as tables); other Go values
// pass through as opaque userdata. The Lua state is sandboxed (no dofile,
// loadfile, or load) and lives until Close; calls into it are serialized.
func Script(source string, opts ...ScriptOption) (*ScriptMiddleware, error) {
	cfg := scriptConfig{entrypoint: DefaultEntrypoint}
	for _, opt := range opts {
		opt(&cfg)
	}

	L := lua.NewState()
	sandbox(L)

	if err := L.DoString(source); err != nil {
		L.Close()
		return nil, fmt.Errorf("loading script: %w", err)
	}

	fn, ok := L.GetGlobal(cfg.entrypoint).(*lua.LFunction)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("script does not define function %q", cfg.entrypoint)
	}

	return &ScriptMiddleware{state: L, fn: fn}, nil
}

// ScriptFile builds a middleware from a Lua file.
func ScriptFile(path string, opts ...ScriptOption) (*ScriptMiddleware, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script %s: %w", path, err)
	}
	return Script(string(source), opts...)
}

// Middleware returns the dispatch.MiddlewareFunc to install with Use.
func (s *ScriptMiddleware) Middleware() dispatch.MiddlewareFunc {
	return func(ctx context.Context, mc *dispatch.Context) error {
		// Hold the lock only for the Lua call; the downstream chain may
		// re-enter this middleware through a nested dispatch.
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ErrScriptClosed
		}
		ret, err := callScript(s.state, s.fn, mc.Action())
		s.mu.Unlock()
		if err != nil {
			return err
		}

		switch {
		case ret == lua.LNil || ret == lua.LTrue:
			return mc.Next(ctx)
		case ret == lua.LFalse:
			return nil // veto: terminate the chain
		default:
			return mc.NextWith(ctx, fromLua(ret))
		}
	}
}

// Close releases the Lua state. It is idempotent; dispatches reaching the
// middleware afterwards fail with ErrScriptClosed.
func (s *ScriptMiddleware) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.state.Close()
	return nil
}

// callScript invokes the entrypoint with the converted action.
func callScript(L *lua.LState, fn *lua.LFunction, action any) (lua.LValue, error) {
	err := L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, toLua(L, action))
	if err != nil {
		return lua.LNil, fmt.Errorf("script error: %w", err)
	}

	ret := L.Get(-1)
	L.Pop(1)
	return ret, nil
}

// sandbox removes functions that load arbitrary code into the state.
func sandbox(L *lua.LState) {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		L.SetGlobal(name, lua.LNil)
	}
}

// toLua converts a Go value to a Lua value.
func toLua(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(x)
	case int:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case float64:
		return lua.LNumber(x)
	case string:
		return lua.LString(x)
	case []any:
		tbl := L.NewTable()
		for i, item := range x {
			tbl.RawSetInt(i+1, toLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range x {
			tbl.RawSetString(k, toLua(L, item))
		}
		return tbl
	default:
		ud := L.NewUserData()
		ud.Value = v
		return ud
	}
}

// fromLua converts a Lua value back to a Go value.
func fromLua(lv lua.LValue) any {
	return fromLuaVisited(lv, make(map[*lua.LTable]bool))
}

func fromLuaVisited(lv lua.LValue, visited map[*lua.LTable]bool) any {
	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if visited[v] {
			return nil // break circular references
		}
		visited[v] = true
		return tableToGo(v, visited)
	case *lua.LUserData:
		return v.Value
	default:
		return nil
	}
}

// tableToGo converts a Lua table to a slice when it is a contiguous array
// (integer keys from 1) and to a map otherwise.
func tableToGo(t *lua.LTable, visited map[*lua.LTable]bool) any {
	isArray := true
	maxN := 0
	count := 0
	t.ForEach(func(k, _ lua.LValue) {
		count++
		if kn, ok := k.(lua.LNumber); ok {
			n := int(kn)
			if float64(n) == float64(kn) && n > 0 {
				if n > maxN {
					maxN = n
				}
				return
			}
		}
		isArray = false
	})

	if isArray && maxN > 0 && count == maxN {
		arr := make([]any, maxN)
		for i := 1; i <= maxN; i++ {
			arr[i-1] = fromLuaVisited(t.RawGetInt(i), visited)
		}
		return arr
	}

	m := make(map[string]any, count)
	t.ForEach(func(k, v lua.LValue) {
		var key string
		switch kv := k.(type) {
		case lua.LString:
			key = string(kv)
		case lua.LNumber:
			key = fmt.Sprintf("%v", float64(kv))
		default:
			key = k.String()
		}
		m[key] = fromLuaVisited(v, visited)
	})
	return m
}
