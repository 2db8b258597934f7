package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/blasty8084/Nexus-247/internal/session"
	"github.com/blasty8084/Nexus-247/internal/state"
)

// hostClock bounds the state and send calls a plugin makes from Lua.
const hostCallTimeout = 5 * time.Second

// instance is one loaded plugin: its own interpreter state plus the entry
// function resolved from the chunk. The mutex serializes every use of the
// interpreter, which is not goroutine-safe.
type instance struct {
	name  string
	entry *lua.LFunction

	mu     sync.Mutex
	L      *lua.LState
	closed bool
}

// newInstance compiles src in a fresh sandboxed interpreter and resolves
// the entry point. The chunk must return a function, or a table whose run
// field is a function.
func newInstance(name string, src []byte) (*instance, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(L)

	inst := &instance{name: name, L: L}

	if err := inst.protect(func() error {
		return L.DoString(string(src))
	}); err != nil {
		L.Close()
		return nil, err
	}

	ret := L.Get(-1)
	L.Pop(1)

	switch v := ret.(type) {
	case *lua.LFunction:
		inst.entry = v
	case *lua.LTable:
		if fn, ok := v.RawGetString("run").(*lua.LFunction); ok {
			inst.entry = fn
		}
	}
	if inst.entry == nil {
		L.Close()
		return nil, ErrNoEntryPoint
	}
	return inst, nil
}

// openSafeLibraries opens only the Lua standard libraries a plugin may
// use. io, os, debug and package stay closed.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

// protect runs fn under the interpreter mutex with panic recovery, so a
// crashing plugin reports an error instead of killing the process.
func (i *instance) protect(fn func() error) (err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return ErrRuntimeClosed
	}
	defer func() {
		if r := recover(); r != nil {
			switch v := r.(type) {
			case error:
				err = v
			case string:
				err = errors.New(v)
			default:
				err = fmt.Errorf("lua panic: %v", r)
			}
		}
	}()
	return fn()
}

// run invokes the entry function with the host API tables.
func (i *instance) run(h *host) error {
	return i.protect(func() error {
		i.L.Push(i.entry)
		i.L.Push(h.sessionTable(i.L))
		i.L.Push(toLuaValue(i.L, h.config))
		i.L.Push(h.logTable(i.L))
		i.L.Push(i.L.NewFunction(h.emitFunc()))
		return i.L.PCall(4, 0, nil)
	})
}

// callHandler invokes a Lua handler previously registered via session.on.
func (i *instance) callHandler(fn *lua.LFunction, data map[string]any) error {
	return i.protect(func() error {
		i.L.Push(fn)
		i.L.Push(toLuaValue(i.L, data))
		return i.L.PCall(1, 0, nil)
	})
}

func (i *instance) close() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return
	}
	i.closed = true
	i.L.Close()
}

// host carries the Go side of the plugin API: the live session, the
// plugin's settings config, its state store slice, and the event bridge.
type host struct {
	plugin  string
	inst    *instance
	current func() session.Session
	config  map[string]any
	store   *state.Store
	logger  *slog.Logger
	publish func(topic string, data any)
}

// sessionTable builds the session table handed to run. Actions taken
// while disconnected raise a Lua error the plugin can pcall around;
// handler registration is dropped with a warning instead, since the
// next connect re-runs the plugin against the live session.
func (h *host) sessionTable(L *lua.LState) *lua.LTable {
	t := L.NewTable()

	t.RawSetString("send", L.NewFunction(func(L *lua.LState) int {
		kind := L.CheckString(1)
		var data map[string]any
		if L.GetTop() >= 2 {
			if m, ok := toGoValue(L.CheckTable(2)).(map[string]any); ok {
				data = m
			}
		}
		s := h.current()
		if s == nil {
			L.RaiseError("not connected")
			return 0
		}
		ctx, cancel := context.WithTimeout(context.Background(), hostCallTimeout)
		defer cancel()
		if err := s.Send(ctx, kind, data); err != nil {
			L.RaiseError("send: %s", err.Error())
			return 0
		}
		return 0
	}))

	t.RawSetString("position", L.NewFunction(func(L *lua.LState) int {
		s := h.current()
		if s == nil {
			L.Push(lua.LNil)
			return 1
		}
		pos := s.Position()
		out := L.NewTable()
		out.RawSetString("x", lua.LNumber(pos.X))
		out.RawSetString("y", lua.LNumber(pos.Y))
		out.RawSetString("z", lua.LNumber(pos.Z))
		L.Push(out)
		return 1
	}))

	t.RawSetString("username", L.NewFunction(func(L *lua.LState) int {
		s := h.current()
		if s == nil {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(s.Info().Username))
		return 1
	}))

	t.RawSetString("on", L.NewFunction(func(L *lua.LState) int {
		kind := L.CheckString(1)
		fn := L.CheckFunction(2)
		s := h.current()
		if s == nil {
			h.logger.Warn("handler registered while disconnected, dropped", "event", kind)
			return 0
		}
		inst := h.inst
		logger := h.logger
		s.On(h.plugin, kind, func(data map[string]any) {
			if err := inst.callHandler(fn, data); err != nil {
				logger.Warn("plugin event handler failed", "event", kind, "error", err)
			}
		})
		return 0
	}))

	t.RawSetString("state", h.stateTable(L))
	return t
}

// stateTable exposes the plugin's persistent state slice.
func (h *host) stateTable(L *lua.LState) *lua.LTable {
	t := L.NewTable()

	t.RawSetString("get", L.NewFunction(func(L *lua.LState) int {
		ctx, cancel := context.WithTimeout(context.Background(), hostCallTimeout)
		defer cancel()
		raw, err := h.store.Get(ctx, h.plugin)
		if err != nil {
			L.RaiseError("state get: %s", err.Error())
			return 0
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			L.RaiseError("state get: %s", err.Error())
			return 0
		}
		L.Push(toLuaValue(L, m))
		return 1
	}))

	t.RawSetString("set", L.NewFunction(func(L *lua.LState) int {
		updates, ok := toGoValue(L.CheckTable(1)).(map[string]any)
		if !ok {
			L.RaiseError("state set: expected a table of keys")
			return 0
		}
		raw, err := json.Marshal(updates)
		if err != nil {
			L.RaiseError("state set: %s", err.Error())
			return 0
		}
		ctx, cancel := context.WithTimeout(context.Background(), hostCallTimeout)
		defer cancel()
		if _, err := h.store.ShallowMerge(ctx, h.plugin, raw); err != nil {
			L.RaiseError("state set: %s", err.Error())
			return 0
		}
		return 0
	}))

	return t
}

// logTable exposes leveled logging tagged with the plugin name.
func (h *host) logTable(L *lua.LState) *lua.LTable {
	t := L.NewTable()
	for level, fn := range map[string]func(string, ...any){
		"debug": h.logger.Debug,
		"info":  h.logger.Info,
		"warn":  h.logger.Warn,
		"error": h.logger.Error,
	} {
		logFn := fn
		t.RawSetString(level, L.NewFunction(func(L *lua.LState) int {
			logFn(L.CheckString(1))
			return 0
		}))
	}
	return t
}

// emitFunc exposes emit(topic, data) publishing through the event bridge.
func (h *host) emitFunc() lua.LGFunction {
	return func(L *lua.LState) int {
		topic := L.CheckString(1)
		var data any
		if L.GetTop() >= 2 {
			data = toGoValue(L.Get(2))
		}
		h.publish(topic, data)
		return 0
	}
}
