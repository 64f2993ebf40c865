// Package script loads an optional user Lua hook that can redirect
// time warps before the session commits to a destination.
//
// The script defines a global function:
//
//	function adjust_warp(point, time, has_frames)
//	  -- return nil to keep the requested destination, or
//	  -- return point, time, has_frames to replace it
//	end
//
// A hook that errors or returns malformed values keeps the requested
// destination; warping must never fail because of a user script.
package script

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/retrace/internal/logging"
	"github.com/dshills/retrace/internal/protocol"
	"github.com/dshills/retrace/internal/session"
)

// adjustFn is the global the script must define.
const adjustFn = "adjust_warp"

// Adjuster runs a user Lua script as the session's warp hook.
//
// lua.LState is not goroutine-safe. All calls into the state are
// serialized by the mutex; the session only consults the hook from one
// warp at a time, but Close may race with a late warp.
type Adjuster struct {
	mu     sync.Mutex
	L      *lua.LState
	logger *logging.Logger
	closed bool
}

// Load compiles the script at path and verifies it defines adjust_warp.
func Load(path string, logger *logging.Logger) (*Adjuster, error) {
	return load(logger, func(L *lua.LState) error { return L.DoFile(path) })
}

// LoadString compiles an inline script and verifies it defines adjust_warp.
func LoadString(source string, logger *logging.Logger) (*Adjuster, error) {
	return load(logger, func(L *lua.LState) error { return L.DoString(source) })
}

func load(logger *logging.Logger, run func(*lua.LState) error) (*Adjuster, error) {
	if logger == nil {
		logger = logging.Null
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs: true, // open selectively below
	})
	openSafeLibraries(L)

	if err := runWithRecovery(L, run); err != nil {
		L.Close()
		return nil, fmt.Errorf("load warp script: %w", err)
	}

	fn := L.GetGlobal(adjustFn)
	if fn == lua.LNil {
		L.Close()
		return nil, fmt.Errorf("warp script does not define %s", adjustFn)
	}
	if fn.Type() != lua.LTFunction {
		L.Close()
		return nil, fmt.Errorf("warp script global %s is a %s, not a function", adjustFn, fn.Type())
	}

	return &Adjuster{L: L, logger: logger.WithComponent("script")}, nil
}

// openSafeLibraries opens only side-effect-free Lua standard libraries.
// io, os, debug, and package stay closed; the hook computes a
// destination and nothing else.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

// AdjustWarp calls the script with the requested destination. It
// returns the replacement and true when the script supplies one, and
// the original position and false otherwise.
func (a *Adjuster) AdjustWarp(pos session.Position) (session.Position, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return pos, false
	}

	results, err := a.call(pos)
	if err != nil {
		a.logger.Warn("warp hook failed at %s: %v", pos.Point, err)
		return pos, false
	}

	adjusted, ok := decode(pos, results)
	if !ok {
		return pos, false
	}
	if adjusted == pos {
		// Same destination returned; nothing to apply.
		return pos, false
	}
	a.logger.Debug("warp hook moved %s to %s", pos.Point, adjusted.Point)
	return adjusted, true
}

// call invokes adjust_warp and collects every return value.
func (a *Adjuster) call(pos session.Position) (results []lua.LValue, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()

	top := a.L.GetTop()
	a.L.Push(a.L.GetGlobal(adjustFn))
	a.L.Push(lua.LString(pos.Point))
	a.L.Push(lua.LNumber(pos.Time))
	a.L.Push(lua.LBool(pos.HasFrames))

	if err := a.L.PCall(3, lua.MultRet, nil); err != nil {
		return nil, err
	}

	n := a.L.GetTop() - top
	results = make([]lua.LValue, n)
	for i := 0; i < n; i++ {
		results[i] = a.L.Get(top + i + 1)
	}
	a.L.Pop(n)
	return results, nil
}

// decode maps the script's return values onto a destination. A missing
// or nil first value keeps the original; trailing values default to the
// original's fields.
func decode(pos session.Position, results []lua.LValue) (session.Position, bool) {
	if len(results) == 0 || results[0] == lua.LNil {
		return pos, false
	}

	point, ok := results[0].(lua.LString)
	if !ok || point == "" {
		return pos, false
	}

	adjusted := session.Position{
		Point:     protocol.Point(point),
		Time:      pos.Time,
		HasFrames: pos.HasFrames,
	}
	if len(results) > 1 {
		if t, ok := results[1].(lua.LNumber); ok {
			adjusted.Time = float64(t)
		}
	}
	if len(results) > 2 {
		if f, ok := results[2].(lua.LBool); ok {
			adjusted.HasFrames = bool(f)
		}
	}
	return adjusted, true
}

func runWithRecovery(L *lua.LState, run func(*lua.LState) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return run(L)
}

// Close releases the Lua state. Subsequent AdjustWarp calls keep the
// requested destination.
func (a *Adjuster) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.L.Close()
	a.closed = true
	return nil
}
