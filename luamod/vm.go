package luamod

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/keymod"
)

// Default limits for script execution.
const (
	// DefaultQueueSize is the number of calls that can be buffered
	// before callers block.
	DefaultQueueSize = 64
)

// luaCall is one operation marshalled onto the vm goroutine.
type luaCall struct {
	fn     func(L *lua.LState) (lua.LValue, error)
	result chan callResult
}

type callResult struct {
	value lua.LValue
	err   error
}

// vm owns a sandboxed Lua state for one script module.
//
// gopher-lua's LState is not goroutine-safe, so every operation after
// construction is funnelled through a queue serviced by a single
// goroutine. This also serializes registry mutation for the module, so a
// script never observes interleaved load calls.
type vm struct {
	L      *lua.LState
	queue  chan *luaCall
	closed atomic.Bool
	done   chan struct{}

	closeOnce sync.Once
}

// newVM creates a sandboxed state, runs the script file, and starts the
// worker goroutine. After newVM returns, the state is touched only by the
// worker.
func newVM(path string, queueSize int) (*vm, error) {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(L)
	installSandbox(L)

	if err := runWithRecovery(func() error { return L.DoFile(path) }); err != nil {
		L.Close()
		return nil, fmt.Errorf("loading script %s: %w", path, err)
	}

	m := &vm{
		L:     L,
		queue: make(chan *luaCall, queueSize),
		done:  make(chan struct{}),
	}
	go m.run()
	return m, nil
}

// openSafeLibraries opens only the Lua standard libraries a module script
// may use. io, os, debug and package stay closed.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

// installSandbox removes base functions that could load code from outside
// the script.
func installSandbox(L *lua.LState) {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		L.SetGlobal(name, lua.LNil)
	}
}

// run services the call queue until Close. Must be the only goroutine
// touching the LState.
func (m *vm) run() {
	defer m.L.Close()
	for {
		select {
		case <-m.done:
			m.drain()
			return
		case call := <-m.queue:
			value, err := m.executeCall(call)
			call.result <- callResult{value: value, err: err}
			close(call.result)
		}
	}
}

// executeCall runs a single operation with panic recovery.
func (m *vm) executeCall(call *luaCall) (value lua.LValue, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return call.fn(m.L)
}

// drain fails queued calls after shutdown.
func (m *vm) drain() {
	for {
		select {
		case call := <-m.queue:
			call.result <- callResult{err: keymod.ErrModuleClosed}
			close(call.result)
		default:
			return
		}
	}
}

// do runs fn on the vm goroutine and waits for its result.
func (m *vm) do(ctx context.Context, fn func(L *lua.LState) (lua.LValue, error)) (lua.LValue, error) {
	if m.closed.Load() {
		return lua.LNil, keymod.ErrModuleClosed
	}

	call := &luaCall{fn: fn, result: make(chan callResult, 1)}

	select {
	case <-ctx.Done():
		return lua.LNil, ctx.Err()
	case <-m.done:
		return lua.LNil, keymod.ErrModuleClosed
	case m.queue <- call:
	}

	select {
	case <-ctx.Done():
		// The call may still run; its buffered result is discarded.
		return lua.LNil, ctx.Err()
	case res := <-call.result:
		return res.value, res.err
	}
}

// call invokes a global script function with the given arguments and
// returns its single result.
func (m *vm) call(ctx context.Context, name string, args ...lua.LValue) (any, error) {
	value, err := m.do(ctx, func(L *lua.LState) (lua.LValue, error) {
		fnVal := L.GetGlobal(name)
		if fnVal.Type() != lua.LTFunction {
			return lua.LNil, fmt.Errorf("%w: %s", ErrNotImplemented, name)
		}

		if err := L.CallByParam(lua.P{Fn: fnVal, NRet: 1, Protect: true}, args...); err != nil {
			return lua.LNil, fmt.Errorf("calling %s: %w", name, err)
		}
		ret := L.Get(-1)
		L.Pop(1)
		return ret, nil
	})
	if err != nil {
		return nil, err
	}
	return luaToGo(value), nil
}

// close stops the worker. Queued calls fail with the closed error.
func (m *vm) close() {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		close(m.done)
	})
}

// runWithRecovery converts a Lua panic into an error.
func runWithRecovery(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}
