// Package luamod runs driver and function modules written as Lua scripts.
//
// A script implements the same contract as a compiled module: global
// functions load_data(name, data), poll(id), set(id, idx, state) and
// name(id) for drivers, or load_data(name, data) and event(id, state) for
// functions. Each call returns a table with an "ok" or an "err" field;
// operations with no success payload may return nothing at all.
//
// Scripts run in a sandboxed state with io, os and code-loading
// primitives removed, and every call is serialized on a single goroutine
// owned by the module. A script failure is returned to the host as an
// error, never as a panic.
package luamod

import (
	"context"
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/keymod"
	"github.com/dshills/keymod/result"
)

// Script boundary errors.
var (
	// ErrNotImplemented is returned when a script lacks a contract
	// function.
	ErrNotImplemented = errors.New("script does not implement function")

	// ErrBadReturn is returned when a script's ok value has the wrong
	// shape for the operation.
	ErrBadReturn = errors.New("script returned unexpected value")
)

// ScriptError is an error description a script returned through the err
// side of its result envelope.
type ScriptError struct {
	Msg string
}

// Error implements the error interface.
func (e *ScriptError) Error() string {
	return e.Msg
}

// Option configures a script module.
type Option func(*options)

type options struct {
	queueSize int
}

// WithQueueSize sets how many calls may be buffered before callers block.
func WithQueueSize(n int) Option {
	return func(o *options) {
		o.queueSize = n
	}
}

// Driver is a driver module backed by a Lua script.
type Driver struct {
	vm *vm
}

var _ keymod.Driver = (*Driver)(nil)

// OpenDriver loads and runs the script at path and returns a driver
// module bound to it.
func OpenDriver(path string, opts ...Option) (*Driver, error) {
	o := applyOptions(opts)
	m, err := newVM(path, o.queueSize)
	if err != nil {
		return nil, err
	}
	return &Driver{vm: m}, nil
}

// LoadData asks the script to validate data and create a new instance.
func (d *Driver) LoadData(ctx context.Context, data keymod.Data) (int, error) {
	v, err := valueCall(ctx, d.vm, "load_data", dataArgs(data)...)
	if err != nil {
		return 0, err
	}
	return toHandle(v)
}

// Poll returns the script instance's current state vector.
func (d *Driver) Poll(ctx context.Context, id int) ([]uint16, error) {
	v, err := valueCall(ctx, d.vm, "poll", luaInt(id))
	if err != nil {
		return nil, err
	}
	return toStates(v)
}

// Set overwrites one element of the script instance's state vector.
func (d *Driver) Set(ctx context.Context, id int, idx int, state uint16) error {
	return unitCall(ctx, d.vm, "set", luaInt(id), luaInt(idx), luaInt(int(state)))
}

// Name returns the declared name of the script instance.
func (d *Driver) Name(ctx context.Context, id int) (string, error) {
	v, err := valueCall(ctx, d.vm, "name", luaInt(id))
	if err != nil {
		return "", err
	}
	return toName(v)
}

// Close shuts down the module's worker goroutine.
func (d *Driver) Close() error {
	d.vm.close()
	return nil
}

// Function is a function module backed by a Lua script.
type Function struct {
	vm *vm
}

var _ keymod.Function = (*Function)(nil)

// OpenFunction loads and runs the script at path and returns a function
// module bound to it.
func OpenFunction(path string, opts ...Option) (*Function, error) {
	o := applyOptions(opts)
	m, err := newVM(path, o.queueSize)
	if err != nil {
		return nil, err
	}
	return &Function{vm: m}, nil
}

// LoadData asks the script to validate data and create a new instance.
func (f *Function) LoadData(ctx context.Context, data keymod.Data) (int, error) {
	v, err := valueCall(ctx, f.vm, "load_data", dataArgs(data)...)
	if err != nil {
		return 0, err
	}
	return toHandle(v)
}

// Event pushes a polled state to the script instance.
func (f *Function) Event(ctx context.Context, id int, state uint16) error {
	return unitCall(ctx, f.vm, "event", luaInt(id), luaInt(int(state)))
}

// Close shuts down the module's worker goroutine.
func (f *Function) Close() error {
	f.vm.close()
	return nil
}

// valueCall invokes a script function that must return a success value
// through the result envelope.
func valueCall(ctx context.Context, m *vm, name string, args ...lua.LValue) (any, error) {
	v, err := m.call(ctx, name, args...)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("%w: %s returned nothing", ErrBadReturn, name)
	}

	env, err := result.FromValue(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if env.IsErr() {
		return nil, &ScriptError{Msg: env.Err}
	}
	return env.OK, nil
}

// unitCall invokes a script function with no success payload. A nil
// return counts as success.
func unitCall(ctx context.Context, m *vm, name string, args ...lua.LValue) error {
	v, err := m.call(ctx, name, args...)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}

	env, err := result.FromValue(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if env.IsErr() {
		return &ScriptError{Msg: env.Err}
	}
	return nil
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
