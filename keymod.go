// Package keymod defines the module boundary of a key-input host.
//
// A key server delegates hardware state sources ("drivers") and software
// state sinks ("functions") to independently loadable modules. Each module
// owns a registry of configured instances: the host hands a module a type
// name plus an opaque configuration payload, receives a stable integer
// handle back, and thereafter polls driver state or pushes function events
// by handle. Handles are assigned sequentially per registry, starting at
// zero, and are never reused or invalidated.
//
// The root package carries the contract itself: the Data record passed
// from the host, the Driver and Function interfaces every module
// implements, and the error taxonomy shared by all of them. Reference
// implementations live in the driver and function packages, Lua-scripted
// modules in luamod, and module discovery and dispatch in module.
package keymod

import "context"

// Data is the configuration record the key server passes to a module when
// it requests a new instance.
type Data struct {
	// Name selects the instance type within the module. Some modules
	// support exactly one type and ignore it; others dispatch on it.
	Name string `json:"name"`

	// Data is the opaque configuration payload, a serialized JSON blob.
	// The module validates it before accepting the instance.
	Data string `json:"data"`
}

// Driver is implemented by modules that own state-source instances.
// Every instance exposes a fixed-length vector of channel states that the
// host polls; handles index into the module's registry.
type Driver interface {
	// LoadData validates data and, on success, appends a new driver
	// instance and returns its handle. A failed load never grows the
	// registry.
	LoadData(ctx context.Context, data Data) (int, error)

	// Poll returns a copy of the current state vector for the driver
	// with the given handle.
	Poll(ctx context.Context, id int) ([]uint16, error)

	// Set overwrites a single element of a driver's state vector,
	// leaving all others unchanged.
	Set(ctx context.Context, id int, idx int, state uint16) error

	// Name returns the declared name of the driver with the given
	// handle.
	Name(ctx context.Context, id int) (string, error)
}

// Function is implemented by modules that own state-sink instances.
// An instance reacts to pushed state transitions: its side effect fires on
// a rising edge (zero to nonzero) and never on repeats or release.
type Function interface {
	// LoadData validates data and, on success, appends a new function
	// instance with a zeroed previous-state snapshot and returns its
	// handle.
	LoadData(ctx context.Context, data Data) (int, error)

	// Event pushes the polled state for the function with the given
	// handle. The previous-state snapshot is overwritten whether or
	// not the side effect fired.
	Event(ctx context.Context, id int, state uint16) error
}
