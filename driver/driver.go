// Package driver implements the built-in state-source registry.
//
// A Registry is one driver module: the key server loads instances into it
// by type name and payload, then polls their state vectors by handle. Two
// instance kinds are built in. Const drivers declare a name and a fixed
// state vector, mirroring layer-selector style sources. Pin drivers are
// anonymous sampled-channel sources configured with a state vector only.
//
// Handles are indices into the registry's creation order. Instances are
// never removed, so a handle stays valid for the life of the process.
package driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/dshills/keymod"
	"github.com/dshills/keymod/payload"
)

// Kind identifies a built-in driver instance type.
type Kind int

const (
	// KindConst is a named driver with a caller-supplied state vector.
	KindConst Kind = iota

	// KindPin is an anonymous driver configured with a state vector
	// only.
	KindPin
)

// String returns the type name the registry dispatches on.
func (k Kind) String() string {
	switch k {
	case KindConst:
		return "Const"
	case KindPin:
		return "Pin"
	default:
		return "unknown"
	}
}

// kindFromName resolves a type name to a Kind.
func kindFromName(name string) (Kind, bool) {
	switch name {
	case "Const":
		return KindConst, true
	case "Pin":
		return KindPin, true
	default:
		return 0, false
	}
}

// schemaFor returns the payload schema a kind validates against.
func schemaFor(kind Kind) payload.Schema {
	switch kind {
	case KindConst:
		return payload.Schema{Name: payload.Required, State: payload.Required}
	default:
		return payload.Schema{State: payload.Required}
	}
}

// instance is a single loaded driver.
type instance struct {
	kind  Kind
	name  string
	state []uint16
}

// Registry owns driver instances and implements keymod.Driver.
// All methods are safe for concurrent use; mutation is serialized so
// handle assignment stays append-and-return-new-size-minus-one.
type Registry struct {
	mu      sync.RWMutex
	drivers []*instance
}

var _ keymod.Driver = (*Registry)(nil)

// NewRegistry creates an empty driver registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// LoadData validates data and appends a new driver instance.
// Returns the handle of the new instance, equal to the registry size
// before the append. Validation failures leave the registry untouched.
func (r *Registry) LoadData(_ context.Context, data keymod.Data) (int, error) {
	kind, ok := kindFromName(data.Name)
	if !ok {
		return 0, fmt.Errorf("%w: %q", keymod.ErrUnknownType, data.Name)
	}

	cfg, err := schemaFor(kind).Validate(data.Data)
	if err != nil {
		return 0, err
	}

	inst := &instance{kind: kind, state: cfg.State}
	switch kind {
	case KindConst:
		inst.name = cfg.Name
	default:
		inst.name = kind.String()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers = append(r.drivers, inst)
	return len(r.drivers) - 1, nil
}

// Poll returns a copy of the state vector for the driver with the given
// handle.
func (r *Registry) Poll(_ context.Context, id int) ([]uint16, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	state := make([]uint16, len(inst.state))
	copy(state, inst.state)
	return state, nil
}

// Set overwrites one element of a driver's state vector.
func (r *Registry) Set(_ context.Context, id int, idx int, state uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, err := r.lookup(id)
	if err != nil {
		return err
	}
	if idx < 0 || idx >= len(inst.state) {
		return fmt.Errorf("%w: index %d, state length %d", keymod.ErrIndexOutOfBounds, idx, len(inst.state))
	}

	inst.state[idx] = state
	return nil
}

// Name returns the declared name of the driver with the given handle.
// Pin drivers report their kind name.
func (r *Registry) Name(_ context.Context, id int) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, err := r.lookup(id)
	if err != nil {
		return "", err
	}
	return inst.name, nil
}

// Len returns the number of loaded instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.drivers)
}

// lookup bounds-checks a handle. Callers must hold r.mu.
func (r *Registry) lookup(id int) (*instance, error) {
	if id < 0 || id >= len(r.drivers) {
		return nil, fmt.Errorf("%w: driver %d", keymod.ErrUnknownID, id)
	}
	return r.drivers[id], nil
}
