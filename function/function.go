// Package function implements the built-in state-sink registry.
//
// A Registry is one function module: the key server loads instances by
// type name and payload, then pushes the polled state for each instance
// every tick. An instance's side effect fires only on a rising edge, a
// zero to nonzero transition of its signal, so holding a key emits the
// effect exactly once. The previous signal is overwritten after every
// event whether or not the effect fired.
//
// Two kinds are built in. Print writes its payload text to the registry's
// output writer. Log emits a structured log record carrying the payload.
package function

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/keymod"
)

// Kind identifies a built-in function instance type.
type Kind int

const (
	// KindPrint writes the payload to the registry's output on a
	// rising edge.
	KindPrint Kind = iota

	// KindLog emits a structured log record on a rising edge.
	KindLog
)

// String returns the type name the registry dispatches on.
func (k Kind) String() string {
	switch k {
	case KindPrint:
		return "Print"
	case KindLog:
		return "Log"
	default:
		return "unknown"
	}
}

// kindFromName resolves a type name to a Kind.
func kindFromName(name string) (Kind, bool) {
	switch name {
	case "Print":
		return KindPrint, true
	case "Log":
		return KindLog, true
	default:
		return 0, false
	}
}

// instance is a single loaded function. The payload is stored verbatim;
// prev is the signal from the last event.
type instance struct {
	kind    Kind
	payload string
	prev    uint16
}

// Registry owns function instances and implements keymod.Function.
type Registry struct {
	mu    sync.Mutex
	funcs []*instance

	out io.Writer
	log *zap.Logger
}

var _ keymod.Function = (*Registry)(nil)

// Option configures a Registry.
type Option func(*Registry)

// WithOutput sets the writer Print functions emit to.
func WithOutput(w io.Writer) Option {
	return func(r *Registry) {
		r.out = w
	}
}

// WithLogger sets the logger Log functions emit to.
func WithLogger(log *zap.Logger) Option {
	return func(r *Registry) {
		r.log = log
	}
}

// NewRegistry creates an empty function registry.
// Print output defaults to stdout; logging defaults to a nop logger.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		out: os.Stdout,
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LoadData appends a new function instance and returns its handle.
// The payload is stored verbatim with a zeroed previous-state snapshot;
// unknown type names are rejected without growing the registry.
func (r *Registry) LoadData(_ context.Context, data keymod.Data) (int, error) {
	kind, ok := kindFromName(data.Name)
	if !ok {
		return 0, fmt.Errorf("%w: %q", keymod.ErrUnknownType, data.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs = append(r.funcs, &instance{kind: kind, payload: data.Data})
	return len(r.funcs) - 1, nil
}

// Event pushes the polled signal for the function with the given handle.
// The side effect fires when state is nonzero and the stored previous
// signal was zero; the snapshot is then overwritten unconditionally.
func (r *Registry) Event(_ context.Context, id int, state uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id < 0 || id >= len(r.funcs) {
		return fmt.Errorf("%w: function %d", keymod.ErrUnknownID, id)
	}
	inst := r.funcs[id]

	if state != 0 && inst.prev == 0 {
		r.fire(inst, state)
	}
	inst.prev = state
	return nil
}

// Len returns the number of loaded instances.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.funcs)
}

// fire runs an instance's side effect. Callers must hold r.mu.
func (r *Registry) fire(inst *instance, state uint16) {
	switch inst.kind {
	case KindPrint:
		fmt.Fprintf(r.out, "Print: %s\n", inst.payload)
	case KindLog:
		r.log.Info("function fired",
			zap.String("payload", inst.payload),
			zap.Uint16("state", state),
		)
	}
}
