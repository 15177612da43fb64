// Package module discovers, owns and dispatches to driver and function
// modules on behalf of the key server.
//
// A module lives in its own directory under one of the configured search
// paths and declares itself with a meta.json manifest. Script modules
// are run through luamod; compiled-in modules are registered directly.
// The manager keys every operation by module name and forwards it to the
// module's registry, so the host talks to one surface regardless of how
// a module is implemented.
package module

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/keymod"
	"github.com/dshills/keymod/luamod"
)

// Manager errors.
var (
	// ErrDuplicateModule is returned when a module name is already
	// taken.
	ErrDuplicateModule = errors.New("module name already registered")

	// ErrManagerClosed is returned after Close.
	ErrManagerClosed = errors.New("manager is closed")
)

// entry is one owned module. info is nil for modules registered from Go
// rather than discovered on disk.
type entry struct {
	id     string
	info   *Info
	driver keymod.Driver
	fn     keymod.Function
}

// closer matches the optional Close method on module implementations.
type closer interface {
	Close() error
}

// Manager owns all loaded modules and dispatches host operations to
// them by module name.
type Manager struct {
	mu sync.RWMutex

	cfg     Config
	log     *zap.Logger
	loader  *Loader
	timeout time.Duration

	drivers   map[string]*entry
	functions map[string]*entry

	closed bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger. Defaults to a nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// NewManager creates a manager for the given configuration.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	timeout, err := cfg.callTimeout()
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:       cfg,
		log:       zap.NewNop(),
		loader:    NewLoader(cfg.ModulePaths...),
		timeout:   timeout,
		drivers:   make(map[string]*entry),
		functions: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// RegisterDriver adds a compiled-in driver module under the given name.
func (m *Manager) RegisterDriver(name string, d keymod.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	if m.taken(name) {
		return fmt.Errorf("%w: %q", ErrDuplicateModule, name)
	}

	m.drivers[name] = &entry{id: uuid.New().String(), driver: d}
	m.log.Info("driver module registered", zap.String("module", name))
	return nil
}

// RegisterFunction adds a compiled-in function module under the given
// name.
func (m *Manager) RegisterFunction(name string, f keymod.Function) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	if m.taken(name) {
		return fmt.Errorf("%w: %q", ErrDuplicateModule, name)
	}

	m.functions[name] = &entry{id: uuid.New().String(), fn: f}
	m.log.Info("function module registered", zap.String("module", name))
	return nil
}

// LoadModules discovers script modules in the search paths and starts
// them. Modules that fail to start are logged and skipped; discovery
// itself only fails on configuration problems, so a bad module never
// takes the host down.
func (m *Manager) LoadModules(_ context.Context) error {
	infos, problems := m.loader.Discover()
	for _, err := range problems {
		m.log.Warn("skipping module with bad manifest", zap.Error(err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}

	for _, info := range infos {
		if m.taken(info.Name) {
			m.log.Warn("skipping module with duplicate name",
				zap.String("module", info.Name),
				zap.String("dir", info.Dir),
			)
			continue
		}
		if err := m.startLocked(info); err != nil {
			m.log.Warn("module failed to start",
				zap.String("module", info.Name),
				zap.String("script", info.Script),
				zap.Error(err),
			)
		}
	}
	return nil
}

// startLocked opens a script module and stores its entry. Callers must
// hold m.mu.
func (m *Manager) startLocked(info *Info) error {
	e := &entry{id: uuid.New().String(), info: info}
	opts := []luamod.Option{luamod.WithQueueSize(m.cfg.QueueSize)}

	switch info.Meta.Type {
	case TypeDriver:
		d, err := luamod.OpenDriver(info.Script, opts...)
		if err != nil {
			return err
		}
		e.driver = d
		m.drivers[info.Name] = e
	case TypeFunction:
		f, err := luamod.OpenFunction(info.Script, opts...)
		if err != nil {
			return err
		}
		e.fn = f
		m.functions[info.Name] = e
	default:
		return fmt.Errorf("%w: %q", ErrBadMetaType, info.Meta.Type)
	}

	m.log.Info("module started",
		zap.String("module", info.Name),
		zap.String("type", string(info.Meta.Type)),
		zap.String("instance", e.id),
	)
	return nil
}

// LoadDriver asks the named driver module for a new instance.
func (m *Manager) LoadDriver(ctx context.Context, module string, data keymod.Data) (int, error) {
	e, err := m.driverEntry(module)
	if err != nil {
		return 0, err
	}
	ctx, cancel := m.opCtx(ctx)
	defer cancel()
	return e.driver.LoadData(ctx, data)
}

// DriverPoll returns the state vector of a driver instance.
func (m *Manager) DriverPoll(ctx context.Context, module string, id int) ([]uint16, error) {
	e, err := m.driverEntry(module)
	if err != nil {
		return nil, err
	}
	ctx, cancel := m.opCtx(ctx)
	defer cancel()
	return e.driver.Poll(ctx, id)
}

// DriverSet overwrites one element of a driver instance's state vector.
func (m *Manager) DriverSet(ctx context.Context, module string, id, idx int, state uint16) error {
	e, err := m.driverEntry(module)
	if err != nil {
		return err
	}
	ctx, cancel := m.opCtx(ctx)
	defer cancel()
	return e.driver.Set(ctx, id, idx, state)
}

// DriverName returns the declared name of a driver instance.
func (m *Manager) DriverName(ctx context.Context, module string, id int) (string, error) {
	e, err := m.driverEntry(module)
	if err != nil {
		return "", err
	}
	ctx, cancel := m.opCtx(ctx)
	defer cancel()
	return e.driver.Name(ctx, id)
}

// LoadFunction asks the named function module for a new instance.
func (m *Manager) LoadFunction(ctx context.Context, module string, data keymod.Data) (int, error) {
	e, err := m.functionEntry(module)
	if err != nil {
		return 0, err
	}
	ctx, cancel := m.opCtx(ctx)
	defer cancel()
	return e.fn.LoadData(ctx, data)
}

// FunctionEvent pushes a polled state to a function instance.
func (m *Manager) FunctionEvent(ctx context.Context, module string, id int, state uint16) error {
	e, err := m.functionEntry(module)
	if err != nil {
		return err
	}
	ctx, cancel := m.opCtx(ctx)
	defer cancel()
	return e.fn.Event(ctx, id, state)
}

// Drivers returns the names of loaded driver modules, sorted.
func (m *Manager) Drivers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedNames(m.drivers)
}

// Functions returns the names of loaded function modules, sorted.
func (m *Manager) Functions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedNames(m.functions)
}

// Close shuts down all script modules. Registered Go modules without a
// Close method are left alone.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	for name, e := range m.drivers {
		closeImpl(e.driver)
		delete(m.drivers, name)
	}
	for name, e := range m.functions {
		closeImpl(e.fn)
		delete(m.functions, name)
	}
	return nil
}

// reload restarts the script module with the given name, replacing its
// registry with a fresh, empty one. Registries are in-memory only, so a
// reload drops all instances by design of the storage model.
func (m *Manager) reload(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}

	e, ok := m.drivers[name]
	if !ok {
		if e, ok = m.functions[name]; !ok {
			return fmt.Errorf("%w: %q", keymod.ErrNoSuchModule, name)
		}
	}
	if e.info == nil {
		return fmt.Errorf("module %q is not a script module", name)
	}

	old := e
	delete(m.drivers, name)
	delete(m.functions, name)

	if err := m.startLocked(old.info); err != nil {
		// Keep the old instance running rather than losing the module.
		if old.driver != nil {
			m.drivers[name] = old
		} else {
			m.functions[name] = old
		}
		return err
	}

	if old.driver != nil {
		closeImpl(old.driver)
	} else {
		closeImpl(old.fn)
	}
	m.log.Info("module reloaded", zap.String("module", name))
	return nil
}

// driverEntry looks up a driver module by name.
func (m *Manager) driverEntry(name string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	e, ok := m.drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w: driver module %q", keymod.ErrNoSuchModule, name)
	}
	return e, nil
}

// functionEntry looks up a function module by name.
func (m *Manager) functionEntry(name string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	e, ok := m.functions[name]
	if !ok {
		return nil, fmt.Errorf("%w: function module %q", keymod.ErrNoSuchModule, name)
	}
	return e, nil
}

// taken reports whether a module name is in use. Callers must hold m.mu.
func (m *Manager) taken(name string) bool {
	if _, ok := m.drivers[name]; ok {
		return true
	}
	_, ok := m.functions[name]
	return ok
}

// opCtx bounds a module call with the configured timeout.
func (m *Manager) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.timeout)
}

func closeImpl(impl any) {
	if c, ok := impl.(closer); ok {
		_ = c.Close()
	}
}

func sortedNames(entries map[string]*entry) []string {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
