package module

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dshills/keymod"
	"github.com/dshills/keymod/driver"
	"github.com/dshills/keymod/function"
)

const driverScript = `
local instances = {}

function load_data(name, data)
	local states = {}
	for s in string.gmatch(data, "%d+") do
		states[#states + 1] = tonumber(s)
	end
	instances[#instances + 1] = { name = name, states = states }
	return { ok = #instances - 1 }
end

function poll(id)
	local inst = instances[id + 1]
	if not inst then return { err = "unknown id" } end
	return { ok = inst.states }
end

function set(id, idx, state)
	local inst = instances[id + 1]
	if not inst then return { err = "unknown id" } end
	inst.states[idx + 1] = state
end

function name(id)
	local inst = instances[id + 1]
	if not inst then return { err = "unknown id" } end
	return { ok = inst.name }
end
`

const functionScript = `
local instances = {}

function load_data(name, data)
	instances[#instances + 1] = { prev = 0 }
	return { ok = #instances - 1 }
end

function event(id, state)
	local inst = instances[id + 1]
	if not inst then return { err = "unknown id" } end
	inst.prev = state
end
`

// writeScriptModule lays out a complete on-disk module.
func writeScriptModule(t *testing.T, base, dirName, manifest, script string) {
	t.Helper()
	dir := writeModuleDir(t, base, dirName, manifest)
	if err := os.WriteFile(filepath.Join(dir, DefaultMain), []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestManagerRegisteredDriverDispatch(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, DefaultConfig())

	if err := m.RegisterDriver("builtin", driver.NewRegistry()); err != nil {
		t.Fatal(err)
	}

	data := keymod.Data{Name: "Const", Data: `{"name": "Layer0", "state": [0, 0, 1]}`}
	id, err := m.LoadDriver(ctx, "builtin", data)
	if err != nil {
		t.Fatalf("LoadDriver() error = %v", err)
	}
	if id != 0 {
		t.Errorf("LoadDriver() = %d, want 0", id)
	}

	if err := m.DriverSet(ctx, "builtin", id, 1, 7); err != nil {
		t.Fatalf("DriverSet() error = %v", err)
	}
	states, err := m.DriverPoll(ctx, "builtin", id)
	if err != nil {
		t.Fatalf("DriverPoll() error = %v", err)
	}
	want := []uint16{0, 7, 1}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("DriverPoll() = %v, want %v", states, want)
		}
	}

	name, err := m.DriverName(ctx, "builtin", id)
	if err != nil {
		t.Fatalf("DriverName() error = %v", err)
	}
	if name != "Layer0" {
		t.Errorf("DriverName() = %q, want %q", name, "Layer0")
	}
}

func TestManagerRegisteredFunctionDispatch(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, DefaultConfig())

	var buf bytes.Buffer
	if err := m.RegisterFunction("sinks", function.NewRegistry(function.WithOutput(&buf))); err != nil {
		t.Fatal(err)
	}

	id, err := m.LoadFunction(ctx, "sinks", keymod.Data{Name: "Print", Data: "hello"})
	if err != nil {
		t.Fatalf("LoadFunction() error = %v", err)
	}
	if err := m.FunctionEvent(ctx, "sinks", id, 1); err != nil {
		t.Fatalf("FunctionEvent() error = %v", err)
	}
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("output = %q, want the instance payload", buf.String())
	}
}

func TestManagerDuplicateNames(t *testing.T) {
	m := newTestManager(t, DefaultConfig())

	if err := m.RegisterDriver("mod", driver.NewRegistry()); err != nil {
		t.Fatal(err)
	}
	if err := m.RegisterDriver("mod", driver.NewRegistry()); !errors.Is(err, ErrDuplicateModule) {
		t.Errorf("RegisterDriver() error = %v, want ErrDuplicateModule", err)
	}
	// Names are unique across both kinds.
	if err := m.RegisterFunction("mod", function.NewRegistry()); !errors.Is(err, ErrDuplicateModule) {
		t.Errorf("RegisterFunction() error = %v, want ErrDuplicateModule", err)
	}
}

func TestManagerUnknownModule(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, DefaultConfig())

	if _, err := m.LoadDriver(ctx, "ghost", keymod.Data{}); !errors.Is(err, keymod.ErrNoSuchModule) {
		t.Errorf("LoadDriver() error = %v, want ErrNoSuchModule", err)
	}
	if err := m.FunctionEvent(ctx, "ghost", 0, 1); !errors.Is(err, keymod.ErrNoSuchModule) {
		t.Errorf("FunctionEvent() error = %v, want ErrNoSuchModule", err)
	}
}

func TestManagerLoadModules(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	writeScriptModule(t, base, "layers", `{"name": "layers", "type": "driver"}`, driverScript)
	writeScriptModule(t, base, "sinks", `{"name": "sinks", "type": "function"}`, functionScript)

	m := newTestManager(t, Config{ModulePaths: []string{base}})
	if err := m.LoadModules(ctx); err != nil {
		t.Fatalf("LoadModules() error = %v", err)
	}

	if got := m.Drivers(); len(got) != 1 || got[0] != "layers" {
		t.Errorf("Drivers() = %v, want [layers]", got)
	}
	if got := m.Functions(); len(got) != 1 || got[0] != "sinks" {
		t.Errorf("Functions() = %v, want [sinks]", got)
	}

	data := keymod.Data{Name: "Layer0", Data: `{"state": [0, 0, 1]}`}
	id, err := m.LoadDriver(ctx, "layers", data)
	if err != nil {
		t.Fatalf("LoadDriver() error = %v", err)
	}
	states, err := m.DriverPoll(ctx, "layers", id)
	if err != nil {
		t.Fatalf("DriverPoll() error = %v", err)
	}
	if len(states) != 3 || states[2] != 1 {
		t.Errorf("DriverPoll() = %v, want [0 0 1]", states)
	}
	name, err := m.DriverName(ctx, "layers", id)
	if err != nil {
		t.Fatalf("DriverName() error = %v", err)
	}
	if name != "Layer0" {
		t.Errorf("DriverName() = %q, want %q", name, "Layer0")
	}

	fid, err := m.LoadFunction(ctx, "sinks", keymod.Data{Name: "Count"})
	if err != nil {
		t.Fatalf("LoadFunction() error = %v", err)
	}
	if err := m.FunctionEvent(ctx, "sinks", fid, 1); err != nil {
		t.Fatalf("FunctionEvent() error = %v", err)
	}
}

func TestManagerSkipsBrokenModules(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	writeScriptModule(t, base, "good", `{"name": "good", "type": "driver"}`, driverScript)
	writeScriptModule(t, base, "broken", `{"name": "broken", "type": "driver"}`, `function load_data(`)
	writeModuleDir(t, base, "bad-manifest", `{"type": "driver"}`)

	m := newTestManager(t, Config{ModulePaths: []string{base}})
	if err := m.LoadModules(ctx); err != nil {
		t.Fatalf("LoadModules() error = %v", err)
	}
	if got := m.Drivers(); len(got) != 1 || got[0] != "good" {
		t.Errorf("Drivers() = %v, want only the working module", got)
	}
}

func TestManagerReload(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	writeScriptModule(t, base, "layers", `{"name": "layers", "type": "driver"}`, driverScript)

	m := newTestManager(t, Config{ModulePaths: []string{base}})
	if err := m.LoadModules(ctx); err != nil {
		t.Fatal(err)
	}

	id, err := m.LoadDriver(ctx, "layers", keymod.Data{Name: "A", Data: `{"state": [1]}`})
	if err != nil {
		t.Fatal(err)
	}

	if err := m.reload("layers"); err != nil {
		t.Fatalf("reload() error = %v", err)
	}

	// Registries are in-memory: a reload starts from an empty one.
	if _, err := m.DriverPoll(ctx, "layers", id); err == nil {
		t.Error("DriverPoll() after reload error = nil, want unknown id")
	}
	if _, err := m.LoadDriver(ctx, "layers", keymod.Data{Name: "B", Data: `{"state": [2]}`}); err != nil {
		t.Errorf("LoadDriver() after reload error = %v", err)
	}
}

func TestManagerReloadKeepsOldOnFailure(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	writeScriptModule(t, base, "layers", `{"name": "layers", "type": "driver"}`, driverScript)

	m := newTestManager(t, Config{ModulePaths: []string{base}})
	if err := m.LoadModules(ctx); err != nil {
		t.Fatal(err)
	}
	id, err := m.LoadDriver(ctx, "layers", keymod.Data{Name: "A", Data: `{"state": [4]}`})
	if err != nil {
		t.Fatal(err)
	}

	script := filepath.Join(base, "layers", DefaultMain)
	if err := os.WriteFile(script, []byte(`function load_data(`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := m.reload("layers"); err == nil {
		t.Fatal("reload() error = nil, want script load failure")
	}

	// The old instance keeps serving.
	states, err := m.DriverPoll(ctx, "layers", id)
	if err != nil {
		t.Fatalf("DriverPoll() after failed reload error = %v", err)
	}
	if len(states) != 1 || states[0] != 4 {
		t.Errorf("DriverPoll() = %v, want [4]", states)
	}
}

func TestManagerReloadNonScriptModule(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	if err := m.RegisterDriver("builtin", driver.NewRegistry()); err != nil {
		t.Fatal(err)
	}
	if err := m.reload("builtin"); err == nil {
		t.Error("reload() error = nil, want error for compiled-in module")
	}
	if err := m.reload("ghost"); !errors.Is(err, keymod.ErrNoSuchModule) {
		t.Errorf("reload() error = %v, want ErrNoSuchModule", err)
	}
}

func TestManagerClose(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	writeScriptModule(t, base, "layers", `{"name": "layers", "type": "driver"}`, driverScript)

	m := newTestManager(t, Config{ModulePaths: []string{base}})
	if err := m.LoadModules(ctx); err != nil {
		t.Fatal(err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	if _, err := m.LoadDriver(ctx, "layers", keymod.Data{}); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("LoadDriver() after Close error = %v, want ErrManagerClosed", err)
	}
	if err := m.RegisterDriver("late", driver.NewRegistry()); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("RegisterDriver() after Close error = %v, want ErrManagerClosed", err)
	}
	if err := m.LoadModules(ctx); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("LoadModules() after Close error = %v, want ErrManagerClosed", err)
	}
}

func TestNewManagerBadTimeout(t *testing.T) {
	if _, err := NewManager(Config{CallTimeout: "soon"}); err == nil {
		t.Error("NewManager() error = nil, want invalid duration error")
	}
}
