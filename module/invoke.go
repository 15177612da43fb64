package module

import (
	"context"

	"github.com/tidwall/gjson"

	"github.com/dshills/keymod"
	"github.com/dshills/keymod/result"
)

// fallbackErr is emitted if envelope encoding itself fails.
const fallbackErr = `{"ok":null,"err":"internal: cannot encode result"}`

// Invoke is the textual invocation surface for hosts that reach the
// manager over a wire rather than in-process.
//
// A request is a JSON object: {"op": ..., "module": ..., ...}. Operations
// and their arguments mirror the module contract: "load_data" takes
// "name" and "data" (data may be a string blob or an inline object);
// "poll", "set" and "name" take "id" plus "idx"/"state" for set; "event"
// takes "id" and "state". The response is always a result envelope, never
// an error value, so a malformed request cannot crash the transport.
func (m *Manager) Invoke(ctx context.Context, req string) string {
	if !gjson.Valid(req) {
		return errEnvelope("invalid request: not valid JSON")
	}
	root := gjson.Parse(req)
	if !root.IsObject() {
		return errEnvelope("invalid request: not a JSON object")
	}

	op := root.Get("op").String()
	mod := root.Get("module").String()
	if op == "" || mod == "" {
		return errEnvelope("invalid request: op and module are required")
	}

	id := int(root.Get("id").Int())

	switch op {
	case "load_data":
		data := keymod.Data{
			Name: root.Get("name").String(),
			Data: payloadField(root.Get("data")),
		}
		if m.isDriver(mod) {
			return envelope(m.LoadDriver(ctx, mod, data))
		}
		return envelope(m.LoadFunction(ctx, mod, data))
	case "poll":
		return envelope(m.DriverPoll(ctx, mod, id))
	case "set":
		idx := int(root.Get("idx").Int())
		state := uint16(root.Get("state").Uint())
		return unitEnvelope(m.DriverSet(ctx, mod, id, idx, state))
	case "name":
		return envelope(m.DriverName(ctx, mod, id))
	case "event":
		state := uint16(root.Get("state").Uint())
		return unitEnvelope(m.FunctionEvent(ctx, mod, id, state))
	default:
		return errEnvelope("unknown op: " + op)
	}
}

// isDriver reports whether a driver module with the given name exists.
func (m *Manager) isDriver(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.drivers[name]
	return ok
}

// payloadField accepts the data field either as a string blob or as an
// inline JSON object, which is re-serialized verbatim.
func payloadField(res gjson.Result) string {
	if res.Type == gjson.String {
		return res.String()
	}
	return res.Raw
}

// envelope renders a value-bearing outcome.
func envelope[T any](v T, err error) string {
	if err != nil {
		return errEnvelope(err.Error())
	}
	return okEnvelope(v)
}

// unitEnvelope renders an outcome with no success payload.
func unitEnvelope(err error) string {
	if err != nil {
		return errEnvelope(err.Error())
	}
	return okEnvelope(nil)
}

func okEnvelope(v any) string {
	out, err := result.OK(v).EncodeJSON()
	if err != nil {
		return fallbackErr
	}
	return out
}

func errEnvelope(msg string) string {
	out, err := result.Err(msg).EncodeJSON()
	if err != nil {
		return fallbackErr
	}
	return out
}
