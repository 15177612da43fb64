// Package result implements the ok/err envelope used where a module
// boundary cannot carry a Go error value.
//
// Lua-scripted modules return a table with an "ok" or an "err" field, and
// the host invocation surface speaks the same shape as JSON. Exactly one
// side of the envelope is ever populated: a caller branches on IsErr
// before touching OK.
package result

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrMalformed is returned when a value does not decode as an envelope.
var ErrMalformed = errors.New("malformed result envelope")

// Envelope is a discriminated outcome: a success value or an error
// description, never both.
type Envelope struct {
	// OK is the success value. May be nil for operations with no
	// meaningful success payload.
	OK any

	// Err is the error description, empty on success.
	Err string
}

// OK wraps a success value.
func OK(v any) Envelope {
	return Envelope{OK: v}
}

// Err wraps an error description.
func Err(msg string) Envelope {
	return Envelope{Err: msg}
}

// IsErr reports whether the envelope carries an error.
func (e Envelope) IsErr() bool {
	return e.Err != ""
}

// Unwrap converts the envelope into Go's native pair form.
func (e Envelope) Unwrap() (any, error) {
	if e.IsErr() {
		return nil, errors.New(e.Err)
	}
	return e.OK, nil
}

// FromValue interprets a decoded module return value as an envelope.
// The value must be a map with an "ok" or "err" key, the shape scripted
// modules return.
func FromValue(v any) (Envelope, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return Envelope{}, fmt.Errorf("%w: got %T, want table with ok or err", ErrMalformed, v)
	}

	if raw, present := m["err"]; present && raw != nil {
		msg, ok := raw.(string)
		if !ok {
			return Envelope{}, fmt.Errorf("%w: err must be a string, got %T", ErrMalformed, raw)
		}
		if msg == "" {
			return Envelope{}, fmt.Errorf("%w: err must not be empty", ErrMalformed)
		}
		return Err(msg), nil
	}

	if raw, present := m["ok"]; present {
		return OK(raw), nil
	}
	return Envelope{}, fmt.Errorf("%w: missing ok and err", ErrMalformed)
}

// EncodeJSON renders the envelope in its wire form, with the absent side
// explicitly null.
func (e Envelope) EncodeJSON() (string, error) {
	out := "{}"
	var err error

	if e.IsErr() {
		if out, err = sjson.Set(out, "ok", nil); err != nil {
			return "", err
		}
		if out, err = sjson.Set(out, "err", e.Err); err != nil {
			return "", err
		}
		return out, nil
	}

	if out, err = sjson.Set(out, "ok", e.OK); err != nil {
		return "", err
	}
	if out, err = sjson.Set(out, "err", nil); err != nil {
		return "", err
	}
	return out, nil
}

// DecodeJSON parses an envelope from its wire form.
func DecodeJSON(data string) (Envelope, error) {
	if !gjson.Valid(data) {
		return Envelope{}, fmt.Errorf("%w: not valid JSON", ErrMalformed)
	}
	root := gjson.Parse(data)
	if !root.IsObject() {
		return Envelope{}, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}

	errRes := root.Get("err")
	okRes := root.Get("ok")
	if !errRes.Exists() && !okRes.Exists() {
		return Envelope{}, fmt.Errorf("%w: missing ok and err", ErrMalformed)
	}

	if errRes.Exists() && errRes.Type != gjson.Null {
		if errRes.Type != gjson.String {
			return Envelope{}, fmt.Errorf("%w: err must be a string", ErrMalformed)
		}
		return Err(errRes.String()), nil
	}

	return OK(okRes.Value()), nil
}
