// Package payload validates the opaque configuration blobs the key server
// hands to a module on load.
//
// A payload must deserialize as a JSON object and satisfy the module's
// declared schema before the registry accepts a new instance; anything
// else is a typed rejection with no side effects. Parsing uses gjson so a
// malformed blob never partially populates a config.
package payload

import (
	"fmt"
	"math"

	"github.com/tidwall/gjson"

	"github.com/dshills/keymod"
)

// Requirement states whether a schema field must appear in a payload.
type Requirement int

const (
	// Optional fields are type-checked only when present.
	Optional Requirement = iota

	// Required fields must be present and well-typed.
	Required
)

// Schema declares the fields a module expects in its configuration
// payload.
type Schema struct {
	// Name is the requirement for the "name" string field.
	Name Requirement

	// State is the requirement for the "state" integer array field.
	State Requirement
}

// Config is a fully-typed configuration produced by a successful
// validation, ready for instantiation.
type Config struct {
	// Name is the declared instance name, empty if absent.
	Name string

	// HasName reports whether the payload carried a name field.
	HasName bool

	// State is the initial state vector, nil if absent.
	State []uint16

	// Raw is the payload exactly as received.
	Raw string
}

// Validate checks data against the schema and converts it into a Config.
//
// Failure modes, in detection order: keymod.ErrInvalidData when the blob
// is not a JSON object, keymod.ErrMissingFields when a required field is
// absent, keymod.ErrWrongFieldTypes when a present field has the wrong
// shape, including any non-integer element of state.
func (s Schema) Validate(data string) (*Config, error) {
	if !gjson.Valid(data) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", keymod.ErrInvalidData)
	}

	root := gjson.Parse(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: payload must be a JSON object, got %s", keymod.ErrInvalidData, jsonType(root))
	}

	name := root.Get("name")
	state := root.Get("state")

	// Presence before types: a payload missing any required field is
	// rejected as incomplete even if other fields are malformed.
	if s.Name == Required && !name.Exists() {
		return nil, fmt.Errorf("%w: name", keymod.ErrMissingFields)
	}
	if s.State == Required && !state.Exists() {
		return nil, fmt.Errorf("%w: state", keymod.ErrMissingFields)
	}

	cfg := &Config{Raw: data}

	if name.Exists() {
		if name.Type != gjson.String {
			return nil, fmt.Errorf("%w: name must be a string, got %s", keymod.ErrWrongFieldTypes, jsonType(name))
		}
		cfg.Name = name.String()
		cfg.HasName = true
	}

	if state.Exists() {
		states, err := stateVector(state)
		if err != nil {
			return nil, err
		}
		cfg.State = states
	}

	return cfg, nil
}

// stateVector converts a JSON array into a state vector, rejecting any
// element that is not an integer in the uint16 range.
func stateVector(res gjson.Result) ([]uint16, error) {
	if !res.IsArray() {
		return nil, fmt.Errorf("%w: state must be an array, got %s", keymod.ErrWrongFieldTypes, jsonType(res))
	}

	elems := res.Array()
	states := make([]uint16, 0, len(elems))
	for i, elem := range elems {
		if elem.Type != gjson.Number {
			return nil, fmt.Errorf("%w: state[%d] must be an integer, got %s", keymod.ErrWrongFieldTypes, i, jsonType(elem))
		}
		n := elem.Num
		if n != math.Trunc(n) {
			return nil, fmt.Errorf("%w: state[%d] must be an integer, got %v", keymod.ErrWrongFieldTypes, i, n)
		}
		if n < 0 || n > math.MaxUint16 {
			return nil, fmt.Errorf("%w: state[%d] out of range: %v", keymod.ErrWrongFieldTypes, i, n)
		}
		states = append(states, uint16(n))
	}
	return states, nil
}

// jsonType names a gjson result type for error messages.
func jsonType(res gjson.Result) string {
	switch res.Type {
	case gjson.String:
		return "string"
	case gjson.Number:
		return "number"
	case gjson.True, gjson.False:
		return "boolean"
	case gjson.Null:
		return "null"
	case gjson.JSON:
		if res.IsArray() {
			return "array"
		}
		return "object"
	default:
		return "unknown"
	}
}
