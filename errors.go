package keymod

import "errors"

// Module boundary errors. Every failure a module reports to the host is
// rooted in one of these so callers can branch with errors.Is while still
// receiving a descriptive message.
var (
	// ErrInvalidData is returned when a payload fails to parse as
	// structured data.
	ErrInvalidData = errors.New("invalid data")

	// ErrMissingFields is returned when a well-formed payload lacks a
	// required field.
	ErrMissingFields = errors.New("missing fields in data")

	// ErrWrongFieldTypes is returned when a present field has the wrong
	// type, including any non-integer element inside a state array.
	ErrWrongFieldTypes = errors.New("wrong data field types")

	// ErrUnknownType is returned when a type name is not one the module
	// dispatches on.
	ErrUnknownType = errors.New("unknown type name")

	// ErrUnknownID is returned when a handle is outside the registry's
	// valid range.
	ErrUnknownID = errors.New("unknown id")

	// ErrIndexOutOfBounds is returned when a sub-index exceeds an
	// instance's state vector length.
	ErrIndexOutOfBounds = errors.New("index out of bounds")

	// ErrNoSuchModule is returned when a module name is not registered
	// with the manager.
	ErrNoSuchModule = errors.New("no such module")

	// ErrModuleClosed is returned when an operation is issued against a
	// module that has been shut down.
	ErrModuleClosed = errors.New("module is closed")
)
