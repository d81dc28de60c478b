package tools

import (
	"errors"
	"fmt"
)

// Tool registry errors.
var (
	// ErrToolNameEmpty is returned when a tool has no name.
	ErrToolNameEmpty = errors.New("tool name cannot be empty")

	// ErrToolExecuteNil is returned when a tool has no execute function.
	ErrToolExecuteNil = errors.New("tool execute function cannot be nil")

	// ErrToolAlreadyRegistered is returned when registering a duplicate.
	ErrToolAlreadyRegistered = errors.New("tool already registered")
)

// Call errors.
var (
	// ErrUnknownOperation means the model called a tool outside the catalog. Aborts the request.
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrMalformedArguments means the argument payload was not a JSON object. Aborts the request.
	ErrMalformedArguments = errors.New("malformed tool arguments")

	// ErrInvalidArgument means a required argument was missing or empty.
	// It is reported to the model as a structured result, never returned from Execute.
	ErrInvalidArgument = errors.New("invalid argument")
)

// ArgumentError names the offending field of an invalid call.
type ArgumentError struct {
	Field  string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrInvalidArgument, e.Field, e.Reason)
}

func (e *ArgumentError) Unwrap() error { return ErrInvalidArgument }

func invalid(field, reason string) error {
	return &ArgumentError{Field: field, Reason: reason}
}
