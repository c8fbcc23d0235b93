package unidos

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies the ways an exchange with the electrometer can go wrong
type Kind int

const (
	// ProtocolMismatch means a command that should have been echoed was not
	ProtocolMismatch Kind = iota + 1

	// ValueMismatch means a written parameter did not read back as written
	ValueMismatch

	// UnrecognizedDevice means the identification handshake named another instrument
	UnrecognizedDevice

	// UnitModeFailure means the device stayed in radiological units after toggling
	UnitModeFailure

	// TimingMismatch means the reported integration time differs from the configured one
	TimingMismatch

	// InvalidInput means the caller asked for a value outside the device's domain
	InvalidInput

	// NavigationFailed means the cursor could not be brought back to the setup position
	NavigationFailed
)

var kindNames = map[Kind]string{
	ProtocolMismatch:   "protocol mismatch",
	ValueMismatch:      "value mismatch",
	UnrecognizedDevice: "unrecognized device",
	UnitModeFailure:    "unit mode failure",
	TimingMismatch:     "integration timing mismatch",
	InvalidInput:       "invalid input",
	NavigationFailed:   "navigation failed",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Fatal returns true for kinds that always stop an operation, whatever the
// Policy says
func (k Kind) Fatal() bool {
	return k == InvalidInput || k == NavigationFailed
}

// Error is the error type for everything the electrometer protocol layer
// detects on its own.  Transport failures are passed through as-is.
type Error struct {
	Kind Kind

	// Op is the operation or command that failed
	Op string

	// Msg describes what happened
	Msg string
}

func (e *Error) Error() string {
	if e.Op == "" {
		return "unidos: " + e.Msg
	}
	return "unidos: " + e.Op + ": " + e.Msg
}

// Is makes errors.Is(err, ErrValueMismatch) and friends match any Error of
// the same Kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// StatusCode maps the error onto an HTTP status
func (e *Error) StatusCode() int {
	if e.Kind == InvalidInput {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// sentinels for use with errors.Is
var (
	ErrProtocolMismatch   = &Error{Kind: ProtocolMismatch, Msg: ProtocolMismatch.String()}
	ErrValueMismatch      = &Error{Kind: ValueMismatch, Msg: ValueMismatch.String()}
	ErrUnrecognizedDevice = &Error{Kind: UnrecognizedDevice, Msg: UnrecognizedDevice.String()}
	ErrUnitModeFailure    = &Error{Kind: UnitModeFailure, Msg: UnitModeFailure.String()}
	ErrTimingMismatch     = &Error{Kind: TimingMismatch, Msg: TimingMismatch.String()}
	ErrInvalidInput       = &Error{Kind: InvalidInput, Msg: InvalidInput.String()}
	ErrNavigationFailed   = &Error{Kind: NavigationFailed, Msg: NavigationFailed.String()}
)

// KindOf returns the Kind of err, or 0 if err is not (and does not wrap) an *Error
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func newError(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Policy selects what happens when the device misbehaves in a recoverable way
type Policy int

const (
	// ContinueOnMismatch logs protocol, value, identification, unit and timing
	// mismatches, keeps them for Warnings, and carries on
	ContinueOnMismatch Policy = iota

	// AbortOnMismatch returns those mismatches as errors from the operation
	// that hit them
	AbortOnMismatch
)
