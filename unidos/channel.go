package unidos

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Transport is a line-oriented request/reply channel to the electrometer
type Transport interface {
	io.Closer

	// Query writes one terminated line and returns the line the device
	// answers with, terminator stripped
	Query(cmd string) (string, error)

	// Write writes one terminated line without waiting for an answer
	Write(cmd string) error

	// ReadRaw returns the next response as it came off the wire
	ReadRaw() ([]byte, error)
}

// pace blocks until the command limiter allows another command
func (e *Electrometer) pace() error {
	if e.limiter == nil {
		return nil
	}
	return e.limiter.Wait(context.Background())
}

// send sends one command and returns the response.  When verifyEcho is set,
// a response other than the command itself is a protocol mismatch.  Many
// commands answer with data, so the caller decides.
func (e *Electrometer) send(cmd string, verifyEcho bool) (string, error) {
	if err := e.pace(); err != nil {
		return "", err
	}
	resp, err := e.t.Query(cmd)
	e.metrics.command(err)
	if err != nil {
		e.logger.Error("transport error", zap.String("cmd", cmd), zap.Error(err))
		return "", errors.Wrapf(err, "sending %q", cmd)
	}
	e.logger.Debug("exchange", zap.String("cmd", cmd), zap.String("resp", resp))
	if verifyEcho && resp != cmd {
		return resp, e.report(newError(ProtocolMismatch, cmd, "device answered %q", resp))
	}
	return resp, nil
}

// report applies the failure policy to err.  It returns err when the
// operation must stop, nil when it should carry on.
func (e *Electrometer) report(err *Error) error {
	if err.Kind.Fatal() {
		return err
	}
	e.metrics.warn(err.Kind)
	if e.policy == AbortOnMismatch {
		return err
	}
	e.logger.Warn(err.Msg, zap.String("op", err.Op), zap.Stringer("kind", err.Kind))
	e.warnings = multierr.Append(e.warnings, err)
	return nil
}

// bail brings the cursor home after a failed operation and returns the
// original error, joined with any error from getting home
func (e *Electrometer) bail(err error) error {
	if KindOf(err) == NavigationFailed {
		return err
	}
	return multierr.Append(err, e.GoToSetup())
}

// Warnings returns the recoverable problems seen since the last ClearWarnings
func (e *Electrometer) Warnings() []error {
	return multierr.Errors(e.warnings)
}

// ClearWarnings forgets accumulated warnings
func (e *Electrometer) ClearWarnings() {
	e.warnings = nil
}
