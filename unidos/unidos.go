/*Package unidos talks to PTW UNIDOS electrometers over their RS232 line protocol.

The electrometer has very few direct commands.  Most settings are reached by
pressing its keys remotely (up, down, enter, cancel) to walk the on-screen
menu, with the cursor position read back after each move.  Every operation in
this package therefore starts by returning the cursor to the setup position,
walks to the field it needs, and walks home again.

A typical measurement:

	e, err := unidos.New(unidos.NewPortTransport(unidos.PortConfig{Addr: "/dev/ttyUSB0", Serial: true}))
	if err != nil {
		return err
	}
	defer e.Close()
	if err = e.SetVoltage(300); err != nil {
		return err
	}
	if err = e.SetRange("Low"); err != nil {
		return err
	}
	if err = e.SetIntegrationTime(30); err != nil {
		return err
	}
	charge, err := e.Integrate()

Recoverable problems (a command that was not echoed, a value that did not
read back, ...) are logged and kept in Warnings by default, which is how the
instrument is used interactively.  WithPolicy(AbortOnMismatch) turns them into
errors instead.
*/
package unidos

import (
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Electrometer is a session with one UNIDOS.  It owns its Transport.
//
// An Electrometer is not safe for concurrent use; the instrument has one
// cursor and every operation moves it.
type Electrometer struct {
	t        Transport
	fw       Firmware
	policy   Policy
	logger   *zap.Logger
	clock    clock.Clock
	limiter  *rate.Limiter
	metrics  *Metrics
	maxSteps int
	progress func(elapsed, total time.Duration)

	version, serialNumber string
	warnings              error
}

// Option configures an Electrometer
type Option func(*Electrometer)

// WithLogger sets the logger, which is zap.NewNop by default
func WithLogger(l *zap.Logger) Option {
	return func(e *Electrometer) { e.logger = l }
}

// WithFirmware replaces the default firmware table
func WithFirmware(fw Firmware) Option {
	return func(e *Electrometer) { e.fw = fw }
}

// WithPolicy sets the failure policy
func WithPolicy(p Policy) Option {
	return func(e *Electrometer) { e.policy = p }
}

// WithClock sets the clock used for the integration and null waits
func WithClock(c clock.Clock) Option {
	return func(e *Electrometer) { e.clock = c }
}

// WithCommandRate limits the electrometer to perSecond commands per second.
// Zero or less means no limit.
func WithCommandRate(perSecond float64) Option {
	return func(e *Electrometer) {
		if perSecond <= 0 {
			e.limiter = nil
			return
		}
		e.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithMaxNavigationSteps bounds the number of moves GoToSetup may make
func WithMaxNavigationSteps(n int) Option {
	return func(e *Electrometer) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithMetrics records activity in m
func WithMetrics(m *Metrics) Option {
	return func(e *Electrometer) { e.metrics = m }
}

// WithProgress calls fn about once a second while waiting on an integration
// or null
func WithProgress(fn func(elapsed, total time.Duration)) Option {
	return func(e *Electrometer) { e.progress = fn }
}

// New starts a session on t: it identifies the instrument, reads its serial
// number and switches it to electrical units.  If New fails, t is closed.
func New(t Transport, opts ...Option) (*Electrometer, error) {
	e := &Electrometer{
		t:        t,
		fw:       DefaultFirmware(),
		logger:   zap.NewNop(),
		clock:    clock.New(),
		maxSteps: DefaultMaxNavigationSteps,
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.handshake(); err != nil {
		return nil, multierr.Append(err, t.Close())
	}
	return e, nil
}

func (e *Electrometer) handshake() error {
	resp, err := e.send("PTW", false)
	if err != nil {
		return err
	}
	fields := strings.Fields(resp)
	if len(fields) == 0 || fields[0] != e.fw.Family {
		err = e.report(newError(UnrecognizedDevice, "PTW", "instrument identifies as %q, not an %s electrometer", resp, e.fw.Family))
		if err != nil {
			return err
		}
	} else if len(fields) > 1 {
		e.version = fields[1]
	}
	ser, err := e.send("SER", false)
	if err != nil {
		return err
	}
	e.serialNumber = strings.TrimSpace(ser)
	e.logger.Info("connected", zap.String("version", e.version), zap.String("serial", e.serialNumber))

	// everything else assumes electrical units
	return e.SetElectricalUnits()
}

// Version returns the firmware version reported at connection
func (e *Electrometer) Version() string {
	return e.version
}

// SerialNumber returns the serial number reported at connection
func (e *Electrometer) SerialNumber() string {
	return e.serialNumber
}

// Firmware returns the firmware table in use
func (e *Electrometer) Firmware() Firmware {
	return e.fw
}

// Close ends the remote session and releases the transport.  The transport
// is released even if the device does not acknowledge.
func (e *Electrometer) Close() error {
	_, err := e.send("T1", true)
	return multierr.Append(err, e.t.Close())
}
