package unidos

import (
	"io"
	"time"

	"github.com/tarm/serial"

	"github.com/nasa-jpl/unidos/comm"
)

// rawSize is larger than any display line the UNIDOS sends
const rawSize = 256

// PortConfig describes how to reach the electrometer
type PortConfig struct {
	// Addr is a serial device (/dev/ttyUSB0, COM3) or host:port of a
	// terminal server
	Addr string

	// Serial selects a local serial port (true) or TCP (false)
	Serial bool

	// Baud defaults to 9600, the UNIDOS factory setting
	Baud int

	// Timeout bounds every read, 3 s if zero
	Timeout time.Duration
}

// SerialConfig returns the tarm/serial config for the UNIDOS: 8 data bits,
// no parity, one stop bit
func SerialConfig(addr string, baud int, timeout time.Duration) *serial.Config {
	if baud == 0 {
		baud = 9600
	}
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	return &serial.Config{
		Name:        addr,
		Baud:        baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: timeout}
}

// PortTransport is a Transport over a serial port or TCP socket, CR+LF
// terminated in both directions
type PortTransport struct {
	pool    *comm.Pool
	timeout time.Duration
}

// NewPortTransport returns a PortTransport.  The port is opened on first use.
func NewPortTransport(pc PortConfig) *PortTransport {
	if pc.Timeout == 0 {
		pc.Timeout = 3 * time.Second
	}
	var maker comm.CreationFunc
	if pc.Serial {
		maker = comm.SerialConnMaker(SerialConfig(pc.Addr, pc.Baud, pc.Timeout))
	} else {
		maker = comm.BackingOffTCPConnMaker(pc.Addr, pc.Timeout)
	}
	return &PortTransport{pool: comm.NewPool(1, time.Hour, maker), timeout: pc.Timeout}
}

func (pt *PortTransport) exchange(fn func(*comm.Terminator) error) (err error) {
	conn, err := pt.pool.Get()
	if err != nil {
		return err
	}
	defer func() { pt.pool.ReturnWithError(conn, err) }()
	var rw io.ReadWriter
	rw, err = comm.NewTimeout(conn, pt.timeout)
	if err != nil {
		return err
	}
	err = fn(comm.NewTerminator(rw, comm.CRLF, comm.CRLF))
	return err
}

// Query satisfies Transport
func (pt *PortTransport) Query(cmd string) (string, error) {
	var resp string
	err := pt.exchange(func(t *comm.Terminator) error {
		var err error
		resp, err = t.Query(cmd)
		return err
	})
	return resp, err
}

// Write satisfies Transport
func (pt *PortTransport) Write(cmd string) error {
	return pt.exchange(func(t *comm.Terminator) error {
		_, err := io.WriteString(t, cmd)
		return err
	})
}

// ReadRaw satisfies Transport
func (pt *PortTransport) ReadRaw() ([]byte, error) {
	buf := make([]byte, rawSize)
	var n int
	err := pt.exchange(func(t *comm.Terminator) error {
		var err error
		n, err = t.ReadRaw(buf)
		return err
	})
	return buf[:n], err
}

// Close releases the port
func (pt *PortTransport) Close() error {
	return pt.pool.Close()
}
