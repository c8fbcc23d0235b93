/*Package comm provides connection plumbing for line-oriented lab hardware.

Most usages of this package boil down to:
	1.  build a CreationFunc with SerialConnMaker or BackingOffTCPConnMaker
	2.  put it in a Pool, usually of size 1 since instruments have one parser
	3.  for each exchange, Get a connection, wrap it in a Terminator, talk,
		and hand it back with ReturnWithError

A minimal example for a sensor that answers "RD?" with a number:

	pool := comm.NewPool(1, time.Minute, comm.SerialConnMaker(conf))
	conn, err := pool.Get()
	if err != nil {
		return 0, err
	}
	defer func() { pool.ReturnWithError(conn, err) }()
	term := comm.NewTerminator(conn, comm.CRLF, comm.CRLF)
	resp, err := term.Query("RD?")
*/
package comm

import (
	"bytes"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

// maxLine bounds a single response; no instrument we talk to says more than this in one breath
const maxLine = 4096

var (
	// CRLF is the carriage return + line feed pair used by most RS232 instruments
	CRLF = []byte("\r\n")

	// ErrNotConnected is generated when a nil connection is used
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination sequence is not found in a response
	ErrTerminatorNotFound = errors.New("termination sequence not found")

	// ErrTimeout is generated when the remote did not reply before the read timeout elapsed
	ErrTimeout = errors.New("no response from remote before timeout")
)

// CreationFunc is a function which returns a new "connection" to something.
// A closure should be used to encapsulate the variables and functions needed
type CreationFunc func() (io.ReadWriteCloser, error)

// SerialConnMaker returns a CreationFunc that opens the port described by conf
func SerialConnMaker(conf *serial.Config) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		port, err := serial.OpenPort(conf)
		if err != nil {
			return nil, err
		}
		return port, nil
	}
}

// BackingOffTCPConnMaker returns a CreationFunc that dials addr, retrying with
// an exponential backoff.  Terminal servers (digi portservers and friends) do
// not like being connection thrashed, and will refuse a dial for a short while
// after the previous connection was closed.
func BackingOffTCPConnMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var conn net.Conn
		op := func() error {
			c, err := net.DialTimeout("tcp", addr, timeout)
			if err != nil {
				// refused is not going to get better by waiting
				if strings.Contains(strings.ToLower(err.Error()), "refused") {
					return backoff.Permanent(err)
				}
				return err
			}
			conn = c
			return nil
		}
		err := backoff.Retry(op, &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0.,
			Multiplier:          2.,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      3 * timeout,
			Clock:               backoff.SystemClock})
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// NewTimeout applies a deadline of d from now to rw if it is a network
// connection.  Serial ports carry their timeout in their config and are
// returned untouched.
func NewTimeout(rw io.ReadWriter, d time.Duration) (io.ReadWriter, error) {
	if conn, ok := rw.(net.Conn); ok {
		return rw, conn.SetDeadline(time.Now().Add(d))
	}
	return rw, nil
}

// Terminator wraps a ReadWriter, appending a transmit terminator to every
// write and scanning for the receive terminator on every read
type Terminator struct {
	rw io.ReadWriter
	rx []byte
	tx []byte
}

// NewTerminator returns a Terminator around rw
func NewTerminator(rw io.ReadWriter, rx, tx []byte) *Terminator {
	return &Terminator{rw: rw, rx: rx, tx: tx}
}

// Write sends b followed by the transmit terminator.  The returned count
// excludes the terminator.
func (t *Terminator) Write(b []byte) (int, error) {
	if t.rw == nil {
		return 0, ErrNotConnected
	}
	buf := make([]byte, 0, len(b)+len(t.tx))
	buf = append(buf, b...)
	buf = append(buf, t.tx...)
	n, err := t.rw.Write(buf)
	if n > len(b) {
		n = len(b)
	}
	return n, err
}

// Read reads one terminated line into b, with the terminator stripped
func (t *Terminator) Read(b []byte) (int, error) {
	line, err := t.ReadLine()
	n := copy(b, line)
	if err == nil && n < len(line) {
		err = io.ErrShortBuffer
	}
	return n, err
}

// ReadLine reads until the receive terminator and returns the line without it.
//
// The remote is read one byte at a time so that nothing past the terminator
// is consumed; at 9600 baud this costs nothing.
func (t *Terminator) ReadLine() ([]byte, error) {
	if t.rw == nil {
		return nil, ErrNotConnected
	}
	var (
		buf []byte
		one [1]byte
	)
	for {
		n, err := t.rw.Read(one[:])
		if n == 1 {
			buf = append(buf, one[0])
			if bytes.HasSuffix(buf, t.rx) {
				return buf[:len(buf)-len(t.rx)], nil
			}
			if len(buf) >= maxLine {
				return buf, ErrTerminatorNotFound
			}
			continue
		}
		// tarm/serial reports an elapsed ReadTimeout as (0, nil) or (0, EOF)
		// depending on platform
		if err == nil || err == io.EOF {
			if len(buf) > 0 {
				return buf, ErrTerminatorNotFound
			}
			return nil, ErrTimeout
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return buf, ErrTimeout
		}
		return buf, err
	}
}

// ReadRaw reads whatever the remote sends until the receive terminator
// appears or len(buf) bytes have arrived.  Nothing is stripped.
func (t *Terminator) ReadRaw(buf []byte) (int, error) {
	if t.rw == nil {
		return 0, ErrNotConnected
	}
	nTotal := 0
	// device writes replies in bursts, creep through the response
	for nTotal < len(buf) {
		n, err := t.rw.Read(buf[nTotal:])
		nTotal += n
		if bytes.HasSuffix(buf[:nTotal], t.rx) {
			return nTotal, nil
		}
		if err != nil || n == 0 {
			if nTotal > 0 {
				return nTotal, nil
			}
			if err == nil || err == io.EOF {
				return 0, ErrTimeout
			}
			return 0, err
		}
	}
	return nTotal, nil
}

// Query writes cmd and returns the single line the remote answers with
func (t *Terminator) Query(cmd string) (string, error) {
	if _, err := io.WriteString(t, cmd); err != nil {
		return "", err
	}
	line, err := t.ReadLine()
	return string(line), err
}
