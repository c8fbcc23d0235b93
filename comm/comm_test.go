package comm_test

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nasa-jpl/unidos/comm"
)

// loopback is an in-memory ReadWriteCloser; writes land in out, reads come from in
type loopback struct {
	in     *bytes.Buffer
	out    bytes.Buffer
	closed bool
	mu     sync.Mutex
}

func (l *loopback) Read(b []byte) (int, error)  { return l.in.Read(b) }
func (l *loopback) Write(b []byte) (int, error) { return l.out.Write(b) }
func (l *loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *loopback) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func TestTerminatorWriteAppendsTx(t *testing.T) {
	lb := &loopback{in: &bytes.Buffer{}}
	term := comm.NewTerminator(lb, comm.CRLF, comm.CRLF)
	n, err := term.Write([]byte("PTW"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("expected write count 3 excluding terminator, got %d", n)
	}
	if lb.out.String() != "PTW\r\n" {
		t.Errorf("expected PTW\\r\\n on the wire, got %q", lb.out.String())
	}
}

func TestTerminatorReadLineStopsAtTerminator(t *testing.T) {
	lb := &loopback{in: bytes.NewBufferString("UNIDOS 2.10\r\nSER\r\n")}
	term := comm.NewTerminator(lb, comm.CRLF, comm.CRLF)
	line, err := term.ReadLine()
	if err != nil {
		t.Fatal(err)
	}
	if string(line) != "UNIDOS 2.10" {
		t.Errorf("expected UNIDOS 2.10, got %q", line)
	}
	line, err = term.ReadLine()
	if err != nil {
		t.Fatal(err)
	}
	if string(line) != "SER" {
		t.Errorf("second line not preserved, got %q", line)
	}
}

func TestTerminatorReadLineBareCRIsData(t *testing.T) {
	lb := &loopback{in: bytes.NewBufferString("a\rb\r\n")}
	term := comm.NewTerminator(lb, comm.CRLF, comm.CRLF)
	line, err := term.ReadLine()
	if err != nil {
		t.Fatal(err)
	}
	if string(line) != "a\rb" {
		t.Errorf("expected a\\rb, got %q", line)
	}
}

func TestTerminatorTimeoutOnSilence(t *testing.T) {
	lb := &loopback{in: &bytes.Buffer{}}
	term := comm.NewTerminator(lb, comm.CRLF, comm.CRLF)
	_, err := term.ReadLine()
	if !errors.Is(err, comm.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestTerminatorTruncatedResponse(t *testing.T) {
	lb := &loopback{in: bytes.NewBufferString("half a resp")}
	term := comm.NewTerminator(lb, comm.CRLF, comm.CRLF)
	line, err := term.ReadLine()
	if !errors.Is(err, comm.ErrTerminatorNotFound) {
		t.Errorf("expected ErrTerminatorNotFound, got %v", err)
	}
	if string(line) != "half a resp" {
		t.Errorf("partial data should be returned, got %q", line)
	}
}

func TestTerminatorReadRawKeepsTerminator(t *testing.T) {
	lb := &loopback{in: bytes.NewBufferString("0030s 1.0E-09 C\r\n")}
	term := comm.NewTerminator(lb, comm.CRLF, comm.CRLF)
	buf := make([]byte, 64)
	n, err := term.ReadRaw(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "0030s 1.0E-09 C\r\n" {
		t.Errorf("raw read altered data: %q", buf[:n])
	}
}

func TestTerminatorQuery(t *testing.T) {
	lb := &loopback{in: bytes.NewBufferString("00\r\n")}
	term := comm.NewTerminator(lb, comm.CRLF, comm.CRLF)
	resp, err := term.Query("?W")
	if err != nil {
		t.Fatal(err)
	}
	if resp != "00" || lb.out.String() != "?W\r\n" {
		t.Errorf("query mismatch, sent %q got %q", lb.out.String(), resp)
	}
}

func TestTimeoutLeavesNonNetworkAlone(t *testing.T) {
	lb := &loopback{in: &bytes.Buffer{}}
	rw, err := comm.NewTimeout(lb, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if rw != io.ReadWriter(lb) {
		t.Error("expected the same ReadWriter back")
	}
}

func TestTimeoutOnPipeDeadline(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	rw, err := comm.NewTimeout(a, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	term := comm.NewTerminator(rw, comm.CRLF, comm.CRLF)
	_, err = term.ReadLine()
	if !errors.Is(err, comm.ErrTimeout) {
		t.Errorf("expected ErrTimeout from an expired deadline, got %v", err)
	}
}

func countingMaker(made *[]*loopback) comm.CreationFunc {
	var mu sync.Mutex
	return func() (io.ReadWriteCloser, error) {
		mu.Lock()
		defer mu.Unlock()
		lb := &loopback{in: &bytes.Buffer{}}
		*made = append(*made, lb)
		return lb, nil
	}
}

func TestPoolReusesReturnedConnection(t *testing.T) {
	var made []*loopback
	pool := comm.NewPool(1, time.Hour, countingMaker(&made))
	for i := 0; i < 3; i++ {
		conn, err := pool.Get()
		if err != nil {
			t.Fatal(err)
		}
		pool.ReturnWithError(conn, nil)
	}
	if len(made) != 1 {
		t.Errorf("expected one connection to be made and reused, made %d", len(made))
	}
	if pool.Size() != 1 || pool.Active() != 0 {
		t.Errorf("expected size 1 active 0, got size %d active %d", pool.Size(), pool.Active())
	}
}

func TestPoolDestroysOnError(t *testing.T) {
	var made []*loopback
	pool := comm.NewPool(1, time.Hour, countingMaker(&made))
	conn, err := pool.Get()
	if err != nil {
		t.Fatal(err)
	}
	pool.ReturnWithError(conn, comm.ErrTimeout)
	if !made[0].isClosed() {
		t.Error("connection returned with an error was not closed")
	}
	if _, err = pool.Get(); err != nil {
		t.Fatal(err)
	}
	if len(made) != 2 {
		t.Errorf("expected a fresh connection after destroy, made %d", len(made))
	}
}

func TestPoolReclaimsIdleConnections(t *testing.T) {
	var made []*loopback
	pool := comm.NewPool(1, 5*time.Millisecond, countingMaker(&made))
	conn, err := pool.Get()
	if err != nil {
		t.Fatal(err)
	}
	pool.Put(conn)
	time.Sleep(100 * time.Millisecond)
	if !made[0].isClosed() {
		t.Error("idle connection was not reclaimed after the timeout")
	}
	if pool.Size() != 0 {
		t.Errorf("expected empty pool after reclaim, size %d", pool.Size())
	}
}

func TestPoolMaintainsSize(t *testing.T) {
	var made []*loopback
	pool := comm.NewPool(1, time.Hour, countingMaker(&made))
	held, err := pool.Get()
	if err != nil {
		t.Fatal(err)
	}
	got := make(chan io.ReadWriteCloser, 1)
	go func() {
		c, _ := pool.Get()
		got <- c
	}()
	select {
	case <-got:
		t.Fatal("failed to prevent pool overflow")
	case <-time.After(50 * time.Millisecond):
	}
	pool.Put(held)
	select {
	case c := <-got:
		if c != held {
			t.Error("waiter did not receive the returned connection")
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never received a connection")
	}
}

func TestPoolMakerErrorReleasesSlot(t *testing.T) {
	calls := 0
	pool := comm.NewPool(1, time.Hour, func() (io.ReadWriteCloser, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("port busy")
		}
		return &loopback{in: &bytes.Buffer{}}, nil
	})
	if _, err := pool.Get(); err == nil {
		t.Fatal("expected maker error")
	}
	if pool.Active() != 0 {
		t.Errorf("failed Get leaked a lease, active %d", pool.Active())
	}
	if _, err := pool.Get(); err != nil {
		t.Errorf("second Get should succeed, got %v", err)
	}
}
