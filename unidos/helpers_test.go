package unidos

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// fakeTransport answers from a function and records what it was sent
type fakeTransport struct {
	mu      sync.Mutex
	respond func(cmd string) (string, error)
	sent    []string
	closed  bool
}

func (f *fakeTransport) Query(cmd string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
	return f.respond(cmd)
}

func (f *fakeTransport) Write(cmd string) error {
	_, err := f.Query(cmd)
	return err
}

func (f *fakeTransport) ReadRaw() ([]byte, error) {
	return nil, nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// bare returns an Electrometer on tr without the connection handshake
func bare(tr Transport, opts ...Option) *Electrometer {
	e := &Electrometer{
		t:        tr,
		fw:       DefaultFirmware(),
		logger:   zap.NewNop(),
		clock:    clock.New(),
		maxSteps: DefaultMaxNavigationSteps,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// connected returns a simulator and an Electrometer that has completed the
// handshake with it, with the simulator's command log emptied
func connected(t *testing.T, clk clock.Clock, opts ...Option) (*Simulator, *Electrometer) {
	t.Helper()
	sim := NewSimulator(clk)
	if clk != nil {
		opts = append(opts, WithClock(clk))
	}
	e, err := New(sim, opts...)
	if err != nil {
		t.Fatal(err)
	}
	sim.ResetLog()
	return sim, e
}

// stamp is a command and the clock time it was sent at
type stamp struct {
	cmd string
	at  time.Time
}

// stamped records the time of every command passed to the transport it wraps
type stamped struct {
	Transport
	clk clock.Clock

	mu  sync.Mutex
	log []stamp
}

func (s *stamped) record(cmd string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, stamp{cmd, s.clk.Now()})
}

func (s *stamped) Query(cmd string) (string, error) {
	s.record(cmd)
	return s.Transport.Query(cmd)
}

func (s *stamped) Write(cmd string) error {
	s.record(cmd)
	return s.Transport.Write(cmd)
}

func (s *stamped) stamps() []stamp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stamp(nil), s.log...)
}

// count returns the number of times cmd appears in log
func count(log []string, cmd string) int {
	n := 0
	for _, c := range log {
		if c == cmd {
			n++
		}
	}
	return n
}
