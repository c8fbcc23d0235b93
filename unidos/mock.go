package unidos

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/text/encoding/charmap"
)

// ErrClosed is returned by a Simulator after Close
var ErrClosed = errors.New("unidos: simulator closed")

var simRanges = [...]string{"6.5 n", "65 n", "650 n"}

// Simulator is an in-memory UNIDOS.  It satisfies Transport and is used for
// mock mode and tests.
//
// Its menu is small but has the same shape as the real one:
//
//	00      setup
//	000     measurement settings; V shows the integration time
//	0000    integration time entry; four digits, then E
//	001     unit settings
//	0010    unit entry; U or D toggles, E confirms
//	01      chamber settings
//	010     (unused)
//	011     voltage settings
//	0110    voltage entry; U and D step the table, E (or G) confirms
//
// The exported fields may be changed between commands to inject faults.
type Simulator struct {
	mu    sync.Mutex
	clock clock.Clock

	// Version and Serial are the answers to PTW and SER
	Version, Serial string

	// Family is the first token of the PTW answer
	Family string

	// Radiological sets the unit flag
	Radiological bool

	// StuckUnits makes the unit entry ignore toggles
	StuckUnits bool

	// Voltages is the voltage table, Voltage the current entry
	Voltages []int
	Voltage  int

	// AltConfirm makes the voltage entry answer E with "?" and wait for G
	AltConfirm bool

	// StuckVoltage makes the voltage entry ignore U and D
	StuckVoltage bool

	// IntegrationTime in seconds
	IntegrationTime int

	// ElapsedSkew is added to the elapsed time reported after an integration
	ElapsedSkew int

	// Range selector, 0-2
	Range int

	// Charge reported after an integration, in Unit
	Charge float64
	Unit   string

	// IntegrationOverrun is how long the status stays INT past the
	// integration time; NullDuration is how long it stays NUL
	IntegrationOverrun time.Duration
	NullDuration       time.Duration

	// NoEcho lists commands that answer "?" instead of echoing
	NoEcho map[string]bool

	// Pos is the cursor
	Pos string

	// Log records every command received
	Log []string

	pendingTime    int
	pendingVoltage int
	pendingUnits   bool
	busy           string
	busyUntil      time.Time
	elapsed        int
	raw            [][]byte
	closed         bool
}

// NewSimulator returns a Simulator in its power-on state, idle in charge
// mode at the setup position.  A nil clock means the wall clock.
func NewSimulator(clk clock.Clock) *Simulator {
	if clk == nil {
		clk = clock.New()
	}
	return &Simulator{
		clock:              clk,
		Family:             "UNIDOS",
		Version:            "1.32",
		Serial:             "T10021-00123",
		Voltages:           DefaultFirmware().Voltages,
		Voltage:            300,
		IntegrationTime:    30,
		Charge:             3.1416e-9,
		Unit:               "C",
		IntegrationOverrun: 1500 * time.Millisecond,
		NullDuration:       80 * time.Second,
		NoEcho:             map[string]bool{},
		Pos:                string(RootPosition),
	}
}

// Query satisfies Transport
func (s *Simulator) Query(cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	return s.handle(cmd), nil
}

// Write satisfies Transport.  The answer is held for ReadRaw, Latin-1 encoded
// and CR+LF terminated.
func (s *Simulator) Write(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	resp := s.handle(cmd)
	b, err := charmap.ISO8859_1.NewEncoder().String(resp + "\r\n")
	if err != nil {
		return err
	}
	s.raw = append(s.raw, []byte(b))
	return nil
}

// ReadRaw satisfies Transport
func (s *Simulator) ReadRaw() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if len(s.raw) == 0 {
		return nil, io.EOF
	}
	b := s.raw[0]
	s.raw = s.raw[1:]
	return b, nil
}

// Close satisfies Transport
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Do calls fn with the simulator locked, for changing or inspecting its
// state while it is in use by another goroutine
func (s *Simulator) Do(fn func(*Simulator)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// Commands returns a copy of the command log
func (s *Simulator) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Log...)
}

// ResetLog empties the command log
func (s *Simulator) ResetLog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Log = nil
}

func (s *Simulator) handle(cmd string) string {
	s.Log = append(s.Log, cmd)
	if s.NoEcho[cmd] {
		return "?"
	}
	switch cmd {
	case "PTW":
		return s.Family + " " + s.Version
	case "SER":
		return s.Serial
	case "?F":
		var f Flags
		if s.Radiological {
			f |= 1 << DefaultFirmware().RadiologicalBit
		}
		return strconv.Itoa(int(f))
	case "?W":
		return s.Pos
	case "?S":
		return s.status()
	case "?R":
		return fmt.Sprintf("%d %s %s", s.Range, Range(s.Range), simRanges[s.Range])
	case "?U":
		if s.Radiological {
			return "Gy"
		}
		return s.Unit
	case "?C":
		return "1.0000 1.0000 1.0000"
	case "R0", "R1", "R2":
		s.Range = int(cmd[1] - '0')
		return cmd
	case "I":
		s.busy = "INT"
		s.busyUntil = s.clock.Now().Add(time.Duration(s.IntegrationTime)*time.Second + s.IntegrationOverrun)
		s.elapsed = s.IntegrationTime + s.ElapsedSkew
		return cmd
	case "N":
		s.busy = "NUL"
		s.busyUntil = s.clock.Now().Add(s.NullDuration)
		return cmd
	case "T1":
		return cmd
	case "M0":
		s.Pos = string(RootPosition)
		return cmd
	case "C":
		if len(s.Pos) > 2 {
			s.Pos = s.Pos[:len(s.Pos)-1]
		}
		return cmd
	case "V":
		return s.display()
	case "U", "D":
		s.step(cmd == "U")
		return cmd
	case "E":
		return s.enter()
	case "G":
		if s.Pos == "0110" {
			s.commitVoltage()
		}
		return cmd
	}
	if len(cmd) == 4 && s.Pos == "0000" {
		if n, err := strconv.Atoi(cmd); err == nil {
			s.pendingTime = n
			return cmd
		}
	}
	return "ERR"
}

func (s *Simulator) status() string {
	if s.busy != "" && s.clock.Now().Before(s.busyUntil) {
		return s.busy
	}
	s.busy = ""
	return "RES"
}

func (s *Simulator) display() string {
	switch s.Pos {
	case "000":
		return fmt.Sprintf("%d s", s.IntegrationTime)
	case "0000":
		if s.pendingTime != 0 {
			return fmt.Sprintf("%d s", s.pendingTime)
		}
		return fmt.Sprintf("%d s", s.IntegrationTime)
	case "0110":
		return fmt.Sprintf("%d V", s.Voltages[s.pendingVoltage])
	}
	return fmt.Sprintf("%04ds %.4E %s", s.elapsed, s.Charge, s.Unit)
}

func (s *Simulator) step(up bool) {
	switch {
	case s.Pos == "0010":
		if !s.StuckUnits {
			s.pendingUnits = !s.pendingUnits
		}
	case s.Pos == "0110":
		if s.StuckVoltage {
			return
		}
		if up && s.pendingVoltage < len(s.Voltages)-1 {
			s.pendingVoltage++
		} else if !up && s.pendingVoltage > 0 {
			s.pendingVoltage--
		}
	case len(s.Pos) >= 2:
		// two choices at every level
		last := s.Pos[len(s.Pos)-1]
		if last == '0' {
			last = '1'
		} else {
			last = '0'
		}
		s.Pos = s.Pos[:len(s.Pos)-1] + string(last)
	}
}

func (s *Simulator) enter() string {
	switch s.Pos {
	case "0000":
		if s.pendingTime != 0 {
			s.IntegrationTime = s.pendingTime
		}
		s.pendingTime = 0
		s.Pos = "000"
	case "0010":
		if s.pendingUnits {
			s.Radiological = !s.Radiological
		}
		s.pendingUnits = false
		s.Pos = "001"
	case "0110":
		if s.AltConfirm {
			return "?"
		}
		s.commitVoltage()
	default:
		s.Pos += "0"
		switch s.Pos {
		case "0110":
			s.pendingVoltage = 0
			for i, v := range s.Voltages {
				if v == s.Voltage {
					s.pendingVoltage = i
				}
			}
		case "0000":
			s.pendingTime = 0
		case "0010":
			s.pendingUnits = false
		}
	}
	return "E"
}

func (s *Simulator) commitVoltage() {
	s.Voltage = s.Voltages[s.pendingVoltage]
	s.Pos = "011"
}
