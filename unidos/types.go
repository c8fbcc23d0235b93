package unidos

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/nasa-jpl/unidos/util"
)

// Position is the cursor position code reported by ?W.  The code is opaque;
// only its shape is meaningful: "00" is the setup position, other two
// character codes are top-level menus, longer codes are submenus.
type Position string

// RootPosition is the setup position every operation starts from
const RootPosition Position = "00"

// nextMove returns the key that brings the cursor one step closer to the
// setup position, or done=true if it is already there.
//
// The table is what the firmware does, not a general rule:
//
//	"00"                    done
//	len > 2                 C   (cancel, one level up)
//	"n?", n != 0            M0  (jump to top-level zero)
//	"0n", n != 0            ShallowReturn
func nextMove(p Position, fw Firmware) (key string, done bool, err error) {
	switch {
	case len(p) < 2:
		return "", false, newError(NavigationFailed, "GoToSetup", "malformed position code %q", string(p))
	case p == RootPosition:
		return "", true, nil
	case len(p) > 2:
		return "C", false, nil
	case p[0] != '0':
		return "M0", false, nil
	default:
		return fw.ShallowReturn, false, nil
	}
}

// Status is the state of the electrometer as reported by ?S
type Status int

const (
	// StatusOther is any code not in the table below
	StatusOther Status = iota
	StatusIdle
	StatusIntegrating
	StatusNulling
	StatusMeasuring
	StatusHold
	StatusError
)

var statusCodes = map[string]Status{
	"RES": StatusIdle,
	"RDY": StatusIdle,
	"INT": StatusIntegrating,
	"NUL": StatusNulling,
	"MES": StatusMeasuring,
	"HLD": StatusHold,
	"ERR": StatusError,
}

// ParseStatus converts a ?S response into a Status
func ParseStatus(code string) Status {
	if s, ok := statusCodes[strings.TrimSpace(code)]; ok {
		return s
	}
	return StatusOther
}

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusIntegrating:
		return "integrating"
	case StatusNulling:
		return "nulling"
	case StatusMeasuring:
		return "measuring"
	case StatusHold:
		return "hold"
	case StatusError:
		return "error"
	default:
		return "other"
	}
}

// Range is the measurement range.  In charge mode only Low and High are
// documented; Medium is passed through untouched.
type Range int

const (
	Low Range = iota
	Medium
	High
)

var rangeNames = [...]string{"Low", "Medium", "High"}

func (r Range) String() string {
	if r < Low || r > High {
		return fmt.Sprintf("Range(%d)", int(r))
	}
	return rangeNames[r]
}

// Selector is the digit sent after R to select the range
func (r Range) Selector() int {
	return int(r)
}

// ParseRange converts "low", "Medium", "HIGH", ... to a Range
func ParseRange(s string) (Range, error) {
	for i, name := range rangeNames {
		if strings.EqualFold(s, name) {
			return Range(i), nil
		}
	}
	return 0, newError(InvalidInput, "SetRange", "range %q not recognised, use Low, Medium or High", s)
}

// RangeInfo is the answer to ?R
type RangeInfo struct {
	// Label is the range name as the device spells it
	Label string `json:"label"`

	// Limit is the full-scale value with unit, e.g. "6.5 nC"
	Limit string `json:"limit"`
}

// parseRange splits a ?R response.  The label is the first token longer
// than one character; the limit is built from the third and fourth tokens.
func parseRange(resp string) (RangeInfo, error) {
	tokens := strings.Split(resp, " ")
	if len(tokens) < 4 {
		return RangeInfo{}, errors.Errorf("range response %q has %d fields, need 4", resp, len(tokens))
	}
	var label string
	for _, tok := range tokens {
		if len(tok) > 1 {
			label = tok
			break
		}
	}
	return RangeInfo{Label: label, Limit: fmt.Sprintf("%s %sC", tokens[2], tokens[3])}, nil
}

// Flags is the 8-bit status word returned by ?F
type Flags uint8

// String renders the flags as 8 binary digits, MSB first
func (f Flags) String() string {
	return fmt.Sprintf("%08b", uint8(f))
}

// Bit returns bit i of the flags, bit 0 being the LSB
func (f Flags) Bit(i uint) bool {
	return util.GetBit(byte(f), i)
}

// parseFlags reads the decimal ?F response, keeping the low 8 bits
func parseFlags(resp string) (Flags, error) {
	n, err := strconv.Atoi(strings.TrimSpace(resp))
	if err != nil {
		return 0, errors.Wrapf(err, "flags response %q is not an integer", resp)
	}
	return Flags(n & 0xFF), nil
}

// Reading is what the display shows after an integration
type Reading struct {
	// Elapsed is the integration time the device reports
	Elapsed time.Duration `json:"elapsed"`

	// Charge is the integrated charge
	Charge float64 `json:"charge"`

	// Unit of Charge
	Unit string `json:"unit"`
}

// ParseReading parses a V response such as "0030s 3.0000E-09 C".
//
// Tokens one character long are stray delimiters and ignored when looking for
// values.  The first remaining token, less its trailing unit character, is the
// elapsed time in seconds; the second is the charge.  The token right after
// the charge, if any, is its unit; otherwise Coulombs are assumed.
func ParseReading(line string) (Reading, error) {
	tokens := strings.Fields(line)
	var idx []int
	for i, tok := range tokens {
		if len(tok) > 1 {
			idx = append(idx, i)
		}
	}
	if len(idx) < 2 {
		return Reading{}, errors.Errorf("reading %q has fewer than two values", line)
	}
	tt := tokens[idx[0]]
	secs, err := strconv.ParseFloat(tt[:len(tt)-1], 64)
	if err != nil {
		return Reading{}, errors.Wrapf(err, "elapsed time %q in reading", tt)
	}
	charge, err := strconv.ParseFloat(tokens[idx[1]], 64)
	if err != nil {
		return Reading{}, errors.Wrapf(err, "charge %q in reading", tokens[idx[1]])
	}
	unit := "C"
	if next := idx[1] + 1; next < len(tokens) {
		unit = tokens[next]
	}
	return Reading{Elapsed: util.SecsToDuration(secs), Charge: charge, Unit: unit}, nil
}

// leadingInt parses the first whitespace-separated token of resp as an integer
func leadingInt(resp string) (int, error) {
	fields := strings.Fields(resp)
	if len(fields) == 0 {
		return 0, errors.New("empty response where a number was expected")
	}
	i, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, errors.Wrapf(err, "response %q", resp)
	}
	return i, nil
}
