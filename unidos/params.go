package unidos

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Flags returns the status word of the electrometer
func (e *Electrometer) Flags() (Flags, error) {
	resp, err := e.send("?F", false)
	if err != nil {
		return 0, err
	}
	return parseFlags(resp)
}

func (e *Electrometer) radiological() (bool, error) {
	f, err := e.Flags()
	if err != nil {
		return false, err
	}
	return f.Bit(e.fw.RadiologicalBit), nil
}

// SetElectricalUnits switches the display to electrical units (charge,
// current) if it is in radiological units (dose).  Everything else in this
// package assumes electrical units.
func (e *Electrometer) SetElectricalUnits() error {
	const op = "SetElectricalUnits"
	rad, err := e.radiological()
	if err != nil || !rad {
		return err
	}
	if err = e.GoToSetup(); err != nil {
		return err
	}
	if err = e.enterSubmenu(e.fw.UnitsAccess); err != nil {
		return e.bail(err)
	}
	if err = e.enterSubmenu(e.fw.UnitsToggle); err != nil {
		return e.bail(err)
	}
	if rad, err = e.radiological(); err != nil {
		return e.bail(err)
	}
	if rad {
		if err = e.report(newError(UnitModeFailure, op, "device is still in radiological units")); err != nil {
			return e.bail(err)
		}
	}
	return e.GoToSetup()
}

// Status returns the state of the electrometer
func (e *Electrometer) Status() (Status, error) {
	resp, err := e.send("?S", false)
	if err != nil {
		return StatusOther, err
	}
	return ParseStatus(resp), nil
}

// Range returns the current range and its full-scale value
func (e *Electrometer) Range() (RangeInfo, error) {
	resp, err := e.send("?R", false)
	if err != nil {
		return RangeInfo{}, err
	}
	return parseRange(resp)
}

// SetRange sets the range; r is Low, Medium or High in any case.
// In charge mode the manual only lists Low and High.
func (e *Electrometer) SetRange(r string) error {
	rng, err := ParseRange(r)
	if err != nil {
		return err
	}
	_, err = e.send("R"+strconv.Itoa(rng.Selector()), true)
	return err
}

// Voltage returns the chamber voltage.  If goToSetup is false the cursor is
// left inside the voltage field.
func (e *Electrometer) Voltage(goToSetup bool) (int, error) {
	if err := e.GoToSetup(); err != nil {
		return 0, err
	}
	if err := e.enterSubmenu(e.fw.VoltageAccess); err != nil {
		return 0, e.bail(err)
	}
	v, err := e.readField()
	if err != nil {
		return 0, e.bail(err)
	}
	if goToSetup {
		if err := e.GoToSetup(); err != nil {
			return v, err
		}
	}
	return v, nil
}

// SetVoltage sets the chamber voltage, which must be in the firmware's
// voltage table.
//
// The device can only step the voltage up or down through the table, so the
// number of steps is the distance between the current and requested entries.
// The value is read back before it is confirmed; on a mismatch nothing is
// confirmed.
func (e *Electrometer) SetVoltage(v int) error {
	const op = "SetVoltage"
	target := e.fw.voltageIndex(v)
	if target < 0 {
		return newError(InvalidInput, op, "%d V is not a valid voltage, allowed values are %v", v, e.fw.Voltages)
	}
	cur, err := e.Voltage(false)
	if err != nil {
		return err
	}
	current := e.fw.voltageIndex(cur)
	if current < 0 {
		if err = e.report(newError(ValueMismatch, op, "device shows %d V, which is not in the voltage table", cur)); err != nil {
			return e.bail(err)
		}
		return e.GoToSetup()
	}

	move, key := target-current, "U"
	if move < 0 {
		move, key = -move, "D"
	}
	for i := 0; i < move; i++ {
		if _, err = e.send(key, true); err != nil {
			return e.bail(err)
		}
	}

	got, err := e.readField()
	if err != nil {
		return e.bail(err)
	}
	if got != v {
		if err = e.report(newError(ValueMismatch, op, "requested %d V but device shows %d V, not confirmed", v, got)); err != nil {
			return e.bail(err)
		}
		return e.GoToSetup()
	}

	resp, err := e.send(e.fw.Confirm, false)
	if err != nil {
		return e.bail(err)
	}
	if resp != e.fw.Confirm {
		// the voltage dialog sometimes wants the start key instead
		if _, err = e.send(e.fw.AltConfirm, false); err != nil {
			return e.bail(err)
		}
	}
	return e.GoToSetup()
}

// IntegrationTime returns the integration time in seconds.  If goToSetup is
// false the cursor is left inside the integration time field.
func (e *Electrometer) IntegrationTime(goToSetup bool) (int, error) {
	if err := e.GoToSetup(); err != nil {
		return 0, err
	}
	if err := e.enterSubmenu(e.fw.IntegrationTimeAccess); err != nil {
		return 0, e.bail(err)
	}
	t, err := e.readField()
	if err != nil {
		return 0, e.bail(err)
	}
	if goToSetup {
		if err := e.GoToSetup(); err != nil {
			return t, err
		}
	}
	return t, nil
}

// SetIntegrationTime sets the integration time in seconds
func (e *Electrometer) SetIntegrationTime(t int) error {
	const op = "SetIntegrationTime"
	if t < e.fw.MinIntegrationTime || t > e.fw.MaxIntegrationTime {
		return newError(InvalidInput, op, "%d s is not a valid integration time, must be in [%d, %d]",
			t, e.fw.MinIntegrationTime, e.fw.MaxIntegrationTime)
	}
	if err := e.GoToSetup(); err != nil {
		return err
	}
	if err := e.enterSubmenu(e.fw.IntegrationTimeAccess); err != nil {
		return e.bail(err)
	}
	if _, err := e.send(fmt.Sprintf("%04d", t), true); err != nil {
		return e.bail(err)
	}
	if _, err := e.send(e.fw.Confirm, true); err != nil {
		return e.bail(err)
	}
	got, err := e.readField()
	if err != nil {
		return e.bail(err)
	}
	if got != t {
		if err = e.report(newError(ValueMismatch, op, "requested %d s but device shows %d s", t, got)); err != nil {
			return e.bail(err)
		}
	}
	return e.GoToSetup()
}

// readField reads the number in the field under the cursor
func (e *Electrometer) readField() (int, error) {
	resp, err := e.send("V", false)
	if err != nil {
		return 0, err
	}
	return leadingInt(resp)
}

// Unit returns the unit the electrometer measures in
func (e *Electrometer) Unit() (string, error) {
	resp, err := e.send("?U", false)
	return strings.TrimSpace(resp), err
}

// Corrections returns the correction factors applied by the electrometer,
// as the device formats them
func (e *Electrometer) Corrections() (string, error) {
	resp, err := e.send("?C", false)
	return strings.TrimSpace(resp), err
}

// ReadingFields returns the space-separated tokens of the display
func (e *Electrometer) ReadingFields() ([]string, error) {
	resp, err := e.send("V", false)
	if err != nil {
		return nil, err
	}
	return strings.Split(resp, " "), nil
}

// Reading returns the parsed display
func (e *Electrometer) Reading() (Reading, error) {
	resp, err := e.send("V", false)
	if err != nil {
		return Reading{}, err
	}
	r, err := ParseReading(resp)
	return r, errors.WithMessage(err, "Reading")
}

// Raw sends str unchecked and returns whatever the device answers
func (e *Electrometer) Raw(str string) (string, error) {
	return e.send(str, false)
}
