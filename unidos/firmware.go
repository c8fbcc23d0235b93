package unidos

import "time"

// Firmware holds the menu layout and timing of a firmware revision.  The
// UNIDOS has no register access for most settings, so these sequences are
// the only way to reach them; a new firmware revision should only need a new
// table.
type Firmware struct {
	// Family is the first token of the answer to "PTW"
	Family string

	// Voltages is the ordered list of selectable chamber voltages.  The device
	// steps through it with U and D
	Voltages []int

	// ShallowReturn is sent when the cursor sits at a top-level code of the
	// form "0n", n != 0
	ShallowReturn string

	// UnitsAccess leads from the setup position to the unit field
	UnitsAccess []string

	// UnitsToggle flips the unit field and confirms it
	UnitsToggle []string

	// VoltageAccess leads from the setup position into the voltage field
	VoltageAccess []string

	// IntegrationTimeAccess leads from the setup position into the
	// integration time field
	IntegrationTimeAccess []string

	// Confirm is the enter key; AltConfirm is the start key, which the voltage
	// field wants when it does not echo Confirm
	Confirm, AltConfirm string

	// RadiologicalBit is the bit of the ?F flags that is set in radiological units
	RadiologicalBit uint

	// MinIntegrationTime and MaxIntegrationTime bound the integration time in seconds
	MinIntegrationTime, MaxIntegrationTime int

	// IntegrationGrace is added to the integration time before the first status poll
	IntegrationGrace time.Duration

	// IntegrationPoll is the status poll period while integrating
	IntegrationPoll time.Duration

	// NullSettle is the wait after starting a null; NullPoll the poll period after it
	NullSettle, NullPoll time.Duration
}

// DefaultFirmware returns the table for the UNIDOS firmware this package was
// developed against
func DefaultFirmware() Firmware {
	return Firmware{
		Family:                "UNIDOS",
		Voltages:              []int{0, 50, 100, 150, 200, 250, 300, 350, 400},
		ShallowReturn:         "D",
		UnitsAccess:           []string{"E", "D", "E"},
		UnitsToggle:           []string{"U", "E"},
		VoltageAccess:         []string{"D", "E", "D", "E"},
		IntegrationTimeAccess: []string{"E", "E"},
		Confirm:               "E",
		AltConfirm:            "G",
		RadiologicalBit:       2,
		MinIntegrationTime:    6,
		MaxIntegrationTime:    9999,
		IntegrationGrace:      time.Second,
		IntegrationPoll:       time.Second,
		NullSettle:            75 * time.Second,
		NullPoll:              5 * time.Second,
	}
}

// voltageIndex returns the position of v in the voltage table, or -1
func (f Firmware) voltageIndex(v int) int {
	for i, x := range f.Voltages {
		if x == v {
			return i
		}
	}
	return -1
}
