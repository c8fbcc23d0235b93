package unidos

import "strings"

// DefaultMaxNavigationSteps bounds GoToSetup.  The deepest field is four
// levels down, so a healthy device never needs more than a handful of moves.
const DefaultMaxNavigationSteps = 16

// Position returns the current cursor position
func (e *Electrometer) Position() (Position, error) {
	resp, err := e.send("?W", false)
	return Position(strings.TrimSpace(resp)), err
}

// GoToSetup moves the cursor to the setup position ("00") in charge mode.
//
// The position is re-read after every move.  If the device is not home after
// the configured number of moves, an error of kind NavigationFailed is
// returned.
func (e *Electrometer) GoToSetup() error {
	pos, err := e.Position()
	if err != nil {
		return err
	}
	for moves := 0; ; moves++ {
		key, done, err := nextMove(pos, e.fw)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if moves >= e.maxSteps {
			return newError(NavigationFailed, "GoToSetup", "cursor still at %q after %d moves", string(pos), moves)
		}
		if _, err = e.send(key, true); err != nil {
			return err
		}
		if pos, err = e.Position(); err != nil {
			return err
		}
	}
}

// enterSubmenu sends a sequence of keys, each verified by echo
func (e *Electrometer) enterSubmenu(keys []string) error {
	for _, k := range keys {
		if _, err := e.send(k, true); err != nil {
			return err
		}
	}
	return nil
}
