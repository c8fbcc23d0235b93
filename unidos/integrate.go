package unidos

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
)

// Integrate runs one charge integration with the configured integration time
// and returns the charge in Coulombs.
//
// The call blocks for at least the integration time plus a grace second, then
// polls the status once a second until the device stops integrating.
func (e *Electrometer) Integrate() (float64, error) {
	const op = "Integrate"
	pos, err := e.Position()
	if err != nil {
		return 0, err
	}
	if pos != RootPosition {
		if err = e.GoToSetup(); err != nil {
			return 0, err
		}
	}
	t, err := e.IntegrationTime(true)
	if err != nil {
		return 0, err
	}
	if _, err = e.send("I", true); err != nil {
		return 0, err
	}
	total := time.Duration(t) * time.Second
	e.logger.Info("integrating", zap.Duration("duration", total))
	e.wait(total + e.fw.IntegrationGrace)
	if err = e.waitWhile(StatusIntegrating, e.fw.IntegrationPoll); err != nil {
		return 0, err
	}

	reading, err := e.rawReading()
	if err != nil {
		return 0, err
	}
	if secs := int(math.Round(reading.Elapsed.Seconds())); secs != t {
		err = e.report(newError(TimingMismatch, op, "integrated for %d s, expected %d s", secs, t))
		if err != nil {
			return reading.Charge, err
		}
	}
	e.metrics.integrated(reading.Charge)
	e.logger.Info("integration complete", zap.Float64("charge", reading.Charge), zap.String("unit", reading.Unit))
	return reading.Charge, nil
}

// Null zeroes the electrometer.  This takes a little over 75 s.
func (e *Electrometer) Null() error {
	if _, err := e.send("N", false); err != nil {
		return err
	}
	e.logger.Info("nulling", zap.Duration("settle", e.fw.NullSettle))
	e.wait(e.fw.NullSettle)
	return e.waitWhile(StatusNulling, e.fw.NullPoll)
}

// wait sleeps for d, reporting progress once a second if a progress hook is set
func (e *Electrometer) wait(d time.Duration) {
	if e.progress == nil {
		e.clock.Sleep(d)
		return
	}
	var elapsed time.Duration
	for elapsed < d {
		step := time.Second
		if d-elapsed < step {
			step = d - elapsed
		}
		e.clock.Sleep(step)
		elapsed += step
		e.progress(elapsed, d)
	}
}

// waitWhile polls the status every period for as long as it is s
func (e *Electrometer) waitWhile(s Status, period time.Duration) error {
	for {
		st, err := e.Status()
		if err != nil {
			return err
		}
		if st != s {
			return nil
		}
		e.clock.Sleep(period)
	}
}

// rawReading fetches the display the way the integration result must be
// fetched: an unverified write, then whatever bytes come back, in Latin-1
func (e *Electrometer) rawReading() (Reading, error) {
	if err := e.pace(); err != nil {
		return Reading{}, err
	}
	err := e.t.Write("V")
	e.metrics.command(err)
	if err != nil {
		return Reading{}, errors.Wrap(err, "sending \"V\"")
	}
	raw, err := e.t.ReadRaw()
	if err != nil {
		return Reading{}, errors.Wrap(err, "reading integration result")
	}
	text, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return Reading{}, errors.Wrap(err, "decoding integration result")
	}
	e.logger.Debug("exchange", zap.String("cmd", "V"), zap.ByteString("raw", raw))
	return ParseReading(string(text))
}
