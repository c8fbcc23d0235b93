package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/theckman/yacspin"
	"go.uber.org/zap"

	yml "gopkg.in/yaml.v2"

	"github.com/nasa-jpl/unidos/unidos"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "unidos.yml"

	// EnvPrefix prefixes environment variables that override the config,
	// e.g. UNIDOS_DEVICE_ADDR=/dev/ttyS0
	EnvPrefix = "UNIDOS_"

	k = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(DefaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		log.Fatalf("error loading environment: %v", err)
	}
}

// envKey maps UNIDOS_DEVICE_ADDR onto the existing key Device.Addr
func envKey(s string) string {
	path := strings.ReplaceAll(strings.TrimPrefix(s, EnvPrefix), "_", ".")
	for _, key := range k.Keys() {
		if strings.EqualFold(key, path) {
			return key
		}
	}
	return path
}

func loadconf() Config {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	return c
}

func root() {
	str := `unidos drives a PTW UNIDOS electrometer and exposes an HTTP interface to it

Usage:
	unidos <command>

Commands:
	run
	integrate
	null
	info
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `unidos is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

Use mkconf to write the defaults to unidos.yml, then edit it.  Any key may also
be set from the environment with the UNIDOS_ prefix, e.g. UNIDOS_DEVICE_ADDR or
UNIDOS_MEASUREMENT_VOLTAGE.

Device.Addr is a serial port (/dev/ttyUSB0, COM3) when Device.Serial is true,
otherwise host:port of a terminal server.  Mock: true uses a simulated
electrometer instead.

run        serves the electrometer over HTTP at Addr, under Endpoint
integrate  sets Measurement.Voltage, Range and IntegrationTime, integrates
           once and prints the charge
null       zeroes the electrometer, about 80 s
info       prints the identity and current settings

The electrometer must be in charge mode.  By default, a command the device
does not acknowledge or a value that does not read back is logged as a
warning; Strict: true makes it an error.`
	fmt.Println(str)
}

func mkconf() {
	c := loadconf()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := loadconf()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("unidos version %v\n", Version)
}

func run() {
	c := loadconf()
	logger := NewLogger(c.Log)
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	opts := Options(c, logger, unidos.NewMetrics(reg))
	err := Session(Transport(c), opts, func(e *unidos.Electrometer) error {
		mux := BuildMux(c, e, reg)
		logger.Info("now listening for requests", zap.String("addr", c.Addr), zap.String("endpoint", c.Endpoint))
		return http.ListenAndServe(c.Addr, mux)
	})
	if err != nil {
		// the session is closed by now, Fatal may exit
		logger.Fatal("server failed", zap.String("device", c.Device.Addr), zap.Error(err))
	}
}

func spinner(msg string) *yacspin.Spinner {
	s, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		Message:           msg,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		log.Fatal(err)
	}
	return s
}

func progress(s *yacspin.Spinner, what string) unidos.Option {
	return unidos.WithProgress(func(elapsed, total time.Duration) {
		s.Message(fmt.Sprintf("%s %v / %v", what, elapsed.Round(time.Second), total.Round(time.Second)))
	})
}

// measure applies m, integrates once and returns the charge
func measure(e *unidos.Electrometer, m Measurement, s *yacspin.Spinner) (float64, error) {
	steps := []struct {
		msg string
		fn  func() error
	}{
		{fmt.Sprintf("setting voltage to %d V", m.Voltage), func() error { return e.SetVoltage(m.Voltage) }},
		{"setting range to " + m.Range, func() error { return e.SetRange(m.Range) }},
		{fmt.Sprintf("setting integration time to %d s", m.IntegrationTime), func() error { return e.SetIntegrationTime(m.IntegrationTime) }},
	}
	for _, step := range steps {
		if s != nil {
			s.Message(step.msg)
		}
		if err := step.fn(); err != nil {
			return 0, errors.Wrap(err, step.msg)
		}
	}
	charge, err := e.Integrate()
	return charge, errors.Wrap(err, "integrating")
}

func integrate() {
	c := loadconf()
	logger := NewLogger(c.Log)
	defer logger.Sync()

	s := spinner("connecting")
	opts := append(Options(c, logger, nil), progress(s, "integrating"))
	s.Start()
	err := Session(Transport(c), opts, func(e *unidos.Electrometer) error {
		m := c.Measurement
		charge, err := measure(e, m, s)
		if err != nil {
			return err
		}
		s.Suffix(fmt.Sprintf(" %.3E C", charge))
		s.Message("")
		s.Stop()

		if m.ResetVoltage {
			if err = e.SetVoltage(0); err != nil {
				logger.Error("resetting voltage", zap.Error(err))
			}
		}
		for _, w := range e.Warnings() {
			fmt.Println("warning:", w)
		}
		return nil
	})
	if err != nil {
		s.StopFail()
		logger.Fatal("integration failed", zap.String("device", c.Device.Addr), zap.Error(err))
	}
}

func null() {
	c := loadconf()
	logger := NewLogger(c.Log)
	defer logger.Sync()

	s := spinner("nulling")
	opts := append(Options(c, logger, nil), progress(s, "nulling"))
	s.Start()
	err := Session(Transport(c), opts, func(e *unidos.Electrometer) error {
		return e.Null()
	})
	if err != nil {
		s.StopFail()
		logger.Fatal("nulling", zap.String("device", c.Device.Addr), zap.Error(err))
	}
	s.Message("nulled")
	s.Stop()
}

func info() {
	c := loadconf()
	logger := NewLogger(c.Log)
	defer logger.Sync()

	err := Session(Transport(c), Options(c, logger, nil), func(e *unidos.Electrometer) error {
		fmt.Printf("%s %s, serial number %s\n", e.Firmware().Family, e.Version(), e.SerialNumber())
		if f, err := e.Flags(); err == nil {
			fmt.Println("flags:           ", f)
		}
		if st, err := e.Status(); err == nil {
			fmt.Println("status:          ", st)
		}
		if r, err := e.Range(); err == nil {
			fmt.Printf("range:            %s (%s)\n", r.Label, r.Limit)
		}
		if v, err := e.Voltage(true); err == nil {
			fmt.Printf("voltage:          %d V\n", v)
		}
		if t, err := e.IntegrationTime(true); err == nil {
			fmt.Printf("integration time: %d s\n", t)
		}
		if u, err := e.Unit(); err == nil {
			fmt.Println("unit:            ", u)
		}
		if corr, err := e.Corrections(); err == nil {
			fmt.Println("corrections:     ", corr)
		}
		for _, w := range e.Warnings() {
			fmt.Println("warning:", w)
		}
		return nil
	})
	if err != nil {
		logger.Fatal("reading electrometer", zap.String("device", c.Device.Addr), zap.Error(err))
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "integrate":
		integrate()
		return
	case "null":
		null()
		return
	case "info":
		info()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
