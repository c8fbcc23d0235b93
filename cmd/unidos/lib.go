package main

import (
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nasa-jpl/unidos/generichttp"
	"github.com/nasa-jpl/unidos/generichttp/ascii"
	"github.com/nasa-jpl/unidos/server"
	"github.com/nasa-jpl/unidos/server/middleware/locker"
	"github.com/nasa-jpl/unidos/unidos"
)

// Device holds the connection parameters of the electrometer
type Device struct {
	// Addr holds the network or filesystem address of the remote device,
	// e.g. 192.168.100.123:2006 for a device connected to port 6
	// on a digi portserver, or /dev/ttyS4 for an RS232 device on a serial cable
	Addr string `yaml:"Addr" koanf:"Addr"`

	// Serial determines if the connection is serial/RS232 (True) or TCP (False)
	Serial bool `yaml:"Serial" koanf:"Serial"`

	// Baud is the serial baud rate, 9600 from the factory
	Baud int `yaml:"Baud" koanf:"Baud"`

	// Timeout bounds every read
	Timeout time.Duration `yaml:"Timeout" koanf:"Timeout"`
}

// Log configures the logger
type Log struct {
	// Level is debug, info, warn or error
	Level string `yaml:"Level" koanf:"Level"`

	// Format is json or console
	Format string `yaml:"Format" koanf:"Format"`

	// Filename, if not empty, sends the log to a rotated file instead of stderr
	Filename   string `yaml:"Filename" koanf:"Filename"`
	MaxSize    int    `yaml:"MaxSize" koanf:"MaxSize"` // megabytes
	MaxBackups int    `yaml:"MaxBackups" koanf:"MaxBackups"`
	MaxAge     int    `yaml:"MaxAge" koanf:"MaxAge"` // days
	Compress   bool   `yaml:"Compress" koanf:"Compress"`
}

// Measurement holds the settings used by the integrate command
type Measurement struct {
	// Voltage is the chamber voltage
	Voltage int `yaml:"Voltage" koanf:"Voltage"`

	// Range is Low, Medium or High
	Range string `yaml:"Range" koanf:"Range"`

	// IntegrationTime in seconds
	IntegrationTime int `yaml:"IntegrationTime" koanf:"IntegrationTime"`

	// ResetVoltage brings the chamber voltage back to zero afterwards
	ResetVoltage bool `yaml:"ResetVoltage" koanf:"ResetVoltage"`
}

// Config is the configuration of the unidos binary
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr" koanf:"Addr"`

	// Endpoint is the URL stem the electrometer routes are served on
	// ex. Endpoint="/omc/unidos" will produce routes of /omc/unidos/voltage, etc.
	Endpoint string `yaml:"Endpoint" koanf:"Endpoint"`

	Device Device `yaml:"Device" koanf:"Device"`

	// Mock replaces the device with a simulator
	Mock bool `yaml:"Mock" koanf:"Mock"`

	// Strict turns mismatches into errors instead of warnings
	Strict bool `yaml:"Strict" koanf:"Strict"`

	// CommandRate is the maximum number of commands per second, 0 for no limit
	CommandRate float64 `yaml:"CommandRate" koanf:"CommandRate"`

	// MaxNavigationSteps bounds the moves made to return to the setup position
	MaxNavigationSteps int `yaml:"MaxNavigationSteps" koanf:"MaxNavigationSteps"`

	// Voltages overrides the firmware voltage table
	Voltages []int `yaml:"Voltages" koanf:"Voltages"`

	Log Log `yaml:"Log" koanf:"Log"`

	Measurement Measurement `yaml:"Measurement" koanf:"Measurement"`
}

// DefaultConfig is the configuration used when there is no file
func DefaultConfig() Config {
	return Config{
		Addr:     ":8000",
		Endpoint: "/unidos",
		Device: Device{
			Addr:    "/dev/ttyUSB0",
			Serial:  true,
			Baud:    9600,
			Timeout: 3 * time.Second},
		CommandRate:        20,
		MaxNavigationSteps: unidos.DefaultMaxNavigationSteps,
		Log: Log{
			Level:      "info",
			Format:     "console",
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     30},
		Measurement: Measurement{
			Voltage:         300,
			Range:           "Low",
			IntegrationTime: 30,
			ResetVoltage:    true},
	}
}

// NewLogger builds a zap logger from the config
func NewLogger(c Log) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		level = zap.InfoLevel
	}

	var enc zapcore.Encoder
	if c.Format == "json" {
		enc = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		enc = zapcore.NewConsoleEncoder(encoderConfig)
	}

	ws := zapcore.Lock(os.Stderr)
	if c.Filename != "" {
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   c.Filename,
			MaxSize:    c.MaxSize,
			MaxBackups: c.MaxBackups,
			MaxAge:     c.MaxAge,
			Compress:   c.Compress,
		})
	}
	return zap.New(zapcore.NewCore(enc, ws, zap.NewAtomicLevelAt(level)), zap.AddCaller())
}

// Options converts the config into electrometer options
func Options(c Config, logger *zap.Logger, metrics *unidos.Metrics) []unidos.Option {
	opts := []unidos.Option{
		unidos.WithLogger(logger),
		unidos.WithCommandRate(c.CommandRate),
		unidos.WithMaxNavigationSteps(c.MaxNavigationSteps),
		unidos.WithMetrics(metrics),
	}
	if c.Strict {
		opts = append(opts, unidos.WithPolicy(unidos.AbortOnMismatch))
	}
	if len(c.Voltages) > 0 {
		fw := unidos.DefaultFirmware()
		fw.Voltages = c.Voltages
		opts = append(opts, unidos.WithFirmware(fw))
	}
	return opts
}

// Transport returns the transport the config asks for
func Transport(c Config) unidos.Transport {
	if c.Mock {
		return unidos.NewSimulator(nil)
	}
	return unidos.NewPortTransport(unidos.PortConfig{
		Addr:    c.Device.Addr,
		Serial:  c.Device.Serial,
		Baud:    c.Device.Baud,
		Timeout: c.Device.Timeout})
}

// Session connects over t, calls fn with the electrometer and closes the
// session before returning, whether or not fn failed.  An error from Close
// is appended to fn's.
func Session(t unidos.Transport, opts []unidos.Option, fn func(*unidos.Electrometer) error) (err error) {
	e, err := unidos.New(t, opts...)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, e.Close())
	}()
	return fn(e)
}

// BuildMux binds the electrometer routes, the lock and raw interfaces and
// the metrics endpoint to a new router.
// The mux serves a special route, /endpoints, which returns a map from
// the endpoint to its route list as JSON.
func BuildMux(c Config, e *unidos.Electrometer, gatherer prometheus.Gatherer) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)

	httper := unidos.NewHTTPWrapper(e)
	ascii.InjectRawComm(httper, e)
	lock := locker.New()
	locker.Inject(httper, lock)

	stem := generichttp.SubMuxSanitize(c.Endpoint)
	supergraph := map[string][]string{stem: httper.RT().Endpoints()}

	r := chi.NewRouter()
	r.Use(lock.Check)
	r.Use(httper.Serialize)
	httper.RT().Bind(r)
	root.Mount(stem, r)

	root.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		server.EncodeAndRespond(w, supergraph)
	})
	return root
}
