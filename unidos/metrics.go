package unidos

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts what the electrometer has been asked to do.  A nil *Metrics
// is valid and counts nothing.
type Metrics struct {
	commands        prometheus.Counter
	transportErrors prometheus.Counter
	warnings        *prometheus.CounterVec
	integrations    prometheus.Counter
	lastCharge      prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commands: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "unidos",
			Name:      "commands_total",
			Help:      "Commands sent to the electrometer.",
		}),
		transportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "unidos",
			Name:      "transport_errors_total",
			Help:      "Commands that failed at the transport (timeouts, closed ports).",
		}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "unidos",
			Name:      "warnings_total",
			Help:      "Recoverable protocol problems, by kind.",
		}, []string{"kind"}),
		integrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "unidos",
			Name:      "integrations_total",
			Help:      "Completed charge integrations.",
		}),
		lastCharge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "unidos",
			Name:      "last_charge_coulombs",
			Help:      "Charge measured by the most recent integration.",
		}),
	}
	reg.MustRegister(m.commands, m.transportErrors, m.warnings, m.integrations, m.lastCharge)
	return m
}

func (m *Metrics) command(err error) {
	if m == nil {
		return
	}
	m.commands.Inc()
	if err != nil {
		m.transportErrors.Inc()
	}
}

func (m *Metrics) warn(k Kind) {
	if m == nil {
		return
	}
	m.warnings.WithLabelValues(k.String()).Inc()
}

func (m *Metrics) integrated(charge float64) {
	if m == nil {
		return
	}
	m.integrations.Inc()
	m.lastCharge.Set(charge)
}
