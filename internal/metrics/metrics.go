// Package metrics exposes controller counters and gauges in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds the daemon's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Publishes      *prometheus.CounterVec
	SessionDials   *prometheus.CounterVec
	LinkReconnects *prometheus.CounterVec
	Commands       *prometheus.CounterVec
	PumpCutoffs    prometheus.Counter
	Recoveries     prometheus.Counter

	MoistureRaw      prometheus.Gauge
	PumpRunning      prometheus.Gauge
	SessionConnected prometheus.Gauge
}

// New registers all collectors, plus the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soilpump_publish_total",
			Help: "Telemetry publish attempts by result.",
		}, []string{"result"}),
		SessionDials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soilpump_session_dials_total",
			Help: "Broker session dial attempts by result.",
		}, []string{"result"}),
		LinkReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soilpump_link_reconnects_total",
			Help: "Network link reconnect cycles by result.",
		}, []string{"result"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "soilpump_commands_total",
			Help: "Inbound pump commands by command (ON, OFF or invalid).",
		}, []string{"command"}),
		PumpCutoffs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soilpump_pump_cutoffs_total",
			Help: "Times the pump was forced off after exceeding its maximum runtime.",
		}),
		Recoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "soilpump_recoveries_total",
			Help: "Unexpected control loop failures caught by the recovery path.",
		}),
		MoistureRaw: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "soilpump_moisture_raw",
			Help: "Last raw moisture sample.",
		}),
		PumpRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "soilpump_pump_running",
			Help: "1 while the pump relay is energised.",
		}),
		SessionConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "soilpump_session_connected",
			Help: "1 while a broker session is held.",
		}),
	}

	m.registry.MustRegister(
		m.Publishes, m.SessionDials, m.LinkReconnects, m.Commands,
		m.PumpCutoffs, m.Recoveries,
		m.MoistureRaw, m.PumpRunning, m.SessionConnected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Result maps an error to a result label.
func Result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

// SetBool sets g to 1 or 0.
func SetBool(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
		return
	}
	g.Set(0)
}
