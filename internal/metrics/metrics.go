package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Command outcomes.
const (
	OutcomeGranted = "granted"
	OutcomeRefused = "refused"
	OutcomeOK      = "ok"
	OutcomeError   = "error"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	commands       *prometheus.CounterVec
	tokensGranted  prometheus.Counter
	snapshotSaves  *prometheus.CounterVec
	restoreSkipped prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bucketstore_commands_total",
			Help: "Bucket commands by command and outcome.",
		}, []string{"command", "outcome"}),
		tokensGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bucketstore_tokens_granted_total",
			Help: "Tokens handed out by take.",
		}),
		snapshotSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bucketstore_snapshot_saves_total",
			Help: "Snapshot saves by result.",
		}, []string{"result"}),
		restoreSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bucketstore_restore_skipped_keys_total",
			Help: "Keys that could not be restored from a snapshot.",
		}),
	}

	reg.MustRegister(
		m.commands,
		m.tokensGranted,
		m.snapshotSaves,
		m.restoreSkipped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveCommand(command, outcome string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(command, outcome).Inc()
}

func (m *Metrics) ObserveGranted(tokens int64) {
	if m == nil || tokens <= 0 {
		return
	}
	m.tokensGranted.Add(float64(tokens))
}

func (m *Metrics) ObserveSnapshotSave(err error) {
	if m == nil {
		return
	}
	result := OutcomeOK
	if err != nil {
		result = OutcomeError
	}
	m.snapshotSaves.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRestoreSkipped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.restoreSkipped.Add(float64(n))
}
