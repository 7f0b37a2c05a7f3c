package diagnostics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/agent"
	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/telemetry"
	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/transmit"
)

const namespace = "maagent"

// StatsSource supplies pipeline snapshots. *agent.Agent satisfies it.
type StatsSource interface {
	Stats() agent.Stats
}

// Metrics exposes pipeline statistics to Prometheus. It is also a
// telemetry.Sink that counts error events by component and kind.
type Metrics struct {
	registry *prometheus.Registry
	errors   *prometheus.CounterVec
	attach   sync.Once
}

// NewMetrics builds a registry with the error counter and the standard Go
// and process collectors. Pipeline gauges are added by Attach.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	errs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Pipeline error events by component and kind",
		},
		[]string{"component", "kind"},
	)

	reg.MustRegister(
		errs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{registry: reg, errors: errs}
}

// Attach registers the pipeline collector for src. Only the first call
// has an effect.
func (m *Metrics) Attach(src StatsSource) {
	m.attach.Do(func() {
		m.registry.MustRegister(newPipelineCollector(src))
	})
}

// Report counts ev.
func (m *Metrics) Report(ev telemetry.Event) {
	m.errors.WithLabelValues(ev.Component, string(ev.Kind)).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// pipelineCollector reads one snapshot per scrape.
type pipelineCollector struct {
	src StatsSource

	queueLen      *prometheus.Desc
	queueCap      *prometheus.Desc
	overflowSize  *prometheus.Desc
	overflowBytes *prometheus.Desc
	buffered      *prometheus.Desc
	lost          *prometheus.Desc
	storageErrors *prometheus.Desc
	variables     *prometheus.Desc
	ticks         *prometheus.Desc
	emitted       *prometheus.Desc
	sent          *prometheus.Desc
	failed        *prometheus.Desc
	withheld      *prometheus.Desc
	resets        *prometheus.Desc
	state         *prometheus.Desc
}

func newPipelineCollector(src StatsSource) *pipelineCollector {
	desc := func(sub, name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, sub, name), help, labels, nil)
	}
	return &pipelineCollector{
		src:           src,
		queueLen:      desc("buffer", "queue_length", "Samples waiting in the memory queue"),
		queueCap:      desc("buffer", "queue_capacity", "Memory queue capacity"),
		overflowSize:  desc("buffer", "overflow_records", "Records waiting in the overflow file"),
		overflowBytes: desc("buffer", "overflow_bytes", "Size of the overflow file"),
		buffered:      desc("buffer", "samples_total", "Samples accepted by tier", "tier"),
		lost:          desc("buffer", "lost_total", "Samples dropped because every tier was full"),
		storageErrors: desc("buffer", "storage_errors_total", "Overflow file I/O failures"),
		variables:     desc("scheduler", "variables", "Registered variables"),
		ticks:         desc("scheduler", "ticks_total", "Scheduler ticks"),
		emitted:       desc("scheduler", "samples_total", "Samples emitted by the scheduler"),
		sent:          desc("transmit", "sent_total", "Samples confirmed by the transport"),
		failed:        desc("transmit", "failed_total", "Publish attempts that failed"),
		withheld:      desc("transmit", "withheld_total", "Sends withheld by the recovery gate"),
		resets:        desc("transmit", "resets_total", "Transport resets on entering FullyOK"),
		state:         desc("transmit", "state", "1 for the current connection state", "state"),
	}
}

func (c *pipelineCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.queueLen, c.queueCap, c.overflowSize, c.overflowBytes, c.buffered,
		c.lost, c.storageErrors, c.variables, c.ticks, c.emitted,
		c.sent, c.failed, c.withheld, c.resets, c.state,
	} {
		ch <- d
	}
}

func (c *pipelineCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Stats()
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	gauge(c.queueLen, float64(st.Buffer.QueueLen))
	gauge(c.queueCap, float64(st.Buffer.QueueCap))
	gauge(c.overflowSize, float64(st.Buffer.OverflowSize))
	gauge(c.overflowBytes, float64(st.Buffer.OverflowBytes))
	counter(c.buffered, st.Buffer.Queued, "memory")
	counter(c.buffered, st.Buffer.Overflowed, "overflow")
	counter(c.lost, st.Buffer.Lost)
	counter(c.storageErrors, st.Buffer.StorageErrors)

	gauge(c.variables, float64(st.Scheduler.Variables))
	counter(c.ticks, st.Scheduler.Ticks)
	counter(c.emitted, st.Scheduler.Emitted)

	counter(c.sent, st.Transmit.Sent)
	counter(c.failed, st.Transmit.Failed)
	counter(c.withheld, st.Transmit.Withheld)
	counter(c.resets, st.Transmit.Resets)
	for _, s := range []transmit.State{transmit.Disconnected, transmit.Recovering, transmit.FullyOK} {
		v := 0.0
		if s.String() == st.Transmit.State {
			v = 1
		}
		gauge(c.state, v, s.String())
	}
}
