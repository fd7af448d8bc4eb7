package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "colony"

// Exporter exposes a Collector's snapshot as Prometheus metrics. Values are
// read at scrape time, so the ingestion loop never touches Prometheus types.
type Exporter struct {
	source *Collector
	descs  map[string]*prometheus.Desc
	labels []string
	byKind *prometheus.Desc
	active *prometheus.Desc
}

var counterHelp = map[string]string{
	"datagrams_received_total":    "Datagrams read from the UDP socket.",
	"handshakes_total":            "Handshakes answered with READY.",
	"param_requests_total":        "Parameter requests answered.",
	"telemetry_frames_total":      "Telemetry frames accepted.",
	"records_buffered_total":      "Telemetry records appended to agent sessions.",
	"decode_errors_total":         "Datagrams that matched no frame kind.",
	"protocol_violations_total":   "Telemetry frames with a partial trailing record.",
	"acks_sent_total":             "Acknowledgments written to agents.",
	"reply_write_failures_total":  "Replies or acks that could not be written.",
	"chunks_built_total":          "Chunks produced from agent sessions.",
	"chunks_saved_total":          "Chunks persisted to the chunk store.",
	"store_write_failures_total":  "Chunk or merge writes that failed.",
	"store_delete_failures_total": "Merged source artifacts that could not be deleted.",
	"merges_total":                "Merges that produced an output file.",
	"rows_merged_total":           "Rows written by merges.",
}

// NewExporter wraps c for registration with a Prometheus registry.
func NewExporter(c *Collector) *Exporter {
	labels := []string{"profile", "storage_backend"}
	e := &Exporter{
		source: c,
		descs:  make(map[string]*prometheus.Desc, len(counterHelp)),
		labels: labels,
	}
	for name, help := range counterHelp {
		e.descs[name] = prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	e.byKind = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "clock_anomalies_total"),
		"Clock anomalies detected during time reconstruction, by kind.",
		append([]string{"kind"}, labels...), nil,
	)
	e.active = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "active_sessions"),
		"Agent sessions currently holding records.",
		labels, nil,
	)
	return e
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range e.descs {
		ch <- d
	}
	ch <- e.byKind
	ch <- e.active
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	s := e.source.Snapshot()
	lv := []string{s.Profile, s.StorageBackend}

	values := map[string]int64{
		"datagrams_received_total":    s.DatagramsReceived,
		"handshakes_total":            s.Handshakes,
		"param_requests_total":        s.ParamRequests,
		"telemetry_frames_total":      s.TelemetryFrames,
		"records_buffered_total":      s.RecordsBuffered,
		"decode_errors_total":         s.DecodeErrors,
		"protocol_violations_total":   s.ProtocolViolations,
		"acks_sent_total":             s.AcksSent,
		"reply_write_failures_total":  s.ReplyWriteFailures,
		"chunks_built_total":          s.ChunksBuilt,
		"chunks_saved_total":          s.ChunksSaved,
		"store_write_failures_total":  s.StoreWriteFailures,
		"store_delete_failures_total": s.StoreDeleteFailures,
		"merges_total":                s.Merges,
		"rows_merged_total":           s.RowsMerged,
	}
	for name, v := range values {
		ch <- prometheus.MustNewConstMetric(e.descs[name], prometheus.CounterValue, float64(v), lv...)
	}
	for kind, v := range s.AnomaliesByKind {
		ch <- prometheus.MustNewConstMetric(e.byKind, prometheus.CounterValue, float64(v), append([]string{kind}, lv...)...)
	}
	ch <- prometheus.MustNewConstMetric(e.active, prometheus.GaugeValue, float64(s.ActiveSessions), lv...)
}

// Register adds an exporter for c to reg, defaulting to the global registry
// when reg is nil, and returns a /metrics handler for the same registry.
func Register(reg prometheus.Registerer, c *Collector) (http.Handler, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	if err := reg.Register(NewExporter(c)); err != nil {
		return nil, fmt.Errorf("register colony metrics: %w", err)
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}), nil
}
