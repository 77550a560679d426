package prometheus

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/metrics/export/internaldefs"
)

const contentType = "text/plain; version=0.0.4; charset=utf-8"

type metricsSource interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

// keySource is implemented by sources that expose the signing key id.
type keySource interface {
	KeyID() string
}

// PrometheusExporter renders engine counters and latency histograms in the
// Prometheus text exposition format.
type PrometheusExporter struct {
	source metricsSource
}

// NewPrometheusExporter creates an exporter that reads from engine.
func NewPrometheusExporter(engine *authcore.Engine) *PrometheusExporter {
	return &PrometheusExporter{source: engine}
}

// NewPrometheusExporterFromSource creates an exporter over any metrics source.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler serves the exposition on every request.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_ = p.WriteTo(w)
	})
}

// Render returns the exposition as a string. It is empty when metrics are
// disabled and nothing was dropped.
func (p *PrometheusExporter) Render() string {
	var b strings.Builder
	_ = p.WriteTo(&b)
	return b.String()
}

// WriteTo streams the exposition to w.
func (p *PrometheusExporter) WriteTo(w io.Writer) error {
	if p == nil || p.source == nil {
		return nil
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return nil
	}

	tw := textWriter{w: bufio.NewWriter(w)}
	for _, def := range internaldefs.CounterDefs {
		tw.counter(def.Name, def.Help, snapshot.Counters[def.ID])
	}
	for _, def := range internaldefs.HistogramDefs {
		buckets := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[def.ID]))
		tw.histogram(def.Name, def.Help, buckets)
	}
	tw.counter("authcore_audit_dropped_total", "Audit events dropped because the dispatcher buffer was full.", dropped)

	if ks, ok := p.source.(keySource); ok {
		if kid := ks.KeyID(); kid != "" {
			tw.info("authcore_signing_key_info", "Signing key currently used to issue tokens.", "kid", kid)
		}
	}
	return tw.flush()
}

// textWriter keeps the first write error and ignores later writes.
type textWriter struct {
	w   *bufio.Writer
	err error
}

func (t *textWriter) printf(format string, args ...any) {
	if t.err != nil {
		return
	}
	_, t.err = fmt.Fprintf(t.w, format, args...)
}

func (t *textWriter) header(name, help, kind string) {
	t.printf("# HELP %s %s\n# TYPE %s %s\n", name, escapeHelp(help), name, kind)
}

func (t *textWriter) counter(name, help string, value uint64) {
	t.header(name, help, "counter")
	t.printf("%s %d\n", name, value)
}

func (t *textWriter) info(name, help, label, value string) {
	t.header(name, help, "gauge")
	t.printf("%s{%s=\"%s\"} 1\n", name, label, escapeLabel(value))
}

func (t *textWriter) histogram(name, help string, cumulative [8]uint64) {
	t.header(name, help, "histogram")
	for i, le := range internaldefs.HistogramBounds {
		t.printf("%s_bucket{le=\"%s\"} %d\n", name, le, cumulative[i])
	}
	t.printf("%s_count %d\n", name, cumulative[len(cumulative)-1])
	// Snapshots carry bucket counts only.
	t.printf("%s_sum 0\n", name)
}

func (t *textWriter) flush() error {
	if t.err != nil {
		return t.err
	}
	return t.w.Flush()
}

var (
	helpEscaper  = strings.NewReplacer(`\`, `\\`, "\n", `\n`)
	labelEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, `"`, `\"`)
)

func escapeHelp(help string) string   { return helpEscaper.Replace(help) }
func escapeLabel(value string) string { return labelEscaper.Replace(value) }
