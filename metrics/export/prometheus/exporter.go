// Package prometheus renders engine counters in Prometheus text
// exposition format without importing a client library.
package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	authstate "github.com/tmachard/authstate"
)

type metricsSource interface {
	MetricsSnapshot() authstate.MetricsSnapshot
	AuditDropped() uint64
}

// Exporter reads counters from an engine and renders them on demand.
type Exporter struct {
	source metricsSource
}

// NewExporter wires the exporter to an [authstate.Engine] (or anything
// exposing the same snapshot surface).
func NewExporter(source metricsSource) *Exporter {
	return &Exporter{source: source}
}

// Handler serves the rendered metrics over HTTP.
func (e *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(e.Render()))
	})
}

// Render produces the text exposition body.
func (e *Exporter) Render() string {
	if e == nil || e.source == nil {
		return ""
	}

	snapshot := e.source.MetricsSnapshot()

	var b strings.Builder
	b.Grow(4096)

	for id := authstate.MetricID(0); ; id++ {
		value, ok := snapshot.Counters[id]
		if !ok {
			break
		}
		writeCounter(&b, "authstate_"+id.Name()+"_total", value)
	}
	writeCounter(&b, "authstate_audit_dropped_total", e.source.AuditDropped())

	return b.String()
}

func writeCounter(b *strings.Builder, name string, value uint64) {
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteString(" counter\n")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
}
