// Package metrics exposes stash activity as Prometheus counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stash-go/internal/stash"
)

const namespace = "stash"

// Prometheus implements stash.Metrics on its own registry, so several
// services (and tests) never collide on the default registerer.
type Prometheus struct {
	registry *prometheus.Registry

	uploads       *prometheus.CounterVec
	uploadedBytes prometheus.Counter
	deletes       *prometheus.CounterVec
	violations    *prometheus.CounterVec
}

var _ stash.Metrics = (*Prometheus)(nil)

// New creates the counters and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "File entries created by upload, by whether the content was already stored.",
		}, []string{"blob"}),
		uploadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Logical bytes uploaded, including deduplicated content.",
		}),
		deletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deletes_total",
			Help:      "File entries deleted, by whether the blob was reclaimed.",
		}, []string{"blob"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consistency_violations_total",
			Help:      "Detected disagreements between the ledger, the registry and the blob store.",
		}, []string{"kind"}),
	}
	p.registry.MustRegister(
		p.uploads,
		p.uploadedBytes,
		p.deletes,
		p.violations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prometheus) Uploaded(size int64, deduplicated bool) {
	label := "created"
	if deduplicated {
		label = "existed"
	}
	p.uploads.WithLabelValues(label).Inc()
	p.uploadedBytes.Add(float64(size))
}

func (p *Prometheus) Deleted(reclaimed bool) {
	label := "kept"
	if reclaimed {
		label = "reclaimed"
	}
	p.deletes.WithLabelValues(label).Inc()
}

func (p *Prometheus) ConsistencyViolation(kind string) {
	p.violations.WithLabelValues(kind).Inc()
}

// Registry returns the registry holding the stash counters.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
