// Package metrics exposes Prometheus instrumentation for scans.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "labelscan"

// Metrics holds every collector. A nil *Metrics is valid and records
// nothing, so callers never need to check.
type Metrics struct {
	registry *prometheus.Registry

	scans         *prometheus.CounterVec
	scanDuration  prometheus.Histogram
	scrollSteps   prometheus.Histogram
	candidates    prometheus.Histogram
	acquisitions  *prometheus.CounterVec
	duplicates    prometheus.Counter
	analyses      *prometheus.CounterVec
	analysisTime  prometheus.Histogram
	llmTokens     *prometheus.CounterVec
	cacheRequests *prometheus.CounterVec
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Scans by outcome code (\"ok\" or an error code).",
		}, []string{"code"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "End-to-end scan duration.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 80, 160, 320},
		}),
		scrollSteps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scroll_steps",
			Help:      "Scroll iterations until the page stopped growing.",
			Buckets:   prometheus.LinearBuckets(0, 5, 13),
		}),
		candidates: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "candidates",
			Help:      "Selected candidate images per scan.",
			Buckets:   prometheus.LinearBuckets(0, 3, 10),
		}),
		acquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquisitions_total",
			Help:      "Image acquisition attempts by strategy and result.",
		}, []string{"strategy", "result"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_images_total",
			Help:      "Acquired images dropped as perceptual duplicates.",
		}),
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Extraction capability calls by outcome code.",
		}, []string{"code"}),
		analysisTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Extraction capability latency including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens consumed by the extraction capability.",
		}, []string{"kind"}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Report cache lookups by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.scans, m.scanDuration, m.scrollSteps, m.candidates,
		m.acquisitions, m.duplicates, m.analyses, m.analysisTime,
		m.llmTokens, m.cacheRequests,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveScan records one finished scan. code is "ok" on success.
func (m *Metrics) ObserveScan(code string, d time.Duration) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(code).Inc()
	m.scanDuration.Observe(d.Seconds())
}

// ObserveHarvest records the per-stage counts of one harvest.
func (m *Metrics) ObserveHarvest(strategy string, scrollSteps, candidates, acquired, failed, duplicates int) {
	if m == nil {
		return
	}
	m.scrollSteps.Observe(float64(scrollSteps))
	m.candidates.Observe(float64(candidates))
	m.acquisitions.WithLabelValues(strategy, "ok").Add(float64(acquired))
	m.acquisitions.WithLabelValues(strategy, "failed").Add(float64(failed))
	m.duplicates.Add(float64(duplicates))
}

// ObserveAnalysis records one extraction call and its token usage.
func (m *Metrics) ObserveAnalysis(code string, d time.Duration, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	m.analyses.WithLabelValues(code).Inc()
	m.analysisTime.Observe(d.Seconds())
	m.llmTokens.WithLabelValues("prompt").Add(float64(promptTokens))
	m.llmTokens.WithLabelValues("completion").Add(float64(completionTokens))
}

// ObserveCache records a cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheRequests.WithLabelValues(result).Inc()
}
