// Package metrics holds the prometheus collectors for the lead pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "leads"

var (
	// RecordsTotal counts records passing each pipeline stage.
	RecordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_total",
		Help:      "Records seen per pipeline stage (fetched, valid, rejected, unique, scored).",
	}, []string{"stage"})

	DuplicatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "duplicates_total",
		Help:      "Records dropped as duplicates, by rule.",
	}, []string{"reason"})

	ScoringFallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scoring_fallbacks_total",
		Help:      "Records scored by rules after the AI scorer failed.",
	})

	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Outbound notifications by channel, kind and result.",
	}, []string{"channel", "kind", "result"})

	SourceFetchSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "source_fetch_seconds",
		Help:      "Time spent fetching one source.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"source", "status"})

	RunSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_seconds",
		Help:      "Duration of a full pipeline run.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})

	Registry = prometheus.NewRegistry()
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		RecordsTotal,
		DuplicatesTotal,
		ScoringFallbacksTotal,
		NotificationsTotal,
		SourceFetchSeconds,
		RunSeconds,
	)
}

// Handler serves the registry in the prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
