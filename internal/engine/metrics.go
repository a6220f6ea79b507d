package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the investigation pipeline.
type Metrics struct {
	IngestsTotal        *prometheus.CounterVec
	InvestigationsTotal *prometheus.CounterVec
	PhaseDuration       *prometheus.HistogramVec
	EnrichmentCalls     *prometheus.CounterVec
	EnrichmentDuration  prometheus.Histogram
	VerdictRoutes       *prometheus.CounterVec
	AdvisorFailures     prometheus.Counter
	ReviewsOpened       prometheus.Counter
	QueueDepth          prometheus.Gauge
	QueueDropsTotal     prometheus.Counter
	ConflictRetries     prometheus.Counter
}

// NewMetrics registers and returns pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IngestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "argus_alert_ingests_total",
			Help: "Total alert ingestions by result.",
		}, []string{"result"}),
		InvestigationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "argus_investigations_total",
			Help: "Total investigations reaching a terminal status.",
		}, []string{"status"}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "argus_phase_duration_seconds",
			Help:    "Time spent driving one workflow phase.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms .. ~100s
		}, []string{"phase"}),
		EnrichmentCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "argus_enrichment_calls_total",
			Help: "Total enrichment source calls by source and status.",
		}, []string{"source", "status"}),
		EnrichmentDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "argus_enrichment_fanout_duration_seconds",
			Help:    "Duration of the whole enrichment fan-out per investigation.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s .. ~51s
		}),
		VerdictRoutes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "argus_verdict_routes_total",
			Help: "Total verdict engine routings by route.",
		}, []string{"route"}),
		AdvisorFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "argus_advisor_failures_total",
			Help: "Total advisor calls that failed and fell back to human review.",
		}),
		ReviewsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "argus_reviews_opened_total",
			Help: "Total human reviews opened.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "argus_engine_queue_depth",
			Help: "Investigations waiting for a pipeline worker.",
		}),
		QueueDropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "argus_engine_queue_drops_total",
			Help: "Enqueue attempts dropped because the queue was full.",
		}),
		ConflictRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "argus_append_conflict_retries_total",
			Help: "Optimistic concurrency conflicts retried by the pipeline.",
		}),
	}

	reg.MustRegister(
		m.IngestsTotal,
		m.InvestigationsTotal,
		m.PhaseDuration,
		m.EnrichmentCalls,
		m.EnrichmentDuration,
		m.VerdictRoutes,
		m.AdvisorFailures,
		m.ReviewsOpened,
		m.QueueDepth,
		m.QueueDropsTotal,
		m.ConflictRetries,
	)

	return m
}

// CountIngest bumps the ingest counter for one outcome.
func (m *Metrics) CountIngest(result string) {
	m.IngestsTotal.WithLabelValues(result).Inc()
}
