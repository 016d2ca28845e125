package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conjwatch_fetch_duration_seconds",
			Help:    "TLE source fetch duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	cacheFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conjwatch_cache_fallbacks_total",
			Help: "Fetches that degraded to cached records.",
		},
		[]string{"source"},
	)

	satellitesTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "conjwatch_satellites_tracked",
			Help: "Objects considered in the most recent run.",
		},
	)

	candidatePairsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conjwatch_candidate_pairs_total",
			Help: "Candidate pairs produced by the spatial index across all runs.",
		},
	)

	conjunctionEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conjwatch_conjunction_events_total",
			Help: "Conjunction events emitted, by risk level.",
		},
		[]string{"risk_level"},
	)

	runDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conjwatch_run_duration_seconds",
			Help:    "End-to-end pipeline run duration in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	lastRunTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "conjwatch_last_run_timestamp_seconds",
			Help: "Unix time of the last completed run.",
		},
	)

	alertDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conjwatch_alert_deliveries_total",
			Help: "Webhook alert delivery attempts by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		fetchDurationSeconds,
		cacheFallbacksTotal,
		satellitesTracked,
		candidatePairsTotal,
		conjunctionEventsTotal,
		runDurationSeconds,
		lastRunTimestamp,
		alertDeliveriesTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetchDuration records one source fetch attempt's wall time.
func ObserveFetchDuration(source string, d time.Duration) {
	fetchDurationSeconds.WithLabelValues(source).Observe(d.Seconds())
}

// IncCacheFallback counts a fetch that served cached records instead.
func IncCacheFallback(source string) {
	cacheFallbacksTotal.WithLabelValues(source).Inc()
}

// SetSatellitesTracked records the object count for the current run.
func SetSatellitesTracked(n int) {
	satellitesTracked.Set(float64(n))
}

// AddCandidatePairs counts pairs enumerated by the spatial index.
func AddCandidatePairs(n int) {
	candidatePairsTotal.Add(float64(n))
}

// IncConjunctionEvent counts one emitted event at the given risk level.
func IncConjunctionEvent(riskLevel string) {
	conjunctionEventsTotal.WithLabelValues(riskLevel).Inc()
}

// ObserveRunDuration records one full pipeline run and stamps completion.
func ObserveRunDuration(d time.Duration) {
	runDurationSeconds.Observe(d.Seconds())
	lastRunTimestamp.SetToCurrentTime()
}

// IncAlertDelivery counts a webhook delivery attempt ("ok" or "failed").
func IncAlertDelivery(outcome string) {
	alertDeliveriesTotal.WithLabelValues(outcome).Inc()
}
