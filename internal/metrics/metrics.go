// Package metrics holds the Prometheus collectors for the scoring pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for scoring, batches and rate limiting.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Scoring attempts by outcome: scored, recovered, invalid, persistence_error
	ScoringRequests *prometheus.CounterVec

	// Oracle calls by result: success, unavailable, payload_invalid
	OracleCalls *prometheus.CounterVec

	// Fallback scores by reason (the oracle failure kind, or "panic")
	Fallbacks *prometheus.CounterVec

	ScoreValue      prometheus.Histogram
	ScoringDuration *prometheus.HistogramVec

	BatchSize     prometheus.Histogram
	BatchFailures prometheus.Counter

	RateLimited *prometheus.CounterVec

	PolicyMatches *prometheus.CounterVec
}

// New registers all collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		ScoringRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_scoring_requests_total",
			Help: "Total scoring attempts by outcome",
		}, []string{"outcome"}),

		OracleCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_oracle_calls_total",
			Help: "Total oracle calls by result",
		}, []string{"result"}),

		Fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_fallback_total",
			Help: "Total fallback scores by reason",
		}, []string{"reason"}),

		ScoreValue: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "kestrel_score_value",
			Help:    "Distribution of normalized scores",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),

		ScoringDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kestrel_scoring_duration_seconds",
			Help:    "Duration of a full scoring attempt by resulting risk bucket",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"bucket"}),

		BatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "kestrel_batch_size",
			Help:    "Number of applicants per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),

		BatchFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "kestrel_batch_failures_total",
			Help: "Total batch items that could not be scored",
		}),

		RateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_rate_limited_total",
			Help: "Total requests rejected by the rate limiter by endpoint",
		}, []string{"endpoint"}),

		PolicyMatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_policy_matches_total",
			Help: "Total terminal policy matches by policy and action",
		}, []string{"policy", "action"}),
	}
}

// IncrementScoring records the outcome of one scoring attempt.
func (m *Metrics) IncrementScoring(outcome string) {
	if m != nil {
		m.ScoringRequests.WithLabelValues(outcome).Inc()
	}
}

// IncrementOracle records an oracle call result.
func (m *Metrics) IncrementOracle(result string) {
	if m != nil {
		m.OracleCalls.WithLabelValues(result).Inc()
	}
}

// IncrementFallback records a fallback score.
func (m *Metrics) IncrementFallback(reason string) {
	if m != nil {
		m.Fallbacks.WithLabelValues(reason).Inc()
	}
}

// ObserveScore records a normalized score and how long the attempt took.
func (m *Metrics) ObserveScore(score float64, bucket string, d time.Duration) {
	if m != nil {
		m.ScoreValue.Observe(score)
		m.ScoringDuration.WithLabelValues(bucket).Observe(d.Seconds())
	}
}

// ObserveBatch records a batch's size and failure count.
func (m *Metrics) ObserveBatch(size, failures int) {
	if m != nil {
		m.BatchSize.Observe(float64(size))
		m.BatchFailures.Add(float64(failures))
	}
}

// IncrementRateLimited records a rejected request.
func (m *Metrics) IncrementRateLimited(endpoint string) {
	if m != nil {
		m.RateLimited.WithLabelValues(endpoint).Inc()
	}
}

// IncrementPolicyMatch records the policy that decided an attempt.
func (m *Metrics) IncrementPolicyMatch(policy, action string) {
	if m != nil {
		m.PolicyMatches.WithLabelValues(policy, action).Inc()
	}
}
