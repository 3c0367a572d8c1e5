package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cache metrics
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concierge_cache_hits_total",
			Help: "Total cache hits per tier",
		},
		[]string{"tier"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concierge_cache_misses_total",
			Help: "Total cache misses per tier",
		},
		[]string{"tier"},
	)

	CachePromotions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concierge_cache_promotions_total",
			Help: "Entries promoted into a tier after a lower-tier hit or live call",
		},
		[]string{"tier"},
	)

	CacheTierErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concierge_cache_tier_errors_total",
			Help: "Tier lookups that failed or timed out and were treated as misses",
		},
		[]string{"tier"},
	)

	// Handoff metrics
	HandoffDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concierge_handoff_decisions_total",
			Help: "Handoff decisions by outcome",
		},
		[]string{"outcome"}, // outcome: continue|committed|rejected_loop|rejected_rate
	)

	CircularHandoffs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concierge_circular_handoffs_total",
			Help: "Handoffs rejected by the loop guard",
		},
		[]string{"from_agent", "to_agent"},
	)

	// Scorer metrics
	ScorerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "concierge_scorer_latency_seconds",
			Help:    "Per-candidate scoring latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		},
		[]string{"agent"},
	)

	ScorerTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concierge_scorer_timeouts_total",
			Help: "Candidates scored zero because they exceeded the scoring budget",
		},
		[]string{"agent"},
	)

	// Model gateway metrics
	ProviderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concierge_provider_calls_total",
			Help: "Model provider calls by provider and status",
		},
		[]string{"provider", "status"}, // status: success|error|timeout
	)

	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "concierge_provider_latency_seconds",
			Help:    "Model provider call latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider"},
	)

	ParseStrategies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concierge_parse_strategies_total",
			Help: "Which parse strategy produced the structured result",
		},
		[]string{"strategy"}, // strategy: tagged|json|heuristic|partial
	)

	// Compliance metrics
	ComplianceActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concierge_compliance_actions_total",
			Help: "Compliance gate stage actions",
		},
		[]string{"stage", "action"}, // action: pass|suppress|replace|inject|truncate
	)

	// Quota metrics
	QuotaDeferrals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concierge_quota_deferrals_total",
			Help: "Outbound sends deferred by the quota limiter",
		},
		[]string{"window"}, // window: hourly|daily
	)

	// Turn metrics
	TurnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "concierge_turn_duration_seconds",
			Help:    "Full inbound turn processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"agent"},
	)

	TurnOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concierge_turn_outcomes_total",
			Help: "Inbound turn outcomes",
		},
		[]string{"outcome"}, // outcome: sent|suppressed|deferred|fallback|error
	)

	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "concierge_sessions_active",
			Help: "Sessions currently being processed",
		},
	)

	// CRM metrics
	CrmCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concierge_crm_calls_total",
			Help: "CRM collaborator calls by operation and status",
		},
		[]string{"operation", "status"},
	)
)

// Register registers all metrics with the default registry
func Register() {
	prometheus.MustRegister(
		CacheHits,
		CacheMisses,
		CachePromotions,
		CacheTierErrors,
		HandoffDecisions,
		CircularHandoffs,
		ScorerLatency,
		ScorerTimeouts,
		ProviderCalls,
		ProviderLatency,
		ParseStrategies,
		ComplianceActions,
		QuotaDeferrals,
		TurnDuration,
		TurnOutcomes,
		SessionsActive,
		CrmCalls,
	)
}

// Serve starts the metrics HTTP server on the given port
func Serve(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go srv.ListenAndServe()
	return srv
}
