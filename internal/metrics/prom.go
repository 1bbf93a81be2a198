package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "infergate_build_info",
			Help:        "Build information",
			ConstLabels: prometheus.Labels{"component": "gateway"},
		},
		[]string{"date", "sha", "version"},
	)

	connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "infergate_connections_active",
			Help: "Open client connections",
		},
	)

	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "infergate_sessions_active",
			Help: "Live sessions across all connections",
		},
	)

	inferRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infergate_infer_requests_total",
			Help: "Inference requests by outcome",
		},
		[]string{"outcome"},
	)

	tokensGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infergate_tokens_total",
			Help: "Tokens generated per client",
		},
		[]string{"client_id"},
	)

	authAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infergate_auth_attempts_total",
			Help: "Authentication attempts by outcome",
		},
		[]string{"outcome"},
	)

	generationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "infergate_generation_duration_seconds",
			Help:    "Generation duration from dispatch to terminal event",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Register registers all metrics with the provided registerer.
func Register(r prometheus.Registerer) {
	r.MustRegister(buildInfo, connectionsActive, sessionsActive, inferRequests, tokensGenerated, authAttempts, generationDuration)
}

// SetBuildInfo sets the build info metric for the gateway.
func SetBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// ConnectionOpened and ConnectionClosed track the open connection gauge.
func ConnectionOpened() { connectionsActive.Inc() }
func ConnectionClosed() { connectionsActive.Dec() }

// SetActiveSessions updates the live session gauge.
func SetActiveSessions(n int) { sessionsActive.Set(float64(n)) }

// RecordInferRequest increments the inference request counter.
func RecordInferRequest(outcome string) {
	inferRequests.WithLabelValues(outcome).Inc()
}

// RecordTokens adds generated tokens for a client.
func RecordTokens(clientID string, n int) {
	tokensGenerated.WithLabelValues(clientID).Add(float64(n))
}

// RecordAuthAttempt increments the auth counter.
func RecordAuthAttempt(success bool) {
	outcome := "success"
	if !success {
		outcome = "failed"
	}
	authAttempts.WithLabelValues(outcome).Inc()
}

// ObserveGenerationDuration records a generation's wall time.
func ObserveGenerationDuration(d time.Duration) {
	generationDuration.Observe(d.Seconds())
}
