package infra

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the Prometheus collectors exported by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	providerAttempts *prometheus.CounterVec
	pollChecks       *prometheus.CounterVec
	fallbacks        prometheus.Counter
	requestDuration  *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		providerAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tryon",
			Name:      "provider_attempts_total",
			Help:      "Submit/poll/fetch cycles per provider, by outcome.",
		}, []string{"provider", "outcome"}),
		pollChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tryon",
			Name:      "poll_checks_total",
			Help:      "Status checks issued per provider, by observed status.",
		}, []string{"provider", "status"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tryon",
			Name:      "fallback_total",
			Help:      "Requests that switched to the secondary provider.",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tryon",
			Name:      "request_duration_seconds",
			Help:      "End-to-end try-on latency, by outcome class.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"outcome"}),
	}
	for _, c := range []prometheus.Collector{m.providerAttempts, m.pollChecks, m.fallbacks, m.requestDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ProviderAttempt(provider, outcome string) {
	if m == nil {
		return
	}
	m.providerAttempts.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) PollCheck(provider, status string) {
	if m == nil {
		return
	}
	m.pollChecks.WithLabelValues(provider, status).Inc()
}

func (m *Metrics) Fallback() {
	if m == nil {
		return
	}
	m.fallbacks.Inc()
}

func (m *Metrics) ObserveRequest(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(outcome).Observe(d.Seconds())
}
