// Package metrics records the outcome of a single run for the node_exporter
// textfile collector.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sso_url"

// modeSign is the tokens_total label of signed tokens
const modeSign = "sign"

// Recorder holds the counters for one invocation in a private registry
type Recorder struct {
	registry          *prometheus.Registry
	tokens            *prometheus.CounterVec
	failures          *prometheus.CounterVec
	passphrasePrompts prometheus.Counter
	validity          prometheus.Gauge
}

// NewRecorder creates a recorder with all metrics registered
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Security tokens produced, by token source mode.",
		}, []string{"mode"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Failed runs, by error kind.",
		}, []string{"kind"}),
		passphrasePrompts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passphrase_prompts_total",
			Help:      "Interactive passphrase prompts.",
		}),
		validity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "token_validity_seconds",
			Help:      "Validity timestamp of the last signed token, in epoch seconds.",
		}),
	}
	r.registry.MustRegister(r.tokens, r.failures, r.passphrasePrompts, r.validity)
	return r
}

// TokenIssued records a produced token. Only signed tokens carry a
// validity; it is ignored for tokens read verbatim.
func (r *Recorder) TokenIssued(mode string, validity int64) {
	r.tokens.WithLabelValues(mode).Inc()
	if mode == modeSign {
		r.validity.Set(float64(validity))
	}
}

// Failure records a failed run
func (r *Recorder) Failure(kind string) {
	r.failures.WithLabelValues(kind).Inc()
}

// PassphrasePrompted records an interactive prompt
func (r *Recorder) PassphrasePrompted() {
	r.passphrasePrompts.Inc()
}

// Gatherer exposes the registry
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteTextfile atomically writes all metrics to path in text format
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
