// Package metrics exposes Prometheus collectors for typeproof.
//
// Collectors are registered on an injectable registry so tests and
// embedding programs do not share global state.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"typeproof/internal/classifier"
	"typeproof/internal/fingerprint"
)

const namespace = "typeproof"

// Operation names for the duration histogram.
const (
	OpExtract      = "extract"
	OpBuild        = "build"
	OpVerifyLocal  = "verify_local"
	OpVerifyRemote = "verify_remote"
	OpStore        = "store"
)

// Verification kinds.
const (
	KindLocal  = "local"
	KindRemote = "remote"
)

// Metrics holds the typeproof collectors.
type Metrics struct {
	registry *prometheus.Registry

	FingerprintsTotal  *prometheus.CounterVec
	CommitmentsTotal   *prometheus.CounterVec
	CheckFailuresTotal *prometheus.CounterVec
	VerificationsTotal *prometheus.CounterVec
	OperationDuration  *prometheus.HistogramVec
	StoredCommitments  prometheus.Gauge
	UptimeSeconds      prometheus.GaugeFunc
}

// New creates the collectors and registers them on reg. A nil reg gets a
// fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	start := time.Now()

	m := &Metrics{
		registry: reg,
		FingerprintsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fingerprints_total",
			Help:      "Fingerprint extractions by result.",
		}, []string{"result"}),
		CommitmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commitments_total",
			Help:      "Commitments built, by human verdict.",
		}, []string{"human"}),
		CheckFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_check_failures_total",
			Help:      "Classifier checks that failed, by check name.",
		}, []string{"check"}),
		VerificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Verifications by kind and result.",
		}, []string{"kind", "result"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of typeproof operations.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"operation"}),
		StoredCommitments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stored_commitments",
			Help:      "Commitments currently held in the store.",
		}),
		UptimeSeconds: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the metrics were initialized.",
		}, func() float64 { return time.Since(start).Seconds() }),
	}

	reg.MustRegister(
		m.FingerprintsTotal,
		m.CommitmentsTotal,
		m.CheckFailuresTotal,
		m.VerificationsTotal,
		m.OperationDuration,
		m.StoredCommitments,
		m.UptimeSeconds,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordFingerprint counts an extraction attempt. err is the value
// returned by fingerprint.Extract.
func (m *Metrics) RecordFingerprint(err error) {
	if m == nil {
		return
	}
	var result string
	switch {
	case err == nil:
		result = "ok"
	case errors.Is(err, fingerprint.ErrInsufficientData):
		result = "insufficient_data"
	case errors.Is(err, fingerprint.ErrDegenerateInput):
		result = "degenerate_input"
	default:
		result = "error"
	}
	m.FingerprintsTotal.WithLabelValues(result).Inc()
}

// RecordCommitment counts a built commitment and its failed checks.
func (m *Metrics) RecordCommitment(v classifier.Verdict) {
	if m == nil {
		return
	}
	m.CommitmentsTotal.WithLabelValues(boolLabel(v.Human)).Inc()
	for _, c := range v.Failed() {
		m.CheckFailuresTotal.WithLabelValues(c.Name).Inc()
	}
}

// RecordVerification counts a verification of the given kind.
func (m *Metrics) RecordVerification(kind string, ok bool) {
	if m == nil {
		return
	}
	result := "consistent"
	if !ok {
		result = "inconsistent"
	}
	m.VerificationsTotal.WithLabelValues(kind, result).Inc()
}

// RecordVerificationError counts a verification that could not complete.
func (m *Metrics) RecordVerificationError(kind string) {
	if m == nil {
		return
	}
	m.VerificationsTotal.WithLabelValues(kind, "error").Inc()
}

// SetStored sets the stored commitment gauge.
func (m *Metrics) SetStored(n int64) {
	if m == nil {
		return
	}
	m.StoredCommitments.Set(float64(n))
}

// Timer observes the elapsed time of one operation.
type Timer struct {
	m     *Metrics
	op    string
	start time.Time
}

// StartTimer starts timing op.
func (m *Metrics) StartTimer(op string) *Timer {
	return &Timer{m: m, op: op, start: time.Now()}
}

// Stop records the elapsed time and returns it.
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	if t.m != nil {
		t.m.OperationDuration.WithLabelValues(t.op).Observe(d.Seconds())
	}
	return d
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
