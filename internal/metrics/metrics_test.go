package metrics

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"typeproof/internal/classifier"
	"typeproof/internal/fingerprint"
)

func TestRecordFingerprint(t *testing.T) {
	m := New(nil)

	m.RecordFingerprint(nil)
	m.RecordFingerprint(nil)
	m.RecordFingerprint(fingerprint.ErrInsufficientData)
	m.RecordFingerprint(fmt.Errorf("sample 3: %w", fingerprint.ErrDegenerateInput))
	m.RecordFingerprint(errors.New("other"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FingerprintsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FingerprintsTotal.WithLabelValues("insufficient_data")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FingerprintsTotal.WithLabelValues("degenerate_input")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FingerprintsTotal.WithLabelValues("error")))
}

func TestRecordCommitment(t *testing.T) {
	m := New(nil)

	m.RecordCommitment(classifier.Verdict{Human: true, Checks: []classifier.CheckResult{
		{Name: classifier.CheckVarianceRange, Passed: true},
	}})
	m.RecordCommitment(classifier.Verdict{Human: false, Checks: []classifier.CheckResult{
		{Name: classifier.CheckVarianceRange, Passed: false},
		{Name: classifier.CheckBucketConcentration, Passed: false},
	}})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommitmentsTotal.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommitmentsTotal.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CheckFailuresTotal.WithLabelValues(classifier.CheckVarianceRange)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CheckFailuresTotal.WithLabelValues(classifier.CheckBucketConcentration)))
}

func TestRecordVerification(t *testing.T) {
	m := New(nil)

	m.RecordVerification(KindLocal, true)
	m.RecordVerification(KindLocal, false)
	m.RecordVerification(KindRemote, true)
	m.RecordVerificationError(KindRemote)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.VerificationsTotal.WithLabelValues(KindLocal, "consistent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VerificationsTotal.WithLabelValues(KindLocal, "inconsistent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VerificationsTotal.WithLabelValues(KindRemote, "consistent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VerificationsTotal.WithLabelValues(KindRemote, "error")))
}

func TestTimer(t *testing.T) {
	m := New(nil)

	timer := m.StartTimer(OpBuild)
	time.Sleep(time.Millisecond)
	d := timer.Stop()
	assert.Greater(t, d, time.Duration(0))
	assert.Equal(t, 1, testutil.CollectAndCount(m.OperationDuration))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordFingerprint(nil)
	m.RecordCommitment(classifier.Verdict{})
	m.RecordVerification(KindLocal, true)
	m.RecordVerificationError(KindLocal)
	m.SetStored(3)
	assert.GreaterOrEqual(t, m.StartTimer(OpStore).Stop(), time.Duration(0))
}

func TestSeparateRegistries(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := New(reg)
	b := New(nil)

	a.RecordVerification(KindLocal, true)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.VerificationsTotal.WithLabelValues(KindLocal, "consistent")))
	assert.Same(t, reg, a.Registry())

	assert.Panics(t, func() { New(reg) }, "duplicate registration")
}

func TestHandler(t *testing.T) {
	m := New(nil)
	m.SetStored(7)
	m.RecordFingerprint(nil)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "typeproof_stored_commitments 7")
	assert.Contains(t, text, `typeproof_fingerprints_total{result="ok"} 1`)
	assert.True(t, strings.Contains(text, "typeproof_uptime_seconds"))
}
