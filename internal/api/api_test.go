package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"typeproof/internal/commitment"
	"typeproof/internal/fingerprint"
	"typeproof/internal/ledger"
	"typeproof/internal/logging"
	"typeproof/internal/metrics"
	"typeproof/internal/store"
	"typeproof/internal/verify"
)

func humanIntervals() []float64 {
	cycle := []float64{100, 250, 400, 550, 700}
	var out []float64
	for i := 0; i < 6; i++ {
		out = append(out, cycle...)
	}
	return out
}

func regularIntervals() []float64 {
	out := make([]float64, 30)
	for i := range out {
		out[i] = 180
		if i%2 == 1 {
			out[i] = 220
		}
	}
	return out
}

type testEnv struct {
	srv     *Server
	store   *store.Store
	ledger  *ledger.Simulated
	metrics *metrics.Metrics
	audit   *bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "typeproof.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	var auditBuf bytes.Buffer
	audit, err := logging.NewAuditLogger(&logging.AuditLoggerConfig{Writer: &auditBuf, Component: "api-test"})
	require.NoError(t, err)

	env := &testEnv{
		store:   st,
		ledger:  ledger.NewSimulated(),
		metrics: metrics.New(nil),
		audit:   &auditBuf,
	}
	env.srv, err = New(Config{
		Builder: commitment.NewBuilder(),
		Store:   st,
		Ledger:  env.ledger,
		Metrics: env.metrics,
		Audit:   audit,
		Crash:   logging.NewCrashHandler(&logging.CrashHandlerConfig{Component: "api", Stderr: &bytes.Buffer{}}),
	})
	require.NoError(t, err)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	case []byte:
		buf.Write(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *testEnv) build(t *testing.T, content string, intervals []float64) BuildResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/commitments", BuildRequest{Content: content, Intervals: intervals})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[BuildResponse](t, rec)
}

func TestNewRequiresBuilder(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name      string
		body      any
		wantCode  int
		wantHuman bool
	}{
		{"human", FingerprintRequest{Intervals: humanIntervals()}, http.StatusOK, true},
		{"regular", FingerprintRequest{Intervals: regularIntervals()}, http.StatusOK, false},
		{"too few samples", FingerprintRequest{Intervals: []float64{100, 200}}, http.StatusUnprocessableEntity, false},
		{"negative sample", FingerprintRequest{Intervals: append(humanIntervals(), -5)}, http.StatusUnprocessableEntity, false},
		{"malformed json", "{", http.StatusBadRequest, false},
		{"unknown field", `{"intervals":[],"extra":1}`, http.StatusBadRequest, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/fingerprints", tc.body)
			require.Equal(t, tc.wantCode, rec.Code, rec.Body.String())
			if tc.wantCode != http.StatusOK {
				assert.NotEmpty(t, decodeBody[ErrorResponse](t, rec).Error)
				return
			}
			resp := decodeBody[FingerprintResponse](t, rec)
			require.NotNil(t, resp.Fingerprint)
			assert.Len(t, resp.Fingerprint.Intervals, 30)
			assert.Equal(t, tc.wantHuman, resp.Verdict.Human)
		})
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(env.metrics.FingerprintsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.FingerprintsTotal.WithLabelValues("insufficient_data")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.FingerprintsTotal.WithLabelValues("degenerate_input")))
}

func TestBuildStoresCommitment(t *testing.T) {
	env := newTestEnv(t)

	resp := env.build(t, "hello world", humanIntervals())
	require.NotNil(t, resp.Commitment)
	assert.NotEmpty(t, resp.ID)
	assert.True(t, resp.Verdict.Human)
	assert.True(t, resp.Commitment.PublicValues.HumanVerified)
	assert.Equal(t, verify.ReferenceID(resp.Commitment), resp.ReferenceID)
	assert.Equal(t, uint32(2), resp.Commitment.VerificationData.WordCount)

	rec, err := env.store.Get(context.Background(), resp.ID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, resp.ReferenceID, rec.ReferenceID)

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.CommitmentsTotal.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.StoredCommitments))
	assert.Contains(t, env.audit.String(), `"event_type":"commitment_built"`)
}

func TestBuildRegularTypingIsNotHuman(t *testing.T) {
	env := newTestEnv(t)
	resp := env.build(t, "steady typing", regularIntervals())
	assert.False(t, resp.Verdict.Human)
	assert.NotEmpty(t, resp.Verdict.Failed())
}

func TestBuildRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/commitments", BuildRequest{Content: "x", Intervals: []float64{1}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/commitments", "not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, strings.HasPrefix(decodeBody[ErrorResponse](t, rec).Error, "invalid request"))
}

func TestBodyTooLarge(t *testing.T) {
	env := newTestEnv(t)
	env.srv.maxBody = 64

	rec := env.do(t, http.MethodPost, "/api/v1/fingerprints", FingerprintRequest{Intervals: humanIntervals()})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestGetCommitment(t *testing.T) {
	env := newTestEnv(t)
	built := env.build(t, "fetch me", humanIntervals())

	for _, id := range []string{built.ID, built.ReferenceID} {
		rec := env.do(t, http.MethodGet, "/api/v1/commitments/"+id, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		got := decodeBody[RecordResponse](t, rec)
		assert.Equal(t, built.ID, got.ID)
		assert.Equal(t, built.ReferenceID, got.ReferenceID)
		require.NotNil(t, got.Verdict)
		assert.True(t, got.Verdict.Human)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/commitments/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetCommitmentWithoutStore(t *testing.T) {
	srv, err := New(Config{Builder: commitment.NewBuilder()})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/commitments/abc", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestVerifyLocal(t *testing.T) {
	env := newTestEnv(t)
	built := env.build(t, "verify me", humanIntervals())

	data, err := commitment.Marshal(built.Commitment)
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/v1/verify", data)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeBody[verify.VerificationReport](t, rec)
	assert.True(t, report.Valid)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, built.ReferenceID, report.ReferenceID)

	tampered := *built.Commitment
	tampered.PublicValues.ContentHash = strings.Repeat("0", 64)
	data, err = json.Marshal(&tampered)
	require.NoError(t, err)

	rec = env.do(t, http.MethodPost, "/api/v1/verify", data)
	require.Equal(t, http.StatusOK, rec.Code)
	report = decodeBody[verify.VerificationReport](t, rec)
	assert.False(t, report.Valid)
	assert.NotEmpty(t, report.FailedChecks())

	runs, err := env.store.Verifications(context.Background(), built.ID)
	require.NoError(t, err)
	require.Len(t, runs, 2, "the tampered copy keeps the proof blob and so the reference id")
	assert.Equal(t, store.KindLocal, runs[0].Kind)
	assert.True(t, runs[0].OK)
	assert.False(t, runs[1].OK)

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.VerificationsTotal.WithLabelValues(metrics.KindLocal, "consistent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.VerificationsTotal.WithLabelValues(metrics.KindLocal, "inconsistent")))
}

func TestVerifyMalformed(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []string{"", "{}", `{"schema_version":1}`, "[1,2,3]"} {
		rec := env.do(t, http.MethodPost, "/api/v1/verify", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
}

func TestVerifyRemote(t *testing.T) {
	env := newTestEnv(t)
	built := env.build(t, "submit me", humanIntervals())
	data, err := commitment.Marshal(built.Commitment)
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/v1/verify-remote", data)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[verify.RemoteResult](t, rec)
	assert.True(t, res.Verified)
	assert.Equal(t, built.ReferenceID, res.ReferenceID)
	assert.Equal(t, "simulated", res.Ledger)
	assert.Equal(t, ledger.StatusRecorded, res.Receipt.Status)

	rec = env.do(t, http.MethodPost, "/api/v1/verify-remote", data)
	require.Equal(t, http.StatusOK, rec.Code)
	again := decodeBody[verify.RemoteResult](t, rec)
	assert.Equal(t, res.Verified, again.Verified)
	assert.Equal(t, ledger.StatusDuplicate, again.Receipt.Status)
	assert.Equal(t, 1, env.ledger.Len())

	runs, err := env.store.Verifications(context.Background(), built.ID)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
	assert.Contains(t, env.audit.String(), `"event_type":"remote_verification"`)
}

type failingLedger struct{}

func (failingLedger) Name() string { return "broken" }
func (failingLedger) Submit(context.Context, ledger.Submission) (ledger.Receipt, error) {
	return ledger.Receipt{}, errors.New("rpc unavailable")
}

func TestVerifyRemoteLedgerFailure(t *testing.T) {
	m := metrics.New(nil)
	srv, err := New(Config{Builder: commitment.NewBuilder(), Ledger: failingLedger{}, Metrics: m})
	require.NoError(t, err)

	res, err := commitment.NewBuilder().BuildWithVerdict("x", mustFingerprint(t))
	require.NoError(t, err)
	data, err := commitment.Marshal(res.Commitment)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/verify-remote", bytes.NewReader(data)))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, decodeBody[ErrorResponse](t, rec).Error, "rpc unavailable")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VerificationsTotal.WithLabelValues(metrics.KindRemote, "error")))
}

func TestVerifyRemoteWithoutLedger(t *testing.T) {
	srv, err := New(Config{Builder: commitment.NewBuilder()})
	require.NoError(t, err)

	res, err := commitment.NewBuilder().BuildWithVerdict("x", mustFingerprint(t))
	require.NoError(t, err)
	data, err := commitment.Marshal(res.Commitment)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/verify-remote", bytes.NewReader(data)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestIDPropagation(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))

	rec = env.do(t, http.MethodGet, "/livez", nil)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	env.build(t, "traced", humanIntervals())
	assert.Contains(t, env.audit.String(), `"request_id":"`)
}

func TestRecoveryMiddleware(t *testing.T) {
	var crashed bool
	srv, err := New(Config{
		Builder: commitment.NewBuilder(),
		Crash: logging.NewCrashHandler(&logging.CrashHandlerConfig{
			Stderr:  &bytes.Buffer{},
			OnCrash: func(logging.CrashReport) { crashed = true },
		}),
	})
	require.NoError(t, err)

	h := srv.withRecovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.True(t, crashed)
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/healthz", "/readyz", "/livez"} {
		rec := env.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	env.build(t, "count me", humanIntervals())
	rec := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "typeproof_commitments_total")
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/commitments", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestReconfigure(t *testing.T) {
	env := newTestEnv(t)
	fixed := commitment.NewBuilder(commitment.WithClock(commitment.FixedClock(1700000000000)))
	env.srv.Reconfigure(fixed, nil, []verify.LocalOption{verify.WithClock(commitment.FixedClock(1700000000000))})

	resp := env.build(t, "pinned", humanIntervals())
	assert.Equal(t, uint64(1700000000000), resp.Commitment.PublicValues.Timestamp)

	data, err := commitment.Marshal(resp.Commitment)
	require.NoError(t, err)
	rec := env.do(t, http.MethodPost, "/api/v1/verify", data)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[verify.VerificationReport](t, rec).Valid)
}

func mustFingerprint(t *testing.T) *fingerprint.Fingerprint {
	t.Helper()
	fp, err := fingerprint.Extract(humanIntervals())
	require.NoError(t, err)
	return fp
}
