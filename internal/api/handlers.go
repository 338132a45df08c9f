package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"typeproof/internal/classifier"
	"typeproof/internal/commitment"
	"typeproof/internal/fingerprint"
	"typeproof/internal/ledger"
	"typeproof/internal/metrics"
	"typeproof/internal/store"
	"typeproof/internal/verify"
)

// FingerprintRequest is the body of POST /api/v1/fingerprints.
type FingerprintRequest struct {
	Intervals []float64 `json:"intervals"`
}

// FingerprintResponse pairs a fingerprint with its verdict.
type FingerprintResponse struct {
	Fingerprint *fingerprint.Fingerprint `json:"fingerprint"`
	Verdict     classifier.Verdict       `json:"verdict"`
}

// BuildRequest is the body of POST /api/v1/commitments.
type BuildRequest struct {
	Content   string    `json:"content"`
	Intervals []float64 `json:"intervals"`
}

// BuildResponse is returned for a built commitment. ID is empty when no
// store is configured.
type BuildResponse struct {
	ID          string                 `json:"id,omitempty"`
	ReferenceID string                 `json:"reference_id"`
	Commitment  *commitment.Commitment `json:"commitment"`
	Verdict     classifier.Verdict     `json:"verdict"`
}

// RecordResponse is returned by GET /api/v1/commitments/{id}.
type RecordResponse struct {
	ID            string                 `json:"id"`
	ReferenceID   string                 `json:"reference_id"`
	Commitment    *commitment.Commitment `json:"commitment"`
	Verdict       *classifier.Verdict    `json:"verdict,omitempty"`
	Verifications []VerificationRun      `json:"verifications,omitempty"`
}

// VerificationRun is one recorded verification of a stored commitment.
type VerificationRun struct {
	Kind      string    `json:"kind"`
	OK        bool      `json:"ok"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleFingerprint(w http.ResponseWriter, r *http.Request) {
	var req FingerprintRequest
	if !s.decode(w, r, &req) {
		return
	}
	_, cls, _ := s.snapshot()

	timer := s.metrics.StartTimer(metrics.OpExtract)
	fp, err := fingerprint.Extract(req.Intervals)
	timer.Stop()
	s.metrics.RecordFingerprint(err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, FingerprintResponse{Fingerprint: fp, Verdict: cls.Classify(fp)})
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	var req BuildRequest
	if !s.decode(w, r, &req) {
		return
	}
	builder, _, _ := s.snapshot()

	fp, err := fingerprint.Extract(req.Intervals)
	s.metrics.RecordFingerprint(err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	timer := s.metrics.StartTimer(metrics.OpBuild)
	res, err := builder.BuildWithVerdict(req.Content, fp)
	timer.Stop()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.RecordCommitment(res.Verdict)

	resp := BuildResponse{
		ReferenceID: verify.ReferenceID(res.Commitment),
		Commitment:  res.Commitment,
		Verdict:     res.Verdict,
	}
	if s.store != nil {
		timer := s.metrics.StartTimer(metrics.OpStore)
		id, err := s.store.Save(r.Context(), res.Commitment, &res.Verdict)
		timer.Stop()
		if err != nil {
			s.writeError(w, r, fmt.Errorf("store commitment: %w", err))
			return
		}
		resp.ID = id
		s.refreshStored(r)
	}

	_ = s.audit.LogCommitment(r.Context(), resp.ReferenceID, res.Verdict.Human, map[string]interface{}{
		"word_count": res.Commitment.VerificationData.WordCount,
		"signed":     res.Commitment.Signed(),
	})
	s.log.WithContext(r.Context()).Info("commitment built",
		"reference_id", resp.ReferenceID,
		"human_verified", res.Verdict.Human,
		"failed_checks", len(res.Verdict.Failed()))

	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetCommitment(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "no commitment store configured"})
		return
	}
	id := r.PathValue("id")

	var (
		rec *store.Record
		err error
	)
	if strings.HasPrefix(id, "0x") {
		rec, err = s.store.GetByReference(r.Context(), id)
	} else {
		rec, err = s.store.Get(r.Context(), id)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "commitment not found"})
		return
	}

	resp := RecordResponse{
		ID:          rec.ID,
		ReferenceID: rec.ReferenceID,
		Commitment:  rec.Commitment,
		Verdict:     rec.Verdict,
	}
	if lister, ok := s.store.(interface {
		Verifications(ctx context.Context, id string) ([]store.VerificationRecord, error)
	}); ok {
		if runs, err := lister.Verifications(r.Context(), rec.ID); err == nil {
			for _, v := range runs {
				resp.Verifications = append(resp.Verifications, VerificationRun{
					Kind:      string(v.Kind),
					OK:        v.OK,
					Detail:    v.Detail,
					CreatedAt: v.CreatedAt,
				})
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	c, ok := s.decodeCommitment(w, r)
	if !ok {
		return
	}
	_, _, opts := s.snapshot()

	timer := s.metrics.StartTimer(metrics.OpVerifyLocal)
	res := verify.Local(c, opts...)
	timer.Stop()
	s.metrics.RecordVerification(metrics.KindLocal, res.Consistent)

	report := verify.NewReport(c, res)
	s.recordRun(r, report.ReferenceID, store.KindLocal, res.Consistent, strings.Join(report.FailedChecks(), ","))
	_ = s.audit.LogVerification(r.Context(), report.ReferenceID, res.Consistent, map[string]interface{}{
		"failed": report.FailedChecks(),
	})

	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleVerifyRemote(w http.ResponseWriter, r *http.Request) {
	c, ok := s.decodeCommitment(w, r)
	if !ok {
		return
	}
	if s.ledger == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: verify.ErrNoLedger.Error()})
		return
	}

	timer := s.metrics.StartTimer(metrics.OpVerifyRemote)
	res, err := verify.Remote(r.Context(), c, s.ledger)
	timer.Stop()
	_ = s.audit.LogRemote(r.Context(), s.ledger.Name(), verify.ReferenceID(c), err)
	if err != nil {
		s.metrics.RecordVerificationError(metrics.KindRemote)
		if statusFor(err) == http.StatusInternalServerError {
			s.log.WithContext(r.Context()).Error("ledger submission failed", "ledger", s.ledger.Name(), "error", err)
			writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: err.Error()})
			return
		}
		s.writeError(w, r, err)
		return
	}
	s.metrics.RecordVerification(metrics.KindRemote, res.Verified)
	s.recordRun(r, res.ReferenceID, store.KindRemote, res.Verified, res.Ledger+":"+string(res.Receipt.Status))

	writeJSON(w, http.StatusOK, res)
}

// recordRun attaches a verification run to a stored commitment, if any.
func (s *Server) recordRun(r *http.Request, refID string, kind store.VerificationKind, ok bool, detail string) {
	if s.store == nil || refID == "" {
		return
	}
	rec, err := s.store.GetByReference(r.Context(), refID)
	if err != nil || rec == nil {
		return
	}
	if _, err := s.store.RecordVerification(r.Context(), rec.ID, kind, ok, detail); err != nil {
		s.log.WithContext(r.Context()).Warn("record verification failed", "reference_id", refID, "error", err)
	}
}

func (s *Server) refreshStored(r *http.Request) {
	if s.metrics == nil {
		return
	}
	if st, err := s.store.GetStats(r.Context()); err == nil {
		s.metrics.SetStored(st.Commitments)
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, s.maxBody)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, r, badRequest(err))
		return false
	}
	return true
}

func (s *Server) decodeCommitment(w http.ResponseWriter, r *http.Request) (*commitment.Commitment, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		s.writeError(w, r, badRequest(err))
		return nil, false
	}
	c, err := commitment.Unmarshal(data)
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	return c, true
}

type requestError struct{ err error }

func (e requestError) Error() string { return "invalid request: " + e.err.Error() }
func (e requestError) Unwrap() error { return e.err }

func badRequest(err error) error { return requestError{err} }

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	var reqErr requestError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &reqErr),
		errors.Is(err, commitment.ErrMalformedCommitment):
		return http.StatusBadRequest
	case errors.Is(err, fingerprint.ErrInsufficientData),
		errors.Is(err, fingerprint.ErrDegenerateInput),
		errors.Is(err, commitment.ErrInvalidFingerprint),
		errors.Is(err, ledger.ErrInvalidSubmission):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrUnknownLedger):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.WithContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
		_ = s.audit.LogError(r.Context(), r.URL.Path, err)
		msg = "internal error"
	}
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
