// Package api serves fingerprint extraction, commitment building and
// verification over HTTP/JSON.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"typeproof/internal/classifier"
	"typeproof/internal/commitment"
	"typeproof/internal/health"
	"typeproof/internal/ledger"
	"typeproof/internal/logging"
	"typeproof/internal/metrics"
	"typeproof/internal/store"
	"typeproof/internal/verify"
)

// DefaultMaxBodyBytes caps request bodies when Config leaves it unset.
const DefaultMaxBodyBytes = 4 << 20

// Store is the persistence the server needs. *store.Store satisfies it.
type Store interface {
	Save(ctx context.Context, c *commitment.Commitment, verdict *classifier.Verdict) (string, error)
	Get(ctx context.Context, id string) (*store.Record, error)
	GetByReference(ctx context.Context, refID string) (*store.Record, error)
	RecordVerification(ctx context.Context, commitmentID string, kind store.VerificationKind, ok bool, detail string) (int64, error)
	GetStats(ctx context.Context) (*store.Stats, error)
}

// Config wires the server's collaborators. Builder is required; every
// other field may be nil.
type Config struct {
	Builder       *commitment.Builder
	Classifier    *classifier.Classifier
	VerifyOptions []verify.LocalOption
	Store         Store
	Ledger        ledger.Ledger
	Metrics       *metrics.Metrics
	MetricsPath   string
	Health        *health.Checker
	Logger        *logging.Logger
	Audit         *logging.AuditLogger
	Crash         *logging.CrashHandler
	MaxBodyBytes  int64

	// RateLimit is the sustained requests per second allowed per client
	// address; zero disables limiting. RateBurst defaults to 1.
	RateLimit float64
	RateBurst int
}

// Server is the typeproof HTTP API.
type Server struct {
	mu        sync.RWMutex
	builder   *commitment.Builder
	cls       *classifier.Classifier
	verifyOps []verify.LocalOption

	store   Store
	ledger  ledger.Ledger
	metrics *metrics.Metrics
	health  *health.Checker
	log     *logging.Logger
	audit   *logging.AuditLogger
	crash   *logging.CrashHandler

	metricsPath string
	maxBody     int64
	limiter     *clientLimiter
	handler     http.Handler
}

// New creates a server from cfg.
func New(cfg Config) (*Server, error) {
	if cfg.Builder == nil {
		return nil, errors.New("api: builder is required")
	}
	s := &Server{
		builder:     cfg.Builder,
		cls:         cfg.Classifier,
		verifyOps:   cfg.VerifyOptions,
		store:       cfg.Store,
		ledger:      cfg.Ledger,
		metrics:     cfg.Metrics,
		health:      cfg.Health,
		log:         cfg.Logger,
		audit:       cfg.Audit,
		crash:       cfg.Crash,
		metricsPath: cfg.MetricsPath,
		maxBody:     cfg.MaxBodyBytes,
	}
	if s.cls == nil {
		s.cls = classifier.Default()
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	if s.health == nil {
		s.health = health.NewChecker()
		s.health.SetReady(true)
	}
	if s.crash == nil {
		s.crash = logging.NewCrashHandler(&logging.CrashHandlerConfig{Component: "api"})
	}
	if s.maxBody <= 0 {
		s.maxBody = DefaultMaxBodyBytes
	}
	if s.metricsPath == "" {
		s.metricsPath = "/metrics"
	}
	if cfg.RateLimit > 0 {
		s.limiter = newClientLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	s.handler = s.routes()
	return s, nil
}

// Reconfigure swaps the builder, classifier and verification options,
// e.g. after a configuration reload. In-flight requests keep the
// values they started with.
func (s *Server) Reconfigure(b *commitment.Builder, cls *classifier.Classifier, opts []verify.LocalOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b != nil {
		s.builder = b
	}
	if cls != nil {
		s.cls = cls
	}
	s.verifyOps = opts
}

func (s *Server) snapshot() (*commitment.Builder, *classifier.Classifier, []verify.LocalOption) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.builder, s.cls, s.verifyOps
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/fingerprints", s.handleFingerprint)
	mux.HandleFunc("POST /api/v1/commitments", s.handleBuild)
	mux.HandleFunc("GET /api/v1/commitments/{id}", s.handleGetCommitment)
	mux.HandleFunc("POST /api/v1/verify", s.handleVerify)
	mux.HandleFunc("POST /api/v1/verify-remote", s.handleVerifyRemote)

	mux.Handle("GET /healthz", s.health.HealthHandler())
	mux.Handle("GET /readyz", s.health.ReadinessHandler())
	mux.Handle("GET /livez", s.health.LivenessHandler())
	if s.metrics != nil {
		mux.Handle("GET "+s.metricsPath, s.metrics.Handler())
	}

	return s.withRequestID(s.withRecovery(s.withLogging(s.withRateLimit(mux))))
}

// Serve runs the API on l until ctx is cancelled, then shuts down
// gracefully within shutdownTimeout.
func (s *Server) Serve(ctx context.Context, l net.Listener, readTimeout, writeTimeout, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		defer s.crash.RecoverGoroutine("http-server")
		errCh <- srv.Serve(l)
	}()
	s.log.Info("api listening", "addr", l.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
