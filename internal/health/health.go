// Package health reports whether typeproofd can serve: the commitment
// store, the active ledger and the builder signing key are each checked
// and aggregated behind liveness, readiness and detail endpoints.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"typeproof/internal/ledger"
)

// Status is the health of one component or of the whole process.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded" // serving, with a feature unavailable
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown" // not checked yet
)

// Component names registered by typeproofd.
const (
	ComponentStore      = "store"
	ComponentLedger     = "ledger"
	ComponentSigningKey = "signing_key"
)

// DefaultTimeout bounds a single component check.
const DefaultTimeout = 5 * time.Second

// Result is the outcome of one component check.
type Result struct {
	Status    Status         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Error     string         `json:"error,omitempty"`
	CheckedAt time.Time      `json:"checked_at"`
	Duration  time.Duration  `json:"duration_ns"`
}

// Check probes one component.
type Check func(ctx context.Context) Result

type component struct {
	critical bool
	check    Check
}

// Checker runs the registered component checks. A failing critical
// component makes the process unhealthy; a failing optional one only
// degrades it.
type Checker struct {
	mu         sync.RWMutex
	components map[string]component
	results    map[string]Result
	started    time.Time
	ready      bool
	timeout    time.Duration
}

// Option configures a Checker.
type Option func(*Checker)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewChecker creates a Checker that is not ready yet.
func NewChecker(opts ...Option) *Checker {
	c := &Checker{
		components: make(map[string]component),
		results:    make(map[string]Result),
		started:    time.Now(),
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds or replaces a component.
func (c *Checker) Register(name string, critical bool, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components[name] = component{critical: critical, check: check}
	c.results[name] = Result{Status: StatusUnknown}
}

// RegisterStore registers the commitment store as a critical component.
func (c *Checker) RegisterStore(st StatsSource) {
	c.Register(ComponentStore, true, StoreCheck(st))
}

// RegisterLedger registers the active ledger. Ledger outages degrade the
// process: building and local verification keep working.
func (c *Checker) RegisterLedger(l ledger.Ledger) {
	c.Register(ComponentLedger, false, LedgerCheck(l))
}

// RegisterSigningKey registers the builder key file.
func (c *Checker) RegisterSigningKey(path, fingerprint string) {
	c.Register(ComponentSigningKey, false, SigningKeyCheck(path, fingerprint))
}

// Components lists the registered component names in sorted order.
func (c *Checker) Components() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.components))
	for name := range c.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetReady marks the process as accepting traffic.
func (c *Checker) SetReady(ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = ready
}

// Ready reports the readiness flag.
func (c *Checker) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Run checks every component concurrently and stores the results. A check
// that panics or outlives the timeout counts as unhealthy.
func (c *Checker) Run(ctx context.Context) map[string]Result {
	c.mu.RLock()
	comps := make(map[string]component, len(c.components))
	for name, comp := range c.components {
		comps[name] = comp
	}
	timeout := c.timeout
	c.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]Result, len(comps))
	)
	for name, comp := range comps {
		wg.Add(1)
		go func(name string, check Check) {
			defer wg.Done()
			res := runOne(ctx, check, timeout)
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}(name, comp.check)
	}
	wg.Wait()

	c.mu.Lock()
	for name, res := range results {
		if _, ok := c.components[name]; ok {
			c.results[name] = res
		}
	}
	c.mu.Unlock()
	return results
}

func runOne(ctx context.Context, check Check, timeout time.Duration) Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Result{Status: StatusUnhealthy, Message: "check panicked", Error: fmt.Sprint(r)}
			}
		}()
		done <- check(ctx)
	}()

	var res Result
	select {
	case res = <-done:
	case <-ctx.Done():
		res = Result{Status: StatusUnhealthy, Message: "check timed out", Error: ctx.Err().Error()}
	}
	res.CheckedAt = start
	res.Duration = time.Since(start)
	return res
}

// Status aggregates the last stored results.
func (c *Checker) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := StatusHealthy
	for name, res := range c.results {
		critical := c.components[name].critical
		switch {
		case res.Status == StatusUnhealthy && critical:
			return StatusUnhealthy
		case res.Status == StatusUnknown && critical:
			status = StatusUnknown
		case res.Status == StatusUnhealthy || res.Status == StatusDegraded:
			if status == StatusHealthy {
				status = StatusDegraded
			}
		}
	}
	return status
}

// Report is the body of the detail endpoint.
type Report struct {
	Status     Status            `json:"status"`
	Ready      bool              `json:"ready"`
	Uptime     string            `json:"uptime"`
	Components map[string]Result `json:"components,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Report runs the checks and summarizes them. Component results are only
// included when full is set.
func (c *Checker) Report(ctx context.Context, full bool) Report {
	results := c.Run(ctx)
	r := Report{
		Status:    c.Status(),
		Ready:     c.Ready(),
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
	}
	if full {
		r.Components = results
	}
	return r
}

func writeStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// LivenessHandler answers 200 while the process runs.
func (c *Checker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, map[string]any{"status": "alive", "timestamp": time.Now().UTC()})
	})
}

// ReadinessHandler answers 503 before SetReady(true) or while a critical
// component is unhealthy.
func (c *Checker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.Ready() {
			writeStatus(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready"})
			return
		}
		c.Run(r.Context())
		status := c.Status()
		code := http.StatusOK
		if status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeStatus(w, code, map[string]any{"status": status, "ready": true})
	})
}

// HealthHandler serves the Report; ?full=true adds per-component results.
func (c *Checker) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := c.Report(r.Context(), r.URL.Query().Get("full") == "true")
		code := http.StatusOK
		if report.Status == StatusUnhealthy || report.Status == StatusUnknown {
			code = http.StatusServiceUnavailable
		}
		writeStatus(w, code, report)
	})
}
