// Package ledger defines the external record a commitment is submitted to
// during remote verification, plus an in-memory implementation.
//
// Ledger backends record that a commitment was seen. They do not re-run the
// classifier: the verified flag they return echoes the commitment's own
// human_verified claim.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Common errors
var (
	ErrUnknownLedger     = errors.New("ledger: unknown backend")
	ErrInvalidSubmission = errors.New("ledger: invalid submission")
)

// Status of a recorded submission.
type Status string

const (
	StatusRecorded  Status = "recorded"
	StatusDuplicate Status = "duplicate"
)

// Submission is what a verifier sends to a ledger.
type Submission struct {
	ReferenceID   string `json:"reference_id"`
	ContentHash   string `json:"content_hash"`
	AuthorityHash string `json:"authority_hash"`
	HumanVerified bool   `json:"human_verified"`
	Timestamp     uint64 `json:"timestamp"`
}

// Validate checks the fields a backend keys on.
func (s Submission) Validate() error {
	if !strings.HasPrefix(s.ReferenceID, "0x") || len(s.ReferenceID) != 42 {
		return fmt.Errorf("%w: reference id %q", ErrInvalidSubmission, s.ReferenceID)
	}
	if s.ContentHash == "" || s.AuthorityHash == "" {
		return fmt.Errorf("%w: missing hashes", ErrInvalidSubmission)
	}
	return nil
}

// Receipt is a ledger's acknowledgement of a submission.
type Receipt struct {
	Ledger      string            `json:"ledger"`
	ReferenceID string            `json:"reference_id"`
	Verified    bool              `json:"verified"`
	Status      Status            `json:"status"`
	RecordedAt  time.Time         `json:"recorded_at"`
	Details     map[string]string `json:"details,omitempty"`
}

// Ledger records commitment submissions. Submitting the same reference id
// twice must return the same Verified value and reference id.
type Ledger interface {
	Name() string
	Submit(ctx context.Context, sub Submission) (Receipt, error)
}

// Simulated keeps receipts in memory. It is the default backend and
// needs no network.
type Simulated struct {
	mu       sync.Mutex
	receipts map[string]Receipt
	now      func() time.Time
}

// NewSimulated creates an empty in-memory ledger.
func NewSimulated() *Simulated {
	return &Simulated{
		receipts: make(map[string]Receipt),
		now:      time.Now,
	}
}

// SetNow overrides the timestamp source for receipts.
func (s *Simulated) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Simulated) Name() string { return "simulated" }

func (s *Simulated) Submit(ctx context.Context, sub Submission) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	if err := sub.Validate(); err != nil {
		return Receipt{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.receipts[sub.ReferenceID]; ok {
		r.Status = StatusDuplicate
		return r, nil
	}
	r := Receipt{
		Ledger:      s.Name(),
		ReferenceID: sub.ReferenceID,
		Verified:    sub.HumanVerified,
		Status:      StatusRecorded,
		RecordedAt:  s.now().UTC(),
	}
	s.receipts[sub.ReferenceID] = r
	return r, nil
}

// Lookup returns a stored receipt.
func (s *Simulated) Lookup(refID string) (Receipt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[refID]
	return r, ok
}

// Len returns the number of distinct submissions.
func (s *Simulated) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.receipts)
}

// Registry manages the available ledger backends.
type Registry struct {
	mu      sync.RWMutex
	ledgers map[string]Ledger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ledgers: make(map[string]Ledger)}
}

// Register adds a backend under its Name.
func (r *Registry) Register(l Ledger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledgers[l.Name()] = l
}

// Get returns a backend by name.
func (r *Registry) Get(name string) (Ledger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.ledgers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLedger, name)
	}
	return l, nil
}

// Names returns the registered backend names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ledgers))
	for name := range r.ledgers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
