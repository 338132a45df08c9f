// Package store provides SQLite-based storage for built commitments and
// the verifications run against them.
package store

import (
	"time"

	"typeproof/internal/classifier"
	"typeproof/internal/commitment"
)

// Record is a stored commitment.
type Record struct {
	ID            string
	ReferenceID   string
	ContentHash   string
	HumanVerified bool
	Timestamp     uint64
	CreatedAt     time.Time
	Commitment    *commitment.Commitment
	// Verdict is nil for commitments imported without one.
	Verdict *classifier.Verdict
}

// VerificationKind distinguishes local and remote verification runs.
type VerificationKind string

const (
	KindLocal  VerificationKind = "local"
	KindRemote VerificationKind = "remote"
)

// VerificationRecord is one verification run against a stored commitment.
type VerificationRecord struct {
	ID           int64
	CommitmentID string
	Kind         VerificationKind
	OK           bool
	Detail       string
	CreatedAt    time.Time
}

// Stats summarizes store contents.
type Stats struct {
	Commitments   int64
	HumanVerified int64
	Verifications int64
}
