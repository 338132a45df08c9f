package verify

import (
	"context"
	"errors"
	"fmt"

	"typeproof/internal/commitment"
	"typeproof/internal/hashcommit"
	"typeproof/internal/ledger"
)

var (
	ErrNilCommitment = errors.New("verify: nil commitment")
	ErrNoLedger      = errors.New("verify: no ledger configured")
)

// ReferenceIDLength is the number of hex characters kept after "0x".
const ReferenceIDLength = 40

// ReferenceID derives the external reference for c from its proof blob.
func ReferenceID(c *commitment.Commitment) string {
	return "0x" + hashcommit.DigestString(c.ProofBlob)[:ReferenceIDLength]
}

// RemoteResult is the outcome of Remote.
type RemoteResult struct {
	Verified    bool           `json:"verified"`
	ReferenceID string         `json:"reference_id"`
	Ledger      string         `json:"ledger"`
	Receipt     ledger.Receipt `json:"receipt"`
}

// Remote submits c to l. Verified is the human_verified claim as the
// ledger recorded it. If the reference id was first submitted with a
// different verdict, the ledger's record wins and Verified is false.
func Remote(ctx context.Context, c *commitment.Commitment, l ledger.Ledger) (RemoteResult, error) {
	if c == nil {
		return RemoteResult{}, ErrNilCommitment
	}
	if l == nil {
		return RemoteResult{}, ErrNoLedger
	}

	refID := ReferenceID(c)
	receipt, err := l.Submit(ctx, ledger.Submission{
		ReferenceID:   refID,
		ContentHash:   c.PublicValues.ContentHash,
		AuthorityHash: c.PublicValues.AuthorityHash,
		HumanVerified: c.PublicValues.HumanVerified,
		Timestamp:     c.PublicValues.Timestamp,
	})
	if err != nil {
		return RemoteResult{}, fmt.Errorf("submit to %s: %w", l.Name(), err)
	}

	return RemoteResult{
		Verified:    receipt.Verified && c.PublicValues.HumanVerified,
		ReferenceID: refID,
		Ledger:      l.Name(),
		Receipt:     receipt,
	}, nil
}
