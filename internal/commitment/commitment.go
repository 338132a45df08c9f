// Package commitment builds and encodes typing-proof commitments.
//
// A Commitment binds the hash of some content to a keystroke fingerprint
// summary, the classifier verdict and a timestamp. Anyone holding it can
// recompute the bindings. It is not zero-knowledge and it does not stop a
// client from fabricating the keystroke stream it summarizes.
package commitment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"typeproof/internal/schemavalidation"
)

// SchemaVersion is the wire format version written by this package.
const SchemaVersion = 1

// Errors
var (
	ErrInvalidFingerprint  = errors.New("commitment: invalid fingerprint")
	ErrMalformedCommitment = errors.New("commitment: malformed commitment")
	ErrEncoding            = errors.New("commitment: encoding failed")
)

// PublicValues are the claims a commitment makes.
type PublicValues struct {
	ContentHash   string `json:"content_hash"`
	AuthorityHash string `json:"authority_hash"`
	HumanVerified bool   `json:"human_verified"`
	Timestamp     uint64 `json:"timestamp"`
}

// VerificationData carries the aggregate timing figures.
type VerificationData struct {
	WordCount            uint32  `json:"word_count"`
	AverageKeystrokeTime float64 `json:"average_keystroke_time"`
	TotalEditingTime     float64 `json:"total_editing_time"`
}

// Commitment is the transportable proof record. Treat it as a value.
type Commitment struct {
	SchemaVersion    int              `json:"schema_version"`
	ProofBlob        string           `json:"proof_blob"`
	PublicValues     PublicValues     `json:"public_values"`
	VerificationData VerificationData `json:"verification_data"`

	// Builder signature over SigningPayload, hex encoded. Both or neither.
	Signature string `json:"signature,omitempty"`
	PublicKey string `json:"public_key,omitempty"`
}

// Signed reports whether the commitment carries a builder signature.
func (c *Commitment) Signed() bool {
	return c.Signature != "" || c.PublicKey != ""
}

// signingDomain prefixes every signed payload.
const signingDomain = "typeproof-commitment-v1"

// SigningPayload is the message a builder signs: the domain tag, the proof
// blob, the authority hash and the verdict, newline separated. Changing
// human_verified or authority_hash invalidates the signature.
func SigningPayload(blob, authorityHash string, human bool) []byte {
	return []byte(signingDomain + "\n" + blob + "\n" + authorityHash + "\n" + strconv.FormatBool(human))
}

// SigningPayload returns the payload for c's current values.
func (c *Commitment) SigningPayload() []byte {
	return SigningPayload(c.ProofBlob, c.PublicValues.AuthorityHash, c.PublicValues.HumanVerified)
}

// Marshal encodes c as compact JSON.
func Marshal(c *Commitment) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil commitment", ErrEncoding)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return data, nil
}

// MarshalIndent encodes c as indented JSON for display.
func MarshalIndent(c *Commitment) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil commitment", ErrEncoding)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return data, nil
}

// Unmarshal validates data against the commitment schema and decodes it.
// Any failure is reported as ErrMalformedCommitment.
func Unmarshal(data []byte) (*Commitment, error) {
	if err := schemavalidation.ValidateCommitment(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCommitment, err)
	}
	var c Commitment
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCommitment, err)
	}
	return &c, nil
}
