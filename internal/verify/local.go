// Package verify re-checks typing-proof commitments.
//
// Local verification recomputes every binding a commitment makes and fails
// closed. Remote verification submits the commitment to a ledger backend.
// Neither re-runs the classifier; a human verdict is only held to the
// variance range, the one classifier input the proof blob carries. A
// consistent commitment shows that its claims hang together, not that a
// human typed the content.
package verify

import (
	"fmt"
	"time"

	"typeproof/internal/classifier"
	"typeproof/internal/commitment"
	"typeproof/internal/hashcommit"
	"typeproof/internal/signer"
)

// DefaultMaxClockSkew bounds how far in the future a timestamp may be.
const DefaultMaxClockSkew = 5 * time.Minute

// Check names.
const (
	CheckCommitmentPresent   = "commitment-present"
	CheckSchemaVersion       = "schema-version"
	CheckContentHashFormat   = "content-hash-format"
	CheckAuthorityHashFormat = "authority-hash-format"
	CheckTimestamp           = "timestamp"
	CheckProofBlob           = "proof-blob"
	CheckBlobContentHash     = "blob-content-hash"
	CheckBlobTimestamp       = "blob-timestamp"
	CheckAuthorityHash       = "authority-hash"
	CheckVelocity            = "velocity"
	CheckVerdictVariance     = "verdict-variance"
	CheckEditingTime         = "editing-time"
	CheckProofBackend        = "proof-backend"
	CheckSignature           = "signature"
)

// CheckStatus is the outcome of a single check.
type CheckStatus string

const (
	StatusPassed  CheckStatus = "passed"
	StatusFailed  CheckStatus = "failed"
	StatusSkipped CheckStatus = "skipped"
)

// CheckOutcome records one check.
type CheckOutcome struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Message string      `json:"message,omitempty"`
}

// Result is the outcome of Local.
type Result struct {
	Consistent bool           `json:"consistent"`
	Checks     []CheckOutcome `json:"checks"`
}

// Failed returns the failed checks in order.
func (r Result) Failed() []CheckOutcome {
	var out []CheckOutcome
	for _, c := range r.Checks {
		if c.Status == StatusFailed {
			out = append(out, c)
		}
	}
	return out
}

// Outcome returns the named check, if it ran.
func (r Result) Outcome(name string) (CheckOutcome, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return CheckOutcome{}, false
}

type localConfig struct {
	clock            commitment.Clock
	maxSkew          time.Duration
	backend          commitment.ProofBackend
	requireSignature bool
	trustedKeys      map[string]bool
	minVariance      float64
	maxVariance      float64
}

// LocalOption configures Local.
type LocalOption func(*localConfig)

// WithClock sets the clock future timestamps are judged against.
func WithClock(c commitment.Clock) LocalOption {
	return func(cfg *localConfig) {
		if c != nil {
			cfg.clock = c
		}
	}
}

// WithMaxClockSkew overrides DefaultMaxClockSkew.
func WithMaxClockSkew(d time.Duration) LocalOption {
	return func(cfg *localConfig) {
		if d >= 0 {
			cfg.maxSkew = d
		}
	}
}

// WithBackend checks the proof blob with a backend other than the hash
// commitment.
func WithBackend(b commitment.ProofBackend) LocalOption {
	return func(cfg *localConfig) {
		cfg.backend = b
	}
}

// WithVarianceRange sets the variance range a human verdict must fall in.
// It should match the builder's classifier thresholds.
func WithVarianceRange(min, max float64) LocalOption {
	return func(cfg *localConfig) {
		if min >= 0 && max >= min {
			cfg.minVariance, cfg.maxVariance = min, max
		}
	}
}

// RequireSignature makes unsigned commitments fail.
func RequireSignature() LocalOption {
	return func(cfg *localConfig) {
		cfg.requireSignature = true
	}
}

// WithTrustedKeys restricts accepted builder keys to the given hex keys.
func WithTrustedKeys(keys ...string) LocalOption {
	return func(cfg *localConfig) {
		if cfg.trustedKeys == nil {
			cfg.trustedKeys = make(map[string]bool)
		}
		for _, k := range keys {
			cfg.trustedKeys[k] = true
		}
	}
}

type checker struct {
	checks []CheckOutcome
	failed bool
}

func (c *checker) pass(name string) {
	c.checks = append(c.checks, CheckOutcome{Name: name, Status: StatusPassed})
}

func (c *checker) fail(name, format string, args ...any) {
	c.failed = true
	c.checks = append(c.checks, CheckOutcome{Name: name, Status: StatusFailed, Message: fmt.Sprintf(format, args...)})
}

func (c *checker) skip(name, reason string) {
	c.checks = append(c.checks, CheckOutcome{Name: name, Status: StatusSkipped, Message: reason})
}

func (c *checker) expect(ok bool, name, format string, args ...any) bool {
	if ok {
		c.pass(name)
	} else {
		c.fail(name, format, args...)
	}
	return ok
}

func (c *checker) result() Result {
	return Result{Consistent: !c.failed && len(c.checks) > 0, Checks: c.checks}
}

// Local recomputes every binding in c. It never panics and any failed
// check makes the result inconsistent.
func Local(c *commitment.Commitment, opts ...LocalOption) Result {
	cfg := localConfig{
		clock:       commitment.SystemClock{},
		maxSkew:     DefaultMaxClockSkew,
		minVariance: classifier.DefaultMinVariance,
		maxVariance: classifier.DefaultMaxVariance,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	var ck checker
	if c == nil {
		ck.fail(CheckCommitmentPresent, "no commitment")
		return ck.result()
	}

	pv, vd := c.PublicValues, c.VerificationData

	ck.expect(c.SchemaVersion == commitment.SchemaVersion, CheckSchemaVersion,
		"schema version %d, want %d", c.SchemaVersion, commitment.SchemaVersion)
	ck.expect(hashcommit.IsHexDigest(pv.ContentHash), CheckContentHashFormat,
		"content hash %q is not a hex digest", pv.ContentHash)
	ck.expect(hashcommit.IsHexDigest(pv.AuthorityHash), CheckAuthorityHashFormat,
		"authority hash %q is not a hex digest", pv.AuthorityHash)

	now := cfg.clock.NowMillis()
	limit := now + uint64(cfg.maxSkew/time.Millisecond)
	switch {
	case pv.Timestamp == 0:
		ck.fail(CheckTimestamp, "timestamp is zero")
	case pv.Timestamp > limit:
		ck.fail(CheckTimestamp, "timestamp %d is in the future (now %d)", pv.Timestamp, now)
	default:
		ck.pass(CheckTimestamp)
	}

	ck.expect(hashcommit.Equal(pv.AuthorityHash, commitment.AuthorityHash(pv.Timestamp, pv.ContentHash)),
		CheckAuthorityHash, "authority hash does not match timestamp and content hash")

	ck.expect(vd.TotalEditingTime >= vd.AverageKeystrokeTime, CheckEditingTime,
		"total editing time %v below average interval %v", vd.TotalEditingTime, vd.AverageKeystrokeTime)

	if cfg.backend != nil {
		if err := cfg.backend.Check(c.ProofBlob, pv, vd); err != nil {
			ck.fail(CheckProofBackend, "%s: %v", cfg.backend.Name(), err)
		} else {
			ck.pass(CheckProofBackend)
		}
	} else {
		checkBlob(&ck, c, &cfg)
	}

	checkSignature(&ck, c, &cfg)

	return ck.result()
}

func checkBlob(ck *checker, c *commitment.Commitment, cfg *localConfig) {
	pv, vd := c.PublicValues, c.VerificationData

	f, err := commitment.DecodeBlob(c.ProofBlob)
	if err != nil {
		ck.fail(CheckProofBlob, "%v", err)
		ck.skip(CheckBlobContentHash, "proof blob unreadable")
		ck.skip(CheckBlobTimestamp, "proof blob unreadable")
		ck.skip(CheckVelocity, "proof blob unreadable")
		ck.skip(CheckVerdictVariance, "proof blob unreadable")
		return
	}
	ck.pass(CheckProofBlob)

	ck.expect(hashcommit.Equal(f.ContentHash, pv.ContentHash), CheckBlobContentHash,
		"blob content hash %s does not match %s", f.ContentHash, pv.ContentHash)
	ck.expect(f.Timestamp == pv.Timestamp, CheckBlobTimestamp,
		"blob timestamp %d does not match %d", f.Timestamp, pv.Timestamp)
	ck.expect(commitment.VelocityMatches(f.Velocity, vd.AverageKeystrokeTime), CheckVelocity,
		"blob velocity %v inconsistent with average interval %v", f.Velocity, vd.AverageKeystrokeTime)

	// A negative verdict can come from any classifier check, so only a
	// positive one is held to the variance range.
	if pv.HumanVerified {
		ck.expect(f.Variance >= cfg.minVariance && f.Variance <= cfg.maxVariance, CheckVerdictVariance,
			"human verdict with variance %v outside [%v, %v]", f.Variance, cfg.minVariance, cfg.maxVariance)
	} else {
		ck.pass(CheckVerdictVariance)
	}
}

func checkSignature(ck *checker, c *commitment.Commitment, cfg *localConfig) {
	if !c.Signed() {
		if cfg.requireSignature {
			ck.fail(CheckSignature, "commitment is unsigned")
		} else {
			ck.skip(CheckSignature, "unsigned")
		}
		return
	}
	if cfg.trustedKeys != nil && !cfg.trustedKeys[c.PublicKey] {
		ck.fail(CheckSignature, "builder key %s is not trusted", c.PublicKey)
		return
	}
	if err := signer.VerifyHex(c.PublicKey, c.Signature, c.SigningPayload()); err != nil {
		ck.fail(CheckSignature, "%v", err)
		return
	}
	ck.pass(CheckSignature)
}

// LocalBytes decodes a wire commitment and verifies it. A decode failure
// yields an inconsistent result.
func LocalBytes(data []byte, opts ...LocalOption) Result {
	c, err := commitment.Unmarshal(data)
	if err != nil {
		return Result{
			Consistent: false,
			Checks:     []CheckOutcome{{Name: CheckCommitmentPresent, Status: StatusFailed, Message: err.Error()}},
		}
	}
	return Local(c, opts...)
}
