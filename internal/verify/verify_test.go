package verify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"typeproof/internal/commitment"
	"typeproof/internal/fingerprint"
	"typeproof/internal/hashcommit"
	"typeproof/internal/ledger"
	"typeproof/internal/signer"
)

const (
	builtAt  = uint64(1700000000000)
	verifyAt = builtAt + 60_000
)

var refIDPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

func alternatingFingerprint(t *testing.T) *fingerprint.Fingerprint {
	t.Helper()
	intervals := make([]float64, 30)
	for i := range intervals {
		if i%2 == 0 {
			intervals[i] = 180
		} else {
			intervals[i] = 220
		}
	}
	fp, err := fingerprint.Extract(intervals)
	require.NoError(t, err)
	return fp
}

func build(t *testing.T, opts ...commitment.Option) *commitment.Commitment {
	t.Helper()
	opts = append([]commitment.Option{commitment.WithClock(commitment.FixedClock(builtAt))}, opts...)
	c, err := commitment.NewBuilder(opts...).Build("hello world", alternatingFingerprint(t))
	require.NoError(t, err)
	return c
}

func local(c *commitment.Commitment, opts ...LocalOption) Result {
	opts = append([]LocalOption{WithClock(commitment.FixedClock(verifyAt))}, opts...)
	return Local(c, opts...)
}

func TestLocalConsistent(t *testing.T) {
	res := local(build(t))
	assert.True(t, res.Consistent, "failed: %+v", res.Failed())
	assert.Empty(t, res.Failed())

	sig, ok := res.Outcome(CheckSignature)
	require.True(t, ok)
	assert.Equal(t, StatusSkipped, sig.Status)
}

func TestLocalDetectsTampering(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *commitment.Commitment)
		wantCheck string
	}{
		{"content hash", func(c *commitment.Commitment) {
			c.PublicValues.ContentHash = hashcommit.DigestString("hello worle")
		}, CheckBlobContentHash},
		{"authority hash", func(c *commitment.Commitment) {
			c.PublicValues.AuthorityHash = hashcommit.DigestString("forged")
		}, CheckAuthorityHash},
		{"timestamp", func(c *commitment.Commitment) {
			c.PublicValues.Timestamp--
		}, CheckBlobTimestamp},
		{"average interval", func(c *commitment.Commitment) {
			c.VerificationData.AverageKeystrokeTime = 150
		}, CheckVelocity},
		{"editing time", func(c *commitment.Commitment) {
			c.VerificationData.TotalEditingTime = 10
		}, CheckEditingTime},
		{"schema version", func(c *commitment.Commitment) {
			c.SchemaVersion = 2
		}, CheckSchemaVersion},
		{"uppercase digest", func(c *commitment.Commitment) {
			c.PublicValues.ContentHash = strings.ToUpper(c.PublicValues.ContentHash)
		}, CheckContentHashFormat},
		{"garbage blob", func(c *commitment.Commitment) {
			c.ProofBlob = "%%%"
		}, CheckProofBlob},
		{"swapped blob", func(c *commitment.Commitment) {
			other, _ := commitment.EncodeBlob(commitment.BlobFields{
				ContentHash: c.PublicValues.ContentHash,
				Velocity:    10,
				Variance:    400,
				Timestamp:   c.PublicValues.Timestamp,
			})
			c.ProofBlob = other
		}, CheckVelocity},
		{"zero timestamp", func(c *commitment.Commitment) {
			c.PublicValues.Timestamp = 0
		}, CheckTimestamp},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := build(t)
			tc.mutate(c)
			res := local(c)
			assert.False(t, res.Consistent)
			out, ok := res.Outcome(tc.wantCheck)
			require.True(t, ok, "check %s did not run", tc.wantCheck)
			assert.Equal(t, StatusFailed, out.Status)
		})
	}
}

func TestLocalSignedVerdictTamper(t *testing.T) {
	key, err := signer.Generate(nil)
	require.NoError(t, err)
	c := build(t, commitment.WithSigner(key))
	require.False(t, c.PublicValues.HumanVerified)
	require.True(t, local(c, RequireSignature()).Consistent)

	forged := *c
	forged.PublicValues.HumanVerified = true
	assert.Equal(t, ReferenceID(c), ReferenceID(&forged))

	res := local(&forged, RequireSignature())
	assert.False(t, res.Consistent)
	sig, ok := res.Outcome(CheckSignature)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, sig.Status)
}

func TestLocalVerdictVariance(t *testing.T) {
	// 180/220 alternation has variance 400, below the default floor.
	c := build(t)
	c.PublicValues.HumanVerified = true

	res := local(c)
	assert.False(t, res.Consistent)
	out, ok := res.Outcome(CheckVerdictVariance)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, out.Status)

	// A deployment with a lower floor accepts the same claim.
	assert.True(t, local(c, WithVarianceRange(100, 1000)).Consistent)

	// Negative verdicts are not range checked.
	c.PublicValues.HumanVerified = false
	out, _ = local(c).Outcome(CheckVerdictVariance)
	assert.Equal(t, StatusPassed, out.Status)
}

func TestLocalFutureTimestamp(t *testing.T) {
	c := build(t)

	res := Local(c, WithClock(commitment.FixedClock(builtAt-10*60_000)))
	assert.False(t, res.Consistent)
	out, _ := res.Outcome(CheckTimestamp)
	assert.Equal(t, StatusFailed, out.Status)

	// Within the default five minute skew.
	res = Local(c, WithClock(commitment.FixedClock(builtAt-4*60_000)))
	assert.True(t, res.Consistent)

	res = Local(c, WithClock(commitment.FixedClock(builtAt-4*60_000)), WithMaxClockSkew(time.Minute))
	assert.False(t, res.Consistent)
}

func TestLocalBlobDecodeFailureSkipsDependents(t *testing.T) {
	c := build(t)
	c.ProofBlob = base64.StdEncoding.EncodeToString([]byte(`["x",1]`))
	res := local(c)
	assert.False(t, res.Consistent)
	for _, name := range []string{CheckBlobContentHash, CheckBlobTimestamp, CheckVelocity} {
		out, ok := res.Outcome(name)
		require.True(t, ok)
		assert.Equal(t, StatusSkipped, out.Status, name)
	}
}

func TestLocalNil(t *testing.T) {
	res := Local(nil)
	assert.False(t, res.Consistent)
	require.Len(t, res.Checks, 1)
	assert.Equal(t, CheckCommitmentPresent, res.Checks[0].Name)
}

func TestLocalSignature(t *testing.T) {
	s, err := signer.Generate(nil)
	require.NoError(t, err)
	c := build(t, commitment.WithSigner(s))

	res := local(c)
	require.True(t, res.Consistent, "failed: %+v", res.Failed())
	out, _ := res.Outcome(CheckSignature)
	assert.Equal(t, StatusPassed, out.Status)

	res = local(c, WithTrustedKeys(hex.EncodeToString(s.PublicKey())))
	assert.True(t, res.Consistent)

	res = local(c, WithTrustedKeys(strings.Repeat("00", 32)))
	assert.False(t, res.Consistent)

	tampered := *c
	sig, _ := hex.DecodeString(c.Signature)
	sig[0] ^= 0xff
	tampered.Signature = hex.EncodeToString(sig)
	assert.False(t, local(&tampered).Consistent)

	assert.False(t, local(build(t), RequireSignature()).Consistent)
}

type rejectingBackend struct{}

func (rejectingBackend) Name() string { return "reject" }
func (rejectingBackend) Prove(commitment.BlobFields) (string, error) {
	return "", errors.New("unsupported")
}
func (rejectingBackend) Check(string, commitment.PublicValues, commitment.VerificationData) error {
	return errors.New("proof rejected")
}

func TestLocalWithBackend(t *testing.T) {
	c := build(t)

	res := local(c, WithBackend(commitment.HashBackend{}))
	assert.True(t, res.Consistent)
	_, ran := res.Outcome(CheckProofBlob)
	assert.False(t, ran)

	res = local(c, WithBackend(rejectingBackend{}))
	assert.False(t, res.Consistent)
	out, _ := res.Outcome(CheckProofBackend)
	assert.Contains(t, out.Message, "proof rejected")
}

func TestLocalBytes(t *testing.T) {
	data, err := commitment.Marshal(build(t))
	require.NoError(t, err)
	assert.True(t, LocalBytes(data, WithClock(commitment.FixedClock(verifyAt))).Consistent)

	res := LocalBytes([]byte(`{"schema_version":1}`))
	assert.False(t, res.Consistent)
	assert.Equal(t, CheckCommitmentPresent, res.Checks[0].Name)

	assert.False(t, LocalBytes(nil).Consistent)
}

func TestReferenceID(t *testing.T) {
	c := build(t)
	id := ReferenceID(c)
	assert.Regexp(t, refIDPattern, id)
	assert.Equal(t, "0x"+hashcommit.DigestString(c.ProofBlob)[:40], id)
	assert.Equal(t, id, ReferenceID(build(t)))
}

func TestRemoteRegularTyping(t *testing.T) {
	c := build(t)
	l := ledger.NewSimulated()

	rr, err := Remote(context.Background(), c, l)
	require.NoError(t, err)
	assert.False(t, rr.Verified)
	assert.Regexp(t, refIDPattern, rr.ReferenceID)
	assert.Equal(t, "simulated", rr.Ledger)
	assert.Equal(t, ledger.StatusRecorded, rr.Receipt.Status)

	again, err := Remote(context.Background(), c, l)
	require.NoError(t, err)
	assert.Equal(t, rr.Verified, again.Verified)
	assert.Equal(t, rr.ReferenceID, again.ReferenceID)
}

func TestRemoteEchoesHumanFlag(t *testing.T) {
	c := build(t)
	c.PublicValues.HumanVerified = true
	rr, err := Remote(context.Background(), c, ledger.NewSimulated())
	require.NoError(t, err)
	assert.True(t, rr.Verified)
	assert.True(t, rr.Receipt.Verified)
}

func TestRemoteDuplicateKeepsRecordedVerdict(t *testing.T) {
	l := ledger.NewSimulated()
	c := build(t)
	first, err := Remote(context.Background(), c, l)
	require.NoError(t, err)
	require.False(t, first.Verified)

	flipped := *c
	flipped.PublicValues.HumanVerified = true
	again, err := Remote(context.Background(), &flipped, l)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusDuplicate, again.Receipt.Status)
	assert.False(t, again.Receipt.Verified)
	assert.False(t, again.Verified)
}

func TestRemoteErrors(t *testing.T) {
	_, err := Remote(context.Background(), nil, ledger.NewSimulated())
	assert.ErrorIs(t, err, ErrNilCommitment)

	_, err = Remote(context.Background(), build(t), nil)
	assert.ErrorIs(t, err, ErrNoLedger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Remote(ctx, build(t), ledger.NewSimulated())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReportFormats(t *testing.T) {
	c := build(t)
	res := local(c)
	rr, err := Remote(context.Background(), c, ledger.NewSimulated())
	require.NoError(t, err)
	report := NewReport(c, res).WithRemote(rr)

	assert.True(t, report.Valid)
	assert.Equal(t, ReferenceID(c), report.ReferenceID)
	assert.Equal(t, uint32(2), report.WordCount)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 1, report.Skipped)
	assert.Contains(t, report.Summary(), "[CONSISTENT] not-human-verified")

	var text bytes.Buffer
	require.NoError(t, NewReportGenerator(FormatText).Generate(report, &text))
	assert.Contains(t, text.String(), "TYPING PROOF VERIFICATION REPORT")
	assert.Contains(t, text.String(), "CONSISTENT")
	assert.Contains(t, text.String(), "Ledger:          simulated")

	var js bytes.Buffer
	require.NoError(t, NewReportGenerator(FormatJSON).Generate(report, &js))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, true, decoded["valid"])
	assert.Equal(t, report.ReferenceID, decoded["reference_id"])

	var md bytes.Buffer
	require.NoError(t, NewReportGenerator(FormatMarkdown).Generate(report, &md))
	assert.Contains(t, md.String(), "| authority-hash | PASS |")
	assert.Contains(t, md.String(), "## Remote")

	assert.Error(t, NewReportGenerator("html").Generate(report, &md))
}

func TestReportInconsistent(t *testing.T) {
	c := build(t)
	c.PublicValues.AuthorityHash = hashcommit.DigestString("x")
	report := NewReport(c, local(c))

	assert.False(t, report.Valid)
	assert.Equal(t, []string{CheckAuthorityHash}, report.FailedChecks())
	assert.Contains(t, report.Summary(), "1 failed")

	var text bytes.Buffer
	require.NoError(t, NewReportGenerator(FormatText).Generate(report, &text))
	assert.Contains(t, text.String(), "[!!] authority-hash")
}

func TestReportWithoutCommitment(t *testing.T) {
	report := NewReport(nil, LocalBytes([]byte("junk")))
	assert.False(t, report.Valid)
	assert.Empty(t, report.ReferenceID)

	var text bytes.Buffer
	require.NoError(t, NewReportGenerator(FormatText).Generate(report, &text))
	assert.Contains(t, text.String(), "INCONSISTENT")
}
