package commitment

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"typeproof/internal/classifier"
	"typeproof/internal/fingerprint"
	"typeproof/internal/hashcommit"
)

// Signer signs commitment payloads. signer.KeySigner satisfies it.
type Signer interface {
	Sign(msg []byte) ([]byte, error)
	PublicKey() []byte
}

// Builder assembles commitments. It holds no per-build state and is safe
// for concurrent use when its collaborators are.
type Builder struct {
	clock      Clock
	classifier *classifier.Classifier
	backend    ProofBackend
	signer     Signer
}

// Option configures a Builder.
type Option func(*Builder)

// WithClock sets the timestamp source.
func WithClock(c Clock) Option {
	return func(b *Builder) {
		if c != nil {
			b.clock = c
		}
	}
}

// WithClassifier sets the classifier used for the verdict.
func WithClassifier(c *classifier.Classifier) Option {
	return func(b *Builder) {
		if c != nil {
			b.classifier = c
		}
	}
}

// WithBackend replaces the proof backend.
func WithBackend(p ProofBackend) Option {
	return func(b *Builder) {
		if p != nil {
			b.backend = p
		}
	}
}

// WithSigner makes the builder sign every proof blob.
func WithSigner(s Signer) Option {
	return func(b *Builder) {
		b.signer = s
	}
}

// NewBuilder returns a builder using the system clock, the default
// classifier and the hash backend unless overridden.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		clock:      SystemClock{},
		classifier: classifier.Default(),
		backend:    HashBackend{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BuildResult pairs a commitment with the verdict that produced its
// human_verified flag.
type BuildResult struct {
	Commitment *Commitment
	Verdict    classifier.Verdict
}

// Build produces a commitment for content typed with the given fingerprint.
func (b *Builder) Build(content string, fp *fingerprint.Fingerprint) (*Commitment, error) {
	res, err := b.BuildWithVerdict(content, fp)
	if err != nil {
		return nil, err
	}
	return res.Commitment, nil
}

// BuildWithVerdict is Build that also returns the full verdict.
// The clock is read exactly once.
func (b *Builder) BuildWithVerdict(content string, fp *fingerprint.Fingerprint) (*BuildResult, error) {
	if err := fp.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFingerprint, err)
	}

	contentHash := hashcommit.DigestString(content)
	verdict := b.classifier.Classify(fp)
	ts := b.clock.NowMillis()

	blob, err := b.backend.Prove(BlobFields{
		ContentHash: contentHash,
		Velocity:    fp.Velocity,
		Variance:    fp.Variance,
		Timestamp:   ts,
	})
	if err != nil {
		return nil, err
	}

	c := &Commitment{
		SchemaVersion: SchemaVersion,
		ProofBlob:     blob,
		PublicValues: PublicValues{
			ContentHash:   contentHash,
			AuthorityHash: AuthorityHash(ts, contentHash),
			HumanVerified: verdict.Human,
			Timestamp:     ts,
		},
		VerificationData: VerificationData{
			WordCount:            WordCount(content),
			AverageKeystrokeTime: fp.Mean,
			TotalEditingTime:     fp.Total(),
		},
	}

	if b.signer != nil {
		sig, err := b.signer.Sign(c.SigningPayload())
		if err != nil {
			return nil, fmt.Errorf("sign commitment: %w", err)
		}
		c.Signature = hex.EncodeToString(sig)
		c.PublicKey = hex.EncodeToString(b.signer.PublicKey())
	}

	return &BuildResult{Commitment: c, Verdict: verdict}, nil
}

// AuthorityHash binds a timestamp to a content hash: the digest of the
// decimal timestamp immediately followed by the hex content hash.
func AuthorityHash(ts uint64, contentHash string) string {
	return hashcommit.Concat(strconv.FormatUint(ts, 10), contentHash)
}

// WordCount counts whitespace-separated runs, saturating at MaxUint32.
func WordCount(content string) uint32 {
	n := len(strings.Fields(content))
	if uint64(n) > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(n)
}
