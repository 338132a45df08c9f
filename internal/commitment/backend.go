package commitment

import (
	"fmt"
	"math"

	"typeproof/internal/hashcommit"
)

// VelocityTolerance is the relative tolerance allowed between the blob
// velocity and 1000/average_keystroke_time.
const VelocityTolerance = 1e-9

// ProofBackend produces and checks the proof blob. The hash commitment is
// the only backend today; a succinct proof system would slot in here.
type ProofBackend interface {
	Name() string
	Prove(f BlobFields) (string, error)
	Check(blob string, pv PublicValues, vd VerificationData) error
}

// HashBackend is the default backend: the blob is a plain encoding of the
// committed values and checking it means recomputing the bindings.
type HashBackend struct{}

func (HashBackend) Name() string { return "hash-commitment" }

func (HashBackend) Prove(f BlobFields) (string, error) {
	return EncodeBlob(f)
}

func (HashBackend) Check(blob string, pv PublicValues, vd VerificationData) error {
	f, err := DecodeBlob(blob)
	if err != nil {
		return err
	}
	if !hashcommit.Equal(f.ContentHash, pv.ContentHash) {
		return fmt.Errorf("blob content hash %s does not match %s", f.ContentHash, pv.ContentHash)
	}
	if f.Timestamp != pv.Timestamp {
		return fmt.Errorf("blob timestamp %d does not match %d", f.Timestamp, pv.Timestamp)
	}
	if !VelocityMatches(f.Velocity, vd.AverageKeystrokeTime) {
		return fmt.Errorf("blob velocity %v inconsistent with average %v", f.Velocity, vd.AverageKeystrokeTime)
	}
	return nil
}

// VelocityMatches reports whether velocity equals 1000/avgMs within
// VelocityTolerance. A non-positive average never matches.
func VelocityMatches(velocity, avgMs float64) bool {
	if avgMs <= 0 || math.IsNaN(avgMs) || math.IsInf(avgMs, 0) {
		return false
	}
	want := 1000.0 / avgMs
	return math.Abs(velocity-want) <= VelocityTolerance*math.Abs(want)
}
