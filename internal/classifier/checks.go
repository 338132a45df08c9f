package classifier

import (
	"fmt"

	"typeproof/internal/fingerprint"
)

// Check names.
const (
	CheckVarianceRange       = "variance-range"
	CheckBucketConcentration = "bucket-concentration"
	CheckMeanInterval        = "mean-interval"
)

// VarianceRange fails when variance is strictly outside [Min, Max].
// Too little spread looks scripted, too much looks like pauses or noise.
type VarianceRange struct {
	Min float64
	Max float64
}

func (VarianceRange) Name() string { return CheckVarianceRange }

func (c VarianceRange) Evaluate(fp *fingerprint.Fingerprint) CheckResult {
	switch {
	case fp.Variance < c.Min:
		return CheckResult{Reason: fmt.Sprintf("variance %.2f below %.2f", fp.Variance, c.Min)}
	case fp.Variance > c.Max:
		return CheckResult{Reason: fmt.Sprintf("variance %.2f above %.2f", fp.Variance, c.Max)}
	}
	return CheckResult{Passed: true}
}

// BucketConcentration fails when any histogram bucket holds more than
// MaxMass of the samples.
type BucketConcentration struct {
	MaxMass float64
}

func (BucketConcentration) Name() string { return CheckBucketConcentration }

func (c BucketConcentration) Evaluate(fp *fingerprint.Fingerprint) CheckResult {
	for i, mass := range fp.Histogram {
		if mass > c.MaxMass {
			return CheckResult{Reason: fmt.Sprintf("bucket %d holds %.3f of samples, limit %.3f", i, mass, c.MaxMass)}
		}
	}
	return CheckResult{Passed: true}
}

// MeanInterval fails when the mean interval is outside [Min, Max] ms.
type MeanInterval struct {
	Min float64
	Max float64
}

func (MeanInterval) Name() string { return CheckMeanInterval }

func (c MeanInterval) Evaluate(fp *fingerprint.Fingerprint) CheckResult {
	if fp.Mean < c.Min || fp.Mean > c.Max {
		return CheckResult{Reason: fmt.Sprintf("mean interval %.1fms outside [%.0f, %.0f]", fp.Mean, c.Min, c.Max)}
	}
	return CheckResult{Passed: true}
}
