// Package classifier labels a keystroke fingerprint as human-like or not.
//
// The verdict is a heuristic over timing statistics and is advisory only.
// A scripted keystroke stream with injected jitter will pass; nothing here
// proves that a human was at the keyboard.
package classifier

import (
	"math"

	"typeproof/internal/fingerprint"
)

// Default thresholds.
const (
	DefaultMinVariance       = 5000.0
	DefaultMaxVariance       = 500000.0
	DefaultMaxBucketMass     = 0.5
	DefaultMinMeanIntervalMs = 50.0
	DefaultMaxMeanIntervalMs = 500.0
)

// CheckFingerprintPresent is reported when Classify receives nil.
const CheckFingerprintPresent = "fingerprint-present"

// Thresholds configures the default checks.
type Thresholds struct {
	MinVariance   float64 `json:"min_variance" toml:"min_variance" yaml:"min_variance"`
	MaxVariance   float64 `json:"max_variance" toml:"max_variance" yaml:"max_variance"`
	MaxBucketMass float64 `json:"max_bucket_mass" toml:"max_bucket_mass" yaml:"max_bucket_mass"`

	// The mean-interval check is off unless EnforceMeanInterval is set.
	EnforceMeanInterval bool    `json:"enforce_mean_interval" toml:"enforce_mean_interval" yaml:"enforce_mean_interval"`
	MinMeanIntervalMs   float64 `json:"min_mean_interval_ms" toml:"min_mean_interval_ms" yaml:"min_mean_interval_ms"`
	MaxMeanIntervalMs   float64 `json:"max_mean_interval_ms" toml:"max_mean_interval_ms" yaml:"max_mean_interval_ms"`
}

// DefaultThresholds returns the stock configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinVariance:       DefaultMinVariance,
		MaxVariance:       DefaultMaxVariance,
		MaxBucketMass:     DefaultMaxBucketMass,
		MinMeanIntervalMs: DefaultMinMeanIntervalMs,
		MaxMeanIntervalMs: DefaultMaxMeanIntervalMs,
	}
}

// CheckResult is the outcome of one named check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
}

// Check is one predicate over a fingerprint.
type Check interface {
	Name() string
	Evaluate(fp *fingerprint.Fingerprint) CheckResult
}

// Verdict is the classifier output.
type Verdict struct {
	Human      bool          `json:"human"`
	Thresholds Thresholds    `json:"thresholds"`
	Checks     []CheckResult `json:"checks"`
	// Score is a 0..100 display value derived from variance. It does not
	// feed into Human.
	Score float64 `json:"score"`
}

// Failed returns the checks that did not pass, in evaluation order.
func (v Verdict) Failed() []CheckResult {
	var out []CheckResult
	for _, c := range v.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// Classifier runs an ordered list of checks and ANDs their results.
type Classifier struct {
	thresholds Thresholds
	checks     []Check
}

// New builds a classifier with the default checks for t.
func New(t Thresholds) *Classifier {
	checks := []Check{
		VarianceRange{Min: t.MinVariance, Max: t.MaxVariance},
		BucketConcentration{MaxMass: t.MaxBucketMass},
	}
	if t.EnforceMeanInterval {
		checks = append(checks, MeanInterval{Min: t.MinMeanIntervalMs, Max: t.MaxMeanIntervalMs})
	}
	return &Classifier{thresholds: t, checks: checks}
}

// Default returns a classifier with DefaultThresholds.
func Default() *Classifier {
	return New(DefaultThresholds())
}

// WithChecks returns a copy of c with extra checks appended after the
// built-in ones.
func (c *Classifier) WithChecks(extra ...Check) *Classifier {
	checks := make([]Check, 0, len(c.checks)+len(extra))
	checks = append(checks, c.checks...)
	for _, ch := range extra {
		if ch != nil {
			checks = append(checks, ch)
		}
	}
	return &Classifier{thresholds: c.thresholds, checks: checks}
}

// Thresholds returns the configuration the classifier measures against.
func (c *Classifier) Thresholds() Thresholds {
	return c.thresholds
}

// Checks returns the names of the configured checks in order.
func (c *Classifier) Checks() []string {
	names := make([]string, len(c.checks))
	for i, ch := range c.checks {
		names[i] = ch.Name()
	}
	return names
}

// Classify evaluates every check. It never fails: a nil fingerprint is
// reported as a failed fingerprint-present check.
func (c *Classifier) Classify(fp *fingerprint.Fingerprint) Verdict {
	v := Verdict{Thresholds: c.thresholds}
	if fp == nil {
		v.Checks = []CheckResult{{
			Name:   CheckFingerprintPresent,
			Passed: false,
			Reason: "no fingerprint",
		}}
		return v
	}

	human := true
	v.Checks = make([]CheckResult, 0, len(c.checks))
	for _, ch := range c.checks {
		res := ch.Evaluate(fp)
		res.Name = ch.Name()
		if !res.Passed {
			human = false
		}
		v.Checks = append(v.Checks, res)
	}
	v.Human = human
	v.Score = Score(fp.Variance)
	return v
}

// Classify uses the default classifier.
func Classify(fp *fingerprint.Fingerprint) Verdict {
	return Default().Classify(fp)
}

// Score maps variance to a 0..100 display value.
func Score(variance float64) float64 {
	if math.IsNaN(variance) {
		return 0
	}
	s := variance / 10000 * 100
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
