// Package fingerprint turns a sequence of inter-keystroke intervals into a
// compact behavioral summary.
//
// A Fingerprint is derived once by Extract and never mutated afterwards.
// It carries the raw intervals (needed for VerificationData), a normalized
// speed histogram, the population variance and a velocity proxy in
// characters per second.
package fingerprint

import (
	"errors"
	"fmt"
	"math"
)

// Extraction errors.
var (
	ErrInsufficientData = errors.New("fingerprint: insufficient timing data")
	ErrDegenerateInput  = errors.New("fingerprint: degenerate timing data")
	ErrMismatch         = errors.New("fingerprint: statistics do not match intervals")
)

const (
	// MinSamples is the hard floor below which mean, variance and the
	// histogram are not meaningful.
	MinSamples = 20

	// NumBuckets is the number of fixed-width histogram buckets.
	NumBuckets = 5

	// BucketWidthMs is the width of each bucket. The last bucket is open
	// ended and collects everything >= (NumBuckets-1)*BucketWidthMs.
	BucketWidthMs = 200.0

	// HistogramTolerance bounds the drift of the normalized histogram sum
	// away from 1.0.
	HistogramTolerance = 1e-9

	// StatTolerance is the relative tolerance Validate allows between a
	// stored statistic and its recomputation.
	StatTolerance = 1e-9
)

// TagSequentialTyping is the baseline edit-pattern tag.
const TagSequentialTyping = "sequential-typing"

// Histogram is the normalized distribution of intervals over the fixed buckets.
type Histogram [NumBuckets]float64

// Sum returns the total mass of the histogram.
func (h Histogram) Sum() float64 {
	var s float64
	for _, v := range h {
		s += v
	}
	return s
}

// Max returns the largest bucket mass and its index.
func (h Histogram) Max() (float64, int) {
	best, idx := h[0], 0
	for i := 1; i < len(h); i++ {
		if h[i] > best {
			best, idx = h[i], i
		}
	}
	return best, idx
}

// Fingerprint is the behavioral summary of one typing session.
type Fingerprint struct {
	Intervals []float64 `json:"intervals"`
	Histogram Histogram `json:"histogram"`
	Mean      float64   `json:"mean_interval"`
	Variance  float64   `json:"variance"`
	Velocity  float64   `json:"velocity"`
	Tags      []string  `json:"edit_patterns"`
}

// Count returns the number of intervals.
func (f *Fingerprint) Count() int {
	return len(f.Intervals)
}

// Total returns the sum of all intervals in milliseconds.
func (f *Fingerprint) Total() float64 {
	var s float64
	for _, v := range f.Intervals {
		s += v
	}
	return s
}

// Validate checks that f is what Extract would produce for f.Intervals:
// every sample is usable and mean, variance, velocity and histogram
// recompute within StatTolerance. Tags are not checked.
func (f *Fingerprint) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: nil fingerprint", ErrInsufficientData)
	}
	if len(f.Intervals) < MinSamples {
		return fmt.Errorf("%w: %d samples, need %d", ErrInsufficientData, len(f.Intervals), MinSamples)
	}
	if !isFinite(f.Mean) || f.Mean <= 0 {
		return fmt.Errorf("%w: mean interval %v", ErrDegenerateInput, f.Mean)
	}
	if !isFinite(f.Velocity) || f.Velocity <= 0 {
		return fmt.Errorf("%w: velocity %v", ErrDegenerateInput, f.Velocity)
	}
	if !isFinite(f.Variance) || f.Variance < 0 {
		return fmt.Errorf("%w: variance %v", ErrDegenerateInput, f.Variance)
	}
	if math.Abs(f.Histogram.Sum()-1.0) > HistogramTolerance {
		return fmt.Errorf("%w: histogram sums to %v", ErrDegenerateInput, f.Histogram.Sum())
	}

	var sum float64
	for i, v := range f.Intervals {
		if !isFinite(v) || v < 0 {
			return fmt.Errorf("%w: sample %d is %v", ErrDegenerateInput, i, v)
		}
		sum += v
	}
	mean := sum / float64(len(f.Intervals))
	if !approxEqual(f.Mean, mean) {
		return fmt.Errorf("%w: mean %v, intervals give %v", ErrMismatch, f.Mean, mean)
	}
	if v := populationVariance(f.Intervals, mean); !approxEqual(f.Variance, v) {
		return fmt.Errorf("%w: variance %v, intervals give %v", ErrMismatch, f.Variance, v)
	}
	if v := 1000.0 / mean; !approxEqual(f.Velocity, v) {
		return fmt.Errorf("%w: velocity %v, intervals give %v", ErrMismatch, f.Velocity, v)
	}
	h := buildHistogram(f.Intervals)
	for i := range h {
		if !approxEqual(f.Histogram[i], h[i]) {
			return fmt.Errorf("%w: histogram bucket %d is %v, intervals give %v", ErrMismatch, i, f.Histogram[i], h[i])
		}
	}
	return nil
}

func approxEqual(a, b float64) bool {
	scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	return math.Abs(a-b) <= StatTolerance*scale
}

// Tagger derives edit-pattern tags from a finished fingerprint.
// Taggers run in order and their tags are appended in that order.
type Tagger func(fp *Fingerprint) []string

// DefaultTaggers returns the taggers Extract uses.
func DefaultTaggers() []Tagger {
	return []Tagger{SequentialTagger, VelocityTagger(DefaultVelocityBands())}
}

// SequentialTagger emits the baseline tag. Richer analyzers add tags after it.
func SequentialTagger(*Fingerprint) []string {
	return []string{TagSequentialTyping}
}

// Extract builds a fingerprint with the default taggers.
func Extract(intervals []float64) (*Fingerprint, error) {
	return ExtractWith(intervals, DefaultTaggers()...)
}

// ExtractWith builds a fingerprint and runs the given taggers over it.
// The input slice is copied; the caller may reuse it.
func ExtractWith(intervals []float64, taggers ...Tagger) (*Fingerprint, error) {
	n := len(intervals)
	if n < MinSamples {
		return nil, fmt.Errorf("%w: %d samples, need %d", ErrInsufficientData, n, MinSamples)
	}

	samples := make([]float64, n)
	var sum float64
	for i, v := range intervals {
		if !isFinite(v) || v < 0 {
			return nil, fmt.Errorf("%w: sample %d is %v", ErrDegenerateInput, i, v)
		}
		samples[i] = v
		sum += v
	}

	mean := sum / float64(n)
	if mean <= 0 {
		return nil, fmt.Errorf("%w: mean interval is zero", ErrDegenerateInput)
	}

	fp := &Fingerprint{
		Intervals: samples,
		Histogram: buildHistogram(samples),
		Mean:      mean,
		Variance:  populationVariance(samples, mean),
		Velocity:  1000.0 / mean,
	}
	if !isFinite(fp.Velocity) || !isFinite(fp.Variance) {
		return nil, fmt.Errorf("%w: statistics overflow", ErrDegenerateInput)
	}

	tags := []string{}
	for _, tag := range taggers {
		if tag == nil {
			continue
		}
		tags = append(tags, tag(fp)...)
	}
	fp.Tags = tags

	return fp, nil
}

// BucketIndex returns the histogram bucket for a single interval.
func BucketIndex(interval float64) int {
	idx := int(math.Floor(interval / BucketWidthMs))
	if idx < 0 {
		return 0
	}
	if idx >= NumBuckets {
		return NumBuckets - 1
	}
	return idx
}

func buildHistogram(samples []float64) Histogram {
	var counts [NumBuckets]int
	for _, v := range samples {
		counts[BucketIndex(v)]++
	}

	var h Histogram
	n := float64(len(samples))
	for i, c := range counts {
		h[i] = float64(c) / n
	}
	return h
}

// populationVariance divides by n, not n-1.
func populationVariance(samples []float64, mean float64) float64 {
	var acc float64
	for _, v := range samples {
		d := v - mean
		acc += d * d
	}
	return acc / float64(len(samples))
}

// Summary holds the aggregate figures carried in verification data.
type Summary struct {
	Count int
	Total float64
	Mean  float64
}

// Summarize computes count, total and mean without the sample floor.
// An empty input yields a zero Summary.
func Summarize(intervals []float64) Summary {
	s := Summary{Count: len(intervals)}
	for _, v := range intervals {
		s.Total += v
	}
	if s.Count > 0 {
		s.Mean = s.Total / float64(s.Count)
	}
	return s
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
