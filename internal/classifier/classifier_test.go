package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"typeproof/internal/fingerprint"
)

// spread is a fingerprint that passes every default check.
func spread(variance float64) *fingerprint.Fingerprint {
	return &fingerprint.Fingerprint{
		Histogram: fingerprint.Histogram{0.2, 0.3, 0.3, 0.1, 0.1},
		Mean:      400,
		Variance:  variance,
		Velocity:  2.5,
	}
}

func TestClassifyVarianceBoundaries(t *testing.T) {
	tests := []struct {
		name     string
		variance float64
		want     bool
	}{
		{"below min", 4999.999, false},
		{"at min", 5000, true},
		{"mid", 50000, true},
		{"at max", 500000, true},
		{"above max", 500000.001, false},
		{"zero", 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := Classify(spread(tc.variance))
			assert.Equal(t, tc.want, v.Human)
			require.Len(t, v.Checks, 2)
			assert.Equal(t, CheckVarianceRange, v.Checks[0].Name)
			assert.Equal(t, tc.want, v.Checks[0].Passed)
		})
	}
}

func TestClassifyBucketConcentration(t *testing.T) {
	tests := []struct {
		name string
		hist fingerprint.Histogram
		want bool
	}{
		{"exactly half", fingerprint.Histogram{0.5, 0.25, 0.25, 0, 0}, true},
		{"over half", fingerprint.Histogram{0.55, 0.25, 0.2, 0, 0}, false},
		{"last bucket heavy", fingerprint.Histogram{0.1, 0.1, 0.1, 0.1, 0.6}, false},
		{"even", fingerprint.Histogram{0.2, 0.2, 0.2, 0.2, 0.2}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fp := spread(50000)
			fp.Histogram = tc.hist
			v := Classify(fp)
			assert.Equal(t, tc.want, v.Human)
			assert.Equal(t, CheckBucketConcentration, v.Checks[1].Name)
			assert.Equal(t, tc.want, v.Checks[1].Passed)
		})
	}
}

func TestClassifyRegularTypingIsNotHuman(t *testing.T) {
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

	v := Classify(fp)
	assert.False(t, v.Human)

	failed := v.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, CheckVarianceRange, failed[0].Name)
	assert.Contains(t, failed[0].Reason, "below")
	assert.InDelta(t, 4.0, v.Score, 1e-9)
}

func TestClassifyHumanLike(t *testing.T) {
	cycle := []float64{100, 250, 400, 550, 700}
	var intervals []float64
	for i := 0; i < 6; i++ {
		intervals = append(intervals, cycle...)
	}
	fp, err := fingerprint.Extract(intervals)
	require.NoError(t, err)

	v := Classify(fp)
	assert.True(t, v.Human)
	assert.Empty(t, v.Failed())
	assert.Equal(t, 100.0, v.Score)
	assert.Equal(t, DefaultThresholds(), v.Thresholds)
}

func TestClassifyNilFingerprint(t *testing.T) {
	v := Classify(nil)
	assert.False(t, v.Human)
	require.Len(t, v.Checks, 1)
	assert.Equal(t, CheckFingerprintPresent, v.Checks[0].Name)
	assert.False(t, v.Checks[0].Passed)
}

func TestClassifyDeterministic(t *testing.T) {
	fp := spread(12345)
	c := Default()
	first := c.Classify(fp)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, c.Classify(fp))
	}
}

func TestMeanIntervalCheck(t *testing.T) {
	th := DefaultThresholds()
	assert.Equal(t, []string{CheckVarianceRange, CheckBucketConcentration}, New(th).Checks())

	th.EnforceMeanInterval = true
	c := New(th)
	assert.Equal(t, []string{CheckVarianceRange, CheckBucketConcentration, CheckMeanInterval}, c.Checks())

	tests := []struct {
		mean float64
		want bool
	}{
		{49.9, false},
		{50, true},
		{500, true},
		{500.1, false},
	}
	for _, tc := range tests {
		fp := spread(50000)
		fp.Mean = tc.mean
		v := c.Classify(fp)
		assert.Equal(t, tc.want, v.Human, "mean %v", tc.mean)
	}
}

type alwaysFail struct{}

func (alwaysFail) Name() string { return "always-fail" }

func (alwaysFail) Evaluate(*fingerprint.Fingerprint) CheckResult {
	return CheckResult{Reason: "nope"}
}

func TestWithChecks(t *testing.T) {
	base := Default()
	c := base.WithChecks(alwaysFail{}, nil)

	v := c.Classify(spread(50000))
	assert.False(t, v.Human)
	require.Len(t, v.Checks, 3)
	assert.Equal(t, "always-fail", v.Checks[2].Name)

	// The base classifier is unchanged.
	assert.True(t, base.Classify(spread(50000)).Human)
}

func TestScore(t *testing.T) {
	assert.Equal(t, 0.0, Score(0))
	assert.Equal(t, 50.0, Score(5000))
	assert.Equal(t, 100.0, Score(10000))
	assert.Equal(t, 100.0, Score(1e9))
	assert.Equal(t, 0.0, Score(-5))
}
