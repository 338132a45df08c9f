// Package simulate generates synthetic inter-keystroke interval
// sequences for exercising the fingerprint and classifier without
// manual typing.
package simulate

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Profile parameterizes a typing behaviour. All durations are in
// milliseconds.
type Profile struct {
	Name        string
	Description string

	MedianMs float64 // median of the log-normal base distribution
	Sigma    float64 // log-space standard deviation; 0 gives a fixed cadence
	JitterMs float64 // uniform +/- noise added to every interval

	BurstProbability float64 // chance of starting a fast burst
	BurstIntervalMs  float64
	BurstMin         int
	BurstMax         int

	PauseProbability float64 // chance of a thinking pause
	PauseMaxMs       float64
}

var profiles = map[string]Profile{
	"normal": {
		Name:             "normal",
		Description:      "Typical human typing with natural variation",
		MedianMs:         300,
		Sigma:            0.7,
		BurstProbability: 0.03,
		BurstIntervalMs:  80,
		BurstMin:         3,
		BurstMax:         8,
		PauseProbability: 0.02,
		PauseMaxMs:       2000,
	},
	"fast-typist": {
		Name:             "fast-typist",
		Description:      "Experienced typist with a quick, fairly even pace",
		MedianMs:         220,
		Sigma:            0.6,
		BurstProbability: 0.05,
		BurstIntervalMs:  70,
		BurstMin:         3,
		BurstMax:         10,
		PauseProbability: 0.01,
		PauseMaxMs:       1200,
	},
	"slow-thoughtful": {
		Name:             "slow-thoughtful",
		Description:      "Deliberate writer with frequent pauses",
		MedianMs:         380,
		Sigma:            0.8,
		BurstProbability: 0.01,
		BurstIntervalMs:  150,
		BurstMin:         2,
		BurstMax:         4,
		PauseProbability: 0.08,
		PauseMaxMs:       4000,
	},
	"scripted": {
		Name:        "scripted",
		Description: "Automated input at a fixed cadence with slight jitter",
		MedianMs:    120,
		JitterMs:    2,
	},
	"paste": {
		Name:        "paste",
		Description: "Pasted text replayed as near-instant keystrokes",
		MedianMs:    5,
		JitterMs:    3,
	},
}

// Lookup returns the named profile.
func Lookup(name string) (Profile, error) {
	p, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("simulate: unknown profile %q (available: %v)", name, Names())
	}
	return p, nil
}

// Names lists the built-in profiles in sorted order.
func Names() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Generator produces intervals for one profile. It is not safe for
// concurrent use.
type Generator struct {
	profile        Profile
	rng            *rand.Rand
	burstRemaining int
}

// NewGenerator creates a generator seeded with seed. The same profile and
// seed always produce the same sequence.
func NewGenerator(p Profile, seed int64) *Generator {
	return &Generator{profile: p, rng: rand.New(rand.NewSource(seed))}
}

// Generate returns count intervals, each at least 1ms.
func (g *Generator) Generate(count int) []float64 {
	if count < 0 {
		count = 0
	}
	out := make([]float64, count)
	for i := range out {
		out[i] = g.next()
	}
	return out
}

func (g *Generator) next() float64 {
	p := g.profile
	var v float64

	switch {
	case g.burstRemaining > 0:
		g.burstRemaining--
		v = p.BurstIntervalMs * (0.5 + g.rng.Float64())
	case p.PauseProbability > 0 && g.rng.Float64() < p.PauseProbability:
		v = p.MedianMs + g.rng.Float64()*p.PauseMaxMs
	case p.BurstProbability > 0 && g.rng.Float64() < p.BurstProbability:
		g.burstRemaining = p.BurstMin - 1
		if p.BurstMax > p.BurstMin {
			g.burstRemaining += g.rng.Intn(p.BurstMax - p.BurstMin + 1)
		}
		v = p.BurstIntervalMs * (0.5 + g.rng.Float64())
	default:
		v = p.MedianMs * math.Exp(p.Sigma*g.rng.NormFloat64())
	}

	if p.JitterMs > 0 {
		v += (2*g.rng.Float64() - 1) * p.JitterMs
	}
	return math.Max(v, 1)
}
