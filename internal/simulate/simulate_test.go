package simulate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"typeproof/internal/classifier"
	"typeproof/internal/fingerprint"
)

func TestLookup(t *testing.T) {
	p, err := Lookup("normal")
	require.NoError(t, err)
	assert.Equal(t, "normal", p.Name)

	_, err = Lookup("typewriter")
	assert.ErrorContains(t, err, "unknown profile")

	assert.Equal(t, []string{"fast-typist", "normal", "paste", "scripted", "slow-thoughtful"}, Names())
}

func TestGenerateDeterministic(t *testing.T) {
	p, err := Lookup("normal")
	require.NoError(t, err)

	a := NewGenerator(p, 42).Generate(100)
	b := NewGenerator(p, 42).Generate(100)
	c := NewGenerator(p, 43).Generate(100)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 100)
	for _, v := range a {
		assert.GreaterOrEqual(t, v, 1.0)
	}
	assert.Empty(t, NewGenerator(p, 1).Generate(-5))
}

func TestProfilesClassify(t *testing.T) {
	tests := []struct {
		profile string
		human   bool
	}{
		{"normal", true},
		{"scripted", false},
		{"paste", false},
	}

	for _, tt := range tests {
		t.Run(tt.profile, func(t *testing.T) {
			p, err := Lookup(tt.profile)
			require.NoError(t, err)

			fp, err := fingerprint.Extract(NewGenerator(p, 7).Generate(600))
			require.NoError(t, err)
			verdict := classifier.Default().Classify(fp)
			assert.Equal(t, tt.human, verdict.Human, "%+v", verdict.Checks)
		})
	}
}
