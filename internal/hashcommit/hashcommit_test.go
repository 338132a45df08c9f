package hashcommit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Known SHA-256 vectors.
const (
	emptyDigest = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	abcDigest   = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
)

func TestDigestGoldenVectors(t *testing.T) {
	assert.Equal(t, emptyDigest, Digest(nil))
	assert.Equal(t, emptyDigest, Digest([]byte{}))
	assert.Equal(t, emptyDigest, DigestString(""))
	assert.Equal(t, abcDigest, DigestString("abc"))
}

func TestDigestDeterminism(t *testing.T) {
	input := []byte("the quick brown fox")
	first := Digest(input)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Digest(input))
	}
}

func TestDigestOneByteDifference(t *testing.T) {
	a := Digest([]byte("the quick brown fox"))
	b := Digest([]byte("the quick brown fog"))
	assert.NotEqual(t, a, b)
}

func TestConcat(t *testing.T) {
	assert.Equal(t, DigestString("abc"), Concat("a", "b", "c"))
	assert.Equal(t, DigestString("abc"), Concat("ab", "c"))
	assert.Equal(t, emptyDigest, Concat())
	assert.NotEqual(t, Concat("a", "b"), Concat("b", "a"))
}

func TestIsHexDigest(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"empty digest", emptyDigest, true},
		{"abc digest", abcDigest, true},
		{"uppercase", strings.ToUpper(abcDigest), false},
		{"too short", abcDigest[:63], false},
		{"too long", abcDigest + "0", false},
		{"non hex", strings.Repeat("g", 64), false},
		{"empty", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsHexDigest(tc.input))
		})
	}
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(abcDigest, strings.ToUpper(abcDigest)))
	assert.False(t, Equal(abcDigest, emptyDigest))
}
