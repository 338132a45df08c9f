package ledger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSubmission(human bool) Submission {
	return Submission{
		ReferenceID:   "0x" + strings.Repeat("ab", 20),
		ContentHash:   strings.Repeat("1", 64),
		AuthorityHash: strings.Repeat("2", 64),
		HumanVerified: human,
		Timestamp:     1700000000000,
	}
}

func TestSimulatedSubmit(t *testing.T) {
	s := NewSimulated()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.SetNow(func() time.Time { return fixed })

	r, err := s.Submit(context.Background(), testSubmission(false))
	require.NoError(t, err)
	assert.Equal(t, "simulated", r.Ledger)
	assert.False(t, r.Verified)
	assert.Equal(t, StatusRecorded, r.Status)
	assert.Equal(t, fixed, r.RecordedAt)

	again, err := s.Submit(context.Background(), testSubmission(false))
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, again.Status)
	assert.Equal(t, r.ReferenceID, again.ReferenceID)
	assert.Equal(t, r.Verified, again.Verified)
	assert.Equal(t, 1, s.Len())

	stored, ok := s.Lookup(r.ReferenceID)
	require.True(t, ok)
	assert.Equal(t, StatusRecorded, stored.Status)
}

func TestSimulatedEchoesVerdict(t *testing.T) {
	s := NewSimulated()
	r, err := s.Submit(context.Background(), testSubmission(true))
	require.NoError(t, err)
	assert.True(t, r.Verified)
}

func TestSimulatedRejectsInvalid(t *testing.T) {
	s := NewSimulated()

	bad := testSubmission(true)
	bad.ReferenceID = "abc"
	_, err := s.Submit(context.Background(), bad)
	assert.ErrorIs(t, err, ErrInvalidSubmission)

	bad = testSubmission(true)
	bad.ContentHash = ""
	_, err = s.Submit(context.Background(), bad)
	assert.ErrorIs(t, err, ErrInvalidSubmission)
	assert.Equal(t, 0, s.Len())
}

func TestSimulatedCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSimulated().Submit(ctx, testSubmission(true))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSimulatedConcurrentSubmit(t *testing.T) {
	s := NewSimulated()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Submit(context.Background(), testSubmission(true))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, s.Len())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(NewSimulated())

	l, err := r.Get("simulated")
	require.NoError(t, err)
	assert.Equal(t, "simulated", l.Name())

	_, err = r.Get("bitcoin")
	assert.ErrorIs(t, err, ErrUnknownLedger)
	assert.Equal(t, []string{"simulated"}, r.Names())
}
