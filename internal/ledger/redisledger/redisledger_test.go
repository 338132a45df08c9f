package redisledger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"typeproof/internal/ledger"
)

type fakeRedis struct {
	mu      sync.Mutex
	data    map[string]string
	ttls    map[string]time.Duration
	failSet error
	down    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, exp time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet != nil {
		return redis.NewBoolResult(false, f.failSet)
	}
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	f.ttls[key] = exp
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Ping(ctx context.Context) *redis.StatusCmd {
	if f.down != nil {
		return redis.NewStatusResult("", f.down)
	}
	return redis.NewStatusResult("PONG", nil)
}

func submission(human bool) ledger.Submission {
	return ledger.Submission{
		ReferenceID:   "0x" + strings.Repeat("cd", 20),
		ContentHash:   strings.Repeat("a", 64),
		AuthorityHash: strings.Repeat("b", 64),
		HumanVerified: human,
		Timestamp:     1700000000000,
	}
}

func TestSubmitStoresReceipt(t *testing.T) {
	fake := newFakeRedis()
	l := newWithClient(fake, "", time.Hour)
	fixed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	r, err := l.Submit(context.Background(), submission(true))
	require.NoError(t, err)
	assert.Equal(t, "redis", r.Ledger)
	assert.True(t, r.Verified)
	assert.Equal(t, ledger.StatusRecorded, r.Status)
	assert.Equal(t, strings.Repeat("a", 64), r.Details["content_hash"])

	key := DefaultKeyPrefix + r.ReferenceID
	assert.Contains(t, fake.data, key)
	assert.Equal(t, time.Hour, fake.ttls[key])
}

func TestSubmitDuplicateReturnsStored(t *testing.T) {
	fake := newFakeRedis()
	l := newWithClient(fake, "test:", 0)
	first := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return first }

	r1, err := l.Submit(context.Background(), submission(false))
	require.NoError(t, err)

	l.now = func() time.Time { return first.Add(time.Minute) }
	r2, err := l.Submit(context.Background(), submission(false))
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusDuplicate, r2.Status)
	assert.Equal(t, r1.RecordedAt, r2.RecordedAt)
	assert.Equal(t, r1.Verified, r2.Verified)
	assert.Equal(t, r1.ReferenceID, r2.ReferenceID)
	assert.Len(t, fake.data, 1)
}

func TestSubmitRedisError(t *testing.T) {
	fake := newFakeRedis()
	fake.failSet = errors.New("connection refused")
	l := newWithClient(fake, "", 0)

	_, err := l.Submit(context.Background(), submission(true))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestSubmitCorruptStoredReceipt(t *testing.T) {
	fake := newFakeRedis()
	l := newWithClient(fake, "", 0)
	fake.data[DefaultKeyPrefix+submission(true).ReferenceID] = "{not json"

	_, err := l.Submit(context.Background(), submission(true))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode receipt")
}

func TestSubmitInvalid(t *testing.T) {
	l := newWithClient(newFakeRedis(), "", 0)
	sub := submission(true)
	sub.ReferenceID = "nope"
	_, err := l.Submit(context.Background(), sub)
	assert.ErrorIs(t, err, ledger.ErrInvalidSubmission)
}

func TestNewRequiresAddress(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestPing(t *testing.T) {
	fake := newFakeRedis()
	l := newWithClient(fake, "", 0)
	assert.NoError(t, l.Ping(context.Background()))

	fake.down = errors.New("connection refused")
	err := l.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
