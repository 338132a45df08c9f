// Package redisledger records commitment submissions in Redis. The first
// submission of a reference id wins; later submissions read it back.
package redisledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"typeproof/internal/ledger"
)

// DefaultKeyPrefix namespaces receipt keys.
const DefaultKeyPrefix = "typeproof:ref:"

// Config describes the Redis connection.
type Config struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	// TTL of stored receipts. Zero keeps them forever.
	TTL time.Duration
}

// client is the subset of *redis.Client the ledger uses.
type client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Ledger is a Redis-backed ledger.
type Ledger struct {
	rdb    client
	closer func() error
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// New connects to Redis and checks the connection.
func New(ctx context.Context, cfg Config) (*Ledger, error) {
	if cfg.Address == "" {
		return nil, errors.New("redisledger: address is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redisledger: connect: %w", err)
	}
	l := newWithClient(rdb, cfg.KeyPrefix, cfg.TTL)
	l.closer = rdb.Close
	return l, nil
}

func newWithClient(c client, prefix string, ttl time.Duration) *Ledger {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Ledger{rdb: c, prefix: prefix, ttl: ttl, now: time.Now}
}

func (l *Ledger) Name() string { return "redis" }

// Close releases the connection.
func (l *Ledger) Close() error {
	if l.closer != nil {
		return l.closer()
	}
	return nil
}

// Ping checks the server is reachable.
func (l *Ledger) Ping(ctx context.Context) error {
	if err := l.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redisledger: ping: %w", err)
	}
	return nil
}

// Submit stores the receipt with SETNX. If another submission already
// claimed the key the stored receipt is returned marked duplicate.
func (l *Ledger) Submit(ctx context.Context, sub ledger.Submission) (ledger.Receipt, error) {
	if err := sub.Validate(); err != nil {
		return ledger.Receipt{}, err
	}

	r := ledger.Receipt{
		Ledger:      l.Name(),
		ReferenceID: sub.ReferenceID,
		Verified:    sub.HumanVerified,
		Status:      ledger.StatusRecorded,
		RecordedAt:  l.now().UTC(),
		Details: map[string]string{
			"content_hash":   sub.ContentHash,
			"authority_hash": sub.AuthorityHash,
		},
	}
	data, err := json.Marshal(r)
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("redisledger: encode receipt: %w", err)
	}

	key := l.prefix + sub.ReferenceID
	stored, err := l.rdb.SetNX(ctx, key, data, l.ttl).Result()
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("redisledger: setnx %s: %w", key, err)
	}
	if stored {
		return r, nil
	}

	existing, err := l.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("redisledger: get %s: %w", key, err)
	}
	var prev ledger.Receipt
	if err := json.Unmarshal(existing, &prev); err != nil {
		return ledger.Receipt{}, fmt.Errorf("redisledger: decode receipt %s: %w", key, err)
	}
	prev.Status = ledger.StatusDuplicate
	return prev, nil
}
