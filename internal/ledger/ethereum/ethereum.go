// Package ethereum observes an EVM chain when recording a submission.
//
// No transaction is sent. The receipt records the chain id and the latest
// block number seen at submission time, which dates the submission against
// public chain state.
package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"typeproof/internal/ledger"
)

// Config describes how to reach the chain.
type Config struct {
	RPCURL string
	// ExpectedChainID, when non-zero, must match the node's chain id.
	ExpectedChainID int64
}

var ErrChainMismatch = errors.New("ethereum: chain id mismatch")

// chainReader is the subset of *ethclient.Client the ledger needs.
type chainReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Snapshot is the chain state observed for one submission.
type Snapshot struct {
	ChainID     string
	BlockNumber string
}

// Ledger records submissions against chain snapshots.
type Ledger struct {
	eth      chainReader
	rpc      *gethrpc.Client
	expected *big.Int
	now      func() time.Time

	mu       sync.Mutex
	receipts map[string]ledger.Receipt
}

// Dial connects to the RPC endpoint.
func Dial(ctx context.Context, cfg Config) (*Ledger, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("ethereum: rpc url is required")
	}
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("ethereum: dial %s: %w", rpcURL, err)
	}
	l := newLedger(ethclient.NewClient(rpcClient), cfg.ExpectedChainID)
	l.rpc = rpcClient
	return l, nil
}

func newLedger(eth chainReader, expected int64) *Ledger {
	l := &Ledger{
		eth:      eth,
		now:      time.Now,
		receipts: make(map[string]ledger.Receipt),
	}
	if expected != 0 {
		l.expected = big.NewInt(expected)
	}
	return l
}

func (l *Ledger) Name() string { return "ethereum" }

// Close releases the RPC connection.
func (l *Ledger) Close() {
	if l.rpc != nil {
		l.rpc.Close()
	}
}

// Snapshot reads the chain id and latest block number.
func (l *Ledger) Snapshot(ctx context.Context) (Snapshot, error) {
	chainID, err := l.eth.ChainID(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("ethereum: chain id: %w", err)
	}
	if l.expected != nil && chainID.Cmp(l.expected) != 0 {
		return Snapshot{}, fmt.Errorf("%w: node reports %s, want %s", ErrChainMismatch, chainID, l.expected)
	}
	block, err := l.eth.BlockNumber(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("ethereum: block number: %w", err)
	}
	return Snapshot{
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", block),
	}, nil
}

// Submit snapshots the chain the first time a reference id is seen.
func (l *Ledger) Submit(ctx context.Context, sub ledger.Submission) (ledger.Receipt, error) {
	if err := sub.Validate(); err != nil {
		return ledger.Receipt{}, err
	}

	l.mu.Lock()
	if r, ok := l.receipts[sub.ReferenceID]; ok {
		l.mu.Unlock()
		r.Status = ledger.StatusDuplicate
		return r, nil
	}
	l.mu.Unlock()

	snap, err := l.Snapshot(ctx)
	if err != nil {
		return ledger.Receipt{}, err
	}

	r := ledger.Receipt{
		Ledger:      l.Name(),
		ReferenceID: sub.ReferenceID,
		Verified:    sub.HumanVerified,
		Status:      ledger.StatusRecorded,
		RecordedAt:  l.now().UTC(),
		Details: map[string]string{
			"chain_id":       snap.ChainID,
			"block_number":   snap.BlockNumber,
			"authority_hash": common.HexToHash(sub.AuthorityHash).Hex(),
		},
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.receipts[sub.ReferenceID]; ok {
		prev.Status = ledger.StatusDuplicate
		return prev, nil
	}
	l.receipts[sub.ReferenceID] = r
	return r, nil
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
