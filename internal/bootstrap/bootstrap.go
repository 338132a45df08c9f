// Package bootstrap turns a loaded Config into the objects the typeproof
// commands share: ledger backends, the builder key, the builder and the
// verification options.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"typeproof/internal/classifier"
	"typeproof/internal/commitment"
	"typeproof/internal/config"
	"typeproof/internal/ledger"
	"typeproof/internal/ledger/ethereum"
	"typeproof/internal/ledger/redisledger"
	"typeproof/internal/signer"
	"typeproof/internal/verify"
)

// Ledgers holds the connected ledger backends and how to release them.
type Ledgers struct {
	Registry *ledger.Registry
	Active   ledger.Ledger
	closers  []func()
}

// Close releases every backend connection.
func (l *Ledgers) Close() {
	if l == nil {
		return
	}
	for i := len(l.closers) - 1; i >= 0; i-- {
		l.closers[i]()
	}
	l.closers = nil
}

// OpenLedgers connects the backend selected by cfg.Backend and registers
// it alongside the simulated ledger, which is always available.
func OpenLedgers(ctx context.Context, cfg config.LedgerConfig) (*Ledgers, error) {
	out := &Ledgers{Registry: ledger.NewRegistry()}
	out.Registry.Register(ledger.NewSimulated())

	switch cfg.Backend {
	case "", config.LedgerSimulated:
	case config.LedgerRedis:
		l, err := redisledger.New(ctx, redisledger.Config{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.TTL(),
		})
		if err != nil {
			return nil, err
		}
		out.Registry.Register(l)
		out.closers = append(out.closers, func() { _ = l.Close() })
	case config.LedgerEthereum:
		timeout := time.Duration(cfg.Ethereum.TimeoutSec) * time.Second
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		l, err := ethereum.Dial(dialCtx, ethereum.Config{
			RPCURL:          cfg.Ethereum.RPCURL,
			ExpectedChainID: cfg.Ethereum.ExpectedChainID,
		})
		if err != nil {
			return nil, err
		}
		out.Registry.Register(l)
		out.closers = append(out.closers, l.Close)
	default:
		return nil, fmt.Errorf("%w: %s", ledger.ErrUnknownLedger, cfg.Backend)
	}

	backend := cfg.Backend
	if backend == "" {
		backend = config.LedgerSimulated
	}
	active, err := out.Registry.Get(backend)
	if err != nil {
		out.Close()
		return nil, err
	}
	out.Active = active
	return out, nil
}

// LoadSigner loads the builder key when signing is enabled. It returns
// nil, nil when signing is off.
func LoadSigner(cfg config.SigningConfig) (*signer.KeySigner, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	var pass []byte
	if cfg.Passphrase != "" {
		pass = []byte(cfg.Passphrase)
	}
	s, err := signer.Load(cfg.KeyPath, pass)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("signing key %s not found (run 'typeproof keygen'): %w", cfg.KeyPath, err)
		}
		return nil, err
	}
	return s, nil
}

// NewClassifier builds a classifier from the configured thresholds.
func NewClassifier(cfg *config.Config) *classifier.Classifier {
	return classifier.New(cfg.Classifier)
}

// NewBuilder builds a commitment builder. s may be nil.
func NewBuilder(cfg *config.Config, s *signer.KeySigner) *commitment.Builder {
	opts := []commitment.Option{commitment.WithClassifier(NewClassifier(cfg))}
	if s != nil {
		opts = append(opts, commitment.WithSigner(s))
	}
	return commitment.NewBuilder(opts...)
}

// VerifyOptions translates the verify section into local options. Human
// verdicts are held to the configured classifier variance range.
func VerifyOptions(cfg *config.Config) []verify.LocalOption {
	v := cfg.Verify
	opts := []verify.LocalOption{
		verify.WithMaxClockSkew(v.MaxClockSkew()),
		verify.WithVarianceRange(cfg.Classifier.MinVariance, cfg.Classifier.MaxVariance),
	}
	if v.RequireSignature {
		opts = append(opts, verify.RequireSignature())
	}
	if len(v.TrustedKeys) > 0 {
		opts = append(opts, verify.WithTrustedKeys(v.TrustedKeys...))
	}
	return opts
}
