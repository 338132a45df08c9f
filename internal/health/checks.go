package health

import (
	"context"
	"os"

	"typeproof/internal/ledger"
	"typeproof/internal/ledger/ethereum"
	"typeproof/internal/store"
)

// StatsSource is the part of the commitment store the check needs.
// *store.Store satisfies it.
type StatsSource interface {
	GetStats(ctx context.Context) (*store.Stats, error)
}

// StoreCheck queries the store's counters; a failed query is unhealthy.
func StoreCheck(st StatsSource) Check {
	return func(ctx context.Context) Result {
		stats, err := st.GetStats(ctx)
		if err != nil {
			return Result{Status: StatusUnhealthy, Message: "store query failed", Error: err.Error()}
		}
		return Result{
			Status:  StatusHealthy,
			Message: "store ok",
			Details: map[string]any{
				"commitments":    stats.Commitments,
				"human_verified": stats.HumanVerified,
				"verifications":  stats.Verifications,
			},
		}
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

type chainSnapshotter interface {
	Snapshot(ctx context.Context) (ethereum.Snapshot, error)
}

type recordCounter interface {
	Len() int
}

// LedgerCheck probes l by whatever means its backend offers: a redis
// PING, an ethereum chain snapshot or the simulated ledger's record
// count. An unreachable ledger is degraded, never unhealthy.
func LedgerCheck(l ledger.Ledger) Check {
	return func(ctx context.Context) Result {
		details := map[string]any{"ledger": l.Name()}
		var err error

		switch b := l.(type) {
		case pinger:
			err = b.Ping(ctx)
		case chainSnapshotter:
			var snap ethereum.Snapshot
			if snap, err = b.Snapshot(ctx); err == nil {
				details["chain_id"] = snap.ChainID
				details["block_number"] = snap.BlockNumber
			}
		case recordCounter:
			details["recorded"] = b.Len()
		}

		if err != nil {
			return Result{Status: StatusDegraded, Message: "ledger unreachable", Details: details, Error: err.Error()}
		}
		return Result{Status: StatusHealthy, Message: "ledger reachable", Details: details}
	}
}

// SigningKeyCheck watches the builder key file the daemon loaded at
// startup. A missing file is unhealthy (a restart would fail); a file
// readable by group or others is degraded.
func SigningKeyCheck(path, fingerprint string) Check {
	return func(ctx context.Context) Result {
		details := map[string]any{"path": path}
		if fingerprint != "" {
			details["fingerprint"] = fingerprint
		}
		info, err := os.Stat(path)
		if err != nil {
			return Result{Status: StatusUnhealthy, Message: "signing key missing", Details: details, Error: err.Error()}
		}
		details["mode"] = info.Mode().Perm().String()
		if info.Mode().Perm()&0o077 != 0 {
			return Result{Status: StatusDegraded, Message: "signing key readable by other users", Details: details}
		}
		return Result{Status: StatusHealthy, Message: "signing key present", Details: details}
	}
}
