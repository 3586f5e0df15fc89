// ./internal/state/snapshots.go
package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/crestline-fi/vaultcore/internal/types"
)

// StoredPoolSnapshot is one journaled pool state row.
type StoredPoolSnapshot struct {
	SnapshotID  int64               `json:"snapshot_id"`
	PoolID      types.PoolID        `json:"pool_id"`
	Variant     string              `json:"variant"`
	Operator    string              `json:"operator"`
	SwapFee     string              `json:"swap_fee"`
	TotalShares string              `json:"total_shares"`
	Balances    []types.AssetAmount `json:"balances"`
	Timestamp   time.Time           `json:"timestamp"`
}

// SavePoolSnapshots journals the current state of every given pool. It is
// a periodic audit trail, not a source of truth; the vault's ledger is
// in-memory and rebuilt by governance on restart.
func SavePoolSnapshots(summaries []types.PoolSummary) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	tx, err := DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO pool_snapshots (pool_id, variant, operator, swap_fee, total_shares, balances)
		VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range summaries {
		balancesJSON, err := json.Marshal(s.Balances)
		if err != nil {
			return fmt.Errorf("failed to marshal balances for pool %d: %w", s.ID, err)
		}
		_, err = stmt.Exec(uint64(s.ID), string(s.Variant), string(s.Operator),
			s.SwapFee.String(), s.TotalShares.String(), balancesJSON)
		if err != nil {
			return fmt.Errorf("failed to insert snapshot for pool %d: %w", s.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pool snapshots: %w", err)
	}
	return nil
}

// GetRecentPoolSnapshots returns the newest snapshots for one pool,
// newest first.
func GetRecentPoolSnapshots(poolID types.PoolID, limit int) ([]StoredPoolSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := DB.Query(`
		SELECT snapshot_id, pool_id, variant, operator, swap_fee, total_shares, balances, snapshot_timestamp
		FROM pool_snapshots
		WHERE pool_id = $1
		ORDER BY snapshot_timestamp DESC, snapshot_id DESC
		LIMIT $2`, uint64(poolID), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pool snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []StoredPoolSnapshot
	for rows.Next() {
		var s StoredPoolSnapshot
		var balancesJSON []byte
		if err := rows.Scan(&s.SnapshotID, &s.PoolID, &s.Variant, &s.Operator,
			&s.SwapFee, &s.TotalShares, &balancesJSON, &s.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan pool snapshot: %w", err)
		}
		if err := json.Unmarshal(balancesJSON, &s.Balances); err != nil {
			return nil, fmt.Errorf("failed to unmarshal balances: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading pool snapshots: %w", err)
	}
	return snapshots, nil
}
