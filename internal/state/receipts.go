// ./internal/state/receipts.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/crestline-fi/vaultcore/internal/types"
)

// StoredReceipt is a batch receipt as read back from the journal.
type StoredReceipt struct {
	ReceiptID  int64     `json:"receipt_id"`
	Caller     string    `json:"caller"`
	OpCount    int       `json:"op_count"`
	Committed  bool      `json:"committed"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// BatchJournal persists batch receipts through the global DB. It satisfies
// the vault's recorder interface.
type BatchJournal struct{}

// RecordBatch inserts one receipt row.
func (BatchJournal) RecordBatch(ctx context.Context, receipt types.BatchReceipt) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	var errMsg sql.NullString
	if receipt.Error != "" {
		errMsg = sql.NullString{String: receipt.Error, Valid: true}
	}

	_, err := DB.ExecContext(ctx, `
		INSERT INTO batch_receipts (caller, op_count, committed, error_message, duration_ms, batch_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		string(receipt.Caller), receipt.OpCount, receipt.Committed, errMsg,
		receipt.Duration.Milliseconds(), receipt.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert batch receipt: %w", err)
	}
	return nil
}

// GetRecentReceipts returns the newest receipts, newest first.
func GetRecentReceipts(limit int) ([]StoredReceipt, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := DB.Query(`
		SELECT receipt_id, caller, op_count, committed, COALESCE(error_message, ''), duration_ms, batch_timestamp
		FROM batch_receipts
		ORDER BY batch_timestamp DESC, receipt_id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch receipts: %w", err)
	}
	defer rows.Close()

	var receipts []StoredReceipt
	for rows.Next() {
		var r StoredReceipt
		if err := rows.Scan(&r.ReceiptID, &r.Caller, &r.OpCount, &r.Committed, &r.Error, &r.DurationMS, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan batch receipt: %w", err)
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading batch receipts: %w", err)
	}
	return receipts, nil
}

// RecordFeePayout journals one protocol fee payout.
func RecordFeePayout(ctx context.Context, collector types.Account, paid []types.AssetAmount) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	for _, aa := range paid {
		_, err := DB.ExecContext(ctx, `
			INSERT INTO protocol_fee_payouts (collector, asset, amount)
			VALUES ($1, $2, $3)`,
			string(collector), string(aa.Asset), aa.Amount.String())
		if err != nil {
			return fmt.Errorf("failed to insert fee payout: %w", err)
		}
	}
	return nil
}
