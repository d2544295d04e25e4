package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"allowance/internal/core"
	"allowance/internal/ports"
)

// PendingSync returns transactions not yet mirrored to the sheet, oldest first.
func (r *Repository) PendingSync(ctx context.Context, limit int) ([]core.Transaction, error) {
	rows, err := r.query(ctx, r.db, qPendingSync, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending sync transactions: %w", err)
	}
	defer rows.Close()

	var txs []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// MarkSynced marks a transaction as successfully synced
func (r *Repository) MarkSynced(ctx context.Context, txID string) error {
	if err := r.setSyncStatus(ctx, txID, syncSynced); err != nil {
		return fmt.Errorf("mark transaction synced: %w", err)
	}
	slog.InfoContext(ctx, "Transaction marked as synced", "transaction_id", txID)
	return nil
}

// MarkSyncError marks a transaction as having sync errors
func (r *Repository) MarkSyncError(ctx context.Context, txID string) error {
	if err := r.setSyncStatus(ctx, txID, syncError); err != nil {
		return fmt.Errorf("mark transaction sync error: %w", err)
	}
	slog.WarnContext(ctx, "Transaction marked with sync error", "transaction_id", txID)
	return nil
}

func (r *Repository) setSyncStatus(ctx context.Context, txID, status string) error {
	res, err := r.exec(ctx, r.db, qMarkSyncStatus, status, txID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transaction %s: %w", txID, ports.ErrNotFound)
	}
	return nil
}

// PendingDeletes returns IDs of deleted transactions whose sheet row may
// still exist, oldest first.
func (r *Repository) PendingDeletes(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.query(ctx, r.db, qPendingDeletes, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending sheet deletes: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending delete: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClearPendingDelete drops the tombstone once the sheet row is gone.
// Clearing an unknown ID is not an error.
func (r *Repository) ClearPendingDelete(ctx context.Context, txID string) error {
	if _, err := r.exec(ctx, r.db, qClearPendingDelete, txID); err != nil {
		return fmt.Errorf("clear pending sheet delete: %w", err)
	}
	return nil
}

// ReconcileBalances rewrites any stored balance that disagrees with the
// sum of its ledger.
func (r *Repository) ReconcileBalances(ctx context.Context) ([]string, error) {
	var fixed []string
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := r.query(ctx, tx, qKidBalances)
		if err != nil {
			return fmt.Errorf("load kid balances: %w", err)
		}
		type drift struct {
			id   string
			want int64
		}
		var drifts []drift
		for rows.Next() {
			var (
				id          string
				stored, sum int64
			)
			if err := rows.Scan(&id, &stored, &sum); err != nil {
				rows.Close()
				return fmt.Errorf("scan kid balance: %w", err)
			}
			if stored != sum {
				drifts = append(drifts, drift{id: id, want: sum})
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate kid balances: %w", err)
		}

		for _, d := range drifts {
			if _, err := r.exec(ctx, tx, qSetKidBalance, d.want, d.id); err != nil {
				return fmt.Errorf("fix balance for kid %s: %w", d.id, err)
			}
			slog.WarnContext(ctx, "Corrected stored balance", "kid_id", d.id, "balance_cents", d.want)
			fixed = append(fixed, d.id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fixed, nil
}
