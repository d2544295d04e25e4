// Package worker mirrors the ledger into the spreadsheet, driven by AMQP
// events and a periodic pass over transactions still pending sync.
package worker

import (
	"context"
	"errors"
	"fmt"

	"allowance/internal/amqp"
	"allowance/internal/core"
	applog "allowance/internal/log"
	"allowance/internal/ports"
	"allowance/internal/sheets"
)

// Store is the backend surface the worker reads and marks.
type Store interface {
	GetKid(ctx context.Context, id string) (core.Kid, error)
	GetTransaction(ctx context.Context, id string) (core.Transaction, error)
	ListTransactions(ctx context.Context, kidID string, r core.DateRange) ([]core.Transaction, error)
	ports.SyncStore
}

const (
	// startupBatchFactor widens the first pending pass after downtime.
	startupBatchFactor = 5
	snapshotAttempts   = 3
)

// SyncWorker handles synchronization of transactions to Google Sheets
type SyncWorker struct {
	store     Store
	sheet     sheets.LedgerWriter
	batchSize int
	logger    *applog.Logger
	events    *applog.StructuredLogger
}

func NewSyncWorker(store Store, sheet sheets.LedgerWriter, batchSize int, logger *applog.Logger) *SyncWorker {
	if batchSize <= 0 {
		batchSize = 10
	}
	l := logger.WithComponent(applog.ComponentWorker)
	return &SyncWorker{
		store:     store,
		sheet:     sheet,
		batchSize: batchSize,
		logger:    l,
		events:    applog.NewStructuredLogger(l),
	}
}

// HandleLedgerEvent processes one message from the ledger queue. It has the
// amqp.Handler signature; a returned error requeues the message.
func (w *SyncWorker) HandleLedgerEvent(ctx context.Context, msg *amqp.LedgerEventMessage) error {
	w.logger.InfoContext(ctx, "Processing ledger event",
		applog.FieldEventKind, string(msg.Kind),
		applog.FieldTransactionID, msg.TransactionID,
		applog.FieldKidID, msg.KidID)

	switch msg.Kind {
	case amqp.KindTransactionCreated:
		tx, err := w.store.GetTransaction(ctx, msg.TransactionID)
		if errors.Is(err, ports.ErrNotFound) {
			// Deleted before we got to it; the delete event cleans up.
			w.logger.InfoContext(ctx, "Transaction gone before sync, skipping",
				applog.FieldTransactionID, msg.TransactionID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("get transaction from storage: %w", err)
		}
		return w.syncTransaction(ctx, tx)

	case amqp.KindTransactionDeleted:
		return w.removeRow(ctx, msg.TransactionID, "event")

	default:
		return fmt.Errorf("unknown event kind %q", msg.Kind)
	}
}

// ProcessPending syncs up to limit transactions still pending, then removes
// sheet rows of up to limit deleted transactions. It is the backup path for
// lost or unpublished AMQP messages.
func (w *SyncWorker) ProcessPending(ctx context.Context, limit int) (synced, failed int, err error) {
	pending, err := w.store.PendingSync(ctx, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("get pending transactions: %w", err)
	}
	if len(pending) > 0 {
		w.logger.InfoContext(ctx, "Processing pending transactions", "count", len(pending))
	}
	for _, tx := range pending {
		if ctx.Err() != nil {
			return synced, failed, ctx.Err()
		}
		if err := w.syncTransaction(ctx, tx); err != nil {
			w.logger.ErrorContext(ctx, "Failed to sync transaction",
				applog.FieldTransactionID, tx.ID, applog.FieldError, err)
			failed++
			continue
		}
		synced++
	}

	// Deletes run after appends so a row appended above for a transaction
	// deleted in the meantime is removed in the same pass.
	deleted, err := w.store.PendingDeletes(ctx, limit)
	if err != nil {
		return synced, failed, fmt.Errorf("get pending deletes: %w", err)
	}
	for _, id := range deleted {
		if ctx.Err() != nil {
			return synced, failed, ctx.Err()
		}
		if err := w.removeRow(ctx, id, "pending"); err != nil {
			w.logger.ErrorContext(ctx, "Failed to remove deleted transaction from sheet",
				applog.FieldTransactionID, id, applog.FieldError, err)
			failed++
			continue
		}
		synced++
	}
	return synced, failed, nil
}

// removeRow deletes the transaction's sheet row and then its tombstone. The
// tombstone stays when the sheet call fails so the next pass retries it.
func (w *SyncWorker) removeRow(ctx context.Context, txID, source string) error {
	if err := w.sheet.Delete(ctx, txID); err != nil {
		return fmt.Errorf("delete transaction from sheet: %w", err)
	}
	if err := w.store.ClearPendingDelete(ctx, txID); err != nil {
		// Harmless: deleting a missing row is a no-op on the next pass.
		w.logger.WarnContext(ctx, "Failed to clear pending delete",
			applog.FieldTransactionID, txID, applog.FieldError, err)
	}
	w.events.LogSheetRemoved(ctx, txID, source)
	return nil
}

// StartupSyncCheck repairs stored balances and drains the pending backlog
// left by worker downtime.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	fixed, err := w.store.ReconcileBalances(ctx)
	if err != nil {
		return fmt.Errorf("reconcile balances: %w", err)
	}
	if len(fixed) > 0 {
		w.logger.WarnContext(ctx, "Corrected stored balances on startup",
			applog.FieldOperation, applog.OpReconcile, "kids", fixed)
	}

	synced, failed, err := w.ProcessPending(ctx, w.batchSize*startupBatchFactor)
	if err != nil {
		return fmt.Errorf("startup pending pass: %w", err)
	}
	w.logger.InfoContext(ctx, "Startup sync completed",
		applog.FieldOperation, applog.OpStartup,
		"synced", synced,
		"errors", failed)
	return nil
}

func (w *SyncWorker) syncTransaction(ctx context.Context, tx core.Transaction) error {
	kid, balance, err := w.balanceAfter(ctx, tx)
	if errors.Is(err, ports.ErrConcurrentUpdate) {
		// Left pending; the next pass reads a settled balance.
		return err
	}
	if err != nil {
		w.markError(ctx, tx.ID)
		return err
	}

	ref, err := w.sheet.Append(ctx, sheets.NewRow(kid, tx, balance))
	if err != nil {
		w.markError(ctx, tx.ID)
		return fmt.Errorf("append to sheet: %w", err)
	}

	err = w.store.MarkSynced(ctx, tx.ID)
	if errors.Is(err, ports.ErrNotFound) {
		// Deleted while the row was being appended; its delete may already
		// have run against a sheet without the row.
		w.logger.InfoContext(ctx, "Transaction deleted during sync, removing row",
			applog.FieldTransactionID, tx.ID)
		return w.removeRow(ctx, tx.ID, "sync")
	}
	if err != nil {
		// The row is written; the next pending pass finds it by ID and skips it.
		w.logger.WarnContext(ctx, "Failed to mark as synced",
			applog.FieldTransactionID, tx.ID, applog.FieldError, err)
	}
	w.events.LogSheetSynced(ctx, kid.ID, tx.ID, ref)
	return nil
}

// balanceAfter computes the kid's balance right after tx by walking back
// from the current balance over everything dated at or after it. It fails
// with ports.ErrConcurrentUpdate when the balance moves during every read.
func (w *SyncWorker) balanceAfter(ctx context.Context, tx core.Transaction) (core.Kid, core.Money, error) {
	for attempt := 0; attempt < snapshotAttempts; attempt++ {
		kid, err := w.store.GetKid(ctx, tx.KidID)
		if err != nil {
			return core.Kid{}, core.Money{}, fmt.Errorf("get kid: %w", err)
		}
		since, err := w.store.ListTransactions(ctx, tx.KidID, core.DateRange{From: tx.Date})
		if err != nil {
			return core.Kid{}, core.Money{}, fmt.Errorf("list transactions: %w", err)
		}
		again, err := w.store.GetKid(ctx, tx.KidID)
		if err != nil {
			return core.Kid{}, core.Money{}, fmt.Errorf("get kid: %w", err)
		}
		if again.CurrentBalance != kid.CurrentBalance {
			continue
		}
		balance, ok := core.RunningBalances(since, kid.CurrentBalance)[tx.ID]
		if !ok {
			return core.Kid{}, core.Money{}, fmt.Errorf("transaction %s: %w", tx.ID, ports.ErrNotFound)
		}
		return kid, balance, nil
	}
	return core.Kid{}, core.Money{}, fmt.Errorf("kid %s: balance moved on every read: %w", tx.KidID, ports.ErrConcurrentUpdate)
}

func (w *SyncWorker) markError(ctx context.Context, txID string) {
	if err := w.store.MarkSyncError(ctx, txID); err != nil {
		w.logger.ErrorContext(ctx, "Failed to mark sync error",
			applog.FieldTransactionID, txID, applog.FieldError, err)
	}
}
