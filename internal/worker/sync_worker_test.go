package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"allowance/internal/amqp"
	"allowance/internal/core"
	applog "allowance/internal/log"
	"allowance/internal/sheets"
	"allowance/internal/storage/memory"
)

// fakeSheet records rows keyed by transaction ID, like the real sheet.
type fakeSheet struct {
	mu        sync.Mutex
	rows      map[string]sheets.Row
	order     []string
	appendErr error
	deleteErr error
	// beforeAppend runs once, before the row is written.
	beforeAppend func()
}

func newFakeSheet() *fakeSheet { return &fakeSheet{rows: map[string]sheets.Row{}} }

func (f *fakeSheet) Append(_ context.Context, r sheets.Row) (string, error) {
	if hook := f.beforeAppend; hook != nil {
		f.beforeAppend = nil
		hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return "", f.appendErr
	}
	if _, ok := f.rows[r.TransactionID]; !ok {
		f.order = append(f.order, r.TransactionID)
	}
	f.rows[r.TransactionID] = r
	return "Ledger!A" + r.TransactionID, nil
}

func (f *fakeSheet) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.rows, id)
	return nil
}

type workerFixture struct {
	store  *memory.Store
	sheet  *fakeSheet
	worker *SyncWorker
	kid    core.Kid
}

func newWorkerFixture(t *testing.T) workerFixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	h, err := store.CreateHousehold(ctx, "parent", core.Household{Name: "Home"})
	if err != nil {
		t.Fatal(err)
	}
	kid, err := store.CreateKid(ctx, core.Kid{HouseholdID: h.ID, Name: "Ada"})
	if err != nil {
		t.Fatal(err)
	}
	sheet := newFakeSheet()
	return workerFixture{
		store:  store,
		sheet:  sheet,
		worker: NewSyncWorker(store, sheet, 10, applog.Discard()),
		kid:    kid,
	}
}

func (f workerFixture) add(t *testing.T, typ core.TransactionType, cents int64, day int) core.Transaction {
	t.Helper()
	m, err := f.store.CreateTransaction(context.Background(), core.Transaction{
		KidID:       f.kid.ID,
		Type:        typ,
		Amount:      core.Money{Cents: cents},
		Date:        time.Date(2024, 1, day, 12, 0, 0, 0, time.UTC),
		Description: "t",
	})
	if err != nil {
		t.Fatal(err)
	}
	return m.Transaction
}

func TestHandleLedgerEvent_Created(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t)
	a := f.add(t, core.Credit, 1000, 1)
	b := f.add(t, core.Expense, 300, 2)
	f.add(t, core.Credit, 500, 3)

	for _, tx := range []core.Transaction{a, b} {
		msg := amqp.NewLedgerEventMessage(amqp.KindTransactionCreated, tx)
		if err := f.worker.HandleLedgerEvent(ctx, msg); err != nil {
			t.Fatalf("handle %s: %v", tx.ID, err)
		}
	}

	if got := f.sheet.rows[a.ID].BalanceAfter.Cents; got != 1000 {
		t.Errorf("balance after a = %d, want 1000", got)
	}
	if got := f.sheet.rows[b.ID].BalanceAfter.Cents; got != 700 {
		t.Errorf("balance after b = %d, want 700", got)
	}
	if f.sheet.rows[a.ID].KidName != "Ada" {
		t.Errorf("kid name = %q", f.sheet.rows[a.ID].KidName)
	}

	pending, err := f.store.PendingSync(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Errorf("pending after sync = %d, want 1", len(pending))
	}
}

func TestHandleLedgerEvent_CreatedThenGone(t *testing.T) {
	f := newWorkerFixture(t)
	msg := &amqp.LedgerEventMessage{Kind: amqp.KindTransactionCreated, TransactionID: "missing"}
	if err := f.worker.HandleLedgerEvent(context.Background(), msg); err != nil {
		t.Fatalf("missing transaction should be acked, got %v", err)
	}
	if len(f.sheet.rows) != 0 {
		t.Errorf("nothing should be written")
	}
}

func TestHandleLedgerEvent_Deleted(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t)
	tx := f.add(t, core.Credit, 1000, 1)
	if err := f.worker.HandleLedgerEvent(ctx, amqp.NewLedgerEventMessage(amqp.KindTransactionCreated, tx)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.DeleteTransaction(ctx, tx.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.worker.HandleLedgerEvent(ctx, amqp.NewLedgerEventMessage(amqp.KindTransactionDeleted, tx)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := f.sheet.rows[tx.ID]; ok {
		t.Error("row should be removed")
	}

	f.sheet.deleteErr = errors.New("quota")
	if err := f.worker.HandleLedgerEvent(ctx, amqp.NewLedgerEventMessage(amqp.KindTransactionDeleted, tx)); err == nil {
		t.Error("sheet failure must be returned so the message is requeued")
	}
}

func TestHandleLedgerEvent_UnknownKind(t *testing.T) {
	f := newWorkerFixture(t)
	msg := &amqp.LedgerEventMessage{Kind: "transaction.renamed", TransactionID: "x"}
	if err := f.worker.HandleLedgerEvent(context.Background(), msg); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestProcessPending(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t)
	txs := []core.Transaction{
		f.add(t, core.Credit, 1000, 1),
		f.add(t, core.Expense, 250, 2),
		f.add(t, core.Credit, 100, 3),
	}

	synced, failed, err := f.worker.ProcessPending(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if synced != 2 || failed != 0 {
		t.Fatalf("synced=%d failed=%d", synced, failed)
	}
	if len(f.sheet.order) != 2 || f.sheet.order[0] != txs[0].ID || f.sheet.order[1] != txs[1].ID {
		t.Errorf("sync order = %v, want oldest first", f.sheet.order)
	}

	synced, _, err = f.worker.ProcessPending(ctx, 10)
	if err != nil || synced != 1 {
		t.Fatalf("second pass synced=%d err=%v", synced, err)
	}
	if got := f.sheet.rows[txs[2].ID].BalanceAfter.Cents; got != 850 {
		t.Errorf("balance after last = %d, want 850", got)
	}
}

func TestProcessPending_AppendFailureMarksError(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t)
	f.add(t, core.Credit, 1000, 1)
	f.sheet.appendErr = errors.New("sheets down")

	synced, failed, err := f.worker.ProcessPending(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if synced != 0 || failed != 1 {
		t.Fatalf("synced=%d failed=%d", synced, failed)
	}
	pending, _ := f.store.PendingSync(ctx, 10)
	if len(pending) != 0 {
		t.Errorf("failed transaction should leave the pending set, got %d", len(pending))
	}
}

func TestStartupSyncCheck(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t)
	f.add(t, core.Credit, 1000, 1)
	f.add(t, core.Expense, 400, 2)

	if err := f.worker.StartupSyncCheck(ctx); err != nil {
		t.Fatal(err)
	}
	if len(f.sheet.rows) != 2 {
		t.Errorf("rows = %d, want 2", len(f.sheet.rows))
	}
	kid, err := f.store.GetKid(ctx, f.kid.ID)
	if err != nil {
		t.Fatal(err)
	}
	if kid.CurrentBalance.Cents != 600 {
		t.Errorf("balance = %d, want 600", kid.CurrentBalance.Cents)
	}
}

func TestProcessPending_RemovesRowsOfUnpublishedDeletes(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t)
	tx := f.add(t, core.Credit, 1000, 1)
	if _, _, err := f.worker.ProcessPending(ctx, 10); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.sheet.rows[tx.ID]; !ok {
		t.Fatal("row should be written")
	}

	// Deleted with no event ever reaching the worker.
	if _, err := f.store.DeleteTransaction(ctx, tx.ID); err != nil {
		t.Fatal(err)
	}

	f.sheet.deleteErr = errors.New("quota")
	synced, failed, err := f.worker.ProcessPending(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if synced != 0 || failed != 1 {
		t.Fatalf("synced=%d failed=%d, want 0/1", synced, failed)
	}
	if ids, _ := f.store.PendingDeletes(ctx, 10); len(ids) != 1 {
		t.Fatalf("pending deletes after failure = %v, want the tombstone kept", ids)
	}

	f.sheet.deleteErr = nil
	synced, failed, err = f.worker.ProcessPending(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if synced != 1 || failed != 0 {
		t.Fatalf("synced=%d failed=%d, want 1/0", synced, failed)
	}
	if _, ok := f.sheet.rows[tx.ID]; ok {
		t.Error("row of deleted transaction should be removed")
	}
	if ids, _ := f.store.PendingDeletes(ctx, 10); len(ids) != 0 {
		t.Errorf("pending deletes = %v, want none", ids)
	}
}

func TestHandleLedgerEvent_DeletedClearsPending(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t)
	tx := f.add(t, core.Credit, 1000, 1)
	if _, err := f.store.DeleteTransaction(ctx, tx.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.worker.HandleLedgerEvent(ctx, amqp.NewLedgerEventMessage(amqp.KindTransactionDeleted, tx)); err != nil {
		t.Fatal(err)
	}
	if ids, _ := f.store.PendingDeletes(ctx, 10); len(ids) != 0 {
		t.Errorf("pending deletes = %v, want none", ids)
	}
}

func TestProcessPending_DeleteDuringAppend(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t)
	tx := f.add(t, core.Credit, 1000, 1)

	// The delete and its event complete after the pass read the transaction
	// but before its row lands in the sheet.
	f.sheet.beforeAppend = func() {
		if _, err := f.store.DeleteTransaction(ctx, tx.ID); err != nil {
			t.Errorf("delete: %v", err)
		}
		if err := f.worker.HandleLedgerEvent(ctx, amqp.NewLedgerEventMessage(amqp.KindTransactionDeleted, tx)); err != nil {
			t.Errorf("delete event: %v", err)
		}
	}

	if _, _, err := f.worker.ProcessPending(ctx, 10); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.sheet.rows[tx.ID]; ok {
		t.Error("row appended for a deleted transaction should be removed")
	}
}
