package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"allowance/internal/core"
	"allowance/internal/ports"
)

func seedKid(t *testing.T, s *Store) core.Kid {
	t.Helper()
	ctx := context.Background()
	h, err := s.CreateHousehold(ctx, "user-1", core.Household{Name: "Home"})
	if err != nil {
		t.Fatalf("create household: %v", err)
	}
	k, err := s.CreateKid(ctx, core.Kid{HouseholdID: h.ID, Name: "Ada"})
	if err != nil {
		t.Fatalf("create kid: %v", err)
	}
	return k
}

func TestLedgerMutationsKeepBalanceConsistent(t *testing.T) {
	ctx := context.Background()
	s := New()
	kid := seedKid(t, s)
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	steps := []struct {
		typ   core.TransactionType
		cents int64
		want  int64
	}{
		{core.Credit, 1000, 1000},
		{core.Expense, 500, 500},
		{core.Credit, 2000, 2500},
		{core.Expense, 4000, -1500},
	}
	var ids []string
	for i, st := range steps {
		m, err := s.CreateTransaction(ctx, core.Transaction{
			KidID: kid.ID, Type: st.typ, Amount: core.Money{Cents: st.cents},
			Date: base.AddDate(0, 0, i), Description: "step",
		})
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if m.Balance.Cents != st.want {
			t.Fatalf("step %d balance = %d, want %d", i, m.Balance.Cents, st.want)
		}
		ids = append(ids, m.Transaction.ID)
	}

	m, err := s.DeleteTransaction(ctx, ids[3])
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if m.Balance.Cents != 2500 {
		t.Fatalf("balance after delete = %d, want 2500", m.Balance.Cents)
	}

	got, _ := s.GetKid(ctx, kid.ID)
	all, _ := s.ListTransactions(ctx, kid.ID, core.AllTime())
	if got.CurrentBalance != core.ComputeBalance(all) {
		t.Fatalf("stored balance %v != computed %v", got.CurrentBalance, core.ComputeBalance(all))
	}
	if len(all) != 3 || all[0].ID != ids[2] {
		t.Fatalf("expected newest first, got %+v", all)
	}

	if _, err := s.DeleteTransaction(ctx, ids[3]); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	tombstones, err := s.PendingDeletes(ctx, 10)
	if err != nil {
		t.Fatalf("pending deletes: %v", err)
	}
	if len(tombstones) != 1 || tombstones[0] != ids[3] {
		t.Fatalf("pending deletes = %v, want [%s]", tombstones, ids[3])
	}
	if err := s.ClearPendingDelete(ctx, ids[3]); err != nil {
		t.Fatalf("clear pending delete: %v", err)
	}
	if tombstones, _ = s.PendingDeletes(ctx, 10); len(tombstones) != 0 {
		t.Fatalf("pending deletes after clear = %v", tombstones)
	}
}

func TestCreateTransactionUnknownKid(t *testing.T) {
	s := New()
	_, err := s.CreateTransaction(context.Background(), core.Transaction{
		KidID: "missing", Type: core.Credit, Amount: core.Money{Cents: 1}, Date: time.Now(),
	})
	if !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHouseholdMembership(t *testing.T) {
	ctx := context.Background()
	s := New()
	h, err := s.CreateHousehold(ctx, "alice", core.Household{Name: "Home"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(h.InviteCode) != core.InviteCodeLength {
		t.Fatalf("invite code %q", h.InviteCode)
	}
	if _, err := s.CreateHousehold(ctx, "alice", core.Household{Name: "Again"}); !errors.Is(err, ports.ErrAlreadyMember) {
		t.Fatalf("expected ErrAlreadyMember, got %v", err)
	}
	if _, err := s.JoinHousehold(ctx, "bob", "nope"); !errors.Is(err, ports.ErrInvalidInviteCode) {
		t.Fatalf("expected ErrInvalidInviteCode, got %v", err)
	}
	joined, err := s.JoinHousehold(ctx, "bob", " "+h.InviteCode+" ")
	if err != nil || joined.ID != h.ID {
		t.Fatalf("join: %+v %v", joined, err)
	}
	// Joining again is idempotent.
	if _, err := s.JoinHousehold(ctx, "bob", h.InviteCode); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if ok, _ := s.IsMember(ctx, "bob", h.ID); !ok {
		t.Fatalf("bob should be a member")
	}
	if ok, _ := s.IsMember(ctx, "carol", h.ID); ok {
		t.Fatalf("carol should not be a member")
	}
}

func TestViewTokens(t *testing.T) {
	ctx := context.Background()
	s := New()
	kid := seedKid(t, s)
	tok1, err := s.GetOrCreateViewToken(ctx, kid.ID)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	tok2, _ := s.GetOrCreateViewToken(ctx, kid.ID)
	if tok1 != tok2 {
		t.Fatalf("token should be stable")
	}
	got, err := s.KidForViewToken(ctx, tok1)
	if err != nil || got.ID != kid.ID {
		t.Fatalf("resolve: %+v %v", got, err)
	}
	if _, err := s.KidForViewToken(ctx, "bogus"); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPendingSyncAndReconcile(t *testing.T) {
	ctx := context.Background()
	s := New()
	kid := seedKid(t, s)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		m, err := s.CreateTransaction(ctx, core.Transaction{
			KidID: kid.ID, Type: core.Credit, Amount: core.Money{Cents: 100}, Date: base.AddDate(0, 0, i),
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, m.Transaction.ID)
	}
	_ = s.MarkSynced(ctx, ids[0])
	_ = s.MarkSyncError(ctx, ids[1])

	pending, _ := s.PendingSync(ctx, 10)
	if len(pending) != 1 || pending[0].ID != ids[2] {
		t.Fatalf("unexpected pending: %+v", pending)
	}

	// Corrupt the stored balance directly.
	s.mu.Lock()
	k := s.kids[kid.ID]
	k.CurrentBalance = core.Money{Cents: 1}
	s.kids[kid.ID] = k
	s.mu.Unlock()

	fixed, err := s.ReconcileBalances(ctx)
	if err != nil || len(fixed) != 1 || fixed[0] != kid.ID {
		t.Fatalf("reconcile: %v %v", fixed, err)
	}
	got, _ := s.GetKid(ctx, kid.ID)
	if got.CurrentBalance.Cents != 300 {
		t.Fatalf("balance = %d, want 300", got.CurrentBalance.Cents)
	}
}

func TestUsersAndSessions(t *testing.T) {
	ctx := context.Background()
	s := New()
	u := core.User{ID: "u1", Email: "a@example.com", PasswordHash: "x"}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateUser(ctx, core.User{ID: "u2", Email: "a@example.com"}); !errors.Is(err, ports.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	sess := core.Session{Token: "t", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)}
	_ = s.CreateSession(ctx, sess)
	if got, err := s.GetSession(ctx, "t"); err != nil || got.UserID != "u1" {
		t.Fatalf("get session: %+v %v", got, err)
	}
	_ = s.DeleteSession(ctx, "t")
	if _, err := s.GetSession(ctx, "t"); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
