package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"allowance/internal/core"
	applog "allowance/internal/log"
	"allowance/internal/ports"
)

// AllowanceDescription labels transactions created by AddAllowance.
const AllowanceDescription = "Allowance"

// recentRows is how many ledger rows each kid card shows on the overview.
const recentRows = 5

// LedgerStore is the backend surface the ledger needs.
type LedgerStore interface {
	ports.KidStore
	ports.TransactionStore
	ports.HouseholdStore
	ports.ViewTokenStore
}

// LedgerService orchestrates kid and transaction operations across the
// store, the event publisher and cached views.
type LedgerService struct {
	store       LedgerStore
	publisher   Publisher
	invalidator Invalidator
	logger      *applog.Logger
	events      *applog.StructuredLogger
	now         func() time.Time
}

type TransactionInput struct {
	KidID       string
	Type        core.TransactionType
	Amount      core.Money
	Date        time.Time // zero means now
	Description string
}

// KidLedger is a kid with a window of its history annotated with running balances.
type KidLedger struct {
	Kid   core.Kid
	Range core.DateRange
	Rows  []core.LedgerRow
}

// NewLedgerService wires the service. publisher and invalidator may be nil.
func NewLedgerService(store LedgerStore, publisher Publisher, invalidator Invalidator, logger *applog.Logger) *LedgerService {
	l := logger.WithComponent(applog.ComponentLedger)
	return &LedgerService{
		store:       store,
		publisher:   publisher,
		invalidator: invalidator,
		logger:      l,
		events:      applog.NewStructuredLogger(l),
		now:         time.Now,
	}
}

// authorizeKid loads the kid and checks the user belongs to its household.
func (s *LedgerService) authorizeKid(ctx context.Context, userID, kidID string) (core.Kid, error) {
	kid, err := s.store.GetKid(ctx, kidID)
	if err != nil {
		return core.Kid{}, err
	}
	ok, err := s.store.IsMember(ctx, userID, kid.HouseholdID)
	if err != nil {
		return core.Kid{}, fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return core.Kid{}, ErrForbidden
	}
	return kid, nil
}

func (s *LedgerService) householdFor(ctx context.Context, userID string) (core.Household, error) {
	h, err := s.store.HouseholdForUser(ctx, userID)
	if errors.Is(err, ports.ErrNotFound) {
		return core.Household{}, ErrNoHousehold
	}
	return h, err
}

// AddTransaction records a credit or expense and returns it with the kid's new balance.
func (s *LedgerService) AddTransaction(ctx context.Context, userID string, in TransactionInput) (core.LedgerMutation, error) {
	if _, err := s.authorizeKid(ctx, userID, in.KidID); err != nil {
		return core.LedgerMutation{}, err
	}

	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		desc = in.Type.DefaultDescription()
	}
	date := in.Date
	if date.IsZero() {
		date = s.now()
	}

	tx := core.Transaction{
		ID:          core.NewID(),
		KidID:       in.KidID,
		Type:        in.Type,
		Amount:      in.Amount,
		Date:        date,
		Description: desc,
		AddedBy:     userID,
	}
	if err := tx.Validate(); err != nil {
		return core.LedgerMutation{}, err
	}

	m, err := s.store.CreateTransaction(ctx, tx)
	if err != nil {
		return core.LedgerMutation{}, fmt.Errorf("save transaction: %w", err)
	}
	s.afterMutation(ctx, m, applog.OpCreate)
	return m, nil
}

// AddAllowance credits the kid's configured allowance amount.
func (s *LedgerService) AddAllowance(ctx context.Context, userID, kidID string) (core.LedgerMutation, error) {
	kid, err := s.authorizeKid(ctx, userID, kidID)
	if err != nil {
		return core.LedgerMutation{}, err
	}
	if kid.Allowance == nil {
		return core.LedgerMutation{}, ErrNoAllowance
	}
	return s.AddTransaction(ctx, userID, TransactionInput{
		KidID:       kidID,
		Type:        core.Credit,
		Amount:      *kid.Allowance,
		Description: AllowanceDescription,
	})
}

// DeleteTransaction removes a transaction and returns the kid's new balance.
func (s *LedgerService) DeleteTransaction(ctx context.Context, userID, txID string) (core.LedgerMutation, error) {
	tx, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return core.LedgerMutation{}, err
	}
	if _, err := s.authorizeKid(ctx, userID, tx.KidID); err != nil {
		return core.LedgerMutation{}, err
	}

	m, err := s.store.DeleteTransaction(ctx, txID)
	if err != nil {
		return core.LedgerMutation{}, fmt.Errorf("delete transaction: %w", err)
	}
	s.afterMutation(ctx, m, applog.OpDelete)
	return m, nil
}

// afterMutation publishes the change and drops cached views. Publishing
// failures are logged only: the worker's pending pass picks up unsynced
// creates and the delete tombstones the store records.
func (s *LedgerService) afterMutation(ctx context.Context, m core.LedgerMutation, op string) {
	t := m.Transaction
	s.events.LogMutation(ctx, op, t.KidID, t.ID, string(t.Type), t.Amount.Cents, m.Balance.Cents)

	if s.invalidator != nil {
		s.invalidator.InvalidateKid(t.KidID)
	}
	if s.publisher == nil {
		return
	}
	var err error
	if op == applog.OpDelete {
		err = s.publisher.PublishTransactionDeleted(ctx, t)
	} else {
		err = s.publisher.PublishTransactionCreated(ctx, t)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish ledger event",
			applog.FieldTransactionID, t.ID, applog.FieldError, err)
	}
}

// ListTransactions returns the kid's transactions inside r, newest first,
// each with the balance after it.
func (s *LedgerService) ListTransactions(ctx context.Context, userID, kidID string, r core.DateRange) (KidLedger, error) {
	if _, err := s.authorizeKid(ctx, userID, kidID); err != nil {
		return KidLedger{}, err
	}
	kid, rows, err := loadLedger(ctx, s.store, kidID, r)
	if err != nil {
		return KidLedger{}, err
	}
	return KidLedger{Kid: kid, Range: r, Rows: rows}, nil
}

// ledgerReader is the read side shared by the ledger and view services.
type ledgerReader interface {
	GetKid(ctx context.Context, id string) (core.Kid, error)
	ListTransactions(ctx context.Context, kidID string, r core.DateRange) ([]core.Transaction, error)
}

const snapshotAttempts = 3

// loadLedger reads a window and the balance it is anchored to. The balance
// is re-read after the listing and the read is retried if a concurrent
// write moved it, so rows are consistent with the balance they start from.
// When writes keep landing it gives up with ports.ErrConcurrentUpdate.
//
// Everything newer than r.From is read, since transactions after the end of
// the window still sit between it and the current balance.
func loadLedger(ctx context.Context, store ledgerReader, kidID string, r core.DateRange) (core.Kid, []core.LedgerRow, error) {
	kid, txs, err := readSnapshot(ctx, store, kidID, core.DateRange{From: r.From})
	if err != nil {
		return core.Kid{}, nil, err
	}
	rows := core.AnnotateLedger(txs, kid.CurrentBalance)
	if r.To.IsZero() {
		return kid, rows, nil
	}
	inside := rows[:0]
	for _, row := range rows {
		if r.Contains(row.Date) {
			inside = append(inside, row)
		}
	}
	return kid, inside, nil
}

// readSnapshot returns the kid and its transactions in r, read between two
// identical balance observations.
func readSnapshot(ctx context.Context, store ledgerReader, kidID string, r core.DateRange) (core.Kid, []core.Transaction, error) {
	for i := 0; i < snapshotAttempts; i++ {
		kid, err := store.GetKid(ctx, kidID)
		if err != nil {
			return core.Kid{}, nil, err
		}
		txs, err := store.ListTransactions(ctx, kidID, r)
		if err != nil {
			return core.Kid{}, nil, fmt.Errorf("list transactions: %w", err)
		}
		after, err := store.GetKid(ctx, kidID)
		if err != nil {
			return core.Kid{}, nil, err
		}
		if after.CurrentBalance == kid.CurrentBalance {
			return kid, txs, nil
		}
	}
	return core.Kid{}, nil, fmt.Errorf("kid %s: balance moved on every read: %w", kidID, ports.ErrConcurrentUpdate)
}

// AddKid creates a kid in the user's household.
func (s *LedgerService) AddKid(ctx context.Context, userID, name string, allowance *core.Money, presets []core.Money) (core.Kid, error) {
	h, err := s.householdFor(ctx, userID)
	if err != nil {
		return core.Kid{}, err
	}
	kid := core.Kid{
		ID:          core.NewID(),
		HouseholdID: h.ID,
		Name:        strings.TrimSpace(name),
		Allowance:   allowance,
		Presets:     presets,
	}
	if err := kid.Validate(); err != nil {
		return core.Kid{}, err
	}
	created, err := s.store.CreateKid(ctx, kid)
	if err != nil {
		return core.Kid{}, fmt.Errorf("create kid: %w", err)
	}
	s.logger.InfoContext(ctx, "Kid added", applog.FieldKidID, created.ID, applog.FieldHouseholdID, h.ID)
	return created, nil
}

// ConfigureAllowance sets (or clears, with nil) the allowance amount and
// replaces the preset amounts.
func (s *LedgerService) ConfigureAllowance(ctx context.Context, userID, kidID string, allowance *core.Money, presets []core.Money) (core.Kid, error) {
	kid, err := s.authorizeKid(ctx, userID, kidID)
	if err != nil {
		return core.Kid{}, err
	}
	kid.Allowance = allowance
	kid.Presets = presets
	if err := kid.Validate(); err != nil {
		return core.Kid{}, err
	}
	updated, err := s.store.UpdateKidAllowance(ctx, kidID, allowance, presets)
	if err != nil {
		return core.Kid{}, fmt.Errorf("update allowance: %w", err)
	}
	if s.invalidator != nil {
		s.invalidator.InvalidateKid(kidID)
	}
	return updated, nil
}

// ListKids returns the kids of the user's household.
func (s *LedgerService) ListKids(ctx context.Context, userID string) ([]core.Kid, error) {
	h, err := s.householdFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.store.ListKids(ctx, h.ID)
}

// Overview summarises the household with each kid's most recent activity.
// Kid ledgers are loaded concurrently.
func (s *LedgerService) Overview(ctx context.Context, userID string) (core.HouseholdSummary, error) {
	h, err := s.householdFor(ctx, userID)
	if err != nil {
		return core.HouseholdSummary{}, err
	}
	kids, err := s.store.ListKids(ctx, h.ID)
	if err != nil {
		return core.HouseholdSummary{}, fmt.Errorf("list kids: %w", err)
	}
	summary := core.Summarize(h, kids)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	window := core.LastDays(s.now(), 30)
	for i := range summary.Kids {
		i := i
		g.Go(func() error {
			_, rows, err := loadLedger(gctx, s.store, summary.Kids[i].ID, window)
			if err != nil {
				return err
			}
			if len(rows) > recentRows {
				rows = rows[:recentRows]
			}
			summary.Kids[i].Recent = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return core.HouseholdSummary{}, fmt.Errorf("load recent activity: %w", err)
	}
	return summary, nil
}

// ViewToken returns the secret read-only link token for a kid.
func (s *LedgerService) ViewToken(ctx context.Context, userID, kidID string) (string, error) {
	if _, err := s.authorizeKid(ctx, userID, kidID); err != nil {
		return "", err
	}
	return s.store.GetOrCreateViewToken(ctx, kidID)
}
