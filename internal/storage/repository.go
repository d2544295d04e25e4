// Package storage implements ports.Store on SQLite (modernc.org/sqlite) and
// PostgreSQL (lib/pq). Both dialects share the same queries; placeholders are
// rebound for postgres.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"allowance/internal/core"
	"allowance/internal/ports"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type Repository struct {
	db      *sql.DB
	dialect Dialect
}

var _ ports.Store = (*Repository)(nil)

// sqliteDSN enables foreign keys and waits on a locked database instead of
// failing immediately.
func sqliteDSN(dbPath string) string {
	return "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func NewSQLiteRepository(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := sqliteDSN(dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer; serialising connections avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	return open(db, DialectSQLite, dsn)
}

func NewPostgresRepository(databaseURL string) (*Repository, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return open(db, DialectPostgres, databaseURL)
}

func open(db *sql.DB, d Dialect, dsn string) (*Repository, error) {
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Run migrations
	if err := RunMigrations(d, dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db, dialect: d}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *Repository) exec(ctx context.Context, q queryer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, r.dialect.rebind(query), args...)
}

func (r *Repository) query(ctx context.Context, q queryer, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, r.dialect.rebind(query), args...)
}

func (r *Repository) queryRow(ctx context.Context, q queryer, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, r.dialect.rebind(query), args...)
}

// withTx runs fn in a transaction, committing on success.
func (r *Repository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ports.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// Kids

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKid(s rowScanner) (core.Kid, error) {
	var (
		k         core.Kid
		allowance sql.NullInt64
		presets   string
		balance   int64
	)
	if err := s.Scan(&k.ID, &k.HouseholdID, &k.Name, &allowance, &presets, &balance); err != nil {
		return core.Kid{}, err
	}
	if allowance.Valid {
		k.Allowance = &core.Money{Cents: allowance.Int64}
	}
	k.Presets = decodePresets(presets)
	k.CurrentBalance = core.Money{Cents: balance}
	return k, nil
}

// encodePresets stores preset cents as a comma-separated list.
func encodePresets(presets []core.Money) string {
	parts := make([]string, len(presets))
	for i, p := range presets {
		parts[i] = strconv.FormatInt(p.Cents, 10)
	}
	return strings.Join(parts, ",")
}

func decodePresets(s string) []core.Money {
	if s == "" {
		return nil
	}
	var out []core.Money
	for _, part := range strings.Split(s, ",") {
		v, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || v <= 0 {
			continue
		}
		out = append(out, core.Money{Cents: v})
	}
	return out
}

func nullableCents(m *core.Money) sql.NullInt64 {
	if m == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: m.Cents, Valid: true}
}

func (r *Repository) ListKids(ctx context.Context, householdID string) ([]core.Kid, error) {
	rows, err := r.query(ctx, r.db, qListKids, householdID)
	if err != nil {
		return nil, fmt.Errorf("list kids: %w", err)
	}
	defer rows.Close()

	kids := make([]core.Kid, 0)
	for rows.Next() {
		k, err := scanKid(rows)
		if err != nil {
			return nil, fmt.Errorf("scan kid: %w", err)
		}
		kids = append(kids, k)
	}
	return kids, rows.Err()
}

func (r *Repository) GetKid(ctx context.Context, id string) (core.Kid, error) {
	k, err := scanKid(r.queryRow(ctx, r.db, qGetKid, id))
	if err != nil {
		return core.Kid{}, notFound(err, "get kid "+id)
	}
	return k, nil
}

func (r *Repository) CreateKid(ctx context.Context, kid core.Kid) (core.Kid, error) {
	if err := kid.Validate(); err != nil {
		return core.Kid{}, err
	}
	if kid.ID == "" {
		kid.ID = core.NewID()
	}
	kid.Name = strings.TrimSpace(kid.Name)
	kid.CurrentBalance = core.Money{}

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var one string
		if err := r.queryRow(ctx, tx, qHouseholdExists, kid.HouseholdID).Scan(&one); err != nil {
			return notFound(err, "household "+kid.HouseholdID)
		}
		_, err := r.exec(ctx, tx, qCreateKid,
			kid.ID, kid.HouseholdID, kid.Name, nullableCents(kid.Allowance), encodePresets(kid.Presets), time.Now().UnixMilli())
		if err != nil {
			return fmt.Errorf("create kid: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Kid{}, err
	}

	slog.InfoContext(ctx, "Kid saved", "kid_id", kid.ID, "household_id", kid.HouseholdID)
	return kid, nil
}

func (r *Repository) UpdateKidAllowance(ctx context.Context, id string, allowance *core.Money, presets []core.Money) (core.Kid, error) {
	res, err := r.exec(ctx, r.db, qUpdateKidAllowance, nullableCents(allowance), encodePresets(presets), id)
	if err != nil {
		return core.Kid{}, fmt.Errorf("update kid allowance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Kid{}, fmt.Errorf("kid %s: %w", id, ports.ErrNotFound)
	}
	return r.GetKid(ctx, id)
}

// Transactions

func scanTransaction(s rowScanner) (core.Transaction, error) {
	var (
		t          core.Transaction
		typ        string
		cents      int64
		occurredAt int64
	)
	if err := s.Scan(&t.ID, &t.KidID, &typ, &cents, &occurredAt, &t.Description, &t.AddedBy); err != nil {
		return core.Transaction{}, err
	}
	t.Type = core.TransactionType(typ)
	t.Amount = core.Money{Cents: cents}
	t.Date = time.UnixMilli(occurredAt).UTC()
	return t, nil
}

func rangeBounds(dr core.DateRange) (int64, int64) {
	from, to := int64(math.MinInt64), int64(math.MaxInt64)
	if !dr.From.IsZero() {
		from = dr.From.UnixMilli()
	}
	if !dr.To.IsZero() {
		to = dr.To.UnixMilli()
	}
	return from, to
}

func (r *Repository) ListTransactions(ctx context.Context, kidID string, dr core.DateRange) ([]core.Transaction, error) {
	if _, err := r.GetKid(ctx, kidID); err != nil {
		return nil, err
	}
	from, to := rangeBounds(dr)
	rows, err := r.query(ctx, r.db, qListTransactions, kidID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	// Database collations differ on text ordering; keep the domain order.
	return core.SortNewestFirst(txs), nil
}

func (r *Repository) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	t, err := scanTransaction(r.queryRow(ctx, r.db, qGetTransaction, id))
	if err != nil {
		return core.Transaction{}, notFound(err, "get transaction "+id)
	}
	return t, nil
}

// lockKid serialises ledger writes for one kid. SQLite already holds the
// database write lock inside a transaction.
func (r *Repository) lockKid(ctx context.Context, tx *sql.Tx, kidID string) error {
	q := qLockKid
	if r.dialect == DialectPostgres {
		q += " FOR UPDATE"
	}
	var id string
	if err := r.queryRow(ctx, tx, q, kidID).Scan(&id); err != nil {
		return notFound(err, "kid "+kidID)
	}
	return nil
}

// recomputeBalance rewrites the kid's stored balance from its ledger.
func (r *Repository) recomputeBalance(ctx context.Context, tx *sql.Tx, kidID string) (core.Money, error) {
	if _, err := r.exec(ctx, tx, qRecomputeBalance, kidID, kidID); err != nil {
		return core.Money{}, fmt.Errorf("recompute balance: %w", err)
	}
	var cents int64
	if err := r.queryRow(ctx, tx, qKidBalance, kidID).Scan(&cents); err != nil {
		return core.Money{}, fmt.Errorf("read balance: %w", err)
	}
	return core.Money{Cents: cents}, nil
}

func (r *Repository) CreateTransaction(ctx context.Context, t core.Transaction) (core.LedgerMutation, error) {
	if t.ID == "" {
		t.ID = core.NewID()
	}
	if err := t.Validate(); err != nil {
		return core.LedgerMutation{}, err
	}
	// Storage resolution is milliseconds; round so the returned value matches reads.
	t.Date = time.UnixMilli(t.Date.UnixMilli()).UTC()

	var balance core.Money
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if err := r.lockKid(ctx, tx, t.KidID); err != nil {
			return err
		}
		_, err := r.exec(ctx, tx, qCreateTransaction,
			t.ID, t.KidID, string(t.Type), t.Amount.Cents, t.Date.UnixMilli(), t.Description, t.AddedBy, time.Now().UnixMilli())
		if err != nil {
			return fmt.Errorf("create transaction: %w", err)
		}
		balance, err = r.recomputeBalance(ctx, tx, t.KidID)
		return err
	})
	if err != nil {
		return core.LedgerMutation{}, err
	}

	slog.InfoContext(ctx, "Transaction saved",
		"transaction_id", t.ID,
		"kid_id", t.KidID,
		"type", t.Type,
		"amount_cents", t.Amount.Cents,
		"balance_cents", balance.Cents)

	return core.LedgerMutation{Transaction: t, Balance: balance}, nil
}

func (r *Repository) DeleteTransaction(ctx context.Context, id string) (core.LedgerMutation, error) {
	var (
		t       core.Transaction
		balance core.Money
	)
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		t, err = scanTransaction(r.queryRow(ctx, tx, qGetTransaction, id))
		if err != nil {
			return notFound(err, "get transaction "+id)
		}
		if err := r.lockKid(ctx, tx, t.KidID); err != nil {
			return err
		}
		res, err := r.exec(ctx, tx, qDeleteTransaction, id)
		if err != nil {
			return fmt.Errorf("delete transaction: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("transaction %s: %w", id, ports.ErrNotFound)
		}
		if _, err := r.exec(ctx, tx, qAddPendingDelete, id, t.KidID, time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("record pending sheet delete: %w", err)
		}
		balance, err = r.recomputeBalance(ctx, tx, t.KidID)
		return err
	})
	if err != nil {
		return core.LedgerMutation{}, err
	}

	slog.InfoContext(ctx, "Transaction deleted",
		"transaction_id", id,
		"kid_id", t.KidID,
		"balance_cents", balance.Cents)

	return core.LedgerMutation{Transaction: t, Balance: balance}, nil
}
