// Package ports declares the storage interfaces the services depend on.
// Adapters live in internal/storage (SQL) and internal/storage/memory.
package ports

import (
	"context"
	"errors"

	"allowance/internal/core"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInviteCode = errors.New("invalid invite code")
	ErrAlreadyMember     = errors.New("user already belongs to a household")
	ErrConflict          = errors.New("already exists")
	// ErrConcurrentUpdate means a ledger kept changing while it was read.
	ErrConcurrentUpdate  = errors.New("ledger changed while reading, retry")
)

// Ports for outbound adapters.
type (
	KidStore interface {
		ListKids(ctx context.Context, householdID string) ([]core.Kid, error)
		GetKid(ctx context.Context, id string) (core.Kid, error)
		CreateKid(ctx context.Context, kid core.Kid) (core.Kid, error)
		// UpdateKidAllowance replaces the allowance amount (nil clears it) and presets.
		UpdateKidAllowance(ctx context.Context, id string, allowance *core.Money, presets []core.Money) (core.Kid, error)
	}

	// TransactionStore writes are atomic with the kid's balance: every
	// mutation recomputes CurrentBalance from the full ledger in the same
	// unit of work and returns it.
	TransactionStore interface {
		// ListTransactions returns the kid's transactions inside r, newest first.
		ListTransactions(ctx context.Context, kidID string, r core.DateRange) ([]core.Transaction, error)
		GetTransaction(ctx context.Context, id string) (core.Transaction, error)
		CreateTransaction(ctx context.Context, tx core.Transaction) (core.LedgerMutation, error)
		DeleteTransaction(ctx context.Context, id string) (core.LedgerMutation, error)
	}

	HouseholdStore interface {
		// HouseholdForUser returns ErrNotFound when the user has not joined one yet.
		HouseholdForUser(ctx context.Context, userID string) (core.Household, error)
		CreateHousehold(ctx context.Context, userID string, h core.Household) (core.Household, error)
		JoinHousehold(ctx context.Context, userID, inviteCode string) (core.Household, error)
		InviteCode(ctx context.Context, householdID string) (string, error)
		IsMember(ctx context.Context, userID, householdID string) (bool, error)
	}

	ViewTokenStore interface {
		GetOrCreateViewToken(ctx context.Context, kidID string) (string, error)
		KidForViewToken(ctx context.Context, token string) (core.Kid, error)
	}

	UserStore interface {
		// CreateUser returns ErrConflict when the email is taken.
		CreateUser(ctx context.Context, u core.User) error
		UserByEmail(ctx context.Context, email string) (core.User, error)
		UserByID(ctx context.Context, id string) (core.User, error)
	}

	SessionStore interface {
		CreateSession(ctx context.Context, s core.Session) error
		GetSession(ctx context.Context, token string) (core.Session, error)
		DeleteSession(ctx context.Context, token string) error
	}

	// SyncStore is used by the sheets worker.
	SyncStore interface {
		// PendingSync returns created transactions not yet mirrored, oldest first.
		PendingSync(ctx context.Context, limit int) ([]core.Transaction, error)
		MarkSynced(ctx context.Context, txID string) error
		MarkSyncError(ctx context.Context, txID string) error
		// PendingDeletes returns IDs of deleted transactions whose sheet row
		// has not been confirmed removed, oldest first. Every delete records
		// one in the same unit of work as the delete itself.
		PendingDeletes(ctx context.Context, limit int) ([]string, error)
		ClearPendingDelete(ctx context.Context, txID string) error
		// ReconcileBalances recomputes every kid's stored balance from its
		// ledger and returns the kids whose value was corrected.
		ReconcileBalances(ctx context.Context) ([]string, error)
	}

	// Store is everything a single backend provides.
	Store interface {
		KidStore
		TransactionStore
		HouseholdStore
		ViewTokenStore
		UserStore
		SessionStore
		SyncStore
		Ping(ctx context.Context) error
		Close() error
	}
)
