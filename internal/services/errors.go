package services

import (
	"context"
	"errors"

	"allowance/internal/core"
)

var (
	// ErrForbidden is returned when the user is not a member of the kid's household.
	ErrForbidden   = errors.New("forbidden")
	ErrNoHousehold = errors.New("user has no household")
	ErrNoAllowance = errors.New("no allowance configured for this kid")
)

// Publisher announces ledger changes to the sync pipeline.
type Publisher interface {
	PublishTransactionCreated(ctx context.Context, tx core.Transaction) error
	PublishTransactionDeleted(ctx context.Context, tx core.Transaction) error
}

// Invalidator drops cached data derived from a kid's ledger.
type Invalidator interface {
	InvalidateKid(kidID string)
}
