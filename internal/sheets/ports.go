// Package sheets defines the spreadsheet mirror of the ledger. The google
// subpackage implements it on the Sheets API.
package sheets

import (
	"context"
	"time"

	"allowance/internal/core"
)

// Header is the first row of the ledger sheet. Column A holds the
// transaction ID and is used to find rows again.
var Header = []string{"ID", "Date", "Kid", "Type", "Amount", "Description", "BalanceAfter"}

// Row is one mirrored transaction.
type Row struct {
	TransactionID string
	Date          time.Time
	KidName       string
	Type          core.TransactionType
	Amount        core.Money
	Description   string
	BalanceAfter  core.Money
}

func NewRow(kid core.Kid, tx core.Transaction, balanceAfter core.Money) Row {
	return Row{
		TransactionID: tx.ID,
		Date:          tx.Date,
		KidName:       kid.Name,
		Type:          tx.Type,
		Amount:        tx.Amount,
		Description:   tx.Description,
		BalanceAfter:  balanceAfter,
	}
}

// Ports for outbound adapters.
type (
	// LedgerWriter mirrors transactions. Both operations are idempotent:
	// appending an ID already present and deleting a missing ID are no-ops.
	LedgerWriter interface {
		Append(ctx context.Context, r Row) (rowRef string, err error)
		Delete(ctx context.Context, transactionID string) error
	}
)
