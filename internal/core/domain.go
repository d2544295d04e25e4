package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Credit  TransactionType = "credit"
	Expense TransactionType = "expense"
)

// MaxPresets is the number of quick-amount slots a kid can configure.
const MaxPresets = 3

type (
	TransactionType string

	Money struct {
		Cents int64
	}

	Transaction struct {
		ID          string
		KidID       string
		Type        TransactionType
		Amount      Money
		Date        time.Time
		Description string
		AddedBy     string // user id, empty for legacy rows
	}

	Kid struct {
		ID             string
		HouseholdID    string
		Name           string
		Allowance      *Money // nil when no allowance shortcut is configured
		Presets        []Money
		CurrentBalance Money
	}

	Household struct {
		ID         string
		Name       string
		InviteCode string
	}

	// LedgerMutation is returned by every write to a kid's ledger together
	// with the recomputed balance of that kid.
	LedgerMutation struct {
		Transaction Transaction
		Balance     Money
	}
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidType        = errors.New("invalid transaction type")
	ErrEmptyKid           = errors.New("empty kid reference")
	ErrEmptyName          = errors.New("empty name")
	ErrZeroDate           = errors.New("date cannot be zero")
	ErrTooManyPresets     = errors.New("too many preset amounts")
	ErrDescriptionTooLong = errors.New("description too long (max 200 characters)")
	ErrNameTooLong        = errors.New("name too long (max 80 characters)")
)

func (t TransactionType) Valid() bool {
	return t == Credit || t == Expense
}

// ParseTransactionType accepts "credit" and "expense" in any case.
func ParseTransactionType(s string) (TransactionType, error) {
	t := TransactionType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", ErrInvalidType
	}
	return t, nil
}

// DefaultDescription is used when a transaction is recorded without one.
func (t TransactionType) DefaultDescription() string {
	if t == Credit {
		return "Credit"
	}
	return "Expense"
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (m Money) Add(o Money) Money { return Money{Cents: m.Cents + o.Cents} }
func (m Money) Sub(o Money) Money { return Money{Cents: m.Cents - o.Cents} }
func (m Money) IsNegative() bool  { return m.Cents < 0 }

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.KidID) == "" {
		return ErrEmptyKid
	}
	if !t.Type.Valid() {
		return ErrInvalidType
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if t.Date.IsZero() {
		return ErrZeroDate
	}
	if len(t.Description) > 200 {
		return ErrDescriptionTooLong
	}
	return nil
}

func (k Kid) Validate() error {
	name := strings.TrimSpace(k.Name)
	if name == "" {
		return ErrEmptyName
	}
	if len(name) > 80 {
		return ErrNameTooLong
	}
	if k.Allowance != nil {
		if err := k.Allowance.Validate(); err != nil {
			return err
		}
	}
	if len(k.Presets) > MaxPresets {
		return ErrTooManyPresets
	}
	for _, p := range k.Presets {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}
