package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"allowance/internal/core"
)

// EventKind names a ledger change.
type EventKind string

const (
	KindTransactionCreated EventKind = "transaction.created"
	KindTransactionDeleted EventKind = "transaction.deleted"
)

// LedgerEventMessage is a lightweight notification of a ledger change.
// Consumers fetch the transaction from the database; a deleted transaction
// is identified by TransactionID alone.
type LedgerEventMessage struct {
	ID            string    `json:"id"`
	Kind          EventKind `json:"kind"`
	TransactionID string    `json:"transaction_id"`
	KidID         string    `json:"kid_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewLedgerEventMessage creates a message for the given transaction.
func NewLedgerEventMessage(kind EventKind, tx core.Transaction) *LedgerEventMessage {
	return &LedgerEventMessage{
		ID:            core.NewID(),
		Kind:          kind,
		TransactionID: tx.ID,
		KidID:         tx.KidID,
		Timestamp:     time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *LedgerEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerEventMessageFromJSON parses and validates a message body.
func LedgerEventMessageFromJSON(data []byte) (*LedgerEventMessage, error) {
	var msg LedgerEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Kind {
	case KindTransactionCreated, KindTransactionDeleted:
	default:
		return nil, fmt.Errorf("unknown event kind %q", msg.Kind)
	}
	if msg.TransactionID == "" {
		return nil, fmt.Errorf("missing transaction id")
	}
	return &msg, nil
}
