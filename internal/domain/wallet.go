/**
 * @description
 * Wallet and ledger transaction models. A wallet holds one row per currency for
 * a user; the Transaction struct is the immutable audit record created for every
 * balance movement.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Wallet represents a user's balance in a single currency.
type Wallet struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	Currency     string    `json:"currency"`
	BalanceCents int64     `json:"balance_cents"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Transaction statuses.
const (
	TxPending   = "pending"
	TxCompleted = "completed"
	TxFailed    = "failed"
)

// Transaction types.
const (
	TxDebit  = "debit"
	TxCredit = "credit"
)

// Transaction is the immutable ledger record for any wallet movement.
// Rows are never mutated after reaching 'completed', except being marked
// 'failed' during a rollback that happens before any external effect.
type Transaction struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	WalletID  uuid.UUID `json:"wallet_id"`
	Amount    int64     `json:"amount"` // in cents
	Currency  string    `json:"currency"`
	Type      string    `json:"type"`   // 'debit' or 'credit'
	Method    string    `json:"method"` // e.g. 'wallet'
	Reference string    `json:"reference"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
