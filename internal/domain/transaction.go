package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TransactionDeposit  TransactionType = "deposit"
	TransactionWithdraw TransactionType = "withdraw"
)

// Transaction is one append-only ledger entry. It is written in the same
// atomic unit as the balance mutation it records and never changed after.
type Transaction struct {
	ID        string
	AccountID string
	Type      TransactionType
	Amount    decimal.Decimal
	CreatedAt time.Time
}
