package domain

import "github.com/shopspring/decimal"

// Account holds the authoritative balance for exactly one customer.
// The balance is mutated only inside a ledger atomic unit and never
// drops below zero.
type Account struct {
	ID      string
	UserID  string
	Balance decimal.Decimal
}
