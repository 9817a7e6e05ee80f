package domain

import "errors"

// Failure taxonomy surfaced to API callers. Every ledger or identity
// operation fails with exactly one of these; anything else is wrapped as
// ErrStorageUnavailable after the atomic unit has rolled back.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountNotFound    = errors.New("account not found")
	ErrCustomerNotFound   = errors.New("customer not found")
	ErrInvalidAmount      = errors.New("amount must be positive with at most two decimal places")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrStorageUnavailable = errors.New("storage unavailable")
)
