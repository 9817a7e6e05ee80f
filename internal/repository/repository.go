package repository

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/IMxSPYDER/banking-system/internal/domain"
)

// MutateFunc inspects the locked account and returns the ledger entry to
// append together with the balance after it. Returning an error aborts
// the whole unit; no partial state becomes visible.
type MutateFunc func(account *domain.Account) (*domain.Transaction, decimal.Decimal, error)

// UserRepository persists identity records.
type UserRepository interface {
	// CreateUserWithAccount inserts the user, their account and, when
	// non-nil, the opening deposit entry as one atomic unit. Account may
	// be nil for roles that hold no ledger account.
	CreateUserWithAccount(ctx context.Context, user *domain.User, account *domain.Account, opening *domain.Transaction) error
	GetUserByEmailAndRole(ctx context.Context, email string, role domain.Role) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	ListCustomers(ctx context.Context) ([]domain.User, error)
	GetCustomerWithBalance(ctx context.Context, id string) (*domain.User, decimal.Decimal, error)
}

// LedgerRepository owns balance mutation.
type LedgerRepository interface {
	GetAccountByUserID(ctx context.Context, userID string) (*domain.Account, error)
	// Mutate runs fn against the account row while holding an exclusive
	// per-account lock, persists the returned balance and entry, and
	// commits. Two concurrent calls for the same user serialize; calls
	// for different users do not block each other.
	Mutate(ctx context.Context, userID string, fn MutateFunc) (decimal.Decimal, error)
}

// TransactionRepository reads the append-only ledger log.
type TransactionRepository interface {
	// ListByUserID returns the user's ledger entries newest first, with a
	// deterministic tie-break so repeated reads are identical.
	ListByUserID(ctx context.Context, userID string) ([]domain.Transaction, error)
}
