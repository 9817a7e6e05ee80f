package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/IMxSPYDER/banking-system/internal/domain"
	"github.com/IMxSPYDER/banking-system/internal/repository"
	"github.com/IMxSPYDER/banking-system/internal/ws"
)

// Service is the sole owner of balance mutation. Every operation runs as
// one atomic unit against the backing store: balance update and log
// append commit together or not at all.
type Service struct {
	ledger repository.LedgerRepository
	hub    *ws.Hub
	logger *slog.Logger
}

// New constructs a Service. hub may be nil when no live stream is wired.
func New(ledger repository.LedgerRepository, hub *ws.Hub, logger *slog.Logger) Service {
	return Service{ledger: ledger, hub: hub, logger: logger}
}

// Event is the payload streamed to live subscribers after a commit.
type Event struct {
	UserID     string          `json:"userId"`
	EntryID    string          `json:"id"`
	Type       string          `json:"type"`
	Amount     decimal.Decimal `json:"amount"`
	NewBalance decimal.Decimal `json:"newBalance"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Deposit credits amount to the user's account and returns the balance
// after the credit.
func (s Service) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := validateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	var entry *domain.Transaction
	newBalance, err := s.ledger.Mutate(ctx, userID, func(account *domain.Account) (*domain.Transaction, decimal.Decimal, error) {
		entry = newEntry(account.ID, domain.TransactionDeposit, amount)
		return entry, account.Balance.Add(amount), nil
	})
	if err != nil {
		return decimal.Zero, s.mapError(err)
	}
	s.logger.Info("deposit committed", "user_id", userID, "amount", amount.StringFixed(2))
	s.publish(userID, entry, newBalance)
	return newBalance, nil
}

// Withdraw debits amount from the user's account. The funds check runs
// under the same lock as the update, so two concurrent withdrawals can
// never both pass against a stale balance.
func (s Service) Withdraw(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := validateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	var entry *domain.Transaction
	newBalance, err := s.ledger.Mutate(ctx, userID, func(account *domain.Account) (*domain.Transaction, decimal.Decimal, error) {
		if amount.GreaterThan(account.Balance) {
			return nil, decimal.Zero, domain.ErrInsufficientFunds
		}
		entry = newEntry(account.ID, domain.TransactionWithdraw, amount)
		return entry, account.Balance.Sub(amount), nil
	})
	if err != nil {
		return decimal.Zero, s.mapError(err)
	}
	s.logger.Info("withdrawal committed", "user_id", userID, "amount", amount.StringFixed(2))
	s.publish(userID, entry, newBalance)
	return newBalance, nil
}

// Balance returns the committed balance of the user's account.
func (s Service) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	account, err := s.ledger.GetAccountByUserID(ctx, userID)
	if err != nil {
		return decimal.Zero, s.mapError(err)
	}
	return account.Balance, nil
}

// Opening builds the account row and opening deposit entry for a new
// customer. The caller persists both together with the user record so
// registration remains one atomic unit. A zero initial deposit yields no
// opening entry, keeping the log consistent with the balance.
func Opening(userID string, initialDeposit decimal.Decimal) (*domain.Account, *domain.Transaction, error) {
	if initialDeposit.IsNegative() || !initialDeposit.Equal(initialDeposit.Truncate(2)) {
		return nil, nil, domain.ErrInvalidAmount
	}
	account := &domain.Account{ID: uuid.NewString(), UserID: userID, Balance: initialDeposit}
	if !initialDeposit.IsPositive() {
		return account, nil, nil
	}
	return account, newEntry(account.ID, domain.TransactionDeposit, initialDeposit), nil
}

func newEntry(accountID string, entryType domain.TransactionType, amount decimal.Decimal) *domain.Transaction {
	return &domain.Transaction{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Type:      entryType,
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	}
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() || !amount.Equal(amount.Truncate(2)) {
		return domain.ErrInvalidAmount
	}
	return nil
}

func (s Service) mapError(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return domain.ErrAccountNotFound
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrInvalidAmount):
		return err
	default:
		s.logger.Error("ledger unit failed", "error", err)
		return domain.ErrStorageUnavailable
	}
}

func (s Service) publish(userID string, entry *domain.Transaction, newBalance decimal.Decimal) {
	if s.hub == nil || entry == nil {
		return
	}
	payload, err := json.Marshal(Event{
		UserID:     userID,
		EntryID:    entry.ID,
		Type:       string(entry.Type),
		Amount:     entry.Amount,
		NewBalance: newBalance,
		CreatedAt:  entry.CreatedAt,
	})
	if err != nil {
		return
	}
	s.hub.Broadcast(userID, payload)
}
