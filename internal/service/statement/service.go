package statement

import (
	"context"
	"errors"

	"log/slog"

	"github.com/IMxSPYDER/banking-system/internal/domain"
	"github.com/IMxSPYDER/banking-system/internal/repository"
)

// Service serves read-only projections over the transaction log. Reads
// see committed state only, so no locking is involved.
type Service struct {
	accounts repository.LedgerRepository
	log      repository.TransactionRepository
	logger   *slog.Logger
}

// New constructs a Service.
func New(accounts repository.LedgerRepository, log repository.TransactionRepository, logger *slog.Logger) Service {
	return Service{accounts: accounts, log: log, logger: logger}
}

// ListForUser returns the user's ledger entries newest first. The same
// projection serves the customer's own history and the banker view.
func (s Service) ListForUser(ctx context.Context, userID string) ([]domain.Transaction, error) {
	if _, err := s.accounts.GetAccountByUserID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		s.logger.Error("account lookup failed", "error", err)
		return nil, domain.ErrStorageUnavailable
	}
	entries, err := s.log.ListByUserID(ctx, userID)
	if err != nil {
		s.logger.Error("transaction listing failed", "error", err)
		return nil, domain.ErrStorageUnavailable
	}
	return entries, nil
}
