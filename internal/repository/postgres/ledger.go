package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/IMxSPYDER/banking-system/internal/domain"
	"github.com/IMxSPYDER/banking-system/internal/repository"
)

// GetAccountByUserID loads the account owned by the given user.
func (r *Repository) GetAccountByUserID(ctx context.Context, userID string) (*domain.Account, error) {
	const query = `SELECT id, user_id, balance::text FROM accounts WHERE user_id = $1`
	var (
		account     domain.Account
		balanceText string
	)
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&account.ID, &account.UserID, &balanceText); err != nil {
		return nil, mapError(err)
	}
	balance, err := decimal.NewFromString(balanceText)
	if err != nil {
		return nil, fmt.Errorf("parse stored balance: %w", err)
	}
	account.Balance = balance
	return &account, nil
}

// Mutate executes one ledger atomic unit: it locks the account row,
// applies fn to the current balance, persists the new balance together
// with the returned entry and commits. Any failure on any step rolls the
// whole unit back. The unit runs under the configured deadline so a
// stuck store releases its lock in bounded time.
func (r *Repository) Mutate(ctx context.Context, userID string, fn repository.MutateFunc) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.ledgerTimeout)
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return decimal.Zero, mapError(err)
	}
	defer tx.Rollback(ctx)

	const lockQuery = `SELECT id, balance::text FROM accounts WHERE user_id = $1 FOR UPDATE`
	var (
		accountID   string
		balanceText string
	)
	if err := tx.QueryRow(ctx, lockQuery, userID).Scan(&accountID, &balanceText); err != nil {
		return decimal.Zero, mapError(err)
	}
	balance, err := decimal.NewFromString(balanceText)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse stored balance: %w", err)
	}

	entry, newBalance, err := fn(&domain.Account{ID: accountID, UserID: userID, Balance: balance})
	if err != nil {
		return decimal.Zero, err
	}

	const balanceUpdate = `UPDATE accounts SET balance = $2::numeric WHERE id = $1`
	if _, err := tx.Exec(ctx, balanceUpdate, accountID, newBalance.StringFixed(2)); err != nil {
		return decimal.Zero, mapError(err)
	}
	if entry != nil {
		if err := insertTransaction(ctx, tx, entry); err != nil {
			return decimal.Zero, mapError(err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, mapError(err)
	}
	return newBalance, nil
}

// ListByUserID returns the user's ledger entries newest first. The id
// tie-break keeps repeated reads identical when timestamps collide.
func (r *Repository) ListByUserID(ctx context.Context, userID string) ([]domain.Transaction, error) {
	const query = `SELECT t.id, t.account_id, t.type, t.amount::text, t.created_at
		FROM transactions t
		JOIN accounts a ON t.account_id = a.id
		WHERE a.user_id = $1
		ORDER BY t.created_at DESC, t.id DESC`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	entries := make([]domain.Transaction, 0)
	for rows.Next() {
		var (
			entry      domain.Transaction
			entryType  string
			amountText string
		)
		if err := rows.Scan(&entry.ID, &entry.AccountID, &entryType, &amountText, &entry.CreatedAt); err != nil {
			return nil, err
		}
		amount, err := decimal.NewFromString(amountText)
		if err != nil {
			return nil, fmt.Errorf("parse stored amount: %w", err)
		}
		entry.Type = domain.TransactionType(entryType)
		entry.Amount = amount
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func insertTransaction(ctx context.Context, tx pgx.Tx, entry *domain.Transaction) error {
	const query = `INSERT INTO transactions (id, account_id, type, amount, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5)`
	_, err := tx.Exec(ctx, query, entry.ID, entry.AccountID, string(entry.Type), entry.Amount.StringFixed(2), entry.CreatedAt)
	return err
}
