package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/IMxSPYDER/banking-system/internal/domain"
	"github.com/IMxSPYDER/banking-system/internal/repository"
)

const defaultLedgerTimeout = 5 * time.Second

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool          *pgxpool.Pool
	ledgerTimeout time.Duration
}

// New constructs a Repository. ledgerTimeout bounds how long a ledger
// atomic unit may hold its row lock before it is rolled back.
func New(pool *pgxpool.Pool, ledgerTimeout time.Duration) *Repository {
	if ledgerTimeout <= 0 {
		ledgerTimeout = defaultLedgerTimeout
	}
	return &Repository{pool: pool, ledgerTimeout: ledgerTimeout}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository        = (*Repository)(nil)
	_ repository.LedgerRepository      = (*Repository)(nil)
	_ repository.TransactionRepository = (*Repository)(nil)
)

// CreateUserWithAccount inserts the user, account and opening entry in a
// single transaction so registration either fully applies or not at all.
func (r *Repository) CreateUserWithAccount(ctx context.Context, user *domain.User, account *domain.Account, opening *domain.Transaction) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback(ctx)

	const userInsert = `INSERT INTO users (id, first_name, last_name, age, dob, email, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := tx.Exec(ctx, userInsert,
		user.ID,
		user.FirstName,
		user.LastName,
		user.Age,
		nilTime(user.DOB),
		user.Email,
		user.PasswordHash,
		string(user.Role),
		user.CreatedAt,
	); err != nil {
		return mapError(err)
	}

	if account != nil {
		const accountInsert = `INSERT INTO accounts (id, user_id, balance) VALUES ($1, $2, $3::numeric)`
		if _, err := tx.Exec(ctx, accountInsert, account.ID, account.UserID, account.Balance.StringFixed(2)); err != nil {
			return mapError(err)
		}
	}

	if opening != nil {
		if err := insertTransaction(ctx, tx, opening); err != nil {
			return mapError(err)
		}
	}

	return mapError(tx.Commit(ctx))
}

// GetUserByEmailAndRole fetches a user matching both email and role.
func (r *Repository) GetUserByEmailAndRole(ctx context.Context, email string, role domain.Role) (*domain.User, error) {
	const query = `SELECT id, first_name, last_name, age, dob, email, password_hash, role, created_at
		FROM users WHERE email = $1 AND role = $2`
	return r.scanUser(r.pool.QueryRow(ctx, query, email, string(role)))
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT id, first_name, last_name, age, dob, email, password_hash, role, created_at
		FROM users WHERE id = $1`
	return r.scanUser(r.pool.QueryRow(ctx, query, id))
}

// ListCustomers returns all customer users, newest first.
func (r *Repository) ListCustomers(ctx context.Context) ([]domain.User, error) {
	const query = `SELECT id, first_name, last_name, age, dob, email, created_at
		FROM users WHERE role = 'customer' ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		var (
			u   domain.User
			dob pgtypeDate
		)
		if err := rows.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Age, &dob, &u.Email, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.DOB = dob.value()
		u.Role = domain.RoleCustomer
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetCustomerWithBalance loads a customer and their account balance.
func (r *Repository) GetCustomerWithBalance(ctx context.Context, id string) (*domain.User, decimal.Decimal, error) {
	const query = `SELECT u.id, u.first_name, u.last_name, u.age, u.dob, u.email, u.created_at, COALESCE(a.balance, 0)::text
		FROM users u
		LEFT JOIN accounts a ON a.user_id = u.id
		WHERE u.id = $1 AND u.role = 'customer'`
	var (
		u           domain.User
		dob         pgtypeDate
		balanceText string
	)
	if err := r.pool.QueryRow(ctx, query, id).Scan(&u.ID, &u.FirstName, &u.LastName, &u.Age, &dob, &u.Email, &u.CreatedAt, &balanceText); err != nil {
		return nil, decimal.Zero, mapError(err)
	}
	u.DOB = dob.value()
	u.Role = domain.RoleCustomer
	balance, err := decimal.NewFromString(balanceText)
	if err != nil {
		return nil, decimal.Zero, err
	}
	return &u, balance, nil
}

func (r *Repository) scanUser(row pgx.Row) (*domain.User, error) {
	var (
		u    domain.User
		dob  pgtypeDate
		role string
	)
	if err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Age, &dob, &u.Email, &u.PasswordHash, &role, &u.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	u.DOB = dob.value()
	u.Role = domain.Role(role)
	return &u, nil
}

// pgtypeDate scans a nullable DATE column.
type pgtypeDate struct {
	t     time.Time
	valid bool
}

func (d *pgtypeDate) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		d.valid = false
		return nil
	case time.Time:
		d.t, d.valid = v, true
		return nil
	}
	return errors.New("unsupported date source")
}

func (d pgtypeDate) value() time.Time {
	if !d.valid {
		return time.Time{}
	}
	return d.t
}

func nilTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// mapError translates driver failures into repository sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return repository.ErrDuplicate
		case "23503":
			return repository.ErrNotFound
		}
	}
	return err
}
