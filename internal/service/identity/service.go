package identity

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/IMxSPYDER/banking-system/internal/domain"
	"github.com/IMxSPYDER/banking-system/internal/repository"
	"github.com/IMxSPYDER/banking-system/internal/service/ledger"
	"github.com/IMxSPYDER/banking-system/pkg/config"
	"github.com/IMxSPYDER/banking-system/pkg/crypto"
	jwtpkg "github.com/IMxSPYDER/banking-system/pkg/jwt"
)

// Service owns identity records: registration, credential checks and
// bearer token resolution.
type Service struct {
	users  repository.UserRepository
	logger *slog.Logger
	cfg    config.APIConfig
}

// New constructs a Service.
func New(users repository.UserRepository, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{users: users, logger: logger, cfg: cfg}
}

// RegisterInput carries the registration form fields.
type RegisterInput struct {
	FirstName      string
	LastName       string
	Age            int
	DOB            string
	Email          string
	Password       string
	InitialDeposit decimal.Decimal
}

var (
	nameRegexp  = regexp.MustCompile(`^[a-zA-Z][a-zA-Z\s'-]*$`)
	emailRegexp = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

const dobLayout = "2006-01-02"

// Register creates a customer together with their account and, for a
// positive initial deposit, the opening ledger entry — all in one atomic
// unit. A failure on any step leaves no partial state behind.
func (s Service) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	user, err := buildCustomer(input)
	if err != nil {
		return nil, err
	}
	account, opening, err := ledger.Opening(user.ID, input.InitialDeposit)
	if err != nil {
		return nil, domain.ErrInvalidInput
	}
	if err := s.users.CreateUserWithAccount(ctx, user, account, opening); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, domain.ErrDuplicateEmail
		}
		s.logger.Error("registration failed", "error", err)
		return nil, domain.ErrStorageUnavailable
	}
	s.logger.Info("customer registered", "user_id", user.ID)
	return user, nil
}

// Authenticate verifies email+password for the requested role and issues
// a signed bearer token. Every account goes through hash verification;
// there is no bypass for any fixed address.
func (s Service) Authenticate(ctx context.Context, email, password string, role domain.Role) (*domain.User, string, error) {
	user, err := s.users.GetUserByEmailAndRole(ctx, normalizeEmail(email), role)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, "", domain.ErrInvalidCredentials
		}
		s.logger.Error("credential lookup failed", "error", err)
		return nil, "", domain.ErrStorageUnavailable
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, "", domain.ErrInvalidCredentials
	}
	token, err := jwtpkg.GenerateToken(user.ID, string(user.Role), s.cfg.JWTSecret, s.cfg.TokenTTL)
	if err != nil {
		return nil, "", err
	}
	s.logger.Info("user logged in", "user_id", user.ID, "role", user.Role)
	return user, token, nil
}

// Authorize resolves a bearer token to a live user and its claims.
func (s Service) Authorize(ctx context.Context, token string) (*domain.User, *jwtpkg.Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, nil, errors.New("token required")
	}
	claims, err := jwtpkg.Parse(trimmed, s.cfg.JWTSecret)
	if err != nil {
		return nil, nil, err
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, nil, err
	}
	if string(user.Role) != claims.Role {
		return nil, nil, errors.New("role claim does not match stored role")
	}
	return user, claims, nil
}

// ListCustomers returns all customer summaries for the banker view.
func (s Service) ListCustomers(ctx context.Context) ([]domain.User, error) {
	users, err := s.users.ListCustomers(ctx)
	if err != nil {
		s.logger.Error("customer listing failed", "error", err)
		return nil, domain.ErrStorageUnavailable
	}
	return users, nil
}

// GetCustomer loads one customer and their balance for the banker view.
func (s Service) GetCustomer(ctx context.Context, id string) (*domain.User, decimal.Decimal, error) {
	user, balance, err := s.users.GetCustomerWithBalance(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, decimal.Zero, domain.ErrCustomerNotFound
		}
		s.logger.Error("customer lookup failed", "error", err)
		return nil, decimal.Zero, domain.ErrStorageUnavailable
	}
	return user, balance, nil
}

// EnsureBanker provisions the configured banker identity on first boot.
// Bankers hold no ledger account and log in through the same hashed
// password verification as everyone else.
func (s Service) EnsureBanker(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil
	}
	if _, err := s.users.GetUserByEmailAndRole(ctx, email, domain.RoleBanker); err == nil {
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return err
	}
	banker := &domain.User{
		ID:           uuid.NewString(),
		FirstName:    "Branch",
		LastName:     "Manager",
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleBanker,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUserWithAccount(ctx, banker, nil, nil); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil
		}
		return err
	}
	s.logger.Info("banker provisioned", "user_id", banker.ID)
	return nil
}

func buildCustomer(input RegisterInput) (*domain.User, error) {
	firstName := strings.TrimSpace(input.FirstName)
	lastName := strings.TrimSpace(input.LastName)
	email := normalizeEmail(input.Email)

	if !nameRegexp.MatchString(firstName) || !nameRegexp.MatchString(lastName) {
		return nil, domain.ErrInvalidInput
	}
	if !emailRegexp.MatchString(email) {
		return nil, domain.ErrInvalidInput
	}
	if input.Age <= 0 || input.Age > 150 {
		return nil, domain.ErrInvalidInput
	}
	dob, err := time.Parse(dobLayout, strings.TrimSpace(input.DOB))
	if err != nil {
		return nil, domain.ErrInvalidInput
	}
	if input.Password == "" {
		return nil, domain.ErrInvalidInput
	}
	hash, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}
	return &domain.User{
		ID:           uuid.NewString(),
		FirstName:    firstName,
		LastName:     lastName,
		Age:          input.Age,
		DOB:          dob,
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleCustomer,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
