package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/IMxSPYDER/banking-system/internal/domain"
	"github.com/IMxSPYDER/banking-system/internal/repository"
	"github.com/IMxSPYDER/banking-system/internal/service/identity"
	"github.com/IMxSPYDER/banking-system/internal/service/ledger"
	"github.com/IMxSPYDER/banking-system/internal/service/statement"
	"github.com/IMxSPYDER/banking-system/internal/ws"
	"github.com/IMxSPYDER/banking-system/pkg/config"
)

// memoryStore backs the full repository surface for router tests.
type memoryStore struct {
	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	users    map[string]*domain.User
	accounts map[string]*domain.Account
	entries  []domain.Transaction
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		locks:    make(map[string]*sync.Mutex),
		users:    make(map[string]*domain.User),
		accounts: make(map[string]*domain.Account),
	}
}

func (m *memoryStore) CreateUserWithAccount(ctx context.Context, user *domain.User, account *domain.Account, opening *domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == user.Email {
			return repository.ErrDuplicate
		}
	}
	m.users[user.ID] = user
	if account != nil {
		m.accounts[user.ID] = account
	}
	if opening != nil {
		m.entries = append(m.entries, *opening)
	}
	return nil
}

func (m *memoryStore) GetUserByEmailAndRole(ctx context.Context, email string, role domain.Role) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == email && user.Role == role {
			return user, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memoryStore) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return user, nil
}

func (m *memoryStore) ListCustomers(ctx context.Context) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var customers []domain.User
	for _, user := range m.users {
		if user.Role == domain.RoleCustomer {
			customers = append(customers, *user)
		}
	}
	sort.Slice(customers, func(i, j int) bool {
		return customers[i].CreatedAt.After(customers[j].CreatedAt)
	})
	return customers, nil
}

func (m *memoryStore) GetCustomerWithBalance(ctx context.Context, id string) (*domain.User, decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok || user.Role != domain.RoleCustomer {
		return nil, decimal.Zero, repository.ErrNotFound
	}
	balance := decimal.Zero
	if account, has := m.accounts[id]; has {
		balance = account.Balance
	}
	return user, balance, nil
}

func (m *memoryStore) GetAccountByUserID(ctx context.Context, userID string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *account
	return &copied, nil
}

func (m *memoryStore) Mutate(ctx context.Context, userID string, fn repository.MutateFunc) (decimal.Decimal, error) {
	m.mu.Lock()
	lock, ok := m.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[userID] = lock
	}
	m.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	account, ok := m.accounts[userID]
	m.mu.Unlock()
	if !ok {
		return decimal.Zero, repository.ErrNotFound
	}

	snapshot := *account
	entry, newBalance, err := fn(&snapshot)
	if err != nil {
		return decimal.Zero, err
	}

	m.mu.Lock()
	account.Balance = newBalance
	if entry != nil {
		m.entries = append(m.entries, *entry)
	}
	m.mu.Unlock()
	return newBalance, nil
}

func (m *memoryStore) ListByUserID(ctx context.Context, userID string) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[userID]
	if !ok {
		return nil, nil
	}
	var out []domain.Transaction
	for _, entry := range m.entries {
		if entry.AccountID == account.ID {
			out = append(out, entry)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func newTestRouter(t *testing.T) (*Router, identity.Service) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.APIConfig{JWTSecret: "router-test-secret", TokenTTL: time.Hour}
	store := newMemoryStore()
	hub := ws.NewHub()

	identitySvc := identity.New(store, log, cfg)
	ledgerSvc := ledger.New(store, hub, log)
	statementSvc := statement.New(store, store, log)

	router := NewRouter(log, identitySvc, ledgerSvc, statementSvc, hub, NewMemoryRateLimiter(), nil)
	t.Cleanup(router.Close)
	return router, identitySvc
}

func doJSON(t *testing.T, router *Router, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func registerCustomer(t *testing.T, router *Router, email, initialAmount string) {
	t.Helper()
	resp := doJSON(t, router, http.MethodPost, "/register", "", map[string]any{
		"firstName":     "Grace",
		"lastName":      "Hopper",
		"age":           40,
		"dob":           "1986-12-09",
		"email":         email,
		"password":      "pa55word",
		"initialAmount": initialAmount,
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("register returned %d: %s", resp.Code, resp.Body.String())
	}
}

func loginAs(t *testing.T, router *Router, email, password, role string) string {
	t.Helper()
	resp := doJSON(t, router, http.MethodPost, "/login", "", map[string]any{
		"email":    email,
		"password": password,
		"role":     role,
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("login returned %d: %s", resp.Code, resp.Body.String())
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if payload.Token == "" {
		t.Fatalf("login returned empty token")
	}
	return payload.Token
}

func TestRegisterLoginDepositFlow(t *testing.T) {
	router, _ := newTestRouter(t)
	registerCustomer(t, router, "grace@example.com", "100.00")
	token := loginAs(t, router, "grace@example.com", "pa55word", "customer")

	resp := doJSON(t, router, http.MethodPost, "/customer/deposit", token, map[string]any{"amount": "49.50"})
	if resp.Code != http.StatusOK {
		t.Fatalf("deposit returned %d: %s", resp.Code, resp.Body.String())
	}
	var deposit struct {
		Success    bool   `json:"success"`
		NewBalance string `json:"newBalance"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &deposit); err != nil {
		t.Fatalf("decode deposit response: %v", err)
	}
	if !deposit.Success || deposit.NewBalance != "149.50" {
		t.Fatalf("unexpected deposit response: %+v", deposit)
	}

	resp = doJSON(t, router, http.MethodGet, "/customer/balance", token, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("balance returned %d: %s", resp.Code, resp.Body.String())
	}
	var balance struct {
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &balance); err != nil {
		t.Fatalf("decode balance response: %v", err)
	}
	if balance.Balance != "149.50" {
		t.Fatalf("expected balance 149.50, got %s", balance.Balance)
	}

	resp = doJSON(t, router, http.MethodGet, "/customer/transactions", token, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("transactions returned %d: %s", resp.Code, resp.Body.String())
	}
	var entries []struct {
		Type   string `json:"type"`
		Amount string `json:"amount"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode transactions: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected opening deposit plus one deposit, got %d entries", len(entries))
	}
}

func TestRegisterDuplicateEmailRejected(t *testing.T) {
	router, _ := newTestRouter(t)
	registerCustomer(t, router, "dup@example.com", "0")

	resp := doJSON(t, router, http.MethodPost, "/register", "", map[string]any{
		"firstName":     "Grace",
		"lastName":      "Hopper",
		"age":           40,
		"dob":           "1986-12-09",
		"email":         "dup@example.com",
		"password":      "pa55word",
		"initialAmount": "0",
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on duplicate email, got %d", resp.Code)
	}
}

func TestWithdrawInsufficientFunds(t *testing.T) {
	router, _ := newTestRouter(t)
	registerCustomer(t, router, "poor@example.com", "50.00")
	token := loginAs(t, router, "poor@example.com", "pa55word", "customer")

	resp := doJSON(t, router, http.MethodPost, "/customer/withdraw", token, map[string]any{"amount": "80"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = doJSON(t, router, http.MethodGet, "/customer/balance", token, nil)
	var balance struct {
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &balance); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if balance.Balance != "50.00" {
		t.Fatalf("balance changed after rejected withdrawal: %s", balance.Balance)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	router, _ := newTestRouter(t)
	for _, path := range []string{"/customer/balance", "/customer/transactions", "/banker/customers"} {
		resp := doJSON(t, router, http.MethodGet, path, "", nil)
		if resp.Code != http.StatusUnauthorized {
			t.Fatalf("%s without token: expected 401, got %d", path, resp.Code)
		}
	}
}

func TestRoleSeparation(t *testing.T) {
	router, identitySvc := newTestRouter(t)
	registerCustomer(t, router, "cust@example.com", "10")
	if err := identitySvc.EnsureBanker(context.Background(), "banker@bank.test", "branch-pass"); err != nil {
		t.Fatalf("provision banker: %v", err)
	}

	customerToken := loginAs(t, router, "cust@example.com", "pa55word", "customer")
	bankerToken := loginAs(t, router, "banker@bank.test", "branch-pass", "banker")

	if resp := doJSON(t, router, http.MethodGet, "/banker/customers", customerToken, nil); resp.Code != http.StatusForbidden {
		t.Fatalf("customer on banker route: expected 403, got %d", resp.Code)
	}
	if resp := doJSON(t, router, http.MethodGet, "/customer/balance", bankerToken, nil); resp.Code != http.StatusForbidden {
		t.Fatalf("banker on customer route: expected 403, got %d", resp.Code)
	}

	resp := doJSON(t, router, http.MethodGet, "/banker/customers", bankerToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("banker listing returned %d: %s", resp.Code, resp.Body.String())
	}
	var customers []map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &customers); err != nil {
		t.Fatalf("decode customers: %v", err)
	}
	if len(customers) != 1 {
		t.Fatalf("expected one customer, got %d", len(customers))
	}
	id, _ := customers[0]["id"].(string)
	if id == "" {
		t.Fatalf("customer summary missing id")
	}

	resp = doJSON(t, router, http.MethodGet, "/banker/customers/"+id, bankerToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("customer detail returned %d: %s", resp.Code, resp.Body.String())
	}
	var detail map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if detail["balance"] != "10.00" {
		t.Fatalf("expected balance 10.00, got %v", detail["balance"])
	}

	resp = doJSON(t, router, http.MethodGet, "/banker/customers/"+id+"/transactions", bankerToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("customer transactions returned %d: %s", resp.Code, resp.Body.String())
	}
}

func TestLoginFailures(t *testing.T) {
	router, _ := newTestRouter(t)
	registerCustomer(t, router, "eve@example.com", "0")

	resp := doJSON(t, router, http.MethodPost, "/login", "", map[string]any{
		"email":    "eve@example.com",
		"password": "wrong",
		"role":     "customer",
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("wrong password: expected 400, got %d", resp.Code)
	}

	resp = doJSON(t, router, http.MethodPost, "/login", "", map[string]any{
		"email":    "eve@example.com",
		"password": "pa55word",
		"role":     "superuser",
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("unknown role: expected 400, got %d", resp.Code)
	}
}

func TestRegisterRateLimit(t *testing.T) {
	router, _ := newTestRouter(t)
	var lastCode int
	for i := 0; i < rateLimitRegister+1; i++ {
		resp := doJSON(t, router, http.MethodPost, "/register", "", map[string]any{
			"firstName":     "Grace",
			"lastName":      "Hopper",
			"age":           40,
			"dob":           "1986-12-09",
			"email":         fmt.Sprintf("user%d@example.com", i),
			"password":      "pa55word",
			"initialAmount": "0",
		})
		lastCode = resp.Code
	}
	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after exhausting the window, got %d", lastCode)
	}
}
