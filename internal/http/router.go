package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/IMxSPYDER/banking-system/internal/domain"
	"github.com/IMxSPYDER/banking-system/internal/service/identity"
	"github.com/IMxSPYDER/banking-system/internal/service/ledger"
	"github.com/IMxSPYDER/banking-system/internal/service/statement"
	"github.com/IMxSPYDER/banking-system/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	identity  identity.Service
	ledger    ledger.Service
	statement statement.Service
	hub       *ws.Hub
	upgrader  websocket.Upgrader
	limiter   RateLimiter
	dbHealth  func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateLimitRegister  = 5
	rateLimitLogin     = 12
	rateLimitUserWrite = 60
	rateLimitUserRead  = 120
	healthCheckTimeout = 2 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, identitySvc identity.Service, ledgerSvc ledger.Service, statementSvc statement.Service, hub *ws.Hub, limiter RateLimiter, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		logger:    logger,
		identity:  identitySvc,
		ledger:    ledgerSvc,
		statement: statementSvc,
		hub:       hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		dbHealth: dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.HandleFunc("/register", r.audit("/register", r.withRateLimit("/register", rateLimitRegister, rateWindowDefault, rateLimitKeyIP, r.handleRegister)))
	r.mux.HandleFunc("/login", r.audit("/login", r.withRateLimit("/login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/customer/balance", r.audit("/customer/balance", r.handlerRoleRate(domain.RoleCustomer, "/customer/balance", rateLimitUserRead, rateWindowDefault, r.handleCustomerBalance)))
	r.mux.HandleFunc("/customer/transactions", r.audit("/customer/transactions", r.handlerRoleRate(domain.RoleCustomer, "/customer/transactions", rateLimitUserRead, rateWindowDefault, r.handleCustomerTransactions)))
	r.mux.HandleFunc("/customer/deposit", r.audit("/customer/deposit", r.handlerRoleRate(domain.RoleCustomer, "/customer/deposit", rateLimitUserWrite, rateWindowDefault, r.handleCustomerDeposit)))
	r.mux.HandleFunc("/customer/withdraw", r.audit("/customer/withdraw", r.handlerRoleRate(domain.RoleCustomer, "/customer/withdraw", rateLimitUserWrite, rateWindowDefault, r.handleCustomerWithdraw)))
	r.mux.HandleFunc("/banker/customers", r.audit("/banker/customers", r.handlerRoleRate(domain.RoleBanker, "/banker/customers", rateLimitUserRead, rateWindowDefault, r.handleBankerCustomers)))
	r.mux.HandleFunc("/banker/customers/", r.audit("/banker/customers/", r.handlerRoleRate(domain.RoleBanker, "/banker/customers/", rateLimitUserRead, rateWindowDefault, r.handleBankerCustomerSubroutes)))
}

func (r *Router) handleRegister(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		FirstName     string          `json:"firstName"`
		LastName      string          `json:"lastName"`
		Age           json.Number     `json:"age"`
		DOB           string          `json:"dob"`
		Email         string          `json:"email"`
		Password      string          `json:"password"`
		InitialAmount decimal.Decimal `json:"initialAmount"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	age, err := payload.Age.Int64()
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrInvalidInput.Error())
		return
	}
	_, err = r.identity.Register(req.Context(), identity.RegisterInput{
		FirstName:      payload.FirstName,
		LastName:       payload.LastName,
		Age:            int(age),
		DOB:            payload.DOB,
		Email:          payload.Email,
		Password:       payload.Password,
		InitialDeposit: payload.InitialAmount,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.Role == "" {
		payload.Role = string(domain.RoleCustomer)
	}
	role, ok := domain.ParseRole(payload.Role)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown role")
		return
	}
	user, token, err := r.identity.Authenticate(req.Context(), payload.Email, payload.Password, role)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user": map[string]any{
			"id":        user.ID,
			"firstName": user.FirstName,
			"lastName":  user.LastName,
			"email":     user.Email,
			"role":      user.Role,
		},
	})
}

func (r *Router) handleCustomerBalance(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	balance, err := r.ledger.Balance(req.Context(), info.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": balance.StringFixed(2)})
}

func (r *Router) handleCustomerTransactions(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	entries, err := r.statement.ListForUser(req.Context(), info.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionPayloads(entries))
}

func (r *Router) handleCustomerDeposit(w http.ResponseWriter, req *http.Request) {
	r.handleLedgerMutation(w, req, r.ledger.Deposit)
}

func (r *Router) handleCustomerWithdraw(w http.ResponseWriter, req *http.Request) {
	r.handleLedgerMutation(w, req, r.ledger.Withdraw)
}

func (r *Router) handleLedgerMutation(w http.ResponseWriter, req *http.Request, mutate func(context.Context, string, decimal.Decimal) (decimal.Decimal, error)) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	var payload struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrInvalidAmount.Error())
		return
	}
	newBalance, err := mutate(req.Context(), info.UserID, payload.Amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"newBalance": newBalance.StringFixed(2),
	})
}

func (r *Router) handleBankerCustomers(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	customers, err := r.identity.ListCustomers(req.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	payload := make([]map[string]any, 0, len(customers))
	for i := range customers {
		payload = append(payload, customerSummary(&customers[i]))
	}
	writeJSON(w, http.StatusOK, payload)
}

func (r *Router) handleBankerCustomerSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/banker/customers/")
	parts := strings.Split(trimmed, "/")
	customerID := parts[0]
	if customerID == "" {
		r.notFound(w)
		return
	}
	switch {
	case len(parts) == 1:
		r.handleBankerCustomerDetail(w, req, customerID)
	case len(parts) == 2 && parts[1] == "transactions":
		r.handleBankerCustomerTransactions(w, req, customerID)
	case len(parts) == 2 && parts[1] == "live":
		r.handleBankerCustomerLive(w, req, customerID)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleBankerCustomerDetail(w http.ResponseWriter, req *http.Request, customerID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	user, balance, err := r.identity.GetCustomer(req.Context(), customerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	payload := customerSummary(user)
	payload["balance"] = balance.StringFixed(2)
	writeJSON(w, http.StatusOK, payload)
}

func (r *Router) handleBankerCustomerTransactions(w http.ResponseWriter, req *http.Request, customerID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	entries, err := r.statement.ListForUser(req.Context(), customerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionPayloads(entries))
}

// handleBankerCustomerLive streams committed ledger entries for one
// account over a websocket until the peer disconnects.
func (r *Router) handleBankerCustomerLive(w http.ResponseWriter, req *http.Request, customerID string) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(customerID, client)
	go func() {
		defer func() {
			r.hub.Unregister(customerID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func customerSummary(user *domain.User) map[string]any {
	dob := ""
	if !user.DOB.IsZero() {
		dob = user.DOB.Format("2006-01-02")
	}
	return map[string]any{
		"id":        user.ID,
		"firstName": user.FirstName,
		"lastName":  user.LastName,
		"age":       user.Age,
		"dob":       dob,
		"email":     user.Email,
		"role":      user.Role,
		"createdAt": user.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type transactionPayload struct {
	ID        string `json:"id"`
	AccountID string `json:"accountId"`
	Type      string `json:"type"`
	Amount    string `json:"amount"`
	CreatedAt string `json:"createdAt"`
}

func transactionPayloads(entries []domain.Transaction) []transactionPayload {
	payload := make([]transactionPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, transactionPayload{
			ID:        entry.ID,
			AccountID: entry.AccountID,
			Type:      string(entry.Type),
			Amount:    entry.Amount.StringFixed(2),
			CreatedAt: entry.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return payload
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = string(info.Role)
			fields = append(fields, "user_id", info.UserID)
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) missingAuthContext(w http.ResponseWriter, req *http.Request) {
	r.logger.Error("auth context missing", "path", req.URL.Path)
	writeError(w, http.StatusInternalServerError, "authorization context missing")
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
