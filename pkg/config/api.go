package config

import "time"

// APIConfig holds runtime configuration for the banking API service.
type APIConfig struct {
	Environment        string
	Addr               string
	DatabaseURL        string
	MigrationsDir      string
	JWTSecret          string
	TokenTTL           time.Duration
	LedgerTimeout      time.Duration
	BankerEmail        string
	BankerPassword     string
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":3000"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://banking:banking@db:5432/banking?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "./db/migrations"),
		JWTSecret:          GetString("JWT_SECRET", "enpointe-banking-system"),
		TokenTTL:           time.Duration(GetInt("TOKEN_TTL_HOURS", 24)) * time.Hour,
		LedgerTimeout:      time.Duration(GetInt("LEDGER_TIMEOUT_SECONDS", 5)) * time.Second,
		BankerEmail:        GetString("BANKER_EMAIL", ""),
		BankerPassword:     GetString("BANKER_PASSWORD", ""),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
