package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Gateway  GatewayConfig
	Payroll  PayrollConfig
	Billing  BillingConfig
	Exports  ExportsConfig
	Workers  WorkersConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// GatewayConfig configures the external payment gateway integration.
type GatewayConfig struct {
	BaseURL        string
	APIKey         string
	CallbackToken  string
	InvoiceExpiry  time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
	RequestTimeout time.Duration
}

// RoundingPolicy controls how summed credit units are converted to billable units.
type RoundingPolicy string

const (
	RoundHalfUp RoundingPolicy = "half-up"
	RoundFloor  RoundingPolicy = "floor"
	RoundCeil   RoundingPolicy = "ceil"
)

// PayrollConfig configures salary computation.
type PayrollConfig struct {
	DefaultRatePerUnit int64
	Rounding           RoundingPolicy
	BillPartialUnits   bool
}

// BillingConfig configures tuition billing period generation.
type BillingConfig struct {
	Currency        string
	DueDay          int
	SummaryCacheTTL time.Duration
}

// ExportsConfig controls export storage & signed downloads.
type ExportsConfig struct {
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
	CleanupInterval time.Duration
}

// WorkersConfig tunes background submission workers.
type WorkersConfig struct {
	DisbursementConcurrency int
	DisbursementRetries     int
	RetryDelay              time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Gateway = GatewayConfig{
		BaseURL:        v.GetString("GATEWAY_BASE_URL"),
		APIKey:         v.GetString("GATEWAY_API_KEY"),
		CallbackToken:  v.GetString("GATEWAY_CALLBACK_TOKEN"),
		InvoiceExpiry:  parseDuration(v.GetString("GATEWAY_INVOICE_EXPIRY"), 24*time.Hour),
		MaxRetries:     v.GetInt("GATEWAY_MAX_RETRIES"),
		RetryBackoff:   parseDuration(v.GetString("GATEWAY_RETRY_BACKOFF"), time.Second),
		RequestTimeout: parseDuration(v.GetString("GATEWAY_REQUEST_TIMEOUT"), 30*time.Second),
	}

	rounding := RoundingPolicy(strings.ToLower(v.GetString("PAYROLL_ROUNDING")))
	switch rounding {
	case RoundHalfUp, RoundFloor, RoundCeil:
	default:
		rounding = RoundHalfUp
	}
	cfg.Payroll = PayrollConfig{
		DefaultRatePerUnit: v.GetInt64("PAYROLL_DEFAULT_RATE_PER_UNIT"),
		Rounding:           rounding,
		BillPartialUnits:   v.GetBool("PAYROLL_BILL_PARTIAL_UNITS"),
	}

	cfg.Billing = BillingConfig{
		Currency:        v.GetString("BILLING_CURRENCY"),
		DueDay:          v.GetInt("BILLING_DUE_DAY"),
		SummaryCacheTTL: parseDuration(v.GetString("BILLING_SUMMARY_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Exports = ExportsConfig{
		StorageDir:      v.GetString("EXPORTS_STORAGE_DIR"),
		SignedURLSecret: v.GetString("EXPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("EXPORTS_SIGNED_URL_TTL"), 24*time.Hour),
		CleanupInterval: parseDuration(v.GetString("EXPORTS_CLEANUP_INTERVAL"), time.Hour),
	}

	cfg.Workers = WorkersConfig{
		DisbursementConcurrency: v.GetInt("DISBURSEMENT_WORKER_CONCURRENCY"),
		DisbursementRetries:     v.GetInt("DISBURSEMENT_WORKER_RETRIES"),
		RetryDelay:              parseDuration(v.GetString("DISBURSEMENT_WORKER_RETRY_DELAY"), 5*time.Second),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "bimbel_adp")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("GATEWAY_BASE_URL", "https://gateway.localhost")
	v.SetDefault("GATEWAY_API_KEY", "dev_gateway_key")
	v.SetDefault("GATEWAY_CALLBACK_TOKEN", "dev_callback_token")
	v.SetDefault("GATEWAY_INVOICE_EXPIRY", "24h")
	v.SetDefault("GATEWAY_MAX_RETRIES", 3)
	v.SetDefault("GATEWAY_RETRY_BACKOFF", "1s")
	v.SetDefault("GATEWAY_REQUEST_TIMEOUT", "30s")

	v.SetDefault("PAYROLL_DEFAULT_RATE_PER_UNIT", 50000)
	v.SetDefault("PAYROLL_ROUNDING", "half-up")
	v.SetDefault("PAYROLL_BILL_PARTIAL_UNITS", true)

	v.SetDefault("BILLING_CURRENCY", "IDR")
	v.SetDefault("BILLING_DUE_DAY", 10)
	v.SetDefault("BILLING_SUMMARY_CACHE_TTL", "5m")

	v.SetDefault("EXPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("EXPORTS_SIGNED_URL_SECRET", "dev_exports_secret")
	v.SetDefault("EXPORTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("EXPORTS_CLEANUP_INTERVAL", "1h")

	v.SetDefault("DISBURSEMENT_WORKER_CONCURRENCY", 2)
	v.SetDefault("DISBURSEMENT_WORKER_RETRIES", 3)
	v.SetDefault("DISBURSEMENT_WORKER_RETRY_DELAY", "5s")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
