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

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Scheduling SchedulingConfig
	Wallet     WalletConfig
	Payment    PaymentConfig
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
	// ConnMaxLifetime recycles pooled connections; ConnectTimeout bounds dialing and the startup ping.
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// JWTConfig holds the parameters used to verify bearer tokens issued by the identity service.
type JWTConfig struct {
	Secret string
	Issuer string
	Leeway time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SchedulingConfig governs availability queries and reservation generation.
type SchedulingConfig struct {
	SessionDurationMinutes int
	MaxRangeDays           int
	CacheEnabled           bool
	CacheTTL               time.Duration
}

// WalletConfig controls fee splitting and ledger maintenance.
type WalletConfig struct {
	PlatformFeePercent float64
	CapSessionOverrun  bool
	ReconcileEnabled   bool
	ReconcileCron      string
	CreditWorkers      int
	CreditRetries      int
	CreditRetryDelay   time.Duration
	// The settlement sweep credits completed reservations whose queued credit never ran.
	SweepEnabled  bool
	SweepCron     string
	SweepGrace    time.Duration
	SweepLookback time.Duration
	// DrainTimeout bounds how long shutdown waits for queued credits.
	DrainTimeout time.Duration
}

// PaymentConfig points at the external checkout provider.
type PaymentConfig struct {
	BaseURL       string
	APIKey        string
	ReturnURL     string
	WebhookSecret string
	Currency      string
	Timeout       time.Duration
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
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:            v.GetString("DB_HOST"),
		Port:            v.GetInt("DB_PORT"),
		User:            v.GetString("DB_USER"),
		Password:        v.GetString("DB_PASSWORD"),
		Name:            v.GetString("DB_NAME"),
		SSLMode:         v.GetString("DB_SSL_MODE"),
		MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
		ConnMaxLifetime: parseDuration(v.GetString("DB_CONN_MAX_LIFETIME"), time.Hour),
		ConnectTimeout:  parseDuration(v.GetString("DB_CONNECT_TIMEOUT"), 5*time.Second),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
		PoolSize: v.GetInt("REDIS_POOL_SIZE"),
		Timeout:  parseDuration(v.GetString("REDIS_TIMEOUT"), 500*time.Millisecond),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
		Leeway: parseDuration(v.GetString("JWT_LEEWAY"), 30*time.Second),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Scheduling = SchedulingConfig{
		SessionDurationMinutes: v.GetInt("SESSION_DURATION_MINUTES"),
		MaxRangeDays:           v.GetInt("AVAILABILITY_MAX_RANGE_DAYS"),
		CacheEnabled:           v.GetBool("ENABLE_AVAILABILITY_CACHE"),
		CacheTTL:               parseDuration(v.GetString("AVAILABILITY_CACHE_TTL"), 2*time.Minute),
	}

	cfg.Wallet = WalletConfig{
		PlatformFeePercent: v.GetFloat64("PLATFORM_FEE_PERCENT"),
		CapSessionOverrun:  v.GetBool("WALLET_CAP_SESSION_OVERRUN"),
		ReconcileEnabled:   v.GetBool("ENABLE_RECONCILE_JOB"),
		ReconcileCron:      v.GetString("RECONCILE_CRON"),
		CreditWorkers:      v.GetInt("WALLET_CREDIT_WORKERS"),
		CreditRetries:      v.GetInt("WALLET_CREDIT_RETRIES"),
		CreditRetryDelay:   parseDuration(v.GetString("WALLET_CREDIT_RETRY_DELAY"), 5*time.Second),
		SweepEnabled:       v.GetBool("ENABLE_SETTLEMENT_SWEEP"),
		SweepCron:          v.GetString("SETTLEMENT_SWEEP_CRON"),
		SweepGrace:         parseDuration(v.GetString("SETTLEMENT_SWEEP_GRACE"), 5*time.Minute),
		SweepLookback:      parseDuration(v.GetString("SETTLEMENT_SWEEP_LOOKBACK"), 7*24*time.Hour),
		DrainTimeout:       parseDuration(v.GetString("WALLET_CREDIT_DRAIN_TIMEOUT"), 30*time.Second),
	}

	cfg.Payment = PaymentConfig{
		BaseURL:       v.GetString("PAYMENT_BASE_URL"),
		APIKey:        v.GetString("PAYMENT_API_KEY"),
		ReturnURL:     v.GetString("PAYMENT_RETURN_URL"),
		WebhookSecret: v.GetString("PAYMENT_WEBHOOK_SECRET"),
		Currency:      v.GetString("PAYMENT_CURRENCY"),
		Timeout:       parseDuration(v.GetString("PAYMENT_TIMEOUT"), 10*time.Second),
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
	v.SetDefault("DB_NAME", "tutor_core")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DB_CONNECT_TIMEOUT", "5s")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 10)
	v.SetDefault("REDIS_TIMEOUT", "500ms")

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_LEEWAY", "30s")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SESSION_DURATION_MINUTES", 60)
	v.SetDefault("AVAILABILITY_MAX_RANGE_DAYS", 92)
	v.SetDefault("ENABLE_AVAILABILITY_CACHE", false)
	v.SetDefault("AVAILABILITY_CACHE_TTL", "2m")

	v.SetDefault("PLATFORM_FEE_PERCENT", 20)
	v.SetDefault("WALLET_CAP_SESSION_OVERRUN", true)
	v.SetDefault("ENABLE_RECONCILE_JOB", true)
	v.SetDefault("RECONCILE_CRON", "@every 1h")
	v.SetDefault("WALLET_CREDIT_WORKERS", 2)
	v.SetDefault("WALLET_CREDIT_RETRIES", 3)
	v.SetDefault("WALLET_CREDIT_RETRY_DELAY", "5s")
	v.SetDefault("ENABLE_SETTLEMENT_SWEEP", true)
	v.SetDefault("SETTLEMENT_SWEEP_CRON", "@every 15m")
	v.SetDefault("SETTLEMENT_SWEEP_GRACE", "5m")
	v.SetDefault("SETTLEMENT_SWEEP_LOOKBACK", "168h")
	v.SetDefault("WALLET_CREDIT_DRAIN_TIMEOUT", "30s")

	v.SetDefault("PAYMENT_BASE_URL", "http://localhost:9090")
	v.SetDefault("PAYMENT_API_KEY", "")
	v.SetDefault("PAYMENT_RETURN_URL", "http://localhost:3000/payments/return")
	v.SetDefault("PAYMENT_WEBHOOK_SECRET", "dev_webhook_secret")
	v.SetDefault("PAYMENT_CURRENCY", "USD")
	v.SetDefault("PAYMENT_TIMEOUT", "10s")
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
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
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
