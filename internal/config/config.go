package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

var (
	// ErrMissingPaymentAPIKey is returned when the payment network credential is not set.
	ErrMissingPaymentAPIKey = errors.New("PI_API_KEY is not configured")

	// ErrMissingTreasuryWallet is returned when no treasury recipient is configured.
	ErrMissingTreasuryWallet = errors.New("TREASURY_WALLET is not configured")

	// ErrMissingJWTSecret is returned when tokens cannot be signed or verified.
	ErrMissingJWTSecret = errors.New("JWT_SECRET is not configured")
)

// Config holds all configuration for the application.
type Config struct {
	ServiceName string
	LogLevel    string

	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	NewRelic   NewRelicConfig
	Payment    PaymentConfig
	Auth       AuthConfig
	Kafka      KafkaConfig
	Settlement SettlementConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host           string
	Port           string
	User           string
	Password       string
	DBName         string
	SSLMode        string
	MigrationsPath string
	MaxOpenConns   int
	MaxIdleConns   int
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// PaymentConfig holds the payment network client configuration.
type PaymentConfig struct {
	APIKey         string
	BaseURL        string
	Timeout        time.Duration
	TreasuryWallet string
}

// AuthConfig holds JWT settings.
type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// KafkaConfig holds the transparency event stream settings.
type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// SettlementConfig holds escrow settlement tuning.
type SettlementConfig struct {
	LockTTL         time.Duration
	PricingCacheTTL time.Duration
}

// Load loads configuration from a .env file (if present) and environment variables.
func Load() *Config {
	_ = godotenv.Load(".env")

	return &Config{
		ServiceName: getEnv("SERVICE_NAME", "pitaxi"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			ReadTimeout:    getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:   getDurationEnv("SERVER_WRITE_TIMEOUT", 45*time.Second),
			AllowedOrigins: getListEnv("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnv("DB_PORT", "5432"),
			User:           getEnv("DB_USER", "postgres"),
			Password:       getEnv("DB_PASSWORD", "postgres"),
			DBName:         getEnv("DB_NAME", "pitaxi"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			MigrationsPath: getEnv("DB_MIGRATIONS_PATH", "migrations"),
			MaxOpenConns:   getIntEnv("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:   getIntEnv("DB_MAX_IDLE_CONNS", 25),
		},
		Redis: RedisConfig{
			Addr:         getEnv("REDIS_ADDR", "localhost:6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getIntEnv("REDIS_DB", 0),
			PoolSize:     getIntEnv("REDIS_POOL_SIZE", 20),
			DialTimeout:  getDurationEnv("REDIS_DIAL_TIMEOUT", 2*time.Second),
			ReadTimeout:  getDurationEnv("REDIS_READ_TIMEOUT", time.Second),
			WriteTimeout: getDurationEnv("REDIS_WRITE_TIMEOUT", time.Second),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "pitaxi-settlement"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBoolEnv("NEW_RELIC_ENABLED", false),
		},
		Payment: PaymentConfig{
			APIKey:         getEnv("PI_API_KEY", ""),
			BaseURL:        getEnv("PI_API_BASE_URL", "https://api.minepi.com"),
			Timeout:        getDurationEnv("PI_API_TIMEOUT", 30*time.Second),
			TreasuryWallet: getEnv("TREASURY_WALLET", ""),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			TokenTTL:  getDurationEnv("JWT_TOKEN_TTL", 24*time.Hour),
		},
		Kafka: KafkaConfig{
			Enabled: getBoolEnv("KAFKA_ENABLED", false),
			Brokers: getListEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getEnv("KAFKA_TRANSPARENCY_TOPIC", "transparency-events"),
		},
		Settlement: SettlementConfig{
			LockTTL:         getDurationEnv("SETTLEMENT_LOCK_TTL", 0),
			PricingCacheTTL: getDurationEnv("PRICING_CACHE_TTL", time.Minute),
		},
	}
}

// Validate reports configuration that must stop the service from starting.
func (c *Config) Validate() error {
	var errs []error
	if c.Payment.APIKey == "" {
		errs = append(errs, ErrMissingPaymentAPIKey)
	}
	if c.Payment.TreasuryWallet == "" {
		errs = append(errs, ErrMissingTreasuryWallet)
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := cast.ToIntE(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := cast.ToBoolE(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := cast.ToDurationE(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
