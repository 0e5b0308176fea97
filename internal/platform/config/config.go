package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type ProviderLimits struct {
	RequestsPerMinute int
	DailyLimit        int
	Retention         time.Duration
}

type Config struct {
	Addr              string
	DatabaseURL       string
	DBMaxConns        int
	DBMinConns        int
	DBConnLifetime    time.Duration
	JWTSecret         string
	DataEncryptionKey string
	Environment       string

	RedisAddr     string
	RedisPassword string

	BrandName       string
	PostalAddress   string
	UnsubscribeURL  string
	UnsubscribeAddr string
	EmailFrom       string
	EmailEnabled    bool
	SMTPHost        string
	SMTPPort        int
	SMTPUser        string
	SMTPPassword    string
	SMTPUseTLS      bool

	ExportDir       string
	ExportExpiry    time.Duration
	PIIRetention    time.Duration
	LogDir          string
	RunMigrations   bool
	MaxBodyBytes    int64
	APIRateLimit    int
	CleanupInterval time.Duration
	CleanupDays     int
	MetricsEnabled  bool

	Providers map[string]ProviderLimits
}

func Load() Config {
	return Config{
		Addr:              getEnv("APP_ADDR", ":8080"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		DBMaxConns:        getEnvInt("DB_MAX_CONNS", 10),
		DBMinConns:        getEnvInt("DB_MIN_CONNS", 2),
		DBConnLifetime:    getEnvDuration("DB_CONN_LIFETIME", time.Hour),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		DataEncryptionKey: getEnv("DATA_ENCRYPTION_KEY", ""),
		Environment:       getEnv("APP_ENV", "development"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		BrandName:       getEnv("BRAND_NAME", "3C Mall"),
		PostalAddress:   getEnv("POSTAL_ADDRESS", "3C Mall, 100 Market St, Springfield"),
		UnsubscribeURL:  getEnv("UNSUBSCRIBE_URL", "https://3cmall.example.com/unsubscribe"),
		UnsubscribeAddr: getEnv("UNSUBSCRIBE_ADDR", "unsubscribe@3cmall.example.com"),
		EmailFrom:       getEnv("EMAIL_FROM", "no-reply@3cmall.example.com"),
		EmailEnabled:    getEnvBool("EMAIL_ENABLED", false),
		SMTPHost:        getEnv("SMTP_HOST", ""),
		SMTPPort:        getEnvInt("SMTP_PORT", 587),
		SMTPUser:        getEnv("SMTP_USER", ""),
		SMTPPassword:    getEnv("SMTP_PASSWORD", ""),
		SMTPUseTLS:      getEnvBool("SMTP_USE_TLS", true),

		ExportDir:       getEnv("EXPORT_DIR", "storage/exports"),
		ExportExpiry:    getEnvDuration("EXPORT_EXPIRY", 7*24*time.Hour),
		PIIRetention:    getEnvDuration("PII_RETENTION", 30*24*time.Hour),
		LogDir:          getEnv("LOG_DIR", "storage/logs"),
		RunMigrations:   getEnvBool("RUN_MIGRATIONS", true),
		MaxBodyBytes:    int64(getEnvInt("MAX_BODY_BYTES", 1048576)),
		APIRateLimit:    getEnvInt("API_RATE_LIMIT_PER_MINUTE", 120),
		CleanupInterval: getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour),
		CleanupDays:     getEnvInt("CLEANUP_DAYS", 30),
		MetricsEnabled:  getEnvBool("METRICS_ENABLED", true),

		Providers: map[string]ProviderLimits{
			"KROGER": {
				RequestsPerMinute: getEnvInt("KROGER_RATE_PER_MINUTE", 300),
				DailyLimit:        getEnvInt("KROGER_DAILY_LIMIT", 10000),
				Retention:         getEnvDuration("KROGER_RETENTION", 24*time.Hour),
			},
			"SPOONACULAR": {
				RequestsPerMinute: getEnvInt("SPOONACULAR_RATE_PER_MINUTE", 60),
				DailyLimit:        getEnvInt("SPOONACULAR_DAILY_LIMIT", 1500),
				Retention:         getEnvDuration("SPOONACULAR_RETENTION", 24*time.Hour),
			},
		},
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Environment == "production" {
		if strings.TrimSpace(c.JWTSecret) == "" {
			return fmt.Errorf("JWT_SECRET must be set to a strong value in production")
		}
		if strings.TrimSpace(c.DataEncryptionKey) == "" {
			return fmt.Errorf("DATA_ENCRYPTION_KEY must be set in production for encryption at rest")
		}
	}
	if c.DBMaxConns < 1 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS")
	}
	if c.MaxBodyBytes < 1024 {
		return fmt.Errorf("MAX_BODY_BYTES must be at least 1024")
	}
	if c.EmailEnabled && c.SMTPHost == "" {
		return fmt.Errorf("SMTP_HOST must be set when EMAIL_ENABLED is true")
	}
	for name, limits := range c.Providers {
		if limits.RequestsPerMinute <= 0 {
			return fmt.Errorf("%s rate per minute must be positive", name)
		}
		if limits.DailyLimit <= 0 {
			return fmt.Errorf("%s daily limit must be positive", name)
		}
		if limits.Retention <= 0 {
			return fmt.Errorf("%s retention window must be positive", name)
		}
	}
	return nil
}
