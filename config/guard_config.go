package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"guard_server/core/domain"
	"guard_server/pkg/apperr"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Database
	DatabaseURL   string
	DBMaxConns    int
	DBMinConns    int
	MongoDBURL    string
	MongoDBName   string
	RedisURL      string
	RedisPoolSize int
	AutoMigrate   bool

	// Admin API
	AdminJWTSecret string

	// Encrypts provider API keys in the persisted settings document.
	SettingsEncryptionKey string

	// HTTP
	AllowedOrigins     []string
	RateLimitPerMinute int
	RateLimitBurst     int

	// Engine
	BatchParallel       int
	LatencyWindow       int
	BreakerFailures     int
	BreakerTimeout      time.Duration
	ProviderMaxConns    int
	DocumentCacheTTL    time.Duration
	RetentionCheckEvery time.Duration

	// Worker
	WorkerID         string
	WorkerCount      int
	WorkerQueueSize  int
	WorkerJobTimeout time.Duration
	WorkerMaxRetries int
	WorkerRatePerSec float64
	WorkerBurst      int

	// Consumer (Redis Stream)
	ConsumerBlockMS         int
	ConsumerMaxRetries      int
	ConsumerPendingCheckSec int
	ConsumerPendingIdleSec  int

	// Seed for the engine settings. Persisted settings override it.
	Guard domain.Settings
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Database
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		DBMaxConns:    getEnvInt("DB_MAX_CONNS", 25),
		DBMinConns:    getEnvInt("DB_MIN_CONNS", 2),
		MongoDBURL:    getEnv("MONGODB_URL", ""),
		MongoDBName:   getEnv("MONGODB_DATABASE", "guard"),
		RedisURL:      getEnv("REDIS_URL", ""),
		RedisPoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
		AutoMigrate:   getEnvBool("AUTO_MIGRATE", true),

		AdminJWTSecret:        getEnv("ADMIN_JWT_SECRET", ""),
		SettingsEncryptionKey: getEnv("SETTINGS_ENCRYPTION_KEY", ""),

		// HTTP
		AllowedOrigins:     getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 20),

		// Engine
		BatchParallel:       getEnvInt("GUARD_BATCH_PARALLEL", 4),
		LatencyWindow:       getEnvInt("GUARD_LATENCY_WINDOW", 500),
		BreakerFailures:     getEnvInt("GUARD_BREAKER_FAILURES", 5),
		BreakerTimeout:      time.Duration(getEnvInt("GUARD_BREAKER_TIMEOUT_SEC", 30)) * time.Second,
		ProviderMaxConns:    getEnvInt("GUARD_PROVIDER_MAX_CONNS", 30),
		DocumentCacheTTL:    time.Duration(getEnvInt("GUARD_DOCUMENT_CACHE_TTL_MIN", 10)) * time.Minute,
		RetentionCheckEvery: time.Duration(getEnvInt("RETENTION_CHECK_HOURS", 6)) * time.Hour,

		// Worker
		WorkerID:         getEnv("WORKER_ID", generateWorkerID()),
		WorkerCount:      getEnvInt("WORKER_COUNT", 4),
		WorkerQueueSize:  getEnvInt("WORKER_QUEUE_SIZE", 100),
		WorkerJobTimeout: time.Duration(getEnvInt("WORKER_JOB_TIMEOUT_SEC", 300)) * time.Second,
		WorkerMaxRetries: getEnvInt("WORKER_MAX_RETRIES", 3),
		WorkerRatePerSec: getEnvFloat("WORKER_RATE_PER_SEC", 2),
		WorkerBurst:      getEnvInt("WORKER_BURST", 4),

		// Consumer
		ConsumerBlockMS:         getEnvInt("CONSUMER_BLOCK_MS", 5000),
		ConsumerMaxRetries:      getEnvInt("CONSUMER_MAX_RETRIES", 3),
		ConsumerPendingCheckSec: getEnvInt("CONSUMER_PENDING_CHECK_SEC", 30),
		ConsumerPendingIdleSec:  getEnvInt("CONSUMER_PENDING_IDLE_SEC", 120),

		Guard: loadGuardSettings(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadGuardSettings overlays GUARD_* variables on the default engine settings.
func loadGuardSettings() domain.Settings {
	s := domain.DefaultSettings()

	s.Enabled = getEnvBool("GUARD_ENABLED", s.Enabled)

	s.Primary.Enabled = getEnvBool("GUARD_PRIMARY_ENABLED", s.Primary.Enabled)
	s.Primary.APIKey = getEnv("GUARD_PRIMARY_API_KEY", "")
	s.Primary.BaseURL = getEnv("GUARD_PRIMARY_BASE_URL", s.Primary.BaseURL)
	s.Primary.Model = getEnv("GUARD_PRIMARY_MODEL", s.Primary.Model)
	s.Primary.FallbackModels = getEnvSlice("GUARD_PRIMARY_FALLBACK_MODELS", s.Primary.FallbackModels)

	s.Secondary.Enabled = getEnvBool("GUARD_SECONDARY_ENABLED", s.Secondary.Enabled)
	s.Secondary.APIKey = getEnv("GUARD_SECONDARY_API_KEY", "")
	s.Secondary.BaseURL = getEnv("GUARD_SECONDARY_BASE_URL", s.Secondary.BaseURL)
	s.Secondary.Model = getEnv("GUARD_SECONDARY_MODEL", s.Secondary.Model)

	s.ConfidenceThreshold = getEnvFloat("GUARD_CONFIDENCE_THRESHOLD", s.ConfidenceThreshold)
	s.AutoAction = domain.Action(getEnv("GUARD_AUTO_ACTION", string(s.AutoAction)))
	s.TimeoutSeconds = getEnvInt("GUARD_TIMEOUT_SEC", s.TimeoutSeconds)
	s.MaxTokens = getEnvInt("GUARD_MAX_TOKENS", s.MaxTokens)

	s.ForceSpamOnLLM = getEnvBool("GUARD_FORCE_SPAM_ON_LLM", s.ForceSpamOnLLM)
	s.AutoApproveValid = getEnvBool("GUARD_AUTO_APPROVE_VALID", s.AutoApproveValid)
	s.AutoApproveLinklessValid = getEnvBool("GUARD_AUTO_APPROVE_LINKLESS_VALID", s.AutoApproveLinklessValid)

	s.MaxLinks = getEnvInt("GUARD_MAX_LINKS", s.MaxLinks)
	s.ContentBlacklist = getEnvSlice("GUARD_CONTENT_BLACKLIST", nil)
	s.CheckAuthorFields = getEnvBool("GUARD_CHECK_AUTHOR_FIELDS", s.CheckAuthorFields)
	s.AuthorNameBlacklist = getEnvSlice("GUARD_AUTHOR_NAME_BLACKLIST", nil)
	s.EmailDomainBlacklist = getEnvSlice("GUARD_EMAIL_DOMAIN_BLACKLIST", nil)
	s.URLDomainBlacklist = getEnvSlice("GUARD_URL_DOMAIN_BLACKLIST", nil)
	s.BlockDisposable = getEnvBool("GUARD_BLOCK_DISPOSABLE", s.BlockDisposable)

	s.IncludeContext = getEnvBool("GUARD_INCLUDE_CONTEXT", s.IncludeContext)
	s.ContextBudget = getEnvInt("GUARD_CONTEXT_BUDGET", s.ContextBudget)

	s.RetentionDays = getEnvInt("GUARD_RETENTION_DAYS", s.RetentionDays)
	s.CheckAuthenticatedUsers = getEnvBool("GUARD_CHECK_AUTHENTICATED_USERS", s.CheckAuthenticatedUsers)

	return s
}

// Validate checks process-level configuration. Engine settings are validated by the settings store.
func (c *Config) Validate() error {
	if c.Port == "" {
		return apperr.ConfigError("PORT is required")
	}
	if c.IsProduction() && c.AdminJWTSecret == "" {
		return apperr.ConfigError("ADMIN_JWT_SECRET is required in production")
	}
	if c.WorkerCount < 1 {
		return apperr.ConfigError("WORKER_COUNT must be >= 1")
	}
	if c.BatchParallel < 1 {
		return apperr.ConfigError("GUARD_BATCH_PARALLEL must be >= 1")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvSlice splits a comma-separated value, trimming blanks.
func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
