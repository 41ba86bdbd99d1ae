// Package config provides application configuration loading and management.
package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"locbot/models"

	"github.com/spf13/viper"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Port           string `mapstructure:"PORT"`
	Env            string `mapstructure:"APP_ENV"`
	JWTSecret      string `mapstructure:"JWT_SECRET"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`
	FeatureFlags   string `mapstructure:"FEATURE_FLAGS"`
	RedisURL       string `mapstructure:"REDIS_URL"`

	TelegramBotToken      string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	TelegramAPIEndpoint   string `mapstructure:"TELEGRAM_API_ENDPOINT"`
	TelegramMode          string `mapstructure:"TELEGRAM_MODE"`
	TelegramWebhookSecret string `mapstructure:"TELEGRAM_WEBHOOK_SECRET"`
	ModeratorChatID       int64  `mapstructure:"MODERATOR_CHAT_ID"`

	StoreBackend    string `mapstructure:"STORE_BACKEND"`
	GitHubToken     string `mapstructure:"GITHUB_TOKEN"`
	GitHubRepo      string `mapstructure:"GITHUB_REPO"`
	GitHubFile      string `mapstructure:"GITHUB_FILE"`
	GitHubBranch    string `mapstructure:"GITHUB_BRANCH"`
	GitHubAPIURL    string `mapstructure:"GITHUB_API_URL"`
	MinioEndpoint   string `mapstructure:"MINIO_ENDPOINT"`
	MinioAccessKey  string `mapstructure:"MINIO_ACCESS_KEY"`
	MinioSecretKey  string `mapstructure:"MINIO_SECRET_KEY"`
	MinioBucket     string `mapstructure:"MINIO_BUCKET"`
	MinioObject     string `mapstructure:"MINIO_OBJECT"`
	MinioUseSSL     bool   `mapstructure:"MINIO_USE_SSL"`
	CommitterName   string `mapstructure:"COMMITTER_NAME"`
	CommitterEmail  string `mapstructure:"COMMITTER_EMAIL"`
	SyncMaxAttempts int    `mapstructure:"SYNC_MAX_ATTEMPTS"`
	SyncBackoffMS   int    `mapstructure:"SYNC_BACKOFF_MS"`

	ExternalTimeoutSeconds   int `mapstructure:"EXTERNAL_TIMEOUT_SECONDS"`
	ReconcileIntervalSeconds int `mapstructure:"RECONCILE_INTERVAL_SECONDS"`
	PendingTTLHours          int `mapstructure:"REGISTRY_PENDING_TTL_HOURS"`
	TerminalTTLHours         int `mapstructure:"REGISTRY_TERMINAL_TTL_HOURS"`
	RegistryMaxEntries       int `mapstructure:"REGISTRY_MAX_ENTRIES"`
	SubmissionRateLimit      int `mapstructure:"SUBMISSION_RATE_LIMIT"`

	DBDriver   string `mapstructure:"DB_DRIVER"`
	SQLitePath string `mapstructure:"SQLITE_PATH"`
	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     string `mapstructure:"DB_PORT"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`
	DBSSLMode  string `mapstructure:"DB_SSLMODE"`

	TracingEnabled     bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter    string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint       string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSampleRatio float64 `mapstructure:"TRACING_SAMPLE_RATIO"`
}

const defaultJWTSecret = "your-secret-key-change-in-production"

// Store backends.
const (
	StoreGitHub = "github"
	StoreMinio  = "minio"
	StoreMemory = "memory"
)

// Telegram update delivery modes.
const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base file is optional; env vars alone are enough.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Every key needs a default so AutomaticEnv values reach Unmarshal.
func setDefaults() {
	viper.SetDefault("PORT", "8375")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("JWT_SECRET", defaultJWTSecret)
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173")
	viper.SetDefault("FEATURE_FLAGS", "map_link=on,copy_coords=on")
	viper.SetDefault("REDIS_URL", "localhost:6379")

	viper.SetDefault("TELEGRAM_BOT_TOKEN", "")
	viper.SetDefault("TELEGRAM_API_ENDPOINT", "")
	viper.SetDefault("TELEGRAM_MODE", ModePolling)
	viper.SetDefault("TELEGRAM_WEBHOOK_SECRET", "")
	viper.SetDefault("MODERATOR_CHAT_ID", 0)

	viper.SetDefault("STORE_BACKEND", StoreGitHub)
	viper.SetDefault("GITHUB_TOKEN", "")
	viper.SetDefault("GITHUB_REPO", "")
	viper.SetDefault("GITHUB_FILE", "locations.json")
	viper.SetDefault("GITHUB_BRANCH", "main")
	viper.SetDefault("GITHUB_API_URL", "")
	viper.SetDefault("MINIO_ENDPOINT", "")
	viper.SetDefault("MINIO_ACCESS_KEY", "")
	viper.SetDefault("MINIO_SECRET_KEY", "")
	viper.SetDefault("MINIO_BUCKET", "")
	viper.SetDefault("MINIO_OBJECT", "locations.json")
	viper.SetDefault("MINIO_USE_SSL", true)
	viper.SetDefault("COMMITTER_NAME", "locbot")
	viper.SetDefault("COMMITTER_EMAIL", "locbot@users.noreply.github.com")
	viper.SetDefault("SYNC_MAX_ATTEMPTS", 5)
	viper.SetDefault("SYNC_BACKOFF_MS", 200)

	viper.SetDefault("EXTERNAL_TIMEOUT_SECONDS", 10)
	viper.SetDefault("RECONCILE_INTERVAL_SECONDS", 300)
	viper.SetDefault("REGISTRY_PENDING_TTL_HOURS", 72)
	viper.SetDefault("REGISTRY_TERMINAL_TTL_HOURS", 24)
	viper.SetDefault("REGISTRY_MAX_ENTRIES", 10000)
	viper.SetDefault("SUBMISSION_RATE_LIMIT", 10)

	viper.SetDefault("DB_DRIVER", "sqlite")
	viper.SetDefault("SQLITE_PATH", "locbot.db")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "locbot")
	viper.SetDefault("DB_SSLMODE", "disable")

	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLE_RATIO", 1.0)
}

// IsProduction reports whether strict production checks apply.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// ExternalTimeout bounds every call to Telegram or the document store.
func (c *Config) ExternalTimeout() time.Duration {
	return time.Duration(c.ExternalTimeoutSeconds) * time.Second
}

// ReconcileInterval is the period between scheduled republish runs.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalSeconds) * time.Second
}

// PendingTTL is how long an undecided request is kept.
func (c *Config) PendingTTL() time.Duration {
	return time.Duration(c.PendingTTLHours) * time.Hour
}

// TerminalTTL is how long a decided request is kept so repeated presses stay no-ops.
func (c *Config) TerminalTTL() time.Duration {
	return time.Duration(c.TerminalTTLHours) * time.Hour
}

// SyncBackoff is the initial delay between conflicting write attempts.
func (c *Config) SyncBackoff() time.Duration {
	return time.Duration(c.SyncBackoffMS) * time.Millisecond
}

// GitHubOwnerRepo splits GITHUB_REPO ("owner/repo").
func (c *Config) GitHubOwnerRepo() (string, string) {
	owner, repo, ok := strings.Cut(c.GitHubRepo, "/")
	if !ok {
		return "", ""
	}
	return owner, repo
}

// Validate ensures that required configuration values are present and meet security standards.
// Failures are configuration errors and fatal at startup.
func (c *Config) Validate() error {
	if c.Port == "" {
		return models.NewConfigurationError("PORT is required")
	}
	if c.JWTSecret == "" {
		return models.NewConfigurationError("JWT_SECRET is required")
	}
	if c.TelegramBotToken == "" {
		return models.NewConfigurationError("TELEGRAM_BOT_TOKEN is required")
	}
	if c.ModeratorChatID == 0 {
		return models.NewConfigurationError("MODERATOR_CHAT_ID is required")
	}

	switch c.TelegramMode {
	case ModePolling:
	case ModeWebhook:
		if c.TelegramWebhookSecret == "" {
			return models.NewConfigurationError("TELEGRAM_WEBHOOK_SECRET is required in webhook mode")
		}
	default:
		return models.NewConfigurationError(fmt.Sprintf("unknown TELEGRAM_MODE %q", c.TelegramMode))
	}

	if err := c.validateStore(); err != nil {
		return err
	}

	if c.SyncMaxAttempts < 1 {
		return models.NewConfigurationError("SYNC_MAX_ATTEMPTS must be at least 1")
	}
	if c.ExternalTimeoutSeconds < 1 {
		return models.NewConfigurationError("EXTERNAL_TIMEOUT_SECONDS must be at least 1")
	}

	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return models.NewConfigurationError(fmt.Sprintf("unknown DB_DRIVER %q", c.DBDriver))
	}

	// Strict checks for production
	if c.IsProduction() {
		if c.JWTSecret == defaultJWTSecret {
			return models.NewConfigurationError("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return models.NewConfigurationError("JWT_SECRET must be at least 32 characters in production")
		}
		if c.StoreBackend == StoreMemory {
			return models.NewConfigurationError("STORE_BACKEND=memory is not allowed in production")
		}
		if c.DBDriver == "postgres" && (c.DBPassword == "password" || c.DBPassword == "") {
			return models.NewConfigurationError("a strong DB_PASSWORD is required in production")
		}
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else if len(c.JWTSecret) < 32 {
		log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}

func (c *Config) validateStore() error {
	switch c.StoreBackend {
	case StoreGitHub:
		if c.GitHubToken == "" {
			return models.NewConfigurationError("GITHUB_TOKEN is required for the github store")
		}
		if owner, repo := c.GitHubOwnerRepo(); owner == "" || repo == "" {
			return models.NewConfigurationError("GITHUB_REPO must look like owner/repo")
		}
		if c.GitHubFile == "" {
			return models.NewConfigurationError("GITHUB_FILE is required for the github store")
		}
	case StoreMinio:
		if c.MinioEndpoint == "" || c.MinioBucket == "" || c.MinioObject == "" {
			return models.NewConfigurationError("MINIO_ENDPOINT, MINIO_BUCKET and MINIO_OBJECT are required for the minio store")
		}
		if c.MinioAccessKey == "" || c.MinioSecretKey == "" {
			return models.NewConfigurationError("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required for the minio store")
		}
	case StoreMemory:
	default:
		return models.NewConfigurationError(fmt.Sprintf("unknown STORE_BACKEND %q", c.StoreBackend))
	}
	return nil
}
