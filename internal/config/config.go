package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	Port      string
	LogLevel  string
	JWTSecret string

	// Telegram bot; disabled when TelegramToken is empty
	TelegramToken  string
	AllowedUserIDs []int64
	WebhookMode    bool   // If true, use webhook mode; if false, use polling mode
	WebhookURL     string // URL for webhook (required if WebhookMode is true)

	// ClickHouse configuration
	ClickHouseHost     string
	ClickHousePort     int
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string
	ClickHouseUseTLS   bool

	UseMockDB bool

	// Catalog and taxonomy files; the embedded defaults are used when empty
	CatalogPath  string
	TaxonomyPath string

	CollationLocale     string
	PageSize            int
	SessionTTL          time.Duration
	CreateRatePerMinute int
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	config := &Config{
		Port:            getEnv("PORT", "8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		CatalogPath:     os.Getenv("CATALOG_PATH"),
		TaxonomyPath:    os.Getenv("TAXONOMY_PATH"),
		CollationLocale: getEnv("COLLATION_LOCALE", "ar"),
	}

	config.JWTSecret = os.Getenv("AUTH_JWT_SECRET")
	if config.JWTSecret == "" {
		return nil, fmt.Errorf("AUTH_JWT_SECRET is required")
	}

	var err error
	if config.PageSize, err = getEnvInt("PAGE_SIZE", 12); err != nil {
		return nil, err
	}
	if config.PageSize <= 0 {
		return nil, fmt.Errorf("PAGE_SIZE must be positive")
	}
	if config.CreateRatePerMinute, err = getEnvInt("CREATE_RATE_PER_MINUTE", 10); err != nil {
		return nil, err
	}
	if config.SessionTTL, err = getEnvDuration("SESSION_TTL", 30*time.Minute); err != nil {
		return nil, err
	}

	// Telegram Bot Token (optional)
	config.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if config.TelegramToken != "" {
		if err := config.loadBot(); err != nil {
			return nil, err
		}
	}

	// Use Mock DB (default: false)
	config.UseMockDB = os.Getenv("USE_MOCK_DB") == "true"

	// ClickHouse configuration (required if not using mock)
	if !config.UseMockDB {
		config.ClickHouseHost = os.Getenv("CLICKHOUSE_HOST")
		if config.ClickHouseHost == "" {
			return nil, fmt.Errorf("CLICKHOUSE_HOST is required when USE_MOCK_DB is not set")
		}

		if config.ClickHousePort, err = getEnvInt("CLICKHOUSE_PORT", 9000); err != nil {
			return nil, err
		}

		config.ClickHouseDatabase = getEnv("CLICKHOUSE_DATABASE", "default")
		config.ClickHouseUser = getEnv("CLICKHOUSE_USER", "default")
		config.ClickHousePassword = os.Getenv("CLICKHOUSE_PASSWORD")
		config.ClickHouseUseTLS = os.Getenv("CLICKHOUSE_USE_TLS") == "true"
	}

	return config, nil
}

// BotEnabled reports whether a Telegram token is configured
func (c *Config) BotEnabled() bool {
	return c.TelegramToken != ""
}

func (c *Config) loadBot() error {
	allowedIDsStr := os.Getenv("ALLOWED_USER_IDS")
	if allowedIDsStr == "" {
		return fmt.Errorf("ALLOWED_USER_IDS is required when TELEGRAM_BOT_TOKEN is set (comma-separated list of Telegram user IDs)")
	}

	for _, idStr := range strings.Split(allowedIDsStr, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid user ID in ALLOWED_USER_IDS: %s", idStr)
		}
		c.AllowedUserIDs = append(c.AllowedUserIDs, id)
	}

	c.WebhookMode = os.Getenv("WEBHOOK_MODE") == "true"
	if c.WebhookMode {
		c.WebhookURL = os.Getenv("WEBHOOK_URL")
		if c.WebhookURL == "" {
			return fmt.Errorf("WEBHOOK_URL is required when WEBHOOK_MODE is true")
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}
