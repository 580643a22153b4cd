package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LLMプロバイダ名
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// DefaultUserAgent は外部サイトへのリクエストで名乗るクライアント識別子。
const DefaultUserAgent = "Mozilla/5.0 (compatible; AI-News-Aggregator/1.0)"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// LLM
	LLMProvider          string
	LLMModel             string
	LLMBaseURL           string
	OpenAIAPIKey         string
	AnthropicAPIKey      string
	LLMRequestsPerMinute int

	// Fetch
	FetchTimeout    time.Duration
	FetchMaxSize    int64
	FeedItemLimit   int
	ScrapeItemLimit int
	UserAgent       string

	// Schedule
	AggregateSchedule string
	CleanupSchedule   string
	ScheduleTimezone  string

	// Cleanup
	CleanupRetentionDays int
	StaleItemDays        int
	MaxItemAttempts      int

	// Seed
	SeedFile      string
	WatchSeedFile bool

	// Run lock
	RedisURL   string
	RunLockTTL time.Duration

	// Admin API
	ServerPort        string
	AdminToken        string
	AdminRateLimit    int
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は、未設定のものをまとめてエラーとして返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.LLMProvider = strings.ToLower(getEnvString("LLM_PROVIDER", ProviderOpenAI))
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")

	switch cfg.LLMProvider {
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			missing = append(missing, "OPENAI_API_KEY")
		}
	case ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			missing = append(missing, "ANTHROPIC_API_KEY")
		}
	default:
		return nil, fmt.Errorf("unsupported LLM_PROVIDER: %q (allowed: %s, %s)", cfg.LLMProvider, ProviderOpenAI, ProviderAnthropic)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.LLMModel = getEnvString("LLM_MODEL", defaultModel(cfg.LLMProvider))
	cfg.LLMBaseURL = getEnvString("LLM_BASE_URL", "")
	cfg.LLMRequestsPerMinute = getEnvInt("LLM_REQUESTS_PER_MINUTE", 60)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_BODY_SIZE", 5242880)
	cfg.FeedItemLimit = getEnvInt("FEED_ITEM_LIMIT", 10)
	cfg.ScrapeItemLimit = getEnvInt("SCRAPE_ITEM_LIMIT", 5)
	cfg.UserAgent = getEnvString("USER_AGENT", DefaultUserAgent)
	cfg.AggregateSchedule = getEnvString("AGGREGATE_SCHEDULE", "0 */4 * * *")
	cfg.CleanupSchedule = getEnvString("CLEANUP_SCHEDULE", "0 2 * * *")
	cfg.ScheduleTimezone = getEnvString("SCHEDULE_TIMEZONE", "UTC")
	cfg.CleanupRetentionDays = getEnvInt("CLEANUP_RETENTION_DAYS", 30)
	cfg.StaleItemDays = getEnvInt("STALE_ITEM_DAYS", 7)
	cfg.MaxItemAttempts = getEnvInt("MAX_ITEM_ATTEMPTS", 3)
	cfg.SeedFile = getEnvString("SEED_FILE", "config/seed.yaml")
	cfg.WatchSeedFile = getEnvBool("WATCH_SEED_FILE", false)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.RunLockTTL = getEnvDuration("RUN_LOCK_TTL", 2*time.Hour)
	cfg.ServerPort = getEnvString("PORT", "8080")
	cfg.AdminToken = getEnvString("ADMIN_TOKEN", "")
	cfg.AdminRateLimit = getEnvInt("ADMIN_RATE_LIMIT", 10)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

// LoadDotEnv は.envファイルの内容を環境変数に読み込む。
// ファイルが存在しない場合はエラーにしない。既存の環境変数は上書きしない。
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// APIKey は選択中のプロバイダのAPIキーを返す。
func (c *Config) APIKey() string {
	if c.LLMProvider == ProviderAnthropic {
		return c.AnthropicAPIKey
	}
	return c.OpenAIAPIKey
}

func defaultModel(provider string) string {
	if provider == ProviderAnthropic {
		return "claude-3-5-haiku-latest"
	}
	return "gpt-3.5-turbo"
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}
