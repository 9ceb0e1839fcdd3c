package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values.
type Config struct {
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// Backend endpoints.
	WebhookURL  string `mapstructure:"WEBHOOK_URL"`
	SlotsDocURL string `mapstructure:"SLOTS_DOC_URL"`
	ClubDocURL  string `mapstructure:"CLUB_DOC_URL"`

	// Request coordination.
	RequestTimeoutMS int `mapstructure:"REQUEST_TIMEOUT_MS"`
	DocTimeoutMS     int `mapstructure:"DOC_TIMEOUT_MS"`
	RetryBackoffMS   int `mapstructure:"RETRY_BACKOFF_MS"`
	RateLimitPerMin  int `mapstructure:"RATE_LIMIT_PER_MIN"`

	// Local cache.
	CacheTTLMS  int    `mapstructure:"CACHE_TTL_MS"`
	CachePrefix string `mapstructure:"CACHE_PREFIX"`

	// Booking flow.
	DebounceMS        int `mapstructure:"DEBOUNCE_MS"`
	PollIntervalMS    int `mapstructure:"POLL_INTERVAL_MS"`
	PollMaxAttempts   int `mapstructure:"POLL_MAX_ATTEMPTS"`
	WatcherIntervalMS int `mapstructure:"WATCHER_INTERVAL_MS"`
	WatcherDeadlineMS int `mapstructure:"WATCHER_DEADLINE_MS"`

	// Redis configuration.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisCacheDB  int    `mapstructure:"REDIS_CACHE_DB"`
	RedisQueueDB  int    `mapstructure:"REDIS_QUEUE_DB"`
}

var AppConfig Config

func LoadConfig() {
	// Look for a config file named "config.yaml" in the current and "config" directory.
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	// Automatically use environment variables where available.
	viper.AutomaticEnv()

	// Set default values.
	viper.SetDefault("ENV", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("WEBHOOK_URL", "https://hook.eu2.make.com/changeme")
	viper.SetDefault("SLOTS_DOC_URL", "")
	viper.SetDefault("CLUB_DOC_URL", "")
	viper.SetDefault("REQUEST_TIMEOUT_MS", 10000)
	viper.SetDefault("DOC_TIMEOUT_MS", 5000)
	viper.SetDefault("RETRY_BACKOFF_MS", 1500)
	viper.SetDefault("RATE_LIMIT_PER_MIN", 60)
	viper.SetDefault("CACHE_TTL_MS", 60000)
	viper.SetDefault("CACHE_PREFIX", "miniapp_cache_")
	viper.SetDefault("DEBOUNCE_MS", 150)
	viper.SetDefault("POLL_INTERVAL_MS", 5000)
	viper.SetDefault("POLL_MAX_ATTEMPTS", 15)
	viper.SetDefault("WATCHER_INTERVAL_MS", 60000)
	viper.SetDefault("WATCHER_DEADLINE_MS", 1800000)
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_CACHE_DB", 0)
	viper.SetDefault("REDIS_QUEUE_DB", 1)

	if err := viper.ReadInConfig(); err != nil {
		log.Println("No config file found, using environment variables only")
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
}

func GetEnv() string {
	return AppConfig.Env
}

func IsProduction() bool {
	return GetEnv() == "production"
}

// RequestTimeout returns the RPC call timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// DocTimeout returns the static document fetch timeout.
func (c Config) DocTimeout() time.Duration {
	return time.Duration(c.DocTimeoutMS) * time.Millisecond
}

// RetryBackoff returns the delay before the single automatic retry.
func (c Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMS) * time.Millisecond
}

// CacheTTL returns the default cache entry lifetime.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMS) * time.Millisecond
}

// Debounce returns the date selection debounce delay.
func (c Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// PollInterval returns the fast payment poll interval.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// WatcherInterval returns the slow background poll interval.
func (c Config) WatcherInterval() time.Duration {
	return time.Duration(c.WatcherIntervalMS) * time.Millisecond
}

// WatcherDeadline returns how long the background watcher keeps checking.
func (c Config) WatcherDeadline() time.Duration {
	return time.Duration(c.WatcherDeadlineMS) * time.Millisecond
}
