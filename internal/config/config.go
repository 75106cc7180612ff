// package config loads application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// validation errors
var (
	ErrAPIIDRequired        = errors.New("TELEGRAM_API_ID is required")
	ErrAPIHashRequired      = errors.New("TELEGRAM_API_HASH is required")
	ErrBotTokenRequired     = errors.New("TELEGRAM_BOT_TOKEN is required when USE_BOT_FOR_SENDING is enabled")
	ErrNegativeDelay        = errors.New("RATE_LIMIT_DELAY must be non-negative")
	ErrBatchSize            = errors.New("BATCH_SIZE must be positive")
	ErrNegativeRetries      = errors.New("MAX_RETRIES must be non-negative")
	ErrNegativeRetryDelay   = errors.New("RETRY_DELAY must be non-negative")
	ErrSaveProgressInterval = errors.New("SAVE_PROGRESS_INTERVAL must be positive")
)

// Config holds all application configuration.
// It is passed by value once validated.
type Config struct {
	// telegram
	APIID         int
	APIHash       string
	SessionName   string
	SessionString string
	SessionDBURL  string

	// bot
	BotToken         string
	UseBotForSending bool

	// rate limiting
	RateLimitDelay time.Duration
	BatchSize      int
	MaxRetries     int
	RetryDelay     time.Duration

	// progress tracking
	ProgressFile         string
	SaveProgressInterval int

	// media
	DownloadMedia bool
	MediaTimeout  time.Duration

	// logging
	LogLevel string
	LogFile  string

	// events
	NatsURL string
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		SessionName:          "telegram_cloner",
		RateLimitDelay:       time.Second,
		BatchSize:            10,
		MaxRetries:           3,
		RetryDelay:           5 * time.Second,
		ProgressFile:         "clone_progress.json",
		SaveProgressInterval: 50,
		DownloadMedia:        true,
		MediaTimeout:         300 * time.Second,
		LogLevel:             "info",
		LogFile:              "./logs/telegram_cloner.log",
	}
}

// Load reads configuration from .env, an optional YAML file named by
// CONFIG_FILE, and environment variables, in increasing priority.
func Load() (*Config, error) {
	// missing .env is fine, real env vars are never overridden
	_ = godotenv.Load()

	base := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		base = *fileCfg
	}

	cfg := fromEnv(base)
	return &cfg, nil
}

// fromEnv overlays environment variables on top of base.
func fromEnv(base Config) Config {
	return Config{
		APIID:                getEnvInt("TELEGRAM_API_ID", base.APIID),
		APIHash:              getEnv("TELEGRAM_API_HASH", base.APIHash),
		SessionName:          getEnv("TELEGRAM_SESSION_NAME", base.SessionName),
		SessionString:        getEnv("TELEGRAM_SESSION_STRING", base.SessionString),
		SessionDBURL:         getEnv("SESSION_DATABASE_URL", base.SessionDBURL),
		BotToken:             getEnv("TELEGRAM_BOT_TOKEN", base.BotToken),
		UseBotForSending:     getEnvBool("USE_BOT_FOR_SENDING", base.UseBotForSending),
		RateLimitDelay:       getEnvSeconds("RATE_LIMIT_DELAY", base.RateLimitDelay),
		BatchSize:            getEnvInt("BATCH_SIZE", base.BatchSize),
		MaxRetries:           getEnvInt("MAX_RETRIES", base.MaxRetries),
		RetryDelay:           getEnvSeconds("RETRY_DELAY", base.RetryDelay),
		ProgressFile:         getEnv("PROGRESS_FILE", base.ProgressFile),
		SaveProgressInterval: getEnvInt("SAVE_PROGRESS_INTERVAL", base.SaveProgressInterval),
		DownloadMedia:        getEnvBool("DOWNLOAD_MEDIA", base.DownloadMedia),
		MediaTimeout:         getEnvSeconds("MEDIA_TIMEOUT", base.MediaTimeout),
		LogLevel:             getEnv("LOG_LEVEL", base.LogLevel),
		LogFile:              getEnv("LOG_FILE", base.LogFile),
		NatsURL:              getEnv("NATS_URL", base.NatsURL),
	}
}

// Validate returns every violated constraint. An empty result means the
// configuration is usable; the caller decides whether to abort.
func (c Config) Validate() []error {
	var errs []error

	if c.APIID == 0 {
		errs = append(errs, ErrAPIIDRequired)
	}
	if c.APIHash == "" {
		errs = append(errs, ErrAPIHashRequired)
	}
	if c.UseBotForSending && c.BotToken == "" {
		errs = append(errs, ErrBotTokenRequired)
	}
	if c.RateLimitDelay < 0 {
		errs = append(errs, ErrNegativeDelay)
	}
	if c.BatchSize <= 0 {
		errs = append(errs, ErrBatchSize)
	}
	if c.MaxRetries < 0 {
		errs = append(errs, ErrNegativeRetries)
	}
	if c.RetryDelay < 0 {
		errs = append(errs, ErrNegativeRetryDelay)
	}
	if c.SaveProgressInterval <= 0 {
		errs = append(errs, ErrSaveProgressInterval)
	}

	return errs
}

// Overrides carries command-line values that replace configured ones.
// Nil fields are left untouched.
type Overrides struct {
	RateLimitDelay *time.Duration
	BatchSize      *int
	UseBot         bool
	LogLevel       string
}

// WithOverrides returns a copy of c with the overrides applied.
func (c Config) WithOverrides(o Overrides) Config {
	if o.RateLimitDelay != nil {
		c.RateLimitDelay = *o.RateLimitDelay
	}
	if o.BatchSize != nil {
		c.BatchSize = *o.BatchSize
	}
	if o.UseBot {
		c.UseBotForSending = true
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	return c
}

// Redacted renders the configuration without credentials.
func (c Config) Redacted() string {
	var b strings.Builder
	fmt.Fprintf(&b, "session=%s ", c.SessionName)
	fmt.Fprintf(&b, "bot_sending=%t ", c.UseBotForSending)
	fmt.Fprintf(&b, "rate_limit_delay=%s ", c.RateLimitDelay)
	fmt.Fprintf(&b, "batch_size=%d ", c.BatchSize)
	fmt.Fprintf(&b, "max_retries=%d ", c.MaxRetries)
	fmt.Fprintf(&b, "retry_delay=%s ", c.RetryDelay)
	fmt.Fprintf(&b, "progress_file=%s ", c.ProgressFile)
	fmt.Fprintf(&b, "save_progress_interval=%d ", c.SaveProgressInterval)
	fmt.Fprintf(&b, "download_media=%t ", c.DownloadMedia)
	fmt.Fprintf(&b, "media_timeout=%s", c.MediaTimeout)
	return b.String()
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// getEnvBool accepts true/1/yes/on and false/0/no/off, case-insensitively.
func getEnvBool(key string, defaultVal bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return defaultVal
}

// getEnvSeconds reads a float number of seconds.
func getEnvSeconds(key string, defaultVal time.Duration) time.Duration {
	return seconds(getEnvFloat(key, defaultVal.Seconds()))
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
