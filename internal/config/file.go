package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config in YAML form. Pointer fields keep "absent"
// distinguishable from an explicit zero.
type fileConfig struct {
	Telegram struct {
		APIID         *int   `yaml:"api_id"`
		APIHash       string `yaml:"api_hash"`
		SessionName   string `yaml:"session_name"`
		SessionString string `yaml:"session_string"`
		SessionDBURL  string `yaml:"session_database_url"`
	} `yaml:"telegram"`

	Bot struct {
		Token      string `yaml:"token"`
		UseForSend *bool  `yaml:"use_for_sending"`
	} `yaml:"bot"`

	Sending struct {
		RateLimitDelay *float64 `yaml:"rate_limit_delay"`
		BatchSize      *int     `yaml:"batch_size"`
		MaxRetries     *int     `yaml:"max_retries"`
		RetryDelay     *float64 `yaml:"retry_delay"`
	} `yaml:"sending"`

	Progress struct {
		File         string `yaml:"file"`
		SaveInterval *int   `yaml:"save_interval"`
	} `yaml:"progress"`

	Media struct {
		Download *bool    `yaml:"download"`
		Timeout  *float64 `yaml:"timeout"`
	} `yaml:"media"`

	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`

	NatsURL string `yaml:"nats_url"`
}

// LoadFile reads a YAML configuration file. ${VAR} references are expanded
// from the environment before parsing. Unset keys keep their defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var fc fileConfig
	if err := yaml.Unmarshal([]byte(expanded), &fc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg := Default()
	fc.apply(&cfg)
	return &cfg, nil
}

func (fc *fileConfig) apply(c *Config) {
	if fc.Telegram.APIID != nil {
		c.APIID = *fc.Telegram.APIID
	}
	setString(&c.APIHash, fc.Telegram.APIHash)
	setString(&c.SessionName, fc.Telegram.SessionName)
	setString(&c.SessionString, fc.Telegram.SessionString)
	setString(&c.SessionDBURL, fc.Telegram.SessionDBURL)

	setString(&c.BotToken, fc.Bot.Token)
	if fc.Bot.UseForSend != nil {
		c.UseBotForSending = *fc.Bot.UseForSend
	}

	if fc.Sending.RateLimitDelay != nil {
		c.RateLimitDelay = seconds(*fc.Sending.RateLimitDelay)
	}
	if fc.Sending.BatchSize != nil {
		c.BatchSize = *fc.Sending.BatchSize
	}
	if fc.Sending.MaxRetries != nil {
		c.MaxRetries = *fc.Sending.MaxRetries
	}
	if fc.Sending.RetryDelay != nil {
		c.RetryDelay = seconds(*fc.Sending.RetryDelay)
	}

	setString(&c.ProgressFile, fc.Progress.File)
	if fc.Progress.SaveInterval != nil {
		c.SaveProgressInterval = *fc.Progress.SaveInterval
	}

	if fc.Media.Download != nil {
		c.DownloadMedia = *fc.Media.Download
	}
	if fc.Media.Timeout != nil {
		c.MediaTimeout = seconds(*fc.Media.Timeout)
	}

	setString(&c.LogLevel, fc.Log.Level)
	setString(&c.LogFile, fc.Log.File)
	setString(&c.NatsURL, fc.NatsURL)
}

func setString(dst *string, val string) {
	if val != "" {
		*dst = val
	}
}
