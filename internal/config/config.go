package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath      = "config.toml"
	DefaultStorageDir      = "."
	DefaultMaxBytes        = int64(2 << 30)
	DefaultSweepSchedule   = "@every 1h"
	DefaultStaleAfter      = "24h"
	DefaultPollTimeout     = 30
	DefaultRequestTimeout  = 60
	DefaultMaxConcurrency  = 4
	DefaultQueueSize       = 16
	DefaultIdleTimeout     = "5m"
	DefaultTelegramFileURL = "https://api.telegram.org/file/bot%s/%s"
)

type Config struct {
	Log      LogConfig      `toml:"log" yaml:"log"`
	Telegram TelegramConfig `toml:"telegram" yaml:"telegram"`
	Storage  StorageConfig  `toml:"storage" yaml:"storage"`
	Access   AccessConfig   `toml:"access" yaml:"access"`
	Dispatch DispatchConfig `toml:"dispatch" yaml:"dispatch"`
	Server   ServerConfig   `toml:"server" yaml:"server"`
}

type LogConfig struct {
	Level  string `toml:"level" yaml:"level" env:"TGDL_LOG_LEVEL" validate:"oneof=debug info warn warning error"`
	Format string `toml:"format" yaml:"format" env:"TGDL_LOG_FORMAT" validate:"oneof=text json"`
}

type TelegramConfig struct {
	// Token is the bot credential. TELOXIDE_TOKEN is honoured for drop-in compatibility.
	Token          string `toml:"token" yaml:"token" env:"TGDL_TELEGRAM_TOKEN" validate:"required"`
	APIEndpoint    string `toml:"api_endpoint" yaml:"api_endpoint" env:"TGDL_TELEGRAM_API_ENDPOINT"`
	FileEndpoint   string `toml:"file_endpoint" yaml:"file_endpoint" env:"TGDL_TELEGRAM_FILE_ENDPOINT"`
	PollTimeout    int    `toml:"poll_timeout_seconds" yaml:"poll_timeout_seconds" validate:"gte=0"`
	RequestTimeout int    `toml:"request_timeout_seconds" yaml:"request_timeout_seconds" validate:"gte=0"`
}

type StorageConfig struct {
	Dir           string `toml:"dir" yaml:"dir" env:"TGDL_STORAGE_DIR" validate:"required"`
	MaxBytes      int64  `toml:"max_bytes" yaml:"max_bytes" env:"TGDL_STORAGE_MAX_BYTES" validate:"gte=0"`
	SweepSchedule string `toml:"sweep_schedule" yaml:"sweep_schedule"`
	StaleAfter    string `toml:"stale_after" yaml:"stale_after"`
}

type AccessConfig struct {
	AllowedUsers []string `toml:"allowed_users" yaml:"allowed_users" env:"TGDL_ALLOWED_USERS" envSeparator:","`
}

type DispatchConfig struct {
	MaxConcurrency int    `toml:"max_concurrency" yaml:"max_concurrency" validate:"gte=1"`
	QueueSize      int    `toml:"queue_size" yaml:"queue_size" validate:"gte=1"`
	IdleTimeout    string `toml:"idle_timeout" yaml:"idle_timeout"`
}

type ServerConfig struct {
	// Addr enables the status server when non-empty.
	Addr string `toml:"addr" yaml:"addr" env:"TGDL_SERVER_ADDR"`
}

// StaleAfterDuration parses StaleAfter, falling back to the default on bad input.
func (c StorageConfig) StaleAfterDuration() time.Duration {
	return parseDurationOr(c.StaleAfter, DefaultStaleAfter)
}

func (c DispatchConfig) IdleTimeoutDuration() time.Duration {
	return parseDurationOr(c.IdleTimeout, DefaultIdleTimeout)
}

// PollTimeoutDuration is the long-poll wait, DefaultPollTimeout seconds when unset.
func (c TelegramConfig) PollTimeoutDuration() time.Duration {
	return secondsOr(c.PollTimeout, DefaultPollTimeout)
}

func (c TelegramConfig) RequestTimeoutDuration() time.Duration {
	return secondsOr(c.RequestTimeout, DefaultRequestTimeout)
}

func secondsOr(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}

func parseDurationOr(raw, fallback string) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telegram: TelegramConfig{
			FileEndpoint:   DefaultTelegramFileURL,
			PollTimeout:    DefaultPollTimeout,
			RequestTimeout: DefaultRequestTimeout,
		},
		Storage: StorageConfig{
			Dir:           DefaultStorageDir,
			MaxBytes:      DefaultMaxBytes,
			SweepSchedule: DefaultSweepSchedule,
			StaleAfter:    DefaultStaleAfter,
		},
		Dispatch: DispatchConfig{
			MaxConcurrency: DefaultMaxConcurrency,
			QueueSize:      DefaultQueueSize,
			IdleTimeout:    DefaultIdleTimeout,
		},
	}
}

// Load reads the file at path over the defaults and applies environment
// overrides. A missing file is not an error. Validation is left to Validate so
// that callers can apply flag overrides first.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if err := decodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return fmt.Errorf("decode yaml config: %w", err)
		}
		return nil
	default:
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("decode toml config: %w", err)
		}
		return nil
	}
}

func applyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		cfg.Telegram.Token = strings.TrimSpace(os.Getenv("TELOXIDE_TOKEN"))
	}
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports the first group of invalid fields.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
