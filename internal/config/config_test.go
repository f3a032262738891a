package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("TGDL_TELEGRAM_TOKEN", "")
	t.Setenv("TELOXIDE_TOKEN", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, DefaultStorageDir, cfg.Storage.Dir)
	assert.Equal(t, DefaultMaxConcurrency, cfg.Dispatch.MaxConcurrency)
	assert.Empty(t, cfg.Access.AllowedUsers)
}

func TestLoadTOML(t *testing.T) {
	t.Setenv("TGDL_TELEGRAM_TOKEN", "")
	t.Setenv("TELOXIDE_TOKEN", "")

	path := filepath.Join(t.TempDir(), "config.toml")
	raw := `
[log]
level = "debug"

[telegram]
token = "file-token"

[storage]
dir = "/srv/videos"

[access]
allowed_users = ["123", "456"]
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "file-token", cfg.Telegram.Token)
	assert.Equal(t, "/srv/videos", cfg.Storage.Dir)
	assert.Equal(t, []string{"123", "456"}, cfg.Access.AllowedUsers)
	assert.NoError(t, Validate(cfg))
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("TGDL_TELEGRAM_TOKEN", "")
	t.Setenv("TELOXIDE_TOKEN", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := "telegram:\n  token: yaml-token\nstorage:\n  dir: downloads\n"
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "yaml-token", cfg.Telegram.Token)
	assert.Equal(t, "downloads", cfg.Storage.Dir)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[telegram]\ntoken = \"file-token\"\n"), 0o600))
	t.Setenv("TGDL_TELEGRAM_TOKEN", "env-token")
	t.Setenv("TGDL_ALLOWED_USERS", "1,2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Telegram.Token)
	assert.Equal(t, []string{"1", "2"}, cfg.Access.AllowedUsers)
}

func TestTeloxideTokenFallback(t *testing.T) {
	t.Setenv("TGDL_TELEGRAM_TOKEN", "")
	t.Setenv("TELOXIDE_TOKEN", "legacy-token")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "legacy-token", cfg.Telegram.Token)
}

func TestEnvLogSettingsAreCaseInsensitive(t *testing.T) {
	t.Setenv("TGDL_LOG_LEVEL", " INFO ")
	t.Setenv("TGDL_LOG_FORMAT", "JSON")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	cfg.Telegram.Token = "token"
	assert.NoError(t, Validate(cfg))
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := Default()
	assert.Error(t, Validate(cfg), "token is required")

	cfg.Telegram.Token = "token"
	assert.NoError(t, Validate(cfg))

	bad := cfg
	bad.Log.Level = "loud"
	assert.Error(t, Validate(bad))

	bad = cfg
	bad.Dispatch.MaxConcurrency = 0
	assert.Error(t, Validate(bad))

	bad = cfg
	bad.Storage.Dir = ""
	assert.Error(t, Validate(bad))
}

func TestDurationFallbacks(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 24*time.Hour, StorageConfig{StaleAfter: "nope"}.StaleAfterDuration())
	assert.Equal(t, 2*time.Hour, StorageConfig{StaleAfter: "2h"}.StaleAfterDuration())
	assert.Equal(t, 5*time.Minute, DispatchConfig{}.IdleTimeoutDuration())
	assert.Equal(t, 30*time.Second, TelegramConfig{PollTimeout: 30}.PollTimeoutDuration())
	assert.Equal(t, time.Duration(DefaultPollTimeout)*time.Second, TelegramConfig{}.PollTimeoutDuration())
	assert.Equal(t, time.Duration(DefaultRequestTimeout)*time.Second, TelegramConfig{RequestTimeout: -1}.RequestTimeoutDuration())
}
