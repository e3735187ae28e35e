package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livechat/internal/constants"
	"livechat/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

// The bot token is env-only: the json tag on the struct field blocks
// file loading so tokens cannot end up committed in config files.
func setBotToken(t *testing.T) {
	t.Helper()
	t.Setenv("LIVECHAT_TELEGRAM_BOT_TOKEN", "test-token")
}

const minimalConfig = `{
	"database": {"path": "/tmp/livechat.db"},
	"telegram": {"chat_id": 42}
}`

func TestLoadConfigAppliesDefaults(t *testing.T) {
	setBotToken(t)
	path := writeConfig(t, minimalConfig)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, constants.DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, constants.DefaultMaxVisitorChannels, cfg.Relay.MaxVisitors)
	assert.Equal(t, constants.DefaultMaxEventBytes, cfg.Relay.MaxEventBytes)
	assert.Equal(t, constants.DefaultHistoryLimit, cfg.Relay.HistoryLimit)
	assert.Equal(t, constants.DefaultCodeTTLSeconds, cfg.Auth.CodeTTLSeconds)
	assert.Equal(t, constants.DefaultTelegramAPIBaseURL, cfg.Telegram.APIBaseURL)
	assert.Equal(t, constants.DefaultMaxAttempts, cfg.Retry.MaxAttempts)
}

func TestLoadConfigMissingRequiredFields(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		botToken string
		wantErr  error
	}{
		{
			name:     "missing database path",
			content:  `{"telegram": {"chat_id": 42}}`,
			botToken: "test-token",
			wantErr:  ErrMissingDBPath,
		},
		{
			name:    "missing bot token",
			content: `{"database": {"path": "/tmp/x.db"}, "telegram": {"chat_id": 42}}`,
			wantErr: ErrMissingBotToken,
		},
		{
			name:     "missing chat id",
			content:  `{"database": {"path": "/tmp/x.db"}}`,
			botToken: "test-token",
			wantErr:  ErrMissingChatID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LIVECHAT_TELEGRAM_BOT_TOKEN", tt.botToken)
			_, err := LoadConfig(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err)
		})
	}
}

func TestLoadConfigInvalidBindingMode(t *testing.T) {
	setBotToken(t)
	path := writeConfig(t, `{
		"database": {"path": "/tmp/x.db"},
		"telegram": {"chat_id": 42},
		"auth": {"sessionBinding": "paranoid"}
	}`)

	_, err := LoadConfig(path)
	assert.Equal(t, ErrInvalidBindingMode, err)
}

func TestLoadConfigBindingModes(t *testing.T) {
	setBotToken(t)
	for _, mode := range []string{"log", "enforce"} {
		path := writeConfig(t, `{
			"database": {"path": "/tmp/x.db"},
			"telegram": {"chat_id": 42},
			"auth": {"sessionBinding": "`+mode+`"}
		}`)
		cfg, err := LoadConfig(path)
		require.NoError(t, err, mode)
		assert.Equal(t, models.SessionBindingPolicy(mode), cfg.Auth.SessionBinding)
	}
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("LIVECHAT_TELEGRAM_BOT_TOKEN", "env-token")
	t.Setenv("LIVECHAT_TELEGRAM_CHAT_ID", "-100987")
	t.Setenv("LIVECHAT_CODE_SALT", "env-salt-env-salt-env-salt-env-salt")
	t.Setenv("DB_PATH", "/tmp/env.db")
	t.Setenv("PORT", "9100")

	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.Telegram.BotToken)
	assert.Equal(t, int64(-100987), cfg.Telegram.ChatID)
	assert.Equal(t, "env-salt-env-salt-env-salt-env-salt", cfg.Auth.HashSalt)
	assert.Equal(t, "/tmp/env.db", cfg.Database.Path)
	assert.Equal(t, 9100, cfg.Server.Port)
}

func TestLoadConfigProductionRequiresSecrets(t *testing.T) {
	setBotToken(t)
	t.Setenv("LIVECHAT_ENV", "production")

	_, err := LoadConfig(writeConfig(t, minimalConfig))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook secret")

	t.Setenv("LIVECHAT_TELEGRAM_WEBHOOK_SECRET", "short")
	_, err = LoadConfig(writeConfig(t, minimalConfig))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 32 characters")

	t.Setenv("LIVECHAT_TELEGRAM_WEBHOOK_SECRET", "long-enough-webhook-secret-for-production-use")
	_, err = LoadConfig(writeConfig(t, minimalConfig))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "salt")

	t.Setenv("LIVECHAT_CODE_SALT", "long-enough-code-salt-for-production-use!")
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Auth.HashSalt)
}

func TestLoadConfigProductionRejectsDebugLogging(t *testing.T) {
	setBotToken(t)
	t.Setenv("LIVECHAT_ENV", "production")
	t.Setenv("LIVECHAT_TELEGRAM_WEBHOOK_SECRET", "long-enough-webhook-secret-for-production-use")
	t.Setenv("LIVECHAT_CODE_SALT", "long-enough-code-salt-for-production-use!")

	path := writeConfig(t, `{
		"database": {"path": "/tmp/x.db"},
		"telegram": {"chat_id": 42},
		"log_level": "debug"
	}`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "debug logging")
}

func TestLoadConfigDevSaltFallback(t *testing.T) {
	setBotToken(t)
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Auth.HashSalt)
}

func TestLoadConfigBadPath(t *testing.T) {
	_, err := LoadConfig("")
	assert.Error(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
