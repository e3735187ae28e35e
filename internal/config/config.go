package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"livechat/internal/constants"
	"livechat/internal/models"
	"livechat/internal/security"
)

var (
	ErrMissingDBPath      = models.ConfigError{Message: "missing database path"}
	ErrMissingBotToken    = models.ConfigError{Message: "missing Telegram bot token"}
	ErrMissingChatID      = models.ConfigError{Message: "missing Telegram chat ID"}
	ErrInvalidBindingMode = models.ConfigError{Message: "session binding must be \"log\" or \"enforce\""}
)

func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if c.Telegram.BotToken == "" {
		return ErrMissingBotToken
	}
	if c.Telegram.ChatID == 0 {
		return ErrMissingChatID
	}

	switch c.Auth.SessionBinding {
	case "", models.BindingLogOnly, models.BindingEnforce:
	default:
		return ErrInvalidBindingMode
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeout
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}
	if c.Server.MaxRequestBytes <= 0 {
		c.Server.MaxRequestBytes = constants.DefaultMaxRequestBytes
	}
	if c.Server.CleanupIntervalMins <= 0 {
		c.Server.CleanupIntervalMins = constants.DefaultCleanupIntervalMins
	}

	if c.Telegram.APIBaseURL == "" {
		c.Telegram.APIBaseURL = constants.DefaultTelegramAPIBaseURL
	}
	if c.Telegram.TimeoutSec <= 0 {
		c.Telegram.TimeoutSec = constants.DefaultTelegramTimeoutSec
	}

	if c.Relay.MaxVisitors <= 0 {
		c.Relay.MaxVisitors = constants.DefaultMaxVisitorChannels
	}
	if c.Relay.MaxOperators <= 0 {
		c.Relay.MaxOperators = constants.DefaultMaxOperatorChannels
	}
	if c.Relay.MaxEventBytes <= 0 {
		c.Relay.MaxEventBytes = constants.DefaultMaxEventBytes
	}
	if c.Relay.MaxMessageLen <= 0 {
		c.Relay.MaxMessageLen = constants.DefaultMaxMessageLen
	}
	if c.Relay.HistoryLimit <= 0 {
		c.Relay.HistoryLimit = constants.DefaultHistoryLimit
	}

	if c.Auth.CodeTTLSeconds <= 0 {
		c.Auth.CodeTTLSeconds = constants.DefaultCodeTTLSeconds
	}
	if c.Auth.SessionTTLHours <= 0 {
		c.Auth.SessionTTLHours = constants.DefaultSessionTTLHours
	}

	if c.RateLimit.ChannelPerSec <= 0 {
		c.RateLimit.ChannelPerSec = constants.DefaultChannelMsgsPerSec
	}
	if c.RateLimit.ChannelBurst <= 0 {
		c.RateLimit.ChannelBurst = constants.DefaultChannelBurst
	}
	if c.RateLimit.APIPerSec <= 0 {
		c.RateLimit.APIPerSec = constants.DefaultAPIReqPerSec
	}
	if c.RateLimit.APIBurst <= 0 {
		c.RateLimit.APIBurst = constants.DefaultAPIBurst
	}
	if c.RateLimit.SweepIdleMinutes <= 0 {
		c.RateLimit.SweepIdleMinutes = constants.DefaultBucketSweepIdleMins
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}

	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	// SECURITY: secrets should come from the environment, not the file
	if token := os.Getenv("LIVECHAT_TELEGRAM_BOT_TOKEN"); token != "" {
		c.Telegram.BotToken = token
	}
	if secret := os.Getenv("LIVECHAT_TELEGRAM_WEBHOOK_SECRET"); secret != "" {
		c.Telegram.WebhookSecret = secret
	}
	if salt := os.Getenv("LIVECHAT_CODE_SALT"); salt != "" {
		c.Auth.HashSalt = salt
	}

	if chatID := os.Getenv("LIVECHAT_TELEGRAM_CHAT_ID"); chatID != "" {
		if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
			c.Telegram.ChatID = id
		}
	}
	if path := os.Getenv("DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv("LIVECHAT_ENV") == "production"

	if isProduction {
		if c.Telegram.WebhookSecret == "" {
			return models.ConfigError{Message: "Telegram webhook secret is required in production (set LIVECHAT_TELEGRAM_WEBHOOK_SECRET environment variable)"}
		}
		if len(c.Telegram.WebhookSecret) < 32 {
			return models.ConfigError{Message: "Telegram webhook secret must be at least 32 characters long"}
		}
		if len(c.Auth.HashSalt) < constants.MinHashSaltLength {
			return models.ConfigError{Message: fmt.Sprintf("code hash salt must be at least %d characters long (set LIVECHAT_CODE_SALT environment variable)", constants.MinHashSaltLength)}
		}
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
	} else {
		if c.Telegram.WebhookSecret == "" {
			fmt.Fprintf(os.Stderr, "WARNING: Telegram webhook secret not set. Set LIVECHAT_TELEGRAM_WEBHOOK_SECRET environment variable for security.\n")
		}
		if c.Auth.HashSalt == "" {
			// Deterministic dev fallback keeps local logins working.
			c.Auth.HashSalt = "livechat-dev-salt-not-for-production!!"
		}
	}

	return nil
}
