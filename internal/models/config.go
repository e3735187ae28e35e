package models

// SessionBindingPolicy controls how an IP or user-agent mismatch on an
// authenticated session is handled.
type SessionBindingPolicy string

const (
	// BindingLogOnly logs the mismatch as a hijack signal but lets the
	// request proceed.
	BindingLogOnly SessionBindingPolicy = "log"
	// BindingEnforce invalidates the session on mismatch.
	BindingEnforce SessionBindingPolicy = "enforce"
)

// Config holds the application configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Telegram  TelegramConfig  `json:"telegram"`
	Relay     RelayConfig     `json:"relay"`
	Auth      AuthConfig      `json:"auth"`
	RateLimit RateLimitConfig `json:"rateLimit"`
	Retry     RetryConfig     `json:"retry"`
	Tracing   TracingConfig   `json:"tracing"`
	LogLevel  string          `json:"log_level"`
}

type ServerConfig struct {
	Host                string   `json:"host"`
	Port                int      `json:"port"`
	ReadTimeoutSec      int      `json:"readTimeoutSec"`
	WriteTimeoutSec     int      `json:"writeTimeoutSec"`
	IdleTimeoutSec      int      `json:"idleTimeoutSec"`
	MaxRequestBytes     int64    `json:"maxRequestBytes"`
	AllowedOrigins      []string `json:"allowedOrigins"`
	CleanupIntervalMins int      `json:"cleanupIntervalMins"`
}

type DatabaseConfig struct {
	Path string `json:"path"`
}

// TelegramConfig configures the external messaging bridge. Secrets are
// supplied through the environment only and never read from config files.
type TelegramConfig struct {
	APIBaseURL     string   `json:"api_base_url"`
	BotToken       string   `json:"-"`
	ChatID         int64    `json:"chat_id"`
	WebhookSecret  string   `json:"-"`
	VerifySourceIP bool     `json:"verifySourceIp"`
	IPAllowlist    []string `json:"ipAllowlist"`
	TimeoutSec     int      `json:"timeoutSec"`
}

type RelayConfig struct {
	MaxVisitors   int `json:"maxVisitors"`
	MaxOperators  int `json:"maxOperators"`
	MaxEventBytes int `json:"maxEventBytes"`
	MaxMessageLen int `json:"maxMessageLen"`
	HistoryLimit  int `json:"historyLimit"`
}

type AuthConfig struct {
	HashSalt        string               `json:"-"`
	CodeTTLSeconds  int                  `json:"codeTTLSeconds"`
	SessionTTLHours int                  `json:"sessionTTLHours"`
	RefreshEnabled  bool                 `json:"refreshEnabled"`
	SessionBinding  SessionBindingPolicy `json:"sessionBinding"`
	IPAllowlist     []string             `json:"ipAllowlist"`
}

type RateLimitConfig struct {
	ChannelPerSec    float64 `json:"channelPerSec"`
	ChannelBurst     float64 `json:"channelBurst"`
	APIPerSec        float64 `json:"apiPerSec"`
	APIBurst         float64 `json:"apiBurst"`
	SweepIdleMinutes int     `json:"sweepIdleMinutes"`
}

// RetryConfig holds bridge and database retry configuration.
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"serviceName"`
	ServiceVersion string  `json:"serviceVersion"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlpEndpoint"`
	SampleRate     float64 `json:"sampleRate"`
	UseStdout      bool    `json:"useStdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
