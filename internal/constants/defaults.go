package constants

// Default server configuration values
const (
	DefaultServerPort           = 8080
	DefaultServerReadTimeoutSec = 15
	DefaultServerWriteTimeout   = 15
	DefaultServerIdleTimeoutSec = 60
	DefaultGracefulShutdownSec  = 30
	DefaultMaxRequestBytes      = 1 << 20 // 1 MiB
	DefaultCleanupIntervalMins  = 30
	ServerErrorChannelSize      = 1
)

// Default relay configuration values
const (
	DefaultMaxVisitorChannels  = 500
	DefaultMaxOperatorChannels = 10
	DefaultMaxEventBytes       = 64 * 1024
	DefaultMaxMessageLen       = 2000
	DefaultHistoryLimit        = 50
	DefaultVisitorName         = "Guest"

	// Space reserved for the JSON envelope when truncating an oversized
	// message event down to MaxEventBytes.
	EventEnvelopeReserveBytes = 200
	TruncationMarker          = "... (truncated)"
)

// Default credential/session configuration values
const (
	DefaultCodeTTLSeconds  = 300
	DefaultSessionTTLHours = 24
	CodeDigits             = 6
	SessionTokenBytes      = 32
	CodeHashIterations     = 4096
	CodeHashKeyLen         = 32
	AuthCleanupGraceHours  = 1
	MinHashSaltLength      = 32
)

// Default rate limit values
const (
	DefaultChannelMsgsPerSec   = 1.0
	DefaultChannelBurst        = 5.0
	DefaultAPIReqPerSec        = 20.0
	DefaultAPIBurst            = 100.0
	DefaultBucketSweepIdleMins = 60

	// Code verification quota: 5 attempts per 15 minutes per address.
	CodeVerifyPerSec = 5.0 / 900.0
	CodeVerifyBurst  = 5.0
)

// Default bridge configuration values
const (
	DefaultTelegramAPIBaseURL  = "https://api.telegram.org"
	DefaultTelegramTimeoutSec  = 10
	DefaultBridgeNotifyTimeout = 30 // seconds, cap on a detached notification

	CircuitBreakerMaxFailures   = 5
	CircuitBreakerTimeoutSec    = 60
	CircuitBreakerHalfOpenCalls = 2
)

// Default retry configuration values
const (
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
	DefaultMaxAttempts           = 3
	DefaultDatabaseRetryAttempts = 3
)

// Validation bounds
const (
	MaxDisplayNameLength = 80
	MaxUserAgentLength   = 200
)
