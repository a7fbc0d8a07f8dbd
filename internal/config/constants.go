package config

import "time"

// Amounts
const (
	SompiPerCoin       = 100_000_000
	MaxAmountFractional = 8 // max fractional digits a user-facing amount string may carry
)

// Mixing
const (
	DepositWatchTickPeriod      = 5 * time.Second
	IntermediateWatchTickPeriod = 5 * time.Second
	IntermediateDelayMin        = 60 * time.Second
	IntermediateDelayMax        = 10 * time.Minute
	IntermediateDelayDefault    = 90 * time.Second
)

// CoinJoin
const (
	ParticipantCountTarget = 10
	MassLimit              = 100_000
	CommitmentSaltBytes    = 32
	RoundIdleTimeout       = 10 * time.Minute
	SignatureWaitTimeout   = 5 * time.Minute
)

// UTXO Service
const (
	ExactMatchWaitBaseline     = 60 * time.Second
	ExactMatchWaitLargeAmount  = 180 * time.Second
	ExactMatchLargeThreshold   = 150_000_000 // 1.5 coin in sompi
	ExactMatchPollInterval     = 2 * time.Second
)

// Chain Adapter retry/backoff
const (
	RPCRetryMaxAttempts   = 5
	RPCRetryBaseDelay     = 1 * time.Second
	RPCRetryMaxCumulative = 30 * time.Second
	RPCRequestTimeout     = 15 * time.Second
	MempoolPollInterval   = 2 * time.Second
)

// Circuit breaker (node connection)
const (
	CircuitBreakerThreshold   = 5
	CircuitBreakerCooldown    = 20 * time.Second
	CircuitBreakerHalfOpenMax = 1
	CircuitClosed             = "closed"
	CircuitOpen               = "open"
	CircuitHalfOpen           = "half-open"
)

// Rate limiting
const (
	RateLimitSubmit    = 5 // submit_transaction calls per second
	RateLimitBridgeMsg = 20
)

// Server
const (
	ServerReadTimeout    = 30 * time.Second
	ServerWriteTimeout   = 60 * time.Second
	ServerIdleTimeout    = 120 * time.Second
	ServerMaxHeaderBytes = 1 << 20
	ShutdownTimeout      = 10 * time.Second
	APITimeout           = 30 * time.Second
)

// Logging
const (
	LogFilePattern = "kasmix-%s-%s.log" // date, level
	LogMaxAgeDays  = 30
)

// Database
const (
	DBBusyTimeoutMillis = 5000
)

// Bridge hub
const (
	BridgeHubChannelBuffer = 64
	BridgeWriteDeadline    = 5 * time.Second
)

// Scheduler
const (
	SchedulerTickPeriod = 1 * time.Second
)

// Stats event bus (internal breadcrumbs only, not an external surface)
const (
	StatsEventChannelBuffer = 16
	StatsSnapshotInterval   = 30 * time.Second
)
