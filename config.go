package segpool

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/segpool/internal/backoff"
	"github.com/arloliu/segpool/routing"
	"github.com/arloliu/segpool/types"
)

// Initial positions for a processor that has no segments yet.
const (
	// PositionEarliest starts new processors at the beginning of the stream.
	PositionEarliest = "earliest"

	// PositionLatest starts new processors at the current head of the stream.
	PositionLatest = "latest"
)

// Event delivery modes.
const (
	// DeliveryPull lets every work package read the source on its own.
	DeliveryPull = "pull"

	// DeliveryShared lets the coordinator read the source once and feed all
	// work packages of this process.
	DeliveryShared = "shared"
)

// RetryConfig controls backoff for transient token store failures.
type RetryConfig struct {
	// MaxAttempts is the total number of calls including the first (0 retries until cancelled).
	MaxAttempts int `yaml:"maxAttempts"`

	// InitialBackoff is the first delay.
	InitialBackoff time.Duration `yaml:"initialBackoff"`

	// MaxBackoff caps every delay.
	MaxBackoff time.Duration `yaml:"maxBackoff"`

	// Multiplier grows the delay after each attempt.
	Multiplier float64 `yaml:"multiplier"`
}

// Policy converts the configuration to a backoff policy.
func (r RetryConfig) Policy() backoff.Policy {
	return backoff.Policy{
		MaxAttempts: r.MaxAttempts,
		Initial:     r.InitialBackoff,
		Max:         r.MaxBackoff,
		Multiplier:  r.Multiplier,
	}
}

// StatusPublishingConfig controls publishing of status snapshots to NATS KV.
type StatusPublishingConfig struct {
	// Enabled turns publishing on. A status bucket or JetStream context must
	// then be passed with WithStatusKV or WithJetStream.
	Enabled bool `yaml:"enabled"`

	// Bucket is the KV bucket created through WithJetStream.
	Bucket string `yaml:"bucket"`

	// Interval is how often the snapshot is rewritten.
	Interval time.Duration `yaml:"interval"`

	// TTL expires snapshots of crashed processes. Recommended: 3x Interval.
	TTL time.Duration `yaml:"ttl"`
}

// TokenStoreConfig names the token store location used by the CLI.
type TokenStoreConfig struct {
	// Backend selects the store: "natskv", "redis", or "etcd".
	Backend string `yaml:"backend"`

	// Bucket is the NATS KV bucket holding tokens.
	Bucket string `yaml:"bucket"`

	// Prefix is the key prefix for redis and etcd stores.
	Prefix string `yaml:"prefix"`
}

// Config is the configuration for the Coordinator.
//
// All duration fields accept standard Go duration strings like "30s", "5m", "1h".
type Config struct {
	// ProcessorName identifies the processor group. Every process of the
	// group uses the same name and shares one segment layout.
	ProcessorName string `yaml:"processorName"`

	// MaxSegments is the maximum number of segments this process claims.
	MaxSegments int `yaml:"maxSegments"`

	// InitialSegmentCount is the number of segments created when the
	// processor has none yet.
	InitialSegmentCount int `yaml:"initialSegmentCount"`

	// InitialPosition is where new segments start: "earliest" or "latest".
	InitialPosition string `yaml:"initialPosition"`

	// BatchSize is the maximum number of events handled between token writes.
	BatchSize int `yaml:"batchSize"`

	// ClaimTimeout is how old a claim may get before another process takes it over.
	// It must match the timeout configured on the token store.
	ClaimTimeout time.Duration `yaml:"claimTimeout"`

	// ClaimExtensionInterval is how often an idle work package refreshes its claim.
	// Must be below ClaimTimeout; recommended at most ClaimTimeout/3.
	ClaimExtensionInterval time.Duration `yaml:"claimExtensionInterval"`

	// ReconcileInterval is how often the coordinator looks for claimable segments.
	ReconcileInterval time.Duration `yaml:"reconcileInterval"`

	// PollInterval is how long a caught-up reader waits before reading again.
	PollInterval time.Duration `yaml:"pollInterval"`

	// EventDelivery selects "pull" or "shared" reading.
	EventDelivery string `yaml:"eventDelivery"`

	// MaxQueuedEvents bounds the per-package queue in shared mode.
	MaxQueuedEvents int `yaml:"maxQueuedEvents"`

	// Hasher names the routing hash ("xxh3" or "murmur3"). All processes of a
	// group must use the same one.
	Hasher string `yaml:"hasher"`

	// AbortTimeout bounds how long a task waits for a work package to stop.
	AbortTimeout time.Duration `yaml:"abortTimeout"`

	// OperationTimeout bounds SplitSegment, MergeSegment, and ReleaseSegment
	// calls whose context has no deadline.
	OperationTimeout time.Duration `yaml:"operationTimeout"`

	// ShutdownTimeout is the maximum time Stop waits for work packages.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// StoreRetry controls backoff for transient token store failures.
	StoreRetry RetryConfig `yaml:"storeRetry"`

	// StatusPublishing controls status snapshots in NATS KV.
	StatusPublishing StatusPublishingConfig `yaml:"statusPublishing"`

	// TokenStore names where tokens live (CLI only).
	TokenStore TokenStoreConfig `yaml:"tokenStore"`
}

// DefaultConfig returns a Config with sensible defaults.
//
// ProcessorName has no default and must be set.
//
// Returns:
//   - Config: Configuration with default values
func DefaultConfig() Config {
	return Config{
		MaxSegments:            32,
		InitialSegmentCount:    1,
		InitialPosition:        PositionEarliest,
		BatchSize:              100,
		ClaimTimeout:           10 * time.Second,
		ClaimExtensionInterval: 3 * time.Second,
		ReconcileInterval:      5 * time.Second,
		PollInterval:           500 * time.Millisecond,
		EventDelivery:          DeliveryPull,
		MaxQueuedEvents:        1024,
		Hasher:                 "xxh3",
		AbortTimeout:           10 * time.Second,
		OperationTimeout:       30 * time.Second,
		ShutdownTimeout:        15 * time.Second,
		StoreRetry: RetryConfig{
			MaxAttempts:    5,
			InitialBackoff: 50 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			Multiplier:     2.0,
		},
		StatusPublishing: StatusPublishingConfig{
			Bucket:   "segpool-status",
			Interval: 5 * time.Second,
			TTL:      15 * time.Second,
		},
		TokenStore: TokenStoreConfig{
			Backend: "natskv",
			Bucket:  "segpool-tokens",
		},
	}
}

// SetDefaults fills in missing configuration values with production defaults.
//
// Parameters:
//   - cfg: Config to apply defaults to (modified in place)
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.MaxSegments == 0 {
		cfg.MaxSegments = defaults.MaxSegments
	}
	if cfg.InitialSegmentCount == 0 {
		cfg.InitialSegmentCount = defaults.InitialSegmentCount
	}
	if cfg.InitialPosition == "" {
		cfg.InitialPosition = defaults.InitialPosition
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.ClaimTimeout == 0 {
		cfg.ClaimTimeout = defaults.ClaimTimeout
	}
	if cfg.ClaimExtensionInterval == 0 {
		// A third of the claim timeout tolerates two missed extensions.
		cfg.ClaimExtensionInterval = cfg.ClaimTimeout / 3
	}
	if cfg.ReconcileInterval == 0 {
		cfg.ReconcileInterval = defaults.ReconcileInterval
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.EventDelivery == "" {
		cfg.EventDelivery = defaults.EventDelivery
	}
	if cfg.MaxQueuedEvents == 0 {
		cfg.MaxQueuedEvents = defaults.MaxQueuedEvents
	}
	if cfg.Hasher == "" {
		cfg.Hasher = defaults.Hasher
	}
	if cfg.AbortTimeout == 0 {
		cfg.AbortTimeout = defaults.AbortTimeout
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = defaults.OperationTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if cfg.StoreRetry.InitialBackoff == 0 {
		cfg.StoreRetry.InitialBackoff = defaults.StoreRetry.InitialBackoff
	}
	if cfg.StoreRetry.MaxBackoff == 0 {
		cfg.StoreRetry.MaxBackoff = defaults.StoreRetry.MaxBackoff
	}
	if cfg.StoreRetry.Multiplier == 0 {
		cfg.StoreRetry.Multiplier = defaults.StoreRetry.Multiplier
	}
	// MaxAttempts of 0 is valid (retry until cancelled), so no default is applied.
	if cfg.StatusPublishing.Bucket == "" {
		cfg.StatusPublishing.Bucket = defaults.StatusPublishing.Bucket
	}
	if cfg.StatusPublishing.Interval == 0 {
		cfg.StatusPublishing.Interval = defaults.StatusPublishing.Interval
	}
	if cfg.StatusPublishing.TTL == 0 {
		cfg.StatusPublishing.TTL = 3 * cfg.StatusPublishing.Interval
	}
	if cfg.TokenStore.Backend == "" {
		cfg.TokenStore.Backend = defaults.TokenStore.Backend
	}
	if cfg.TokenStore.Bucket == "" {
		cfg.TokenStore.Bucket = defaults.TokenStore.Bucket
	}
}

// Validate checks configuration constraints and returns error for invalid values.
//
// Hard Validation Rules:
//   - ProcessorName is set
//   - MaxSegments, InitialSegmentCount, BatchSize, MaxQueuedEvents >= 1
//   - ClaimExtensionInterval < ClaimTimeout (idle claims must not expire)
//   - ReconcileInterval, PollInterval > 0
//   - InitialPosition is "earliest" or "latest"
//   - EventDelivery is "pull" or "shared"
//   - Hasher is a known hasher
//   - StatusPublishing.TTL >= 2 * StatusPublishing.Interval when enabled
//
// Returns:
//   - error: Validation error wrapping ErrInvalidConfig, nil if valid
func (cfg *Config) Validate() error {
	if cfg.ProcessorName == "" {
		return fmt.Errorf("%w: ProcessorName is required", types.ErrInvalidConfig)
	}

	if cfg.MaxSegments < 1 {
		return fmt.Errorf("%w: MaxSegments must be >= 1, got %d", types.ErrInvalidConfig, cfg.MaxSegments)
	}

	if cfg.InitialSegmentCount < 1 {
		return fmt.Errorf("%w: InitialSegmentCount must be >= 1, got %d", types.ErrInvalidConfig, cfg.InitialSegmentCount)
	}

	if cfg.BatchSize < 1 {
		return fmt.Errorf("%w: BatchSize must be >= 1, got %d", types.ErrInvalidConfig, cfg.BatchSize)
	}

	if cfg.MaxQueuedEvents < 1 {
		return fmt.Errorf("%w: MaxQueuedEvents must be >= 1, got %d", types.ErrInvalidConfig, cfg.MaxQueuedEvents)
	}

	if cfg.ClaimExtensionInterval >= cfg.ClaimTimeout {
		return fmt.Errorf(
			"%w: ClaimExtensionInterval (%v) must be < ClaimTimeout (%v) so idle claims do not expire",
			types.ErrInvalidConfig, cfg.ClaimExtensionInterval, cfg.ClaimTimeout,
		)
	}

	if cfg.ReconcileInterval <= 0 || cfg.PollInterval <= 0 {
		return fmt.Errorf("%w: ReconcileInterval and PollInterval must be > 0", types.ErrInvalidConfig)
	}

	switch cfg.InitialPosition {
	case PositionEarliest, PositionLatest:
	default:
		return fmt.Errorf("%w: InitialPosition must be %q or %q, got %q",
			types.ErrInvalidConfig, PositionEarliest, PositionLatest, cfg.InitialPosition)
	}

	switch cfg.EventDelivery {
	case DeliveryPull, DeliveryShared:
	default:
		return fmt.Errorf("%w: EventDelivery must be %q or %q, got %q",
			types.ErrInvalidConfig, DeliveryPull, DeliveryShared, cfg.EventDelivery)
	}

	if _, err := routing.ByName(cfg.Hasher); err != nil {
		return fmt.Errorf("%w: %w", types.ErrInvalidConfig, err)
	}

	if cfg.StatusPublishing.Enabled && cfg.StatusPublishing.TTL > 0 &&
		cfg.StatusPublishing.TTL < 2*cfg.StatusPublishing.Interval {
		return fmt.Errorf(
			"%w: StatusPublishing.TTL (%v) must be >= 2*Interval (%v) to allow one missed publish",
			types.ErrInvalidConfig, cfg.StatusPublishing.TTL, cfg.StatusPublishing.Interval,
		)
	}

	return nil
}

// ValidateWithWarnings logs warnings for valid but non-recommended values.
//
// This is called after Validate() in NewCoordinator() to provide operator guidance.
//
// Parameters:
//   - logger: Logger instance for warning output
func (cfg *Config) ValidateWithWarnings(logger Logger) {
	if cfg.ClaimExtensionInterval > cfg.ClaimTimeout/2 {
		logger.Warn(
			"ClaimExtensionInterval leaves little room before claims expire",
			"claimExtensionInterval", cfg.ClaimExtensionInterval,
			"claimTimeout", cfg.ClaimTimeout,
			"recommended", cfg.ClaimTimeout/3,
		)
	}

	if cfg.StoreRetry.MaxAttempts <= 0 {
		logger.Warn("StoreRetry.MaxAttempts is unlimited, store outages stall work packages until shutdown")
	}

	if cfg.ReconcileInterval > cfg.ClaimTimeout {
		logger.Warn(
			"ReconcileInterval exceeds ClaimTimeout, released segments stay idle for a long time",
			"reconcileInterval", cfg.ReconcileInterval,
			"claimTimeout", cfg.ClaimTimeout,
		)
	}
}

// TestConfig returns a configuration optimized for fast test execution.
//
// Use DefaultConfig() for production deployments.
//
// Example:
//
//	cfg := segpool.TestConfig()
//	cfg.ProcessorName = "orders"
//	coord, err := segpool.NewCoordinator(&cfg, store, src, handler)
func TestConfig() Config {
	cfg := DefaultConfig()

	cfg.BatchSize = 10
	cfg.ClaimTimeout = 2 * time.Second
	cfg.ClaimExtensionInterval = 500 * time.Millisecond
	cfg.ReconcileInterval = 50 * time.Millisecond
	cfg.PollInterval = 10 * time.Millisecond
	cfg.AbortTimeout = 2 * time.Second
	cfg.OperationTimeout = 5 * time.Second
	cfg.ShutdownTimeout = 5 * time.Second
	cfg.StoreRetry.InitialBackoff = 5 * time.Millisecond
	cfg.StoreRetry.MaxBackoff = 50 * time.Millisecond
	cfg.StatusPublishing.Interval = 100 * time.Millisecond
	cfg.StatusPublishing.TTL = 300 * time.Millisecond

	return cfg
}

// LoadConfig reads a YAML configuration file and applies defaults.
//
// Unknown fields are rejected so typos surface at startup.
//
// Parameters:
//   - path: Path to the YAML file
//
// Returns:
//   - Config: Parsed configuration with defaults applied
//   - error: Read, parse, or validation failure
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig parses YAML configuration, applies defaults, and validates it.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parse config: %w", types.ErrInvalidConfig, err)
	}

	SetDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
