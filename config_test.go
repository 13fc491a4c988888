package segpool

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/arloliu/segpool/internal/logging"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.Empty(t, cfg.ProcessorName)
	require.Equal(t, 32, cfg.MaxSegments)
	require.Equal(t, 1, cfg.InitialSegmentCount)
	require.Equal(t, PositionEarliest, cfg.InitialPosition)
	require.Equal(t, 100, cfg.BatchSize)
	require.Equal(t, 10*time.Second, cfg.ClaimTimeout)
	require.Equal(t, 3*time.Second, cfg.ClaimExtensionInterval)
	require.Equal(t, 5*time.Second, cfg.ReconcileInterval)
	require.Equal(t, DeliveryPull, cfg.EventDelivery)
	require.Equal(t, "xxh3", cfg.Hasher)
	require.Equal(t, 5, cfg.StoreRetry.MaxAttempts)
	require.Equal(t, "segpool-status", cfg.StatusPublishing.Bucket)
	require.Equal(t, 15*time.Second, cfg.StatusPublishing.TTL)
	require.Equal(t, "natskv", cfg.TokenStore.Backend)
}

func TestSetDefaults(t *testing.T) {
	t.Run("applies defaults to empty config", func(t *testing.T) {
		cfg := Config{}
		SetDefaults(&cfg)

		require.Equal(t, 32, cfg.MaxSegments)
		require.Equal(t, 10*time.Second, cfg.ClaimTimeout)
		require.Equal(t, 10*time.Second/3, cfg.ClaimExtensionInterval)
		require.Equal(t, 2.0, cfg.StoreRetry.Multiplier)
		require.Zero(t, cfg.StoreRetry.MaxAttempts, "zero attempts means retry until cancelled")
	})

	t.Run("derives extension interval from claim timeout", func(t *testing.T) {
		cfg := Config{ClaimTimeout: 30 * time.Second}
		SetDefaults(&cfg)

		require.Equal(t, 10*time.Second, cfg.ClaimExtensionInterval)
	})

	t.Run("derives status TTL from interval", func(t *testing.T) {
		cfg := Config{StatusPublishing: StatusPublishingConfig{Interval: 2 * time.Second}}
		SetDefaults(&cfg)

		require.Equal(t, 6*time.Second, cfg.StatusPublishing.TTL)
	})

	t.Run("preserves custom values", func(t *testing.T) {
		cfg := Config{
			ProcessorName:          "orders",
			MaxSegments:            4,
			InitialSegmentCount:    8,
			InitialPosition:        PositionLatest,
			BatchSize:              500,
			ClaimTimeout:           time.Minute,
			ClaimExtensionInterval: 5 * time.Second,
			EventDelivery:          DeliveryShared,
			Hasher:                 "murmur3",
		}
		SetDefaults(&cfg)

		require.Equal(t, "orders", cfg.ProcessorName)
		require.Equal(t, 4, cfg.MaxSegments)
		require.Equal(t, 8, cfg.InitialSegmentCount)
		require.Equal(t, PositionLatest, cfg.InitialPosition)
		require.Equal(t, 500, cfg.BatchSize)
		require.Equal(t, time.Minute, cfg.ClaimTimeout)
		require.Equal(t, 5*time.Second, cfg.ClaimExtensionInterval)
		require.Equal(t, DeliveryShared, cfg.EventDelivery)
		require.Equal(t, "murmur3", cfg.Hasher)
	})
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		cfg := TestConfig()
		cfg.ProcessorName = "orders"

		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing processor", func(c *Config) { c.ProcessorName = "" }, "ProcessorName"},
		{"zero max segments", func(c *Config) { c.MaxSegments = 0 }, "MaxSegments"},
		{"zero initial segments", func(c *Config) { c.InitialSegmentCount = 0 }, "InitialSegmentCount"},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }, "BatchSize"},
		{"zero queue", func(c *Config) { c.MaxQueuedEvents = 0 }, "MaxQueuedEvents"},
		{"extension not below timeout", func(c *Config) { c.ClaimExtensionInterval = c.ClaimTimeout }, "ClaimExtensionInterval"},
		{"zero reconcile", func(c *Config) { c.ReconcileInterval = 0 }, "ReconcileInterval"},
		{"bad position", func(c *Config) { c.InitialPosition = "middle" }, "InitialPosition"},
		{"bad delivery", func(c *Config) { c.EventDelivery = "push" }, "EventDelivery"},
		{"bad hasher", func(c *Config) { c.Hasher = "md5" }, "md5"},
		{"short status TTL", func(c *Config) {
			c.StatusPublishing.Enabled = true
			c.StatusPublishing.Interval = time.Second
			c.StatusPublishing.TTL = time.Second
		}, "StatusPublishing.TTL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidConfig)
			require.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfig_ValidateWithWarnings(t *testing.T) {
	cfg := TestConfig()
	cfg.ProcessorName = "orders"
	cfg.ClaimExtensionInterval = cfg.ClaimTimeout - time.Millisecond
	cfg.StoreRetry.MaxAttempts = 0

	// Warnings never fail; the test logger only records them.
	cfg.ValidateWithWarnings(logging.NewTest(t))
	require.NoError(t, cfg.Validate())
}

func TestTestConfig(t *testing.T) {
	cfg := TestConfig()
	cfg.ProcessorName = "orders"

	require.NoError(t, cfg.Validate())
	require.Less(t, cfg.ReconcileInterval, DefaultConfig().ReconcileInterval)
	require.Less(t, cfg.ClaimTimeout, DefaultConfig().ClaimTimeout)
}

func TestConfig_YAML(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProcessorName = "orders"
	cfg.EventDelivery = DeliveryShared

	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)

	parsed, err := ParseConfig(data)
	require.NoError(t, err)
	require.Equal(t, cfg, parsed)
}

func TestParseConfig_PartialYAML(t *testing.T) {
	data := []byte(`
processorName: orders
maxSegments: 8
claimTimeout: 30s
storeRetry:
  maxAttempts: 3
statusPublishing:
  enabled: true
  interval: 2s
`)

	cfg, err := ParseConfig(data)
	require.NoError(t, err)

	require.Equal(t, "orders", cfg.ProcessorName)
	require.Equal(t, 8, cfg.MaxSegments)
	require.Equal(t, 30*time.Second, cfg.ClaimTimeout)
	require.Equal(t, 10*time.Second, cfg.ClaimExtensionInterval)
	require.Equal(t, 3, cfg.StoreRetry.MaxAttempts)
	require.Equal(t, 50*time.Millisecond, cfg.StoreRetry.InitialBackoff)
	require.True(t, cfg.StatusPublishing.Enabled)
	require.Equal(t, 6*time.Second, cfg.StatusPublishing.TTL)
}

func TestParseConfig_Errors(t *testing.T) {
	t.Run("unknown field", func(t *testing.T) {
		_, err := ParseConfig([]byte("processorName: orders\nmaxSegmentz: 3\n"))
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("invalid values", func(t *testing.T) {
		_, err := ParseConfig([]byte("processorName: orders\neventDelivery: push\n"))
		require.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segpool.yaml")
	require.NoError(t, os.WriteFile(path, []byte("processorName: billing\ninitialSegmentCount: 4\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "billing", cfg.ProcessorName)
	require.Equal(t, 4, cfg.InitialSegmentCount)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
