package segpool

import (
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/segpool/routing"
)

// Option configures a Coordinator with optional dependencies.
type Option func(*coordinatorOptions)

// coordinatorOptions holds optional Coordinator configuration.
type coordinatorOptions struct {
	hooks        *Hooks
	metrics      MetricsCollector
	logger       Logger
	errorHandler ErrorHandler
	hasher       routing.Hasher
	statusKV     jetstream.KeyValue
	js           jetstream.JetStream
	balance      BalancePolicy
}

// WithHooks sets lifecycle event hooks.
//
// Parameters:
//   - hooks: Hooks structure with callback functions
//
// Returns:
//   - Option: Functional option for NewCoordinator
//
// Example:
//
//	hooks := &segpool.Hooks{
//	    OnSegmentReleased: func(ctx context.Context, seg segpool.Segment, cause error) error {
//	        log.Printf("released %s: %v", seg, cause)
//	        return nil
//	    },
//	}
//	coord, err := segpool.NewCoordinator(&cfg, store, src, handler, segpool.WithHooks(hooks))
func WithHooks(hooks *Hooks) Option {
	return func(o *coordinatorOptions) {
		o.hooks = hooks
	}
}

// WithMetrics sets a metrics collector.
//
// Parameters:
//   - metrics: MetricsCollector implementation
//
// Returns:
//   - Option: Functional option for NewCoordinator
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *coordinatorOptions) {
		o.metrics = metrics
	}
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation (compatible with zap.SugaredLogger)
//
// Returns:
//   - Option: Functional option for NewCoordinator
//
// Example:
//
//	logger := logging.NewSlog(slog.Default())
//	coord, err := segpool.NewCoordinator(&cfg, store, src, handler, segpool.WithLogger(logger))
func WithLogger(logger Logger) Option {
	return func(o *coordinatorOptions) {
		o.logger = logger
	}
}

// WithErrorHandler decides what happens when the event handler fails.
//
// The default halts the work package; the segment then stays unclaimed by
// this process until ResumeSegment is called.
func WithErrorHandler(handler ErrorHandler) Option {
	return func(o *coordinatorOptions) {
		o.errorHandler = handler
	}
}

// WithHasher overrides the routing hasher named by Config.Hasher.
//
// All processes of a processor group must route with the same hasher.
func WithHasher(hasher routing.Hasher) Option {
	return func(o *coordinatorOptions) {
		o.hasher = hasher
	}
}

// WithStatusKV sets the bucket status snapshots are published to.
//
// Publishing only happens when Config.StatusPublishing.Enabled is set.
func WithStatusKV(kv jetstream.KeyValue) Option {
	return func(o *coordinatorOptions) {
		o.statusKV = kv
	}
}

// WithJetStream lets the coordinator create the status bucket named by
// Config.StatusPublishing.Bucket on Start.
//
// Ignored when WithStatusKV is also given.
func WithJetStream(js jetstream.JetStream) Option {
	return func(o *coordinatorOptions) {
		o.js = js
	}
}

// WithBalancePolicy lets the coordinator split lagging segments on its own.
//
// Parameters:
//   - policy: Policy consulted after every reconcile pass
//
// Returns:
//   - Option: Functional option for NewCoordinator
//
// Example:
//
//	coord, err := segpool.NewCoordinator(&cfg, store, src, handler,
//	    segpool.WithBalancePolicy(segpool.LagPolicy{MinLag: 10_000}))
func WithBalancePolicy(policy BalancePolicy) Option {
	return func(o *coordinatorOptions) {
		o.balance = policy
	}
}
