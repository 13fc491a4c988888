package tokenstore

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/segpool/internal/logging"
	"github.com/arloliu/segpool/types"
)

// DefaultClaimTimeout is how long a claim stays valid without being extended.
const DefaultClaimTimeout = 10 * time.Second

// Options holds settings common to every token store.
type Options struct {
	Owner        string
	ClaimTimeout time.Duration
	Clock        func() time.Time
	Logger       types.Logger
}

// Option configures a token store.
type Option func(*Options)

// WithOwner sets the identity the store claims segments under.
//
// Two store instances with the same owner share claims; give every process
// its own owner.
func WithOwner(owner string) Option {
	return func(o *Options) {
		o.Owner = owner
	}
}

// WithClaimTimeout sets how long a claim stays valid without ExtendClaim.
func WithClaimTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.ClaimTimeout = d
	}
}

// WithClock overrides the time source. Tests use it to age claims.
func WithClock(clock func() time.Time) Option {
	return func(o *Options) {
		o.Clock = clock
	}
}

// WithLogger sets the store logger.
func WithLogger(logger types.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// NewOptions applies opts over the defaults.
func NewOptions(opts ...Option) Options {
	o := Options{
		ClaimTimeout: DefaultClaimTimeout,
		Clock:        time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.Owner == "" {
		o.Owner = DefaultOwner()
	}
	if o.ClaimTimeout <= 0 {
		o.ClaimTimeout = DefaultClaimTimeout
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}

	return o
}

// DefaultOwner returns "<hostname>-<random>", unique per call.
func DefaultOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "segpool"
	}

	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
