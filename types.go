package segpool

import "github.com/arloliu/segpool/types"

// Re-export types from the types package.
//
// Internal packages depend on types rather than on the root package, which
// keeps the import graph acyclic while users keep writing segpool.Segment,
// segpool.Logger, and so on.
type (
	State               = types.State
	Segment             = types.Segment
	TrackingToken       = types.TrackingToken
	GlobalSequenceToken = types.GlobalSequenceToken
	MergedToken         = types.MergedToken
	ReplayToken         = types.ReplayToken
	TrackerStatus       = types.TrackerStatus
	WorkPackageState    = types.WorkPackageState
	Event               = types.Event
)

// Re-export interfaces from the types package for convenience.
type (
	TokenStore       = types.TokenStore
	SegmentWatcher   = types.SegmentWatcher
	EventSource      = types.EventSource
	HeadTokenSource  = types.HeadTokenSource
	EventHandler     = types.EventHandler
	HandlerFunc      = types.HandlerFunc
	ErrorHandler     = types.ErrorHandler
	MetricsCollector = types.MetricsCollector
	Logger           = types.Logger
	Hooks            = types.Hooks
)

// Re-export State constants from the types package.
const (
	StateInit     = types.StateInit
	StateStarting = types.StateStarting
	StateRunning  = types.StateRunning
	StateStopping = types.StateStopping
	StateStopped  = types.StateStopped
)

// RootSegment is the single segment covering the whole key space.
var RootSegment = types.RootSegment

// Re-export WorkPackageState constants from the types package.
const (
	WorkPackageIdle       = types.WorkPackageIdle
	WorkPackageActive     = types.WorkPackageActive
	WorkPackageAborting   = types.WorkPackageAborting
	WorkPackageTerminated = types.WorkPackageTerminated
)

// MaxMask is the mask of the smallest possible segment.
const MaxMask = types.MaxMask
