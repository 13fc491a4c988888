// Package types provides core type definitions and interfaces for segpool.
//
// This package contains shared types that are used across multiple packages in
// segpool. By keeping these types in a separate package, we avoid import cycles
// between the root segpool package and its internal implementations.
//
// Key types:
//   - Segment: id/mask pair selecting part of the partition-key space
//   - TrackingToken: read progress (GlobalSequenceToken, MergedToken, ReplayToken)
//   - TrackerStatus: live view of one work package
//   - TokenStore: claim-checked token persistence contract
//   - EventSource, EventHandler: the stream and the business logic
//   - State: Coordinator lifecycle state
//   - Logger, MetricsCollector, Hooks: observability interfaces
package types
