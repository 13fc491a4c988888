// Package source provides built-in event sources.
//
// The package includes:
//
//   - Memory: In-process append-only event log
//   - JetStream: Events stored in a NATS JetStream stream
//
// Both assign GlobalSequenceToken positions and return events unfiltered in
// stream order; work packages filter by segment. Custom sources implement
// types.EventSource, and optionally types.HeadTokenSource.
package source
