// Package segpool processes one ordered event stream with a pool of
// processes that claim segments of the stream through a shared token store.
//
// The partition key of every event is hashed onto a segment. Each process
// runs a Coordinator that claims segments, processes their events in stream
// order, and persists a tracking token after every batch. Claims are checked
// on every token write, so two processes never advance the same segment.
// Segments can be split when they lag and merged when they are idle, while
// every process keeps running.
//
// # Quick Start
//
//	import (
//	    "github.com/arloliu/segpool"
//	    "github.com/arloliu/segpool/source"
//	    "github.com/arloliu/segpool/tokenstore/natskv"
//	)
//
//	store, err := natskv.Open(ctx, js, "segpool-tokens")
//	src := source.NewJetStream(stream, "orders.>")
//
//	cfg := segpool.DefaultConfig()
//	cfg.ProcessorName = "orders"
//	cfg.InitialSegmentCount = 4
//
//	coord, err := segpool.NewCoordinator(&cfg, store, src, segpool.HandlerFunc(
//	    func(ctx context.Context, ev segpool.Event) error {
//	        return apply(ctx, ev)
//	    }))
//	if err := coord.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer coord.Stop(context.Background())
//
// # Segments
//
// A segment is an (ID, Mask) pair. An event belongs to a segment when
// hash(partitionKey) & Mask == ID. Splitting segment (id, m) yields
// (id, m') and (id+m+1, m') with m' = (m << 1) | 1; the two halves of a
// split are siblings and can be merged back.
//
// # Delivery
//
// Handlers are called at least once per event and strictly sequentially
// within a segment. After a crash, events after the last stored token are
// delivered again, so handlers must be idempotent.
//
// With Config.EventDelivery "pull" every work package reads the stream on
// its own. With "shared" the coordinator reads it once and hands each
// package the events of its segment.
//
// # Token Stores
//
// Token stores live in sub-packages: tokenstore/natskv (NATS JetStream KV),
// tokenstore/redisstore, tokenstore/etcdstore, and tokenstore/memory for tests.
// All pass the tokenstore/storetest conformance suite.
//
// # Operations
//
// A running Coordinator restructures segments with SplitSegment,
// MergeSegment, ReleaseSegment, and ResumeSegment. Operator tooling uses the
// standalone Split, Merge, Release, ResetTokens, and InitializeSegments
// functions directly against a store.
package segpool
