// Package testing provides test utilities for segpool users and segpool's own tests.
//
// Helpers start an embedded NATS server with JetStream so token stores, event
// sources, and status publishing can be exercised without external services.
//
// Key utilities:
//   - StartEmbeddedNATS: Single in-process NATS server with JetStream
//   - CreateJetStreamKV: KV bucket for token store tests
//   - CreateEventStream: JetStream stream for event source tests
//   - NewTestLogger: Logger that writes through testing.TB
//
// Example usage:
//
//	import segtest "github.com/arloliu/segpool/testing"
//
//	func TestMyHandler(t *testing.T) {
//	    _, nc := segtest.StartEmbeddedNATS(t)
//	    kv := segtest.CreateJetStreamKV(t, nc, "tokens")
//	    store := natskv.New(kv)
//	    ...
//	}
package testing
