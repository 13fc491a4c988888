// Package statuspub publishes per-process status snapshots to a NATS KV bucket.
//
// Every coordinator with status publishing enabled writes one key,
// "<processor>.<owner>", holding a JSON Snapshot of its work packages. The
// bucket should carry a TTL of a few publish intervals so snapshots of
// crashed processes expire; a clean shutdown deletes the key right away.
// Read collects the snapshots of a whole processor group.
package statuspub
