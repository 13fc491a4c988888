// Package tokenstore holds the claim-record model shared by every
// types.TokenStore implementation in segpool.
//
// A segment entry stores the segment's tracking token, the owner currently
// claiming it, and the time of the last claim refresh. The rules below are
// implemented once here and applied by each backend inside its own atomic
// primitive (KV revision check, Lua script, etcd transaction, mutex):
//
//   - FetchToken claims an entry that is unowned, owned by the caller, or whose
//     claim is older than the claim timeout.
//   - StoreToken, ExtendClaim, and DeleteToken require the caller to own the entry.
//   - ReleaseClaim clears the owner only when the caller owns the entry.
//
// Backends live in sub-packages: memory, natskv, redisstore, and etcdstore.
// storetest holds the conformance suite they all run.
package tokenstore
