// Package testutil provides shared helpers for the integration tests.
//
// It holds wait helpers for groups of coordinators and a recording handler
// that checks delivery invariants across processes.
//
// Note: For NATS server setup, use the github.com/arloliu/segpool/testing package.
package testutil
