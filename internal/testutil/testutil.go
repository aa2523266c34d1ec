// Package testutil provides test utilities for spinta-sync, including:
//   - A fake Spinta remote served over httptest (remote.go)
//   - Postgres container helpers for migration integration tests (postgres.go)
//   - Redis container helpers for integration tests (redis.go)
//   - Miniredis helpers for unit tests (miniredis.go)
//
// Integration test utilities require Docker and are gated behind the "integration"
// build tag. To run integration tests:
//
//	go test -tags=integration ./...
//
// Unit test helpers (fake remote, miniredis) do not require Docker and work with regular tests.
package testutil
