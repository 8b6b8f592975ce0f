// Package shared holds code used across packages that belongs to no single
// domain.
//
// # Test Utilities
//
// The testutil subpackage provides:
//
//   - LogCapture, an slog.Handler that records entries so tests can assert
//     on what was logged (and that license keys were masked)
//   - ledger fixtures: a small sample ledger and WriteLedgerFile for tests
//     that need the file backend
//
// testutil is imported only from _test.go files.
package shared
