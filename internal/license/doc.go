// Package license holds the license ledger model and the activation engine.
//
// The ledger is one JSON document mapping license strings to records. A
// record starts UNUSED and moves to USED on its first successful activation,
// at which point the bound device, activation timestamp and expiry date are
// written once and never change.
//
// # Activation
//
// Engine.Activate fetches the whole ledger through a Store, decides, and on
// first activation replaces the whole ledger. Denials are sentinel errors
// (ErrMissingLicense, ErrStoreUnavailable, ErrLicenseNotFound,
// ErrLicenseExpired, ErrInconsistentRecord) that callers classify with
// errors.Is.
//
// A failed replace after a first activation does not deny the caller. The
// activation is returned with OutcomeActivatedNotPersisted and the cause in
// PersistErr.
//
// # Concurrency
//
// Store implementations do not enforce the version passed to Replace, so
// fetch-then-replace is not atomic. Concurrent first activations of two
// different licenses may lose one of the two writes.
package license
