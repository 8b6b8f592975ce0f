package license

import "context"

// Version identifies one revision of the ledger document as reported by the
// backend (an ETag, a Gist commit, a content hash). Empty means unknown.
type Version string

// Snapshot is a ledger as read from the store together with its version.
type Snapshot struct {
	Ledger  Ledger
	Version Version
}

// Store reads and replaces the whole ledger document.
//
// Replace receives the version the caller read. Implementations record it
// but do not enforce it: concurrent read-modify-write cycles can overwrite
// each other. A missing document is reported as an empty ledger.
type Store interface {
	Fetch(ctx context.Context) (*Snapshot, error)
	Replace(ctx context.Context, ledger Ledger, ifMatch Version) error
}

// Pinger is implemented by stores that can report reachability without
// reading the whole document.
type Pinger interface {
	Ping(ctx context.Context) error
}
