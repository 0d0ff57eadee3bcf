package store

import "github.com/jward/ruletrace/internal/scanner"

// DataStore is the interface for scan-phase cache access. Both Store
// (direct SQLite) and BatchedStore (in-memory buffering for parallel
// scanning) implement this interface.
type DataStore interface {
	// Lookup returns the cached result for key if it was scanned from
	// content with the given hash.
	Lookup(key Key, hash string) (*scanner.FileResult, bool, error)

	// Put records a fresh scan result, replacing any earlier one for the
	// same key.
	Put(key Key, res *scanner.FileResult) error
}

// Compile-time check: *Store satisfies DataStore.
var _ DataStore = (*Store)(nil)
