package store

import (
	"sync"

	"github.com/jward/ruletrace/internal/scanner"
)

// BatchedStore buffers scan results in memory so parallel workers never
// write to SQLite. It implements DataStore: Put appends to the buffer and
// Lookup consults the buffer before passing through to the Store.
//
// Thread safety: the mutex protects the buffer. Lookups that miss the buffer
// go to the underlying Store, which is safe for concurrent reads.
type BatchedStore struct {
	store *Store // for read passthrough
	mu    sync.Mutex

	keys    []Key
	results []*scanner.FileResult
	pending map[Key]int // key -> index of the latest buffered result
}

// Compile-time check: *BatchedStore satisfies DataStore.
var _ DataStore = (*BatchedStore)(nil)

// NewBatchedStore creates a BatchedStore backed by the given Store for read
// queries. A nil Store makes every buffer miss a cache miss.
func NewBatchedStore(s *Store) *BatchedStore {
	return &BatchedStore{
		store:   s,
		pending: make(map[Key]int),
	}
}

// Put buffers res until CommitBatch.
func (b *BatchedStore) Put(key Key, res *scanner.FileResult) error {
	key.Prefix = key.prefix()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[key] = len(b.results)
	b.keys = append(b.keys, key)
	b.results = append(b.results, res)
	return nil
}

// Lookup returns a buffered result first, then a committed one.
func (b *BatchedStore) Lookup(key Key, hash string) (*scanner.FileResult, bool, error) {
	key.Prefix = key.prefix()
	b.mu.Lock()
	if i, ok := b.pending[key]; ok && b.results[i].Hash == hash {
		res := b.results[i]
		b.mu.Unlock()
		return res, true, nil
	}
	b.mu.Unlock()
	if b.store == nil {
		return nil, false, nil
	}
	return b.store.Lookup(key, hash)
}

// Len returns the number of buffered results.
func (b *BatchedStore) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.results)
}
