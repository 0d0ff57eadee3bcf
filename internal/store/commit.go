package store

import (
	"fmt"
	"time"
)

// CommitBatch writes every buffered result from a BatchedStore within a
// single transaction. When a key was put more than once only the latest
// result is written. The batch is emptied on success.
func (s *Store) CommitBatch(batch *BatchedStore) error {
	batch.mu.Lock()
	defer batch.mu.Unlock()
	if len(batch.results) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("commit batch: begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	for i, key := range batch.keys {
		if batch.pending[key] != i {
			continue
		}
		if err := putTx(tx, key, batch.results[i], now); err != nil {
			return fmt.Errorf("commit batch: %s: %w", key.Path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}

	batch.keys = nil
	batch.results = nil
	batch.pending = make(map[Key]int)
	return nil
}
