package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/ruletrace/internal/scanner"
)

func TestBatchedStore_LookupReturnsBufferedResult(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	batch := NewBatchedStore(s)
	key := Key{Path: "main.go", Language: "go"}

	require.NoError(t, batch.Put(key, sampleResult("main.go", "h1")))
	assert.Equal(t, 1, batch.Len())

	got, ok, err := batch.Lookup(key, "h1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, got.Refs, 2)

	// Nothing reaches SQLite before CommitBatch.
	_, ok, err = s.Lookup(key, "h1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBatchedStore_LookupPassesThrough(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	key := Key{Path: "main.go", Language: "go"}
	require.NoError(t, s.Put(key, sampleResult("main.go", "h1")))

	batch := NewBatchedStore(s)
	got, ok, err := batch.Lookup(key, "h1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "main.go", got.Path)

	_, ok, err = batch.Lookup(key, "other")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBatchedStore_NilStore(t *testing.T) {
	t.Parallel()
	batch := NewBatchedStore(nil)

	_, ok, err := batch.Lookup(Key{Path: "x.go", Language: "go"}, "h")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBatchedStore_DefaultPrefixSharesKey(t *testing.T) {
	t.Parallel()
	batch := NewBatchedStore(nil)
	require.NoError(t, batch.Put(Key{Path: "x.go", Language: "go"}, sampleResult("x.go", "h")))

	_, ok, err := batch.Lookup(Key{Path: "x.go", Language: "go", Prefix: "r"}, "h")
	require.NoError(t, err)
	assert.True(t, ok)
}

// =============================================================================
// CommitBatch
// =============================================================================

func TestCommitBatch_WritesLatestResult(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	batch := NewBatchedStore(s)
	key := Key{Path: "main.go", Language: "go"}

	require.NoError(t, batch.Put(key, sampleResult("main.go", "h1")))
	require.NoError(t, batch.Put(key, &scanner.FileResult{Path: "main.go", Language: "go", Hash: "h2", Lines: 3}))
	require.NoError(t, batch.Put(Key{Path: "b.go", Language: "go"}, sampleResult("b.go", "h1")))

	require.NoError(t, s.CommitBatch(batch))
	assert.Zero(t, batch.Len(), "batch is emptied")

	_, ok, err := s.Lookup(key, "h1")
	require.NoError(t, err)
	assert.False(t, ok, "superseded result is not written")

	got, ok, err := s.Lookup(key, "h2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, got.Lines)

	paths, err := s.Paths()
	require.NoError(t, err)
	assert.Equal(t, []string{"b.go", "main.go"}, paths)
}

func TestCommitBatch_Empty(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.CommitBatch(NewBatchedStore(s)))

	paths, err := s.Paths()
	require.NoError(t, err)
	assert.Empty(t, paths)
}
