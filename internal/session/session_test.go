package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/ruletrace/internal/scanner"
)

func ref(file string, line int) scanner.Reference {
	return scanner.Reference{File: file, Line: line}
}

func state(version uint64, impl, verify []string) *State {
	st := &State{
		Version: version,
		Impl:    make(map[Key]scanner.Reference),
		Verify:  make(map[Key]scanner.Reference),
	}
	for i, r := range impl {
		st.Impl[Key{Pair: "s/go", Rule: r}] = ref("a.go", i+1)
	}
	for i, r := range verify {
		st.Verify[Key{Pair: "s/go", Rule: r}] = ref("a_test.go", i+1)
	}
	return st
}

func TestObserve_FirstCallIsEmpty(t *testing.T) {
	tr := NewTracker()
	d := tr.Observe("c1", state(1, []string{"a.x"}, nil))
	assert.True(t, d.First)
	assert.True(t, d.Empty())
	assert.Equal(t, uint64(1), d.Version)
	assert.Equal(t, 1, tr.Len())
}

func TestObserve_IdenticalQueriesAreEmpty(t *testing.T) {
	tr := NewTracker()
	st := state(1, []string{"a.x"}, []string{"a.x"})
	tr.Observe("c1", st)
	d := tr.Observe("c1", st)
	assert.False(t, d.First)
	assert.True(t, d.Empty())

	d = tr.Observe("c1", state(1, []string{"a.x"}, []string{"a.x"}))
	assert.True(t, d.Empty(), "same version means no change")
}

func TestObserve_NewlyVerified(t *testing.T) {
	tr := NewTracker()
	tr.Observe("c1", state(1, []string{"a.x", "a.y"}, []string{"a.x"}))
	d := tr.Observe("c1", state(2, []string{"a.x", "a.y"}, []string{"a.x", "a.y"}))

	assert.Empty(t, d.Implemented)
	assert.Empty(t, d.Lost)
	require.Len(t, d.Verified, 1)
	assert.Equal(t, Change{Pair: "s/go", Rule: "a.y", Verb: scanner.VerbVerify, File: "a_test.go", Line: 2}, d.Verified[0])
	assert.Equal(t, uint64(1), d.Since)
	assert.Equal(t, uint64(2), d.Version)
}

func TestObserve_ImplementedAndLost(t *testing.T) {
	tr := NewTracker()
	tr.Observe("c1", state(1, []string{"a.x"}, []string{"a.x"}))
	d := tr.Observe("c1", state(2, []string{"a.z", "a.y"}, nil))

	require.Len(t, d.Implemented, 2)
	assert.Equal(t, "a.y", d.Implemented[0].Rule)
	assert.Equal(t, "a.z", d.Implemented[1].Rule)
	require.Len(t, d.Lost, 2)
	assert.Equal(t, scanner.VerbImpl, d.Lost[0].Verb)
	assert.Equal(t, scanner.VerbVerify, d.Lost[1].Verb)

	// The session advanced.
	d = tr.Observe("c1", state(3, []string{"a.z", "a.y"}, nil))
	assert.True(t, d.Empty())
}

func TestObserve_SessionsAreIndependent(t *testing.T) {
	tr := NewTracker()
	tr.Observe("c1", state(1, nil, nil))
	tr.Observe("c1", state(2, []string{"a.x"}, nil))

	d := tr.Observe("c2", state(2, []string{"a.x"}, nil))
	assert.True(t, d.First)

	tr.Remove("c1")
	assert.Equal(t, 1, tr.Len())
	assert.True(t, tr.Observe("c1", state(2, nil, nil)).First)
}

func TestObserve_Concurrent(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			for v := uint64(1); v <= 20; v++ {
				tr.Observe(id, state(v, []string{"a.x"}, nil))
			}
			tr.Remove(id)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, tr.Len())
}

func TestObserve_CoverageChange(t *testing.T) {
	tr := NewTracker()
	before := state(1, []string{"a.x"}, nil)
	before.Coverage = map[string]float64{"s/go": 50, "s/rust": 10}
	tr.Observe("c1", before)

	after := state(2, []string{"a.x", "a.y"}, nil)
	after.Coverage = map[string]float64{"s/go": 100, "s/rust": 10}
	d := tr.Observe("c1", after)

	assert.Equal(t, map[string]float64{"s/go": 50}, d.CoverageChange)
}
