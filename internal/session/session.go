// Package session tracks, per tool-protocol client, the coverage last shown
// to it and reports what changed since.
package session

import (
	"sort"
	"sync"

	"github.com/jward/ruletrace/internal/scanner"
)

// Key identifies a rule within a spec/impl pair.
type Key struct {
	Pair string
	Rule string
}

// State is the coverage of one published snapshot: for every rule with an
// impl (or verify) reference, one representative reference. A State must not
// be modified once handed to a Tracker.
type State struct {
	Version uint64
	Impl    map[Key]scanner.Reference
	Verify  map[Key]scanner.Reference
	// Coverage is the impl coverage percentage per pair.
	Coverage map[string]float64
}

// Change is one rule whose coverage changed between two observations.
type Change struct {
	Pair string       `json:"pair"`
	Rule string       `json:"rule"`
	Verb scanner.Verb `json:"verb"`
	File string       `json:"file,omitempty"`
	Line int          `json:"line,omitempty"`
}

// Delta lists coverage changes since the session's previous observation.
// First is set on a session's first observation, which has nothing to
// compare against and so carries no changes.
type Delta struct {
	First       bool     `json:"first"`
	Since       uint64   `json:"since"`
	Version     uint64   `json:"version"`
	Implemented []Change `json:"implemented"`
	Verified    []Change `json:"verified"`
	Lost        []Change `json:"lost"`
	// CoverageChange holds, per pair, the impl coverage percentage points
	// gained (or lost) since the previous observation. Unchanged pairs are
	// absent.
	CoverageChange map[string]float64 `json:"coverage_change,omitempty"`
}

// Empty reports whether the delta carries no changes.
func (d Delta) Empty() bool {
	return len(d.Implemented) == 0 && len(d.Verified) == 0 && len(d.Lost) == 0
}

type session struct {
	last *State
}

// Tracker holds the sessions of all connected clients.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*session
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]*session)}
}

// Observe computes the delta between the session's last observed state and
// st, then advances the session to st. Unknown session ids start a new
// session.
func (t *Tracker) Observe(id string, st *State) Delta {
	t.mu.Lock()
	s, ok := t.sessions[id]
	if !ok {
		s = &session{}
		t.sessions[id] = s
	}
	prev := s.last
	s.last = st
	t.mu.Unlock()

	if prev == nil {
		return Delta{First: true, Version: st.Version}
	}
	d := Delta{Since: prev.Version, Version: st.Version}
	if prev == st || prev.Version == st.Version {
		return d
	}
	d.Implemented = gained(prev.Impl, st.Impl, scanner.VerbImpl)
	d.Verified = gained(prev.Verify, st.Verify, scanner.VerbVerify)
	d.Lost = append(lost(prev.Impl, st.Impl, scanner.VerbImpl), lost(prev.Verify, st.Verify, scanner.VerbVerify)...)
	sortChanges(d.Lost)
	for pair, pct := range st.Coverage {
		if diff := pct - prev.Coverage[pair]; diff != 0 {
			if d.CoverageChange == nil {
				d.CoverageChange = make(map[string]float64)
			}
			d.CoverageChange[pair] = diff
		}
	}
	return d
}

// Remove forgets a session.
func (t *Tracker) Remove(id string) {
	t.mu.Lock()
	delete(t.sessions, id)
	t.mu.Unlock()
}

// Len returns the number of live sessions.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

func gained(before, after map[Key]scanner.Reference, verb scanner.Verb) []Change {
	var out []Change
	for k, ref := range after {
		if _, had := before[k]; had {
			continue
		}
		out = append(out, Change{Pair: k.Pair, Rule: k.Rule, Verb: verb, File: ref.File, Line: ref.Line})
	}
	sortChanges(out)
	return out
}

func lost(before, after map[Key]scanner.Reference, verb scanner.Verb) []Change {
	var out []Change
	for k := range before {
		if _, has := after[k]; has {
			continue
		}
		out = append(out, Change{Pair: k.Pair, Rule: k.Rule, Verb: verb})
	}
	return out
}

func sortChanges(cs []Change) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].Pair != cs[j].Pair {
			return cs[i].Pair < cs[j].Pair
		}
		if cs[i].Rule != cs[j].Rule {
			return cs[i].Rule < cs[j].Rule
		}
		return cs[i].Verb < cs[j].Verb
	})
}
