package index

import (
	"sort"

	"github.com/jward/ruletrace/internal/ruleid"
	"github.com/jward/ruletrace/internal/scanner"
)

// Entry holds the references to one rule, grouped by verb.
type Entry struct {
	ID    string                               `json:"id"`
	Refs  map[scanner.Verb][]scanner.Reference `json:"refs"`
	Stale []scanner.Reference                  `json:"stale,omitempty"`
}

// Count returns the number of current (non-stale) references.
func (e *Entry) Count() int {
	n := 0
	for _, refs := range e.Refs {
		n += len(refs)
	}
	return n
}

// Covered reports whether any reference has a covering verb.
func (e *Entry) Covered() bool {
	for v, refs := range e.Refs {
		if v.Covers() && len(refs) > 0 {
			return true
		}
	}
	return false
}

// Implemented reports whether the rule has an impl reference.
func (e *Entry) Implemented() bool { return len(e.Refs[scanner.VerbImpl]) > 0 }

// Verified reports whether the rule has a verify reference.
func (e *Entry) Verified() bool { return len(e.Refs[scanner.VerbVerify]) > 0 }

// Forward maps every manifest rule (by base id) to its references.
// References that match no rule are Broken; references to an older version
// of a rule are kept on the entry's Stale list and do not cover it.
type Forward struct {
	Rules  map[string]*Entry   `json:"rules"`
	Broken []scanner.Reference `json:"broken"`
}

// Get returns the entry for id, looked up by base.
func (f *Forward) Get(id string) (*Entry, bool) {
	if e, ok := f.Rules[id]; ok {
		return e, true
	}
	parsed, ok := ruleid.Parse(id)
	if !ok {
		return nil, false
	}
	e, ok := f.Rules[parsed.Base]
	return e, ok
}

// Stale returns all stale references across rules, ordered by location.
func (f *Forward) Stale() []scanner.Reference {
	var out []scanner.Reference
	for _, e := range f.Rules {
		out = append(out, e.Stale...)
	}
	sortRefs(out)
	return out
}

// buildForward groups references by rule then verb. files must already be
// in a stable order; references keep file order within each group.
func buildForward(m *Manifest, refs []scanner.Reference) *Forward {
	f := &Forward{Rules: make(map[string]*Entry, m.Len())}
	for _, def := range m.Rules() {
		f.Rules[def.Base] = &Entry{ID: def.ID, Refs: make(map[scanner.Verb][]scanner.Reference)}
	}
	for _, r := range refs {
		def, match := m.Resolve(r.RuleID)
		switch match {
		case ruleid.Exact:
			e := f.Rules[def.Base]
			e.Refs[r.Verb] = append(e.Refs[r.Verb], r)
		case ruleid.Stale:
			e := f.Rules[def.Base]
			e.Stale = append(e.Stale, r)
		default:
			f.Broken = append(f.Broken, r)
		}
	}
	return f
}

func sortRefs(refs []scanner.Reference) {
	sort.SliceStable(refs, func(i, j int) bool {
		if refs[i].File != refs[j].File {
			return refs[i].File < refs[j].File
		}
		return refs[i].ByteOffset < refs[j].ByteOffset
	})
}
