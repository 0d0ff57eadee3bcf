package index

import (
	"sort"

	"github.com/jward/ruletrace/internal/markdown"
	"github.com/jward/ruletrace/internal/ruleid"
	"github.com/jward/ruletrace/internal/scanner"
)

// Percent returns 100*covered/total clamped to [0, 100]. A zero total is 0%.
func Percent(covered, total int) float64 {
	if total <= 0 || covered <= 0 {
		return 0
	}
	p := 100 * float64(covered) / float64(total)
	if p > 100 {
		return 100
	}
	return p
}

// Summary is the rule coverage of one spec/impl pair.
type Summary struct {
	Total    int `json:"total"`
	Covered  int `json:"covered"`
	Impl     int `json:"impl"`
	Verify   int `json:"verify"`
	Orphaned int `json:"orphaned"`
}

// ImplPercent returns the share of rules with an impl reference.
func (s Summary) ImplPercent() float64 { return Percent(s.Impl, s.Total) }

// VerifyPercent returns the share of rules with a verify reference.
func (s Summary) VerifyPercent() float64 { return Percent(s.Verify, s.Total) }

// CoveredPercent returns the share of rules with any covering reference.
func (s Summary) CoveredPercent() float64 { return Percent(s.Covered, s.Total) }

// Edge is a rule-to-rule dependency found in code: a unit that implements,
// defines or verifies From also declares it depends on To.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
	File string `json:"file"`
	Line int    `json:"line"`
}

// Index is the combined view of one spec/impl pair.
type Index struct {
	Manifest *Manifest `json:"-"`
	Forward  *Forward  `json:"forward"`
	Reverse  *Reverse  `json:"reverse"`
	Docs     []*Doc    `json:"docs"`
	Summary  Summary   `json:"summary"`
	Edges    []Edge    `json:"edges"`
}

// Build combines a spec's manifest and documents with the scan results of
// one implementation. files are processed in path order so that reference
// order within each group is stable.
func Build(m *Manifest, docs []*markdown.Document, files []*scanner.FileResult) *Index {
	files = append([]*scanner.FileResult(nil), files...)
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	var refs []scanner.Reference
	for _, f := range files {
		refs = append(refs, f.Refs...)
	}

	idx := &Index{Manifest: m}
	idx.Forward = buildForward(m, refs)
	idx.Reverse = buildReverse(m, files)
	idx.Docs = buildOutline(m, docs, idx.Forward)
	idx.Edges = codeEdges(m, files)

	for _, id := range m.IDs() {
		e := idx.Forward.Rules[id]
		idx.Summary.Total++
		if e.Covered() {
			idx.Summary.Covered++
		}
		if e.Implemented() {
			idx.Summary.Impl++
		}
		if e.Verified() {
			idx.Summary.Verify++
		}
		if e.Count() == 0 && len(e.Stale) == 0 {
			idx.Summary.Orphaned++
		}
	}
	return idx
}

// codeEdges pairs, within each declaration unit, every rule the unit
// implements, defines or verifies with every rule it depends on.
func codeEdges(m *Manifest, files []*scanner.FileResult) []Edge {
	var edges []Edge
	seen := make(map[[2]string]bool)
	for _, f := range files {
		if len(f.Units) == 0 {
			continue
		}
		type group struct {
			from []string
			to   []scanner.Reference
		}
		groups := make(map[int]*group)
		for _, ref := range f.Refs {
			def, match := m.Resolve(ref.RuleID)
			if match != ruleid.Exact {
				continue
			}
			i := innermost(f.Units, ref.Line)
			if i < 0 {
				continue
			}
			g := groups[i]
			if g == nil {
				g = &group{}
				groups[i] = g
			}
			switch ref.Verb {
			case scanner.VerbImpl, scanner.VerbDefine, scanner.VerbVerify:
				g.from = append(g.from, def.Base)
			case scanner.VerbDepends:
				ref.RuleID = def.Base
				g.to = append(g.to, ref)
			}
		}
		keys := make([]int, 0, len(groups))
		for k := range groups {
			keys = append(keys, k)
		}
		sort.Ints(keys)
		for _, k := range keys {
			g := groups[k]
			for _, from := range g.from {
				for _, to := range g.to {
					key := [2]string{from, to.RuleID}
					if from == to.RuleID || seen[key] {
						continue
					}
					seen[key] = true
					edges = append(edges, Edge{From: from, To: to.RuleID, File: f.Path, Line: to.Line})
				}
			}
		}
	}
	return edges
}
