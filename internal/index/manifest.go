// Package index merges rule definitions into a manifest and combines it with
// scanned references into the forward (rule to references) and reverse (file
// to code units) views, with coverage aggregated over document outlines and
// the folder tree.
package index

import (
	"sort"

	"github.com/jward/ruletrace/internal/markdown"
	"github.com/jward/ruletrace/internal/ruleid"
)

// Manifest maps rule ids to their definitions. Keys are base ids, so two
// versions of the same rule cannot coexist.
type Manifest struct {
	rules map[string]*markdown.RuleDefinition
	order []string
}

// Duplicate is a rule id defined more than once. Locations lists every
// definition site, the kept one first.
type Duplicate struct {
	ID        string              `json:"id"`
	SameFile  bool                `json:"same_file"`
	Locations []markdown.Location `json:"locations"`
}

// SortDocuments orders a spec's documents by frontmatter weight, then path.
// The slice is sorted in place and returned.
func SortDocuments(docs []*markdown.Document) []*markdown.Document {
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].Weight != docs[j].Weight {
			return docs[i].Weight < docs[j].Weight
		}
		return docs[i].Path < docs[j].Path
	})
	return docs
}

// MergeManifest merges the definitions of docs in document order. The first
// definition of an id wins; later ones, and the same-file duplicates already
// detected by the extractor, are returned as duplicates.
func MergeManifest(docs []*markdown.Document) (*Manifest, []Duplicate) {
	m := &Manifest{rules: make(map[string]*markdown.RuleDefinition)}
	var dups []Duplicate
	crossFile := make(map[string]int) // base id -> index into dups

	for _, doc := range SortDocuments(docs) {
		for _, d := range doc.Duplicates {
			dups = append(dups, Duplicate{
				ID:        d.ID,
				SameFile:  true,
				Locations: []markdown.Location{d.First, d.Second},
			})
		}
		for _, def := range doc.Rules {
			prior, exists := m.rules[def.Base]
			if !exists {
				m.rules[def.Base] = def
				m.order = append(m.order, def.Base)
				continue
			}
			loc := markdown.Location{File: def.SpecFile, Line: def.Line, ByteOffset: def.ByteOffset}
			if i, ok := crossFile[def.Base]; ok {
				dups[i].Locations = append(dups[i].Locations, loc)
				continue
			}
			crossFile[def.Base] = len(dups)
			dups = append(dups, Duplicate{
				ID: def.Base,
				Locations: []markdown.Location{
					{File: prior.SpecFile, Line: prior.Line, ByteOffset: prior.ByteOffset},
					loc,
				},
			})
		}
	}
	return m, dups
}

// Get returns the definition for id. A versioned id is looked up by its base.
func (m *Manifest) Get(id string) (*markdown.RuleDefinition, bool) {
	if m == nil {
		return nil, false
	}
	if def, ok := m.rules[id]; ok {
		return def, true
	}
	parsed, ok := ruleid.Parse(id)
	if !ok {
		return nil, false
	}
	def, ok := m.rules[parsed.Base]
	return def, ok
}

// Resolve classifies a referenced id against the manifest.
func (m *Manifest) Resolve(id string) (*markdown.RuleDefinition, ruleid.Match) {
	ref, ok := ruleid.Parse(id)
	if !ok || m == nil {
		return nil, ruleid.NoMatch
	}
	def, ok := m.rules[ref.Base]
	if !ok {
		return nil, ruleid.NoMatch
	}
	return def, ruleid.Classify(ruleid.ID{Base: def.Base, Version: def.Version}, ref)
}

// Len returns the number of rules.
func (m *Manifest) Len() int {
	if m == nil {
		return 0
	}
	return len(m.order)
}

// IDs returns base ids in merge order.
func (m *Manifest) IDs() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.order...)
}

// Rules returns definitions in merge order.
func (m *Manifest) Rules() []*markdown.RuleDefinition {
	if m == nil {
		return nil
	}
	out := make([]*markdown.RuleDefinition, len(m.order))
	for i, id := range m.order {
		out[i] = m.rules[id]
	}
	return out
}
