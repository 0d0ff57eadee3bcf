package ruletrace

import (
	"fmt"
	"path"
	"strings"

	"github.com/jward/ruletrace/internal/index"
	"github.com/jward/ruletrace/internal/markdown"
	"github.com/jward/ruletrace/internal/scanner"
	"github.com/jward/ruletrace/internal/validate"
)

// PairStatus is the coverage summary of one spec/impl pair.
type PairStatus struct {
	Pair          string        `json:"pair"`
	Summary       index.Summary `json:"summary"`
	ImplPercent   float64       `json:"impl_percent"`
	VerifyPercent float64       `json:"verify_percent"`
	FullyCovered  int           `json:"fully_covered"`
	Errors        int           `json:"errors"`
	Warnings      int           `json:"warnings"`
}

// StatusResult summarizes every pair of a snapshot.
type StatusResult struct {
	Version     uint64       `json:"version"`
	ConfigError string       `json:"config_error,omitempty"`
	Pairs       []PairStatus `json:"pairs"`
}

// Status returns the coverage of every configured pair.
func (q *QueryBuilder) Status() StatusResult {
	if q.snap == nil {
		return StatusResult{}
	}
	res := StatusResult{Version: q.snap.Version}
	if q.snap.ConfigError != nil {
		res.ConfigError = q.snap.ConfigError.Error()
	}
	for _, pd := range q.snap.Pairs {
		ps := PairStatus{
			Pair:          pd.Pair.String(),
			Summary:       pd.Index.Summary,
			ImplPercent:   pd.Index.Summary.ImplPercent(),
			VerifyPercent: pd.Index.Summary.VerifyPercent(),
			Errors:        pd.Report.Errors(),
			Warnings:      pd.Report.Warnings(),
		}
		for _, id := range pd.Index.Manifest.IDs() {
			if e := pd.Index.Forward.Rules[id]; e != nil && e.Implemented() && e.Verified() {
				ps.FullyCovered++
			}
		}
		res.Pairs = append(res.Pairs, ps)
	}
	return res
}

// RuleSection is a heading with the listed rules defined under it.
type RuleSection struct {
	Title string   `json:"title"`
	File  string   `json:"file"`
	Rules []string `json:"rules"`
}

// RuleList is the result of Uncovered and Untested.
type RuleList struct {
	Pair     string        `json:"pair"`
	Count    int           `json:"count"`
	Total    int           `json:"total"`
	Sections []RuleSection `json:"sections"`
}

// Uncovered lists rules without any impl reference, grouped by the heading
// that defines them. Only ids starting with prefix are considered.
func (q *QueryBuilder) Uncovered(sel, prefix string) (*RuleList, error) {
	return q.ruleList(sel, prefix, func(e *index.Entry) bool { return !e.Implemented() })
}

// Untested lists rules that are implemented but have no verify reference.
func (q *QueryBuilder) Untested(sel, prefix string) (*RuleList, error) {
	return q.ruleList(sel, prefix, func(e *index.Entry) bool { return e.Implemented() && !e.Verified() })
}

func (q *QueryBuilder) ruleList(sel, prefix string, keep func(*index.Entry) bool) (*RuleList, error) {
	pd, err := q.ResolvePair(sel)
	if err != nil {
		return nil, err
	}
	list := &RuleList{Pair: pd.Pair.String()}
	m := pd.Index.Manifest
	for _, id := range m.IDs() {
		if strings.HasPrefix(id, prefix) {
			list.Total++
		}
	}

	add := func(title, file string, ids []string) {
		var s *RuleSection
		for _, id := range ids {
			def, ok := m.Get(id)
			if !ok || def.ID != id || def.SpecFile != file || !strings.HasPrefix(def.Base, prefix) {
				continue
			}
			e := pd.Index.Forward.Rules[def.Base]
			if e == nil || !keep(e) {
				continue
			}
			if s == nil {
				list.Sections = append(list.Sections, RuleSection{Title: title, File: file})
				s = &list.Sections[len(list.Sections)-1]
			}
			s.Rules = append(s.Rules, def.ID)
			list.Count++
		}
	}
	var walk func(file string, hs []*markdown.Heading)
	walk = func(file string, hs []*markdown.Heading) {
		for _, h := range hs {
			add(h.Title, file, h.Rules)
			walk(file, h.Children)
		}
	}
	for _, d := range pd.Spec.Docs {
		add(d.Path, d.Path, d.Preamble)
		walk(d.Path, d.Outline)
	}
	return list, nil
}

// UnmappedEntry is one folder or file below the zoomed path.
type UnmappedEntry struct {
	Path    string  `json:"path"`
	Dir     bool    `json:"dir"`
	Units   int     `json:"units"`
	Percent float64 `json:"percent"`
}

// UnmappedResult lists code without rule references below Path.
type UnmappedResult struct {
	Pair     string          `json:"pair"`
	Path     string          `json:"path"`
	Unmapped int             `json:"unmapped"`
	Total    int             `json:"total"`
	Entries  []UnmappedEntry `json:"entries,omitempty"`
	// Units holds the unmapped units when Path is a file.
	Units []index.Unit `json:"units,omitempty"`
}

// Unmapped reports code units that reference no rule. For a folder (the
// root when p is empty) it lists the direct subfolders and files; for a file
// it lists the unmapped units.
func (q *QueryBuilder) Unmapped(sel, p string) (*UnmappedResult, error) {
	pd, err := q.ResolvePair(sel)
	if err != nil {
		return nil, err
	}
	rev := pd.Index.Reverse
	p = strings.Trim(path.Clean("/"+p), "/")
	res := &UnmappedResult{Pair: pd.Pair.String(), Path: p}

	if fe, ok := rev.Files[p]; ok {
		res.Total, res.Unmapped = fe.Totals.Units, fe.Totals.Units-fe.Totals.Covered
		if !fe.IsTest {
			for _, u := range fe.Units {
				if !u.Covered() {
					res.Units = append(res.Units, u)
				}
			}
		}
		return res, nil
	}

	dir, ok := rev.Root.Find(p)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, p)
	}
	res.Total, res.Unmapped = dir.Totals.Units, dir.Totals.Units-dir.Totals.Covered
	for _, sub := range dir.Folders {
		res.Entries = append(res.Entries, UnmappedEntry{
			Path:    sub.Path,
			Dir:     true,
			Units:   sub.Totals.Units,
			Percent: mappedPercent(sub.Totals),
		})
	}
	for _, f := range dir.Files {
		fe := rev.Files[f]
		res.Entries = append(res.Entries, UnmappedEntry{
			Path:    f,
			Units:   fe.Totals.Units,
			Percent: mappedPercent(fe.Totals),
		})
	}
	return res, nil
}

// mappedPercent treats a folder or file without units as fully mapped.
func mappedPercent(t index.Totals) float64 {
	if t.Units == 0 {
		return 100
	}
	return t.Percent()
}

// PairRefs are the references to a rule from one implementation.
type PairRefs struct {
	Pair    string              `json:"pair"`
	Impl    []scanner.Reference `json:"impl"`
	Verify  []scanner.Reference `json:"verify"`
	Depends []scanner.Reference `json:"depends,omitempty"`
	Related []scanner.Reference `json:"related,omitempty"`
	Stale   []scanner.Reference `json:"stale,omitempty"`
}

// RuleResult is a rule definition with its references from every impl.
type RuleResult struct {
	Spec       string                   `json:"spec"`
	Definition *markdown.RuleDefinition `json:"definition"`
	Pairs      []PairRefs               `json:"pairs"`
}

// Rule looks id up in every spec, in configuration order.
func (q *QueryBuilder) Rule(id string) (*RuleResult, error) {
	if q.snap == nil {
		return nil, ErrNoSnapshot
	}
	id = strings.TrimSpace(id)
	for _, sd := range q.snap.Specs {
		def, ok := sd.Manifest.Get(id)
		if !ok {
			continue
		}
		res := &RuleResult{Spec: sd.Spec.Name, Definition: def}
		for _, pd := range q.snap.Pairs {
			if pd.Spec != sd {
				continue
			}
			pr := PairRefs{Pair: pd.Pair.String()}
			if e := pd.Index.Forward.Rules[def.Base]; e != nil {
				pr.Impl = e.Refs[scanner.VerbImpl]
				pr.Verify = e.Refs[scanner.VerbVerify]
				pr.Depends = e.Refs[scanner.VerbDepends]
				pr.Related = e.Refs[scanner.VerbRelated]
				pr.Stale = e.Stale
			}
			res.Pairs = append(res.Pairs, pr)
		}
		return res, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
}

// ValidateResult is the validation report of one pair.
type ValidateResult struct {
	Pair        string           `json:"pair"`
	ConfigError string           `json:"config_error,omitempty"`
	Report      *validate.Report `json:"report"`
}

// Validate returns the validation report of the selected pair.
func (q *QueryBuilder) Validate(sel string) (*ValidateResult, error) {
	pd, err := q.ResolvePair(sel)
	if err != nil {
		return nil, err
	}
	res := &ValidateResult{Pair: pd.Pair.String(), Report: pd.Report}
	if q.snap.ConfigError != nil {
		res.ConfigError = q.snap.ConfigError.Error()
	}
	return res, nil
}
