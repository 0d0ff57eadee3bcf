// Package search finds rules, files and source lines matching a query.
//
// Matching is case-insensitive: every whitespace-separated query term must
// occur in the candidate. Results are ranked by where the terms matched.
package search

import (
	"path"
	"sort"
	"strings"
)

// Kind is what a Result points at.
type Kind string

const (
	KindRule Kind = "rule"
	KindFile Kind = "file"
	KindLine Kind = "line"
)

var kindRank = map[Kind]int{KindRule: 0, KindFile: 1, KindLine: 2}

// DefaultLimit caps results when the caller does not.
const DefaultLimit = 50

// Result is one search hit.
type Result struct {
	Kind  Kind   `json:"kind"`
	Spec  string `json:"spec,omitempty"`
	Rule  string `json:"rule,omitempty"`
	File  string `json:"file,omitempty"`
	Line  int    `json:"line,omitempty"`
	Text  string `json:"text"`
	Score int    `json:"score"`
}

// Rule is a searchable rule definition.
type Rule struct {
	Spec string
	ID   string
	Text string
	File string
	Line int
}

// File is a searchable source or spec file.
type File struct {
	Path    string
	Content []byte
}

type fileDoc struct {
	path  string
	lower string
	lines []string
}

// Index is an immutable search index.
type Index struct {
	rules []Rule
	lower []string // lowercased "id text" per rule
	files []fileDoc
}

// New builds an index. Content is split into lines up front.
func New(rules []Rule, files []File) *Index {
	ix := &Index{rules: rules, lower: make([]string, len(rules))}
	for i, r := range rules {
		ix.lower[i] = strings.ToLower(r.ID + " " + r.Text)
	}
	for _, f := range files {
		ix.files = append(ix.files, fileDoc{
			path:  f.Path,
			lower: strings.ToLower(f.Path),
			lines: strings.Split(string(f.Content), "\n"),
		})
	}
	return ix
}

// Search returns up to limit results for query, best first. A limit of zero
// or less means DefaultLimit.
func (ix *Index) Search(query string, limit int) []Result {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 || ix == nil {
		return nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	var out []Result
	for i, r := range ix.rules {
		if !containsAll(ix.lower[i], terms) {
			continue
		}
		out = append(out, Result{
			Kind:  KindRule,
			Spec:  r.Spec,
			Rule:  r.ID,
			File:  r.File,
			Line:  r.Line,
			Text:  r.Text,
			Score: ruleScore(strings.ToLower(r.ID), terms),
		})
	}
	for _, f := range ix.files {
		if containsAll(f.lower, terms) {
			out = append(out, Result{Kind: KindFile, File: f.path, Text: f.path, Score: fileScore(f.lower, terms)})
		}
		for n, line := range f.lines {
			if containsAll(strings.ToLower(line), terms) {
				out = append(out, Result{
					Kind:  KindLine,
					File:  f.path,
					Line:  n + 1,
					Text:  strings.TrimSpace(line),
					Score: 10,
				})
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Kind != b.Kind {
			return kindRank[a.Kind] < kindRank[b.Kind]
		}
		if a.Rule != b.Rule {
			return a.Rule < b.Rule
		}
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Line < b.Line
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func containsAll(s string, terms []string) bool {
	for _, t := range terms {
		if !strings.Contains(s, t) {
			return false
		}
	}
	return true
}

func ruleScore(id string, terms []string) int {
	q := strings.Join(terms, " ")
	switch {
	case id == q:
		return 100
	case strings.HasPrefix(id, q):
		return 80
	case containsAll(id, terms):
		return 60
	}
	return 20
}

func fileScore(p string, terms []string) int {
	if containsAll(path.Base(p), terms) {
		return 50
	}
	return 40
}
