package ruletrace

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jward/ruletrace/internal/config"
	"github.com/jward/ruletrace/internal/index"
	"github.com/jward/ruletrace/internal/ruleid"
	"github.com/jward/ruletrace/internal/scanner"
	"github.com/jward/ruletrace/internal/search"
)

var (
	// ErrNoSnapshot is returned by queries issued before the first build.
	ErrNoSnapshot = errors.New("ruletrace: no snapshot published")
	// ErrPathNotFound is returned when a file or folder is not indexed.
	ErrPathNotFound = errors.New("ruletrace: path not indexed")
)

// QueryBuilder answers questions about one published snapshot. It is cheap
// to create and safe for concurrent use.
type QueryBuilder struct {
	snap *Snapshot
}

// NewQuery returns a QueryBuilder over snap.
func NewQuery(snap *Snapshot) *QueryBuilder {
	return &QueryBuilder{snap: snap}
}

// Snapshot returns the snapshot this builder reads, or nil.
func (q *QueryBuilder) Snapshot() *Snapshot { return q.snap }

// Version returns the snapshot version, 0 before the first build.
func (q *QueryBuilder) Version() uint64 {
	if q.snap == nil {
		return 0
	}
	return q.snap.Version
}

// ConfigInfo describes the configuration a snapshot was built from.
type ConfigInfo struct {
	Root    string         `json:"root"`
	Path    string         `json:"path,omitempty"`
	Specs   []*config.Spec `json:"specs"`
	Error   string         `json:"error,omitempty"`
	Version uint64         `json:"version"`
}

// Config returns the active configuration and the last load error, if any.
func (q *QueryBuilder) Config() ConfigInfo {
	if q.snap == nil {
		return ConfigInfo{}
	}
	info := ConfigInfo{Root: q.snap.Root, Path: q.snap.ConfigPath, Version: q.snap.Version}
	if q.snap.Config != nil {
		info.Specs = q.snap.Config.Specs
	}
	if q.snap.ConfigError != nil {
		info.Error = q.snap.ConfigError.Error()
	}
	return info
}

// Pairs lists the configured spec/impl pairs in configuration order.
func (q *QueryBuilder) Pairs() []config.Pair {
	if q.snap == nil {
		return nil
	}
	out := make([]config.Pair, len(q.snap.Pairs))
	for i, pd := range q.snap.Pairs {
		out[i] = pd.Pair
	}
	return out
}

// ResolvePair interprets a selector: "spec/impl" names a pair, "spec" its
// first impl, and the empty string the only configured pair.
func (q *QueryBuilder) ResolvePair(sel string) (*PairData, error) {
	if q.snap == nil {
		return nil, ErrNoSnapshot
	}
	sel = strings.TrimSpace(sel)
	if sel == "" {
		switch len(q.snap.Pairs) {
		case 0:
			return nil, fmt.Errorf("%w: no specs configured", ErrUnknownSpec)
		case 1:
			return q.snap.Pairs[0], nil
		}
		return nil, fmt.Errorf("%w: multiple specs available, please specify one: %s",
			ErrAmbiguousSelection, strings.Join(q.pairNames(), ", "))
	}
	if spec, impl, ok := strings.Cut(sel, "/"); ok {
		return q.pair(spec, impl)
	}
	for _, pd := range q.snap.Pairs {
		if pd.Pair.Spec == sel {
			return pd, nil
		}
	}
	return nil, q.unknown(sel)
}

func (q *QueryBuilder) pair(spec, impl string) (*PairData, error) {
	if q.snap == nil {
		return nil, ErrNoSnapshot
	}
	if pd, ok := q.snap.PairData(config.Pair{Spec: spec, Impl: impl}); ok {
		return pd, nil
	}
	return nil, q.unknown(spec + "/" + impl)
}

func (q *QueryBuilder) unknown(sel string) error {
	names := q.pairNames()
	if len(names) == 0 {
		return fmt.Errorf("%w: %q (no specs configured)", ErrUnknownSpec, sel)
	}
	return fmt.Errorf("%w: %q, available: %s", ErrUnknownSpec, sel, strings.Join(names, ", "))
}

func (q *QueryBuilder) pairNames() []string {
	names := make([]string, len(q.snap.Pairs))
	for i, pd := range q.snap.Pairs {
		names[i] = pd.Pair.String()
	}
	return names
}

// =============================================================================
// Views
// =============================================================================

// SpecView is a spec's rendered documents with coverage against one impl.
type SpecView struct {
	Pair    config.Pair   `json:"pair"`
	Docs    []*index.Doc  `json:"docs"`
	Summary index.Summary `json:"summary"`
}

// Spec returns the documents of spec with outline coverage against impl.
func (q *QueryBuilder) Spec(spec, impl string) (*SpecView, error) {
	pd, err := q.pair(spec, impl)
	if err != nil {
		return nil, err
	}
	return &SpecView{Pair: pd.Pair, Docs: pd.Index.Docs, Summary: pd.Index.Summary}, nil
}

// Forward returns every rule of spec with its references from impl.
func (q *QueryBuilder) Forward(spec, impl string) (*index.Forward, error) {
	pd, err := q.pair(spec, impl)
	if err != nil {
		return nil, err
	}
	return pd.Index.Forward, nil
}

// Reverse returns the files of impl with their code units and totals.
func (q *QueryBuilder) Reverse(spec, impl string) (*index.Reverse, error) {
	pd, err := q.pair(spec, impl)
	if err != nil {
		return nil, err
	}
	return pd.Index.Reverse, nil
}

// LineRef is a reference shown next to a source line.
type LineRef struct {
	Verb   scanner.Verb `json:"verb"`
	Rule   string       `json:"rule"`
	Column int          `json:"column"`
	// Known is set when the reference matches the defined version exactly.
	// Stale marks references to an older version of a defined rule. A
	// reference that is neither is broken.
	Known bool `json:"known"`
	Stale bool `json:"stale,omitempty"`
}

// FileView is a source file with its annotations.
type FileView struct {
	Path     string            `json:"path"`
	Language string            `json:"language"`
	IsTest   bool              `json:"is_test"`
	Content  string            `json:"content"`
	Lines    map[int][]LineRef `json:"lines"`
	Units    []index.Unit      `json:"units"`
	Totals   index.Totals      `json:"totals"`
}

// File returns the content of path with its references keyed by line.
func (q *QueryBuilder) File(spec, impl, path string) (*FileView, error) {
	pd, err := q.pair(spec, impl)
	if err != nil {
		return nil, err
	}
	fe, ok := pd.Index.Reverse.Files[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}
	v := &FileView{
		Path:     fe.Path,
		Language: fe.Language,
		IsTest:   fe.IsTest,
		Content:  string(q.snap.Sources[path]),
		Lines:    make(map[int][]LineRef),
		Units:    fe.Units,
		Totals:   fe.Totals,
	}
	for _, f := range pd.Files {
		if f.Path != path {
			continue
		}
		for _, ref := range f.Refs {
			_, match := pd.Index.Manifest.Resolve(ref.RuleID)
			v.Lines[ref.Line] = append(v.Lines[ref.Line], LineRef{
				Verb:   ref.Verb,
				Rule:   ref.RuleID,
				Column: ref.Column,
				Known:  match == ruleid.Exact,
				Stale:  match == ruleid.Stale,
			})
		}
	}
	for _, refs := range v.Lines {
		sort.SliceStable(refs, func(i, j int) bool { return refs[i].Column < refs[j].Column })
	}
	return v, nil
}

// Search finds rules, file paths and source lines matching query. A
// non-positive limit uses search.DefaultLimit.
func (q *QueryBuilder) Search(query string, limit int) []search.Result {
	if q.snap == nil || q.snap.Search == nil {
		return nil
	}
	if limit <= 0 {
		limit = search.DefaultLimit
	}
	return q.snap.Search.Search(query, limit)
}
