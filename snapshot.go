package ruletrace

import (
	"sort"
	"time"

	"github.com/jward/ruletrace/internal/config"
	"github.com/jward/ruletrace/internal/index"
	"github.com/jward/ruletrace/internal/markdown"
	"github.com/jward/ruletrace/internal/scanner"
	"github.com/jward/ruletrace/internal/search"
	"github.com/jward/ruletrace/internal/session"
	"github.com/jward/ruletrace/internal/validate"
)

// Snapshot is one published, immutable state of the index. Nothing
// reachable from a Snapshot is modified after publication.
type Snapshot struct {
	Version     uint64
	Root        string
	ConfigPath  string
	Config      *config.Config
	ConfigError error

	// Specs and Pairs follow configuration order.
	Specs []*SpecData
	Pairs []*PairData

	Search   *search.Index
	Sources  map[string][]byte
	Coverage *session.State

	BuiltAt time.Time
	Took    time.Duration
}

// SpecData is a spec's merged documents.
type SpecData struct {
	Spec       *config.Spec
	Docs       []*markdown.Document
	Manifest   *index.Manifest
	Duplicates []index.Duplicate
	Warnings   []scanner.Warning
}

// PairData is the index and validation report of one spec/impl pair.
type PairData struct {
	Pair   config.Pair
	Spec   *SpecData
	Impl   *config.Impl
	Files  []*scanner.FileResult
	Index  *index.Index
	Report *validate.Report
}

// SpecData returns the spec named name.
func (s *Snapshot) SpecData(name string) (*SpecData, bool) {
	for _, sd := range s.Specs {
		if sd.Spec.Name == name {
			return sd, true
		}
	}
	return nil, false
}

// PairData returns the data of pair p.
func (s *Snapshot) PairData(p config.Pair) (*PairData, bool) {
	for _, pd := range s.Pairs {
		if pd.Pair == p {
			return pd, true
		}
	}
	return nil, false
}

type snapshotInput struct {
	version uint64
	root    string
	cfgPath string
	cfg     *config.Config
	cfgErr  error
	docs    map[string][]*markdown.Document // spec name -> documents
	files   map[config.Pair][]*scanner.FileResult
	sources map[string]source
}

// buildSnapshot merges, indexes and validates every configured pair.
func buildSnapshot(in snapshotInput) *Snapshot {
	snap := &Snapshot{
		Version:     in.version,
		Root:        in.root,
		ConfigPath:  in.cfgPath,
		Config:      in.cfg,
		ConfigError: in.cfgErr,
		Sources:     make(map[string][]byte, len(in.sources)),
		Coverage: &session.State{
			Version:  in.version,
			Impl:     make(map[session.Key]scanner.Reference),
			Verify:   make(map[session.Key]scanner.Reference),
			Coverage: make(map[string]float64),
		},
	}
	for p, src := range in.sources {
		snap.Sources[p] = src.content
	}

	var rules []search.Rule
	if in.cfg != nil {
		for _, s := range in.cfg.Specs {
			docs := index.SortDocuments(append([]*markdown.Document(nil), in.docs[s.Name]...))
			m, dups := index.MergeManifest(docs)
			sd := &SpecData{Spec: s, Docs: docs, Manifest: m, Duplicates: dups}
			for _, d := range docs {
				sd.Warnings = append(sd.Warnings, d.Warnings...)
			}
			snap.Specs = append(snap.Specs, sd)

			for _, def := range m.Rules() {
				rules = append(rules, search.Rule{Spec: s.Name, ID: def.ID, Text: def.RawText, File: def.SpecFile, Line: def.Line})
			}

			for _, im := range s.Impls {
				pd := buildPair(sd, im, in.files[config.Pair{Spec: s.Name, Impl: im.Name}])
				snap.Pairs = append(snap.Pairs, pd)
				recordCoverage(snap.Coverage, pd)
			}
		}
	}

	paths := make([]string, 0, len(in.sources))
	for p := range in.sources {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	files := make([]search.File, len(paths))
	for i, p := range paths {
		files[i] = search.File{Path: p, Content: in.sources[p].content}
	}
	snap.Search = search.New(rules, files)
	return snap
}

func buildPair(sd *SpecData, im *config.Impl, files []*scanner.FileResult) *PairData {
	pd := &PairData{
		Pair:  config.Pair{Spec: sd.Spec.Name, Impl: im.Name},
		Spec:  sd,
		Impl:  im,
		Files: files,
	}
	pd.Index = index.Build(sd.Manifest, sd.Docs, files)

	warnings := append([]scanner.Warning(nil), sd.Warnings...)
	for _, f := range files {
		warnings = append(warnings, f.Warnings...)
	}
	pd.Report = validate.Run(validate.Input{
		Index:      pd.Index,
		Duplicates: sd.Duplicates,
		Naming:     sd.Spec.NamingPattern(),
		Warnings:   warnings,
	})
	return pd
}

// recordCoverage adds one representative impl and verify reference per rule
// of pd to st.
func recordCoverage(st *session.State, pd *PairData) {
	pair := pd.Pair.String()
	for _, id := range pd.Index.Manifest.IDs() {
		e, ok := pd.Index.Forward.Rules[id]
		if !ok {
			continue
		}
		key := session.Key{Pair: pair, Rule: id}
		if refs := e.Refs[scanner.VerbImpl]; len(refs) > 0 {
			st.Impl[key] = refs[0]
		}
		if refs := e.Refs[scanner.VerbVerify]; len(refs) > 0 {
			st.Verify[key] = refs[0]
		}
	}
	st.Coverage[pair] = pd.Index.Summary.ImplPercent()
}
