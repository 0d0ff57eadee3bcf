package index

import (
	"path"
	"sort"
	"strings"

	"github.com/jward/ruletrace/internal/ruleid"
	"github.com/jward/ruletrace/internal/scanner"
)

// UnitKindAnnotation marks a unit synthesized from reference lines that fall
// outside every declaration (or in a file without a grammar).
const UnitKindAnnotation = "annotation"

// Unit is a contiguous line range of a file with the rules referenced in it.
type Unit struct {
	Kind      string   `json:"kind"`
	Name      string   `json:"name,omitempty"`
	StartLine int      `json:"start_line"`
	EndLine   int      `json:"end_line"`
	Rules     []string `json:"rules"`
}

// Covered reports whether the unit references any rule.
func (u Unit) Covered() bool { return len(u.Rules) > 0 }

// Totals counts code units and how many of them are covered.
type Totals struct {
	Units   int `json:"units"`
	Covered int `json:"covered"`
}

// Percent returns the covered share of units.
func (t Totals) Percent() float64 { return Percent(t.Covered, t.Units) }

func (t *Totals) add(o Totals) {
	t.Units += o.Units
	t.Covered += o.Covered
}

// FileEntry is the reverse view of one file. Test files keep their units for
// display but contribute nothing to totals.
type FileEntry struct {
	Path     string `json:"path"`
	Language string `json:"language"`
	IsTest   bool   `json:"is_test"`
	Units    []Unit `json:"units"`
	Totals   Totals `json:"totals"`
}

// Folder aggregates the totals of the files below it.
type Folder struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Totals  Totals    `json:"totals"`
	Folders []*Folder `json:"folders,omitempty"`
	Files   []string  `json:"files,omitempty"`
}

// Find returns the folder at p, relative to this folder's root.
func (f *Folder) Find(p string) (*Folder, bool) {
	p = strings.Trim(p, "/")
	if p == "" || p == "." {
		return f, true
	}
	cur := f
	for _, seg := range strings.Split(p, "/") {
		var next *Folder
		for _, c := range cur.Folders {
			if c.Name == seg {
				next = c
				break
			}
		}
		if next == nil {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Reverse maps files to their code units, with a folder tree of totals.
type Reverse struct {
	Files  map[string]*FileEntry `json:"files"`
	Root   *Folder               `json:"root"`
	Totals Totals                `json:"totals"`
}

// Paths returns the file paths in lexical order.
func (r *Reverse) Paths() []string {
	out := make([]string, 0, len(r.Files))
	for p := range r.Files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// buildReverse computes units for every file. Only references that resolve
// exactly to a manifest rule with a covering verb mark a unit covered.
func buildReverse(m *Manifest, files []*scanner.FileResult) *Reverse {
	r := &Reverse{Files: make(map[string]*FileEntry, len(files))}
	for _, f := range files {
		fe := &FileEntry{Path: f.Path, Language: f.Language, IsTest: f.IsTest}
		fe.Units = fileUnits(m, f)
		if !f.IsTest {
			for _, u := range fe.Units {
				fe.Totals.Units++
				if u.Covered() {
					fe.Totals.Covered++
				}
			}
		}
		r.Files[f.Path] = fe
	}
	r.Root = buildFolders(r)
	r.Totals = r.Root.Totals
	return r
}

// fileUnits assigns each covering reference to the innermost declaration
// containing its line. References outside every declaration are collapsed
// into annotation units spanning adjacent lines.
func fileUnits(m *Manifest, f *scanner.FileResult) []Unit {
	units := make([]Unit, len(f.Units))
	sets := make([]map[string]bool, len(f.Units))
	for i, u := range f.Units {
		units[i] = Unit{Kind: u.Kind, Name: u.Name, StartLine: u.StartLine, EndLine: u.EndLine}
	}

	type loose struct {
		line int
		rule string
	}
	var outside []loose

	for _, ref := range f.Refs {
		if !ref.Verb.Covers() {
			continue
		}
		def, match := m.Resolve(ref.RuleID)
		if match != ruleid.Exact {
			continue
		}
		if i := innermost(f.Units, ref.Line); i >= 0 {
			if sets[i] == nil {
				sets[i] = make(map[string]bool)
			}
			sets[i][def.Base] = true
			continue
		}
		outside = append(outside, loose{line: ref.Line, rule: def.Base})
	}
	for i, s := range sets {
		units[i].Rules = sortedKeys(s)
	}

	sort.SliceStable(outside, func(i, j int) bool { return outside[i].line < outside[j].line })
	var cur *Unit
	var curSet map[string]bool
	flush := func() {
		if cur != nil {
			cur.Rules = sortedKeys(curSet)
			units = append(units, *cur)
		}
	}
	for _, l := range outside {
		if cur != nil && l.line <= cur.EndLine+1 {
			if l.line > cur.EndLine {
				cur.EndLine = l.line
			}
			curSet[l.rule] = true
			continue
		}
		flush()
		cur = &Unit{Kind: UnitKindAnnotation, StartLine: l.line, EndLine: l.line}
		curSet = map[string]bool{l.rule: true}
	}
	flush()

	sort.SliceStable(units, func(i, j int) bool { return units[i].StartLine < units[j].StartLine })
	return units
}

// innermost returns the index of the smallest unit containing line, or -1.
func innermost(units []scanner.Unit, line int) int {
	best := -1
	for i, u := range units {
		if line < u.StartLine || line > u.EndLine {
			continue
		}
		if best < 0 || u.EndLine-u.StartLine < units[best].EndLine-units[best].StartLine {
			best = i
		}
	}
	return best
}

func buildFolders(r *Reverse) *Folder {
	root := &Folder{}
	for _, p := range r.Paths() {
		fe := r.Files[p]
		dir := path.Dir(p)
		cur := root
		cur.Totals.add(fe.Totals)
		if dir != "." {
			for _, seg := range strings.Split(dir, "/") {
				cur = child(cur, seg)
				cur.Totals.add(fe.Totals)
			}
		}
		cur.Files = append(cur.Files, p)
	}
	return root
}

func child(f *Folder, name string) *Folder {
	for _, c := range f.Folders {
		if c.Name == name {
			return c
		}
	}
	p := name
	if f.Path != "" {
		p = f.Path + "/" + name
	}
	c := &Folder{Name: name, Path: p}
	f.Folders = append(f.Folders, c)
	return c
}

func sortedKeys(s map[string]bool) []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
