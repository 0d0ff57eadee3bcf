// Package validate checks a built index for broken and stale references,
// duplicate and orphaned rules, naming violations and dependency cycles.
// Validation never fails: every finding becomes an Issue in the Report.
package validate

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jward/ruletrace/internal/index"
	"github.com/jward/ruletrace/internal/markdown"
	"github.com/jward/ruletrace/internal/ruleid"
	"github.com/jward/ruletrace/internal/scanner"
)

// Severity distinguishes problems that break traceability from advisories.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Code identifies the kind of an Issue.
type Code string

const (
	CodeBrokenReference    Code = "BrokenReference"
	CodeStaleReference     Code = "StaleReference"
	CodeDuplicateRule      Code = "DuplicateRule"
	CodeOrphanedRule       Code = "OrphanedRule"
	CodeNamingViolation    Code = "NamingViolation"
	CodeCircularDependency Code = "CircularDependency"
	CodeUnknownVerb        Code = "UnknownVerb"
	CodeMalformedRuleID    Code = "MalformedRuleID"
	CodeUnknownAttribute   Code = "UnknownAttribute"
	CodeInvalidAttribute   Code = "InvalidAttribute"
	CodeMissingKeyword     Code = "MissingKeyword"
	CodeFrontmatter        Code = "Frontmatter"
	CodeScanWarning        Code = "ScanWarning"
)

var warningCodes = map[scanner.WarningKind]Code{
	scanner.WarnUnknownVerb:        CodeUnknownVerb,
	scanner.WarnMalformedRuleID:    CodeMalformedRuleID,
	scanner.WarnMalformedReference: CodeScanWarning,
	markdown.WarnUnknownAttribute:  CodeUnknownAttribute,
	markdown.WarnInvalidAttribute:  CodeInvalidAttribute,
	markdown.WarnMissingKeyword:    CodeMissingKeyword,
	markdown.WarnFrontmatter:       CodeFrontmatter,
}

// Issue is one validation finding.
type Issue struct {
	Code         Code     `json:"code"`
	Severity     Severity `json:"severity"`
	Message      string   `json:"message"`
	File         string   `json:"file,omitempty"`
	Line         int      `json:"line,omitempty"`
	Column       int      `json:"column,omitempty"`
	RelatedRules []string `json:"related_rules,omitempty"`
	Suggestions  []string `json:"suggestions,omitempty"`
}

// Report is the outcome of validating one spec/impl pair.
type Report struct {
	Issues []Issue    `json:"issues"`
	Cycles [][]string `json:"cycles"`
}

// Errors returns the number of error-severity issues.
func (r *Report) Errors() int { return r.count(SeverityError) }

// Warnings returns the number of warning-severity issues.
func (r *Report) Warnings() int { return r.count(SeverityWarning) }

func (r *Report) count(s Severity) int {
	n := 0
	for _, is := range r.Issues {
		if is.Severity == s {
			n++
		}
	}
	return n
}

// ByCode returns the issues with the given code.
func (r *Report) ByCode(c Code) []Issue {
	var out []Issue
	for _, is := range r.Issues {
		if is.Code == c {
			out = append(out, is)
		}
	}
	return out
}

// Input is everything validation looks at.
type Input struct {
	Index      *index.Index
	Duplicates []index.Duplicate
	// Naming, when set, must match every rule id.
	Naming *regexp.Regexp
	// Warnings collected while scanning the spec and implementation files.
	Warnings []scanner.Warning
}

// Run validates in and returns the report.
func Run(in Input) *Report {
	r := &Report{}
	m := in.Index.Manifest
	fwd := in.Index.Forward

	for _, d := range in.Duplicates {
		kind := "across files"
		if d.SameFile {
			kind = "in the same file"
		}
		var locs []string
		for _, l := range d.Locations {
			locs = append(locs, fmt.Sprintf("%s:%d", l.File, l.Line))
		}
		second := d.Locations[len(d.Locations)-1]
		r.add(Issue{
			Code:         CodeDuplicateRule,
			Severity:     SeverityError,
			Message:      fmt.Sprintf("rule %s defined more than once %s (%s)", d.ID, kind, strings.Join(locs, ", ")),
			File:         second.File,
			Line:         second.Line,
			RelatedRules: []string{d.ID},
		})
	}

	ids := m.IDs()
	for _, ref := range fwd.Broken {
		r.add(Issue{
			Code:        CodeBrokenReference,
			Severity:    SeverityError,
			Message:     fmt.Sprintf("%s reference to unknown rule %s", ref.Verb, ref.RuleID),
			File:        ref.File,
			Line:        ref.Line,
			Column:      ref.Column,
			Suggestions: Suggest(ref.RuleID, ids, 3),
		})
	}
	for _, ref := range fwd.Stale() {
		def, _ := m.Get(ref.RuleID)
		r.add(Issue{
			Code:         CodeStaleReference,
			Severity:     SeverityWarning,
			Message:      fmt.Sprintf("%s reference to %s but the rule is now %s", ref.Verb, ref.RuleID, def.ID),
			File:         ref.File,
			Line:         ref.Line,
			Column:       ref.Column,
			RelatedRules: []string{def.ID},
		})
	}

	for _, def := range m.Rules() {
		for _, dep := range def.DependsOn {
			if _, match := m.Resolve(dep); match == ruleid.NoMatch {
				r.add(Issue{
					Code:         CodeBrokenReference,
					Severity:     SeverityError,
					Message:      fmt.Sprintf("rule %s depends on unknown rule %s", def.ID, dep),
					File:         def.SpecFile,
					Line:         def.Line,
					RelatedRules: []string{def.ID},
					Suggestions:  Suggest(dep, ids, 3),
				})
			}
		}
		if !ruleid.Conventional(def.ID) {
			r.add(namingIssue(def, "does not follow the naming convention (lowercase dot-separated segments)"))
		} else if in.Naming != nil && !in.Naming.MatchString(def.Base) {
			r.add(namingIssue(def, fmt.Sprintf("does not match the pattern %q", in.Naming.String())))
		}
	}

	for _, cycle := range Cycles(dependencyGraph(in.Index)) {
		r.Cycles = append(r.Cycles, cycle)
		first, _ := m.Get(cycle[0])
		is := Issue{
			Code:         CodeCircularDependency,
			Severity:     SeverityError,
			Message:      "circular dependency: " + strings.Join(cycle, " → "),
			RelatedRules: cycle[:len(cycle)-1],
		}
		if first != nil {
			is.File, is.Line = first.SpecFile, first.Line
		}
		r.add(is)
	}

	for _, def := range m.Rules() {
		e := fwd.Rules[def.Base]
		if e.Count() == 0 && len(e.Stale) == 0 {
			r.add(Issue{
				Code:         CodeOrphanedRule,
				Severity:     SeverityWarning,
				Message:      fmt.Sprintf("rule %s has no references", def.ID),
				File:         def.SpecFile,
				Line:         def.Line,
				RelatedRules: []string{def.ID},
			})
		}
	}

	for _, w := range in.Warnings {
		code, ok := warningCodes[w.Kind]
		if !ok {
			code = CodeScanWarning
		}
		r.add(Issue{
			Code:     code,
			Severity: SeverityWarning,
			Message:  w.Message,
			File:     w.File,
			Line:     w.Line,
			Column:   w.Column,
		})
	}
	return r
}

func (r *Report) add(is Issue) {
	r.Issues = append(r.Issues, is)
}

func namingIssue(def *markdown.RuleDefinition, why string) Issue {
	return Issue{
		Code:         CodeNamingViolation,
		Severity:     SeverityError,
		Message:      fmt.Sprintf("rule %s %s", def.ID, why),
		File:         def.SpecFile,
		Line:         def.Line,
		RelatedRules: []string{def.ID},
	}
}

// dependencyGraph joins the dependency markers of rule text with the
// dependency edges found in code units. Edges to unknown rules are dropped.
func dependencyGraph(idx *index.Index) map[string][]string {
	m := idx.Manifest
	g := make(map[string][]string)
	seen := make(map[[2]string]bool)
	add := func(from, to string) {
		key := [2]string{from, to}
		if seen[key] {
			return
		}
		seen[key] = true
		g[from] = append(g[from], to)
	}
	for _, def := range m.Rules() {
		for _, dep := range def.DependsOn {
			if target, match := m.Resolve(dep); match != ruleid.NoMatch {
				add(def.Base, target.Base)
			}
		}
	}
	for _, e := range idx.Edges {
		add(e.From, e.To)
	}
	return g
}

// Cycles returns the cycles closed by back edges of a depth-first search over
// g, each as the node path closed by its first node (a → b → a). Every cyclic
// component yields at least one cycle, but nodes are not revisited once
// finished, so not every elementary cycle is listed. Rotations of the same
// cycle are reported once. Traversal is in sorted order so output is
// deterministic.
func Cycles(g map[string][]string) [][]string {
	nodes := make([]string, 0, len(g))
	for n := range g {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	var cycles [][]string
	reported := make(map[string]bool)
	done := make(map[string]bool)
	onStack := make(map[string]int)
	var path []string

	var visit func(n string)
	visit = func(n string) {
		onStack[n] = len(path)
		path = append(path, n)

		next := append([]string(nil), g[n]...)
		sort.Strings(next)
		for _, to := range next {
			if i, ok := onStack[to]; ok {
				cycle := append(append([]string(nil), path[i:]...), to)
				if key := canonical(cycle); !reported[key] {
					reported[key] = true
					cycles = append(cycles, cycle)
				}
				continue
			}
			if !done[to] {
				visit(to)
			}
		}

		path = path[:len(path)-1]
		delete(onStack, n)
		done[n] = true
	}

	for _, n := range nodes {
		if !done[n] {
			visit(n)
		}
	}
	return cycles
}

// canonical rotates a closed cycle to start at its smallest node.
func canonical(cycle []string) string {
	open := cycle[:len(cycle)-1]
	lo := 0
	for i, n := range open {
		if n < open[lo] {
			lo = i
		}
	}
	rot := append(append([]string(nil), open[lo:]...), open[:lo]...)
	return strings.Join(rot, "\x00")
}
