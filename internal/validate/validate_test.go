package validate

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/ruletrace/internal/index"
	"github.com/jward/ruletrace/internal/markdown"
	"github.com/jward/ruletrace/internal/scanner"
)

type fixture struct {
	docs  []*markdown.Document
	files []*scanner.FileResult
}

func (f *fixture) spec(t *testing.T, path, src string) {
	t.Helper()
	doc, err := markdown.Extract(path, []byte(src), markdown.Options{})
	require.NoError(t, err)
	f.docs = append(f.docs, doc)
}

func (f *fixture) code(t *testing.T, path, src string) {
	t.Helper()
	res, err := scanner.ScanFile(context.Background(), path, "go", []byte(src), scanner.Options{})
	require.NoError(t, err)
	f.files = append(f.files, res)
}

func (f *fixture) run(naming *regexp.Regexp) *Report {
	m, dups := index.MergeManifest(f.docs)
	idx := index.Build(m, f.docs, f.files)
	var warns []scanner.Warning
	for _, d := range f.docs {
		warns = append(warns, d.Warnings...)
	}
	for _, r := range f.files {
		warns = append(warns, r.Warnings...)
	}
	return Run(Input{Index: idx, Duplicates: dups, Naming: naming, Warnings: warns})
}

func TestRun_CleanProject(t *testing.T) {
	var f fixture
	f.spec(t, "s.md", "r[a.one]\nOne MUST.\n")
	f.code(t, "a.go", "package a\n\n// [impl a.one]\nfunc A() {}\n")

	r := f.run(nil)
	assert.Empty(t, r.Issues)
	assert.Equal(t, 0, r.Errors())
}

func TestRun_BrokenReferenceWithSuggestions(t *testing.T) {
	var f fixture
	f.spec(t, "s.md", "r[auth.login]\nIt MUST.\n\nr[auth.logout]\nIt MUST.\n\nr[billing.charge]\nIt MUST.\n")
	f.code(t, "a.go", "package a\n\n// [impl auth.logn]\nfunc A() {}\n")

	broken := f.run(nil).ByCode(CodeBrokenReference)
	require.Len(t, broken, 1)
	b := broken[0]
	assert.Equal(t, SeverityError, b.Severity)
	assert.Equal(t, "a.go", b.File)
	assert.Equal(t, 3, b.Line)
	assert.Equal(t, 4, b.Column)
	require.NotEmpty(t, b.Suggestions)
	assert.Equal(t, "auth.login", b.Suggestions[0])
	assert.NotContains(t, b.Suggestions, "billing.charge")
}

func TestRun_StaleReference(t *testing.T) {
	var f fixture
	f.spec(t, "s.md", "r[a.one+3]\nOne MUST.\n")
	f.code(t, "a.go", "package a\n\n// [impl a.one+2]\nfunc A() {}\n")

	r := f.run(nil)
	stale := r.ByCode(CodeStaleReference)
	require.Len(t, stale, 1)
	assert.Equal(t, []string{"a.one+3"}, stale[0].RelatedRules)
	assert.Empty(t, r.ByCode(CodeOrphanedRule), "a stale reference is not an orphan")
	assert.Empty(t, r.ByCode(CodeBrokenReference))
}

func TestRun_SameFileDuplicateReportedOnce(t *testing.T) {
	var f fixture
	f.spec(t, "s.md", "r[x.y]\nFirst MUST.\n\nr[x.y]\nSecond MUST.\n")

	dups := f.run(nil).ByCode(CodeDuplicateRule)
	require.Len(t, dups, 1)
	assert.Equal(t, []string{"x.y"}, dups[0].RelatedRules)
	assert.Equal(t, 4, dups[0].Line)
	assert.Contains(t, dups[0].Message, "same file")
}

func TestRun_CrossFileDuplicateListsAllLocations(t *testing.T) {
	var f fixture
	f.spec(t, "a.md", "r[x.y]\nA MUST.\n")
	f.spec(t, "b.md", "r[x.y]\nB MUST.\n")
	f.spec(t, "c.md", "r[x.y]\nC MUST.\n")

	dups := f.run(nil).ByCode(CodeDuplicateRule)
	require.Len(t, dups, 1)
	assert.Contains(t, dups[0].Message, "a.md:1, b.md:1, c.md:1")
}

func TestRun_Orphans(t *testing.T) {
	var f fixture
	f.spec(t, "s.md", "r[a.one]\nOne MUST.\n\nr[a.two]\nTwo MUST.\n")
	f.code(t, "a.go", "package a\n\n// [related a.one]\nfunc A() {}\n")

	orphans := f.run(nil).ByCode(CodeOrphanedRule)
	require.Len(t, orphans, 1)
	assert.Equal(t, []string{"a.two"}, orphans[0].RelatedRules)
	assert.Equal(t, SeverityWarning, orphans[0].Severity)
}

func TestRun_Naming(t *testing.T) {
	var f fixture
	f.spec(t, "s.md", "r[Auth.Login]\nIt MUST.\n\nr[billing.x]\nIt MUST.\n\nr[auth.ok]\nIt MUST.\n")

	naming := f.run(regexp.MustCompile(`^auth\.`)).ByCode(CodeNamingViolation)
	require.Len(t, naming, 2)
	assert.Contains(t, naming[0].Message, "naming convention")
	assert.Equal(t, []string{"Auth.Login"}, naming[0].RelatedRules)
	assert.Contains(t, naming[1].Message, `^auth\\.`)
	assert.Equal(t, []string{"billing.x"}, naming[1].RelatedRules)
}

func TestRun_CycleFromRuleText(t *testing.T) {
	var f fixture
	f.spec(t, "s.md", "r[a.x]\nIt MUST follow [depends a.y].\n\nr[a.y]\nIt MUST follow [depends a.z].\n\nr[a.z]\nIt MUST follow [depends a.x].\n")

	r := f.run(nil)
	require.Len(t, r.Cycles, 1)
	assert.Equal(t, []string{"a.x", "a.y", "a.z", "a.x"}, r.Cycles[0])
	cyc := r.ByCode(CodeCircularDependency)
	require.Len(t, cyc, 1)
	assert.Equal(t, "circular dependency: a.x → a.y → a.z → a.x", cyc[0].Message)
	assert.Equal(t, []string{"a.x", "a.y", "a.z"}, cyc[0].RelatedRules)
}

func TestRun_CycleMixingCodeAndText(t *testing.T) {
	var f fixture
	f.spec(t, "s.md", "r[a.x]\nIt MUST.\n\nr[a.y]\nIt MUST follow [depends a.x].\n")
	f.code(t, "a.go", "package a\n\n// [impl a.x]\n// [depends a.y]\nfunc A() {}\n")

	r := f.run(nil)
	require.Len(t, r.Cycles, 1)
	assert.Equal(t, []string{"a.x", "a.y", "a.x"}, r.Cycles[0])
}

func TestRun_DependsOnUnknownRule(t *testing.T) {
	var f fixture
	f.spec(t, "s.md", "r[a.x]\nIt MUST follow [depends a.q].\n")

	broken := f.run(nil).ByCode(CodeBrokenReference)
	require.Len(t, broken, 1)
	assert.Equal(t, "s.md", broken[0].File)
	assert.Equal(t, []string{"a.x"}, broken[0].RelatedRules)
}

func TestRun_ScanWarnings(t *testing.T) {
	var f fixture
	f.spec(t, "s.md", "r[a.x foo=bar]\nIt MUST.\n\nr[a.y]\nNo keyword here.\n")
	f.code(t, "a.go", "package a\n\n// [implements a.x] [impl a..x]\nfunc A() {}\n")

	r := f.run(nil)
	assert.Len(t, r.ByCode(CodeUnknownAttribute), 1)
	assert.Len(t, r.ByCode(CodeMissingKeyword), 1)
	assert.Len(t, r.ByCode(CodeUnknownVerb), 1)
	assert.Len(t, r.ByCode(CodeMalformedRuleID), 1)
	for _, is := range r.Issues {
		if is.Code == CodeUnknownVerb {
			assert.Equal(t, SeverityWarning, is.Severity)
		}
	}
}

// =============================================================================
// Cycle detection
// =============================================================================

func TestCycles(t *testing.T) {
	tests := []struct {
		name  string
		graph map[string][]string
		want  [][]string
	}{
		{"empty", nil, nil},
		{"acyclic", map[string][]string{"a": {"b"}, "b": {"c"}}, nil},
		{"self loop", map[string][]string{"a": {"a"}}, [][]string{{"a", "a"}}},
		{"two cycles", map[string][]string{
			"a": {"b"}, "b": {"a", "c"}, "c": {"d"}, "d": {"c"},
		}, [][]string{{"a", "b", "a"}, {"c", "d", "c"}}},
		{"rotation reported once", map[string][]string{
			"b": {"c"}, "c": {"a"}, "a": {"b"},
		}, [][]string{{"a", "b", "c", "a"}}},
		{"cycle off the path", map[string][]string{
			"a": {"b"}, "b": {"c"}, "c": {"b"},
		}, [][]string{{"b", "c", "b"}}},
		{"finished node not revisited", map[string][]string{
			"a": {"b", "c"}, "b": {"c"}, "c": {"a"},
		}, [][]string{{"a", "b", "c", "a"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Cycles(tt.graph))
		})
	}
}

func TestSuggest(t *testing.T) {
	known := []string{"auth.login", "auth.logout", "auth.session.expiry", "billing.charge"}

	assert.Equal(t, []string{"auth.login", "auth.logout", "auth.session.expiry"}, Suggest("auth.logn", known, 3))
	assert.Equal(t, []string{"auth.session.expiry"}, Suggest("session.expiry", known, 1))
	assert.Nil(t, Suggest("zzz.qqq", known, 3))
	assert.Equal(t, []string{"auth.login"}, Suggest("auth.login+2", known, 1))
}
