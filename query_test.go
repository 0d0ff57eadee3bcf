package ruletrace

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/ruletrace/internal/search"
	"github.com/jward/ruletrace/internal/validate"
)

const twoSpecConfig = `specs:
  - name: auth
    include: ["docs/auth/**/*.md"]
    impls:
      - lang: go
      - name: web
        lang: typescript
        include: ["web/**/*.ts"]
  - name: billing
    include: ["docs/billing/**/*.md"]
    impls:
      - lang: go
        include: ["billing/**/*.go"]
`

func newTwoSpecEngine(t *testing.T) *Engine {
	t.Helper()
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		".config/ruletrace/config.yaml": twoSpecConfig,
		"docs/auth/spec.md":             testSpec,
		"docs/billing/spec.md":          "# Billing\n\nr[billing.invoice]\nInvoices MUST be numbered.\n",
		"auth.go":                       testSource,
		"auth_test.go":                  testVerify,
		"billing/invoice.go":            "package billing\n\n// [impl billing.invoice]\nfunc Number() int { return 1 }\n",
		"web/login.ts":                  "// [impl auth.token.expiry]\nexport function login() {}\n",
	})
	return buildTestEngine(t, root)
}

// =============================================================================
// Selectors
// =============================================================================

func TestResolvePair(t *testing.T) {
	q := newTwoSpecEngine(t).Query()

	tests := []struct {
		sel     string
		want    string
		wantErr error
	}{
		{sel: "auth/web", want: "auth/web"},
		{sel: "auth/go", want: "auth/go"},
		{sel: "auth", want: "auth/go"},
		{sel: " billing ", want: "billing/go"},
		{sel: "", wantErr: ErrAmbiguousSelection},
		{sel: "auth/rust", wantErr: ErrUnknownSpec},
		{sel: "payments", wantErr: ErrUnknownSpec},
	}
	for _, tt := range tests {
		t.Run(tt.sel, func(t *testing.T) {
			pd, err := q.ResolvePair(tt.sel)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, pd.Pair.String())
		})
	}
}

func TestResolvePair_ErrorListsPairs(t *testing.T) {
	q := newTwoSpecEngine(t).Query()
	_, err := q.ResolvePair("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth/go, auth/web, billing/go")
}

func TestResolvePair_SinglePairDefault(t *testing.T) {
	q := buildTestEngine(t, newTestProject(t)).Query()
	pd, err := q.ResolvePair("")
	require.NoError(t, err)
	assert.Equal(t, "auth/go", pd.Pair.String())
}

func TestQuery_NilSnapshot(t *testing.T) {
	q := NewQuery(nil)
	assert.Equal(t, uint64(0), q.Version())
	assert.Empty(t, q.Pairs())
	assert.Equal(t, ConfigInfo{}, q.Config())
	assert.Equal(t, StatusResult{}, q.Status())
	assert.Nil(t, q.Search("auth", 0))

	_, err := q.Rule("auth.token.validation")
	assert.ErrorIs(t, err, ErrNoSnapshot)
	_, err = q.Uncovered("", "")
	assert.ErrorIs(t, err, ErrNoSnapshot)
	_, err = q.Forward("auth", "go")
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

// =============================================================================
// Views
// =============================================================================

func TestSpec_OutlineAggregates(t *testing.T) {
	q := buildTestEngine(t, newTestProject(t)).Query()
	v, err := q.Spec("auth", "go")
	require.NoError(t, err)
	require.Len(t, v.Docs, 1)

	doc := v.Docs[0]
	assert.Contains(t, doc.HTML, `id="r-auth.token.validation"`)
	require.Len(t, doc.Outline, 1)
	top := doc.Outline[0]
	assert.Equal(t, "Auth", top.Title)
	assert.Equal(t, 3, top.Aggregated.Total)
	assert.Equal(t, 1, top.Aggregated.Impl)
	assert.Equal(t, 0, top.Direct.Total)
	require.Len(t, top.Children, 2)
	assert.Equal(t, 2, top.Children[0].Direct.Total)
}

func TestFile_LineAnnotations(t *testing.T) {
	q := buildTestEngine(t, newTestProject(t)).Query()
	v, err := q.File("auth", "go", "auth.go")
	require.NoError(t, err)

	assert.Equal(t, testSource, v.Content)
	assert.Equal(t, "go", v.Language)
	require.Len(t, v.Lines[10], 1)
	assert.Equal(t, "auth.token.validation", v.Lines[10][0].Rule)
	assert.True(t, v.Lines[10][0].Known)
	assert.Len(t, v.Units, 2)

	_, err = q.File("auth", "go", "missing.go")
	assert.ErrorIs(t, err, ErrPathNotFound)
}

func TestFile_VersionedReferences(t *testing.T) {
	root := newTestProject(t)
	writeFiles(t, root, map[string]string{
		"docs/spec.md": strings.Replace(testSpec, "r[auth.token.validation]", "r[auth.token.validation+2]", 1),
		"versions.go":  "package auth\n\n// [impl auth.token.expiry+2]\n// [impl auth.token.expiry]\nfunc A() {}\n",
	})
	q := buildTestEngine(t, root).Query()

	v, err := q.File("auth", "go", "versions.go")
	require.NoError(t, err)
	require.Len(t, v.Lines[3], 1)
	assert.False(t, v.Lines[3][0].Known, "newer version than defined")
	assert.False(t, v.Lines[3][0].Stale)
	require.Len(t, v.Lines[4], 1)
	assert.True(t, v.Lines[4][0].Known)

	v, err = q.File("auth", "go", "auth.go")
	require.NoError(t, err)
	require.Len(t, v.Lines[10], 1)
	assert.False(t, v.Lines[10][0].Known)
	assert.True(t, v.Lines[10][0].Stale)

	fwd, err := q.Forward("auth", "go")
	require.NoError(t, err)
	require.Len(t, fwd.Broken, 1)
	assert.Equal(t, "auth.token.expiry+2", fwd.Broken[0].RuleID)
	assert.Len(t, fwd.Rules["auth.token.validation"].Stale, 2, "impl and verify both name version 1")
}

func TestSearch(t *testing.T) {
	q := buildTestEngine(t, newTestProject(t)).Query()
	results := q.Search("token expiry", 0)
	require.NotEmpty(t, results)
	assert.Equal(t, search.KindRule, results[0].Kind)
	assert.Equal(t, "auth.token.expiry", results[0].Rule)
}

// =============================================================================
// Tool queries
// =============================================================================

func TestUncovered_GroupedByHeading(t *testing.T) {
	q := buildTestEngine(t, newTestProject(t)).Query()
	list, err := q.Uncovered("", "")
	require.NoError(t, err)

	assert.Equal(t, "auth/go", list.Pair)
	assert.Equal(t, 2, list.Count)
	assert.Equal(t, 3, list.Total)
	assert.Equal(t, []RuleSection{
		{Title: "Tokens", File: "docs/spec.md", Rules: []string{"auth.token.expiry"}},
		{Title: "Sessions", File: "docs/spec.md", Rules: []string{"auth.session.timeout"}},
	}, list.Sections)
}

func TestUncovered_Prefix(t *testing.T) {
	q := buildTestEngine(t, newTestProject(t)).Query()
	list, err := q.Uncovered("auth/go", "auth.session")
	require.NoError(t, err)
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, 1, list.Total)
	require.Len(t, list.Sections, 1)
	assert.Equal(t, "Sessions", list.Sections[0].Title)
}

func TestUncovered_PerImpl(t *testing.T) {
	q := newTwoSpecEngine(t).Query()
	list, err := q.Uncovered("auth/web", "")
	require.NoError(t, err)
	assert.Equal(t, 2, list.Count, "web implements only auth.token.expiry")
}

func TestUntested(t *testing.T) {
	root := newTestProject(t)
	writeFiles(t, root, map[string]string{
		"session.go": "package auth\n\n// [impl auth.session.timeout]\nfunc Timeout() {}\n",
	})
	q := buildTestEngine(t, root).Query()

	list, err := q.Untested("", "")
	require.NoError(t, err)
	assert.Equal(t, 1, list.Count)
	require.Len(t, list.Sections, 1)
	assert.Equal(t, []string{"auth.session.timeout"}, list.Sections[0].Rules)
}

func TestUnmapped(t *testing.T) {
	root := newTestProject(t)
	writeFiles(t, root, map[string]string{
		"store/db.go": "package store\n\nfunc Open() {}\n\nfunc Close() {}\n",
	})
	q := buildTestEngine(t, root).Query()

	t.Run("root", func(t *testing.T) {
		res, err := q.Unmapped("", "")
		require.NoError(t, err)
		assert.Equal(t, 4, res.Total)
		assert.Equal(t, 3, res.Unmapped)
		assert.Equal(t, []UnmappedEntry{
			{Path: "store", Dir: true, Units: 2, Percent: 0},
			{Path: "auth.go", Units: 2, Percent: 50},
			{Path: "auth_test.go", Units: 0, Percent: 100},
		}, res.Entries)
	})

	t.Run("folder", func(t *testing.T) {
		res, err := q.Unmapped("", "store/")
		require.NoError(t, err)
		assert.Equal(t, "store", res.Path)
		assert.Equal(t, 2, res.Unmapped)
		require.Len(t, res.Entries, 1)
		assert.Equal(t, "store/db.go", res.Entries[0].Path)
	})

	t.Run("file", func(t *testing.T) {
		res, err := q.Unmapped("", "auth.go")
		require.NoError(t, err)
		assert.Equal(t, 1, res.Unmapped)
		require.Len(t, res.Units, 1)
		assert.Equal(t, "Expire", res.Units[0].Name)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := q.Unmapped("", "nowhere")
		assert.ErrorIs(t, err, ErrPathNotFound)
	})
}

func TestRule(t *testing.T) {
	q := newTwoSpecEngine(t).Query()

	res, err := q.Rule("auth.token.validation")
	require.NoError(t, err)
	assert.Equal(t, "auth", res.Spec)
	assert.Equal(t, "docs/auth/spec.md", res.Definition.SpecFile)
	assert.Equal(t, 5, res.Definition.Line)
	assert.Contains(t, res.Definition.RawText, "Tokens MUST be validated")
	require.Len(t, res.Pairs, 2)
	assert.Equal(t, "auth/go", res.Pairs[0].Pair)
	assert.Len(t, res.Pairs[0].Impl, 1)
	assert.Len(t, res.Pairs[0].Verify, 1)
	assert.Equal(t, "auth/web", res.Pairs[1].Pair)
	assert.Empty(t, res.Pairs[1].Impl)

	res, err = q.Rule("billing.invoice")
	require.NoError(t, err)
	assert.Equal(t, "billing", res.Spec)

	_, err = q.Rule("auth.nope")
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestValidate(t *testing.T) {
	root := newTestProject(t)
	writeFiles(t, root, map[string]string{
		"broken.go": "package auth\n\n// [impl auth.token.validaton]\nfunc Broken() {}\n",
	})
	q := buildTestEngine(t, root).Query()

	res, err := q.Validate("auth")
	require.NoError(t, err)
	assert.Equal(t, "auth/go", res.Pair)
	broken := res.Report.ByCode(validate.CodeBrokenReference)
	require.Len(t, broken, 1)
	assert.Equal(t, "broken.go", broken[0].File)
	assert.Equal(t, 3, broken[0].Line)
	assert.Contains(t, broken[0].Suggestions, "auth.token.validation")
}

func TestStatus_ConfigOrder(t *testing.T) {
	st := newTwoSpecEngine(t).Query().Status()
	require.Len(t, st.Pairs, 3)
	assert.Equal(t, "auth/go", st.Pairs[0].Pair)
	assert.Equal(t, "auth/web", st.Pairs[1].Pair)
	assert.Equal(t, "billing/go", st.Pairs[2].Pair)
	assert.Equal(t, float64(100), st.Pairs[2].ImplPercent)
}
