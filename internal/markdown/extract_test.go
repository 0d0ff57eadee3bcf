package markdown

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func extract(t *testing.T, src string) *Document {
	t.Helper()
	doc, err := Extract("spec.md", []byte(src), Options{})
	require.NoError(t, err)
	return doc
}

// =============================================================================
// Definitions
// =============================================================================

func TestExtract_MarkerWithFollowingText(t *testing.T) {
	src := "# Auth\n\nr[auth.login]\nUsers MUST log in\nbefore use.\n"
	doc := extract(t, src)
	require.Len(t, doc.Rules, 1)

	r := doc.Rules[0]
	assert.Equal(t, "auth.login", r.ID)
	assert.Equal(t, "Users MUST log in before use.", r.RawText)
	assert.Equal(t, LevelMust, r.Level)
	assert.Equal(t, 3, r.Line)
	assert.Equal(t, strings.Index(src, "r[auth.login]"), r.ByteOffset)
	assert.Equal(t, len("r[auth.login]"), r.ByteLength)
	assert.Equal(t, []string{"auth"}, r.HeadingPath)
	assert.Equal(t, "r-auth.login", r.Anchor)
}

func TestExtract_MarkerAloneTakesNextParagraph(t *testing.T) {
	doc := extract(t, "r[a.b]\n\nClients SHOULD retry.\n\nUnrelated.\n")
	require.Len(t, doc.Rules, 1)
	assert.Equal(t, "Clients SHOULD retry.", doc.Rules[0].RawText)
	assert.Equal(t, LevelShould, doc.Rules[0].Level)
	assert.Equal(t, []string{"a.b"}, doc.Preamble)
}

func TestExtract_InlineMarkerIgnored(t *testing.T) {
	doc := extract(t, "See r[a.b] for details.\n\nAlso `r[c.d]`.\n")
	assert.Empty(t, doc.Rules)
	assert.Empty(t, doc.Warnings)
}

func TestExtract_CodeBlockIgnored(t *testing.T) {
	doc := extract(t, "```\nr[a.b]\n```\n\n    r[c.d]\n")
	assert.Empty(t, doc.Rules)
}

func TestExtract_BlockquoteBody(t *testing.T) {
	src := "> r[q.rule]\n>\n> The server MUST answer.\n>\n> ```\n> example\n> ```\n"
	doc := extract(t, src)
	require.Len(t, doc.Rules, 1)
	assert.Equal(t, "The server MUST answer.\n\nexample", doc.Rules[0].RawText)
	assert.Equal(t, strings.Index(src, "r[q.rule]"), doc.Rules[0].ByteOffset)
}

func TestExtract_ConsecutiveMarkers(t *testing.T) {
	doc := extract(t, "r[a.one]\nOne MUST.\nr[a.two]\nTwo MAY.\n")
	require.Len(t, doc.Rules, 2)
	assert.Equal(t, "One MUST.", doc.Rules[0].RawText)
	assert.Equal(t, "Two MAY.", doc.Rules[1].RawText)
	assert.Equal(t, LevelMay, doc.Rules[1].Level)
}

func TestExtract_SameFileDuplicate(t *testing.T) {
	src := "r[x.y]\nFirst MUST.\n\nr[x.y]\nSecond MUST.\n"
	doc := extract(t, src)
	require.Len(t, doc.Rules, 1)
	assert.Equal(t, "First MUST.", doc.Rules[0].RawText)

	require.Len(t, doc.Duplicates, 1)
	d := doc.Duplicates[0]
	assert.Equal(t, "x.y", d.ID)
	assert.Equal(t, 1, d.First.Line)
	assert.Equal(t, 4, d.Second.Line)

	// Both markers are rewritten with distinct anchors.
	assert.Contains(t, string(doc.Rewritten), `id="r-x.y"`)
	assert.Contains(t, string(doc.Rewritten), `id="r-x.y-2"`)
}

func TestExtract_Attributes(t *testing.T) {
	doc := extract(t, "r[a.b+2 status=stable level=may since=1.2 tags=net,io color=red]\nThings MUST happen.\n")
	require.Len(t, doc.Rules, 1)
	r := doc.Rules[0]
	assert.Equal(t, "a.b+2", r.ID)
	assert.Equal(t, "a.b", r.Base)
	assert.Equal(t, 2, r.Version)
	assert.Equal(t, StatusStable, r.Status)
	assert.Equal(t, LevelMay, r.Level, "explicit level wins")
	assert.Equal(t, "1.2", r.Since)
	assert.Equal(t, []string{"net", "io"}, r.Tags)

	require.Len(t, doc.Warnings, 1)
	assert.Equal(t, WarnUnknownAttribute, doc.Warnings[0].Kind)
}

func TestExtract_MissingKeywordWarning(t *testing.T) {
	doc := extract(t, "r[a.b]\nThe system logs in.\n")
	require.Len(t, doc.Rules, 1)
	assert.Equal(t, LevelUnspecified, doc.Rules[0].Level)
	require.Len(t, doc.Warnings, 1)
	assert.Equal(t, WarnMissingKeyword, doc.Warnings[0].Kind)
	assert.Equal(t, 1, doc.Warnings[0].Line)
}

func TestExtract_MalformedMarker(t *testing.T) {
	doc := extract(t, "r[a..b]\nText MUST.\n")
	assert.Empty(t, doc.Rules)
	require.Len(t, doc.Warnings, 1)
	assert.Equal(t, "malformed-rule-id", string(doc.Warnings[0].Kind))
}

func TestExtract_DependsOn(t *testing.T) {
	doc := extract(t, "r[a.b]\nThis MUST run after [depends a.c] completes.\n")
	require.Len(t, doc.Rules, 1)
	assert.Equal(t, []string{"a.c"}, doc.Rules[0].DependsOn)
}

func TestExtract_CustomPrefix(t *testing.T) {
	doc, err := Extract("s.md", []byte("req[a.b]\nIt MUST.\n\nr[c.d]\nIt MUST.\n"), Options{Prefix: "req"})
	require.NoError(t, err)
	require.Len(t, doc.Rules, 1)
	assert.Equal(t, "a.b", doc.Rules[0].ID)
}

// =============================================================================
// Outline
// =============================================================================

func TestExtract_Outline(t *testing.T) {
	src := `# Top

## First

r[a.one]
One MUST.

### Deep

r[a.two]
Two MUST.

## Second

r[a.three]
Three MUST.

# Other
`
	doc := extract(t, src)
	require.Len(t, doc.Outline, 2)

	top := doc.Outline[0]
	assert.Equal(t, "top", top.Slug)
	require.Len(t, top.Children, 2)
	first := top.Children[0]
	assert.Equal(t, "first", first.Slug)
	assert.Equal(t, []string{"a.one"}, first.Rules)
	require.Len(t, first.Children, 1)
	assert.Equal(t, []string{"a.two"}, first.Children[0].Rules)
	assert.Equal(t, []string{"a.three"}, top.Children[1].Rules)
	assert.Equal(t, "other", doc.Outline[1].Slug)

	assert.Equal(t, []string{"top", "first", "deep"}, doc.Rules[1].HeadingPath)
}

func TestExtract_DuplicateHeadingSlugs(t *testing.T) {
	doc := extract(t, "# Intro\n\n# Intro\n\n# Hello, World!\n")
	require.Len(t, doc.Outline, 3)
	assert.Equal(t, "intro", doc.Outline[0].Slug)
	assert.Equal(t, "intro-1", doc.Outline[1].Slug)
	assert.Equal(t, "hello-world", doc.Outline[2].Slug)
	assert.Contains(t, doc.HTML, `<h1 id="intro-1">`)
}

// =============================================================================
// Rewriting and frontmatter
// =============================================================================

func TestExtract_RewriteAndRender(t *testing.T) {
	doc := extract(t, "# Auth\n\nr[auth.login]\nUsers MUST log in.\n")
	want := `<div class="rule" id="r-auth.login"><a class="rule-link" href="#r-auth.login" title="auth.login"><span>[auth.<wbr>login]</span></a></div>`
	assert.Contains(t, string(doc.Rewritten), want+"\n\nUsers MUST log in.")
	assert.Contains(t, doc.HTML, want)
	assert.Contains(t, doc.HTML, "<p>Users MUST log in.</p>")
	assert.Contains(t, doc.HTML, `<h1 id="auth">Auth</h1>`)
	assert.NotContains(t, doc.HTML, "r[auth.login]")
}

func TestExtract_RewriteInsideBlockquote(t *testing.T) {
	doc := extract(t, "> r[q.a]\n> Text MUST hold.\n")
	assert.Contains(t, string(doc.Rewritten), "</div>\n>\n> Text MUST hold.")
	assert.Contains(t, doc.HTML, "<blockquote>")
	assert.Contains(t, doc.HTML, "<p>Text MUST hold.</p>")
}

func TestExtract_YAMLFrontmatter(t *testing.T) {
	src := "---\nweight: 3\ntitle: Networking\n---\n# Net\n\nr[net.a]\nIt MUST.\n"
	doc := extract(t, src)
	assert.Equal(t, 3, doc.Weight)
	assert.Equal(t, "Networking", doc.Title)
	require.Len(t, doc.Rules, 1)
	assert.Equal(t, 7, doc.Rules[0].Line)
	assert.Equal(t, strings.Index(src, "r[net.a]"), doc.Rules[0].ByteOffset)
	assert.NotContains(t, string(doc.Rewritten), "weight:")
}

func TestExtract_TOMLFrontmatter(t *testing.T) {
	doc := extract(t, "+++\nweight = 7\n+++\nr[t.a]\nIt MUST.\n")
	assert.Equal(t, 7, doc.Weight)
	require.Len(t, doc.Rules, 1)
	assert.Equal(t, 4, doc.Rules[0].Line)
}

func TestExtract_BadFrontmatterIsWarning(t *testing.T) {
	doc := extract(t, "---\nweight: [\n---\nr[a.b]\nIt MUST.\n")
	require.Len(t, doc.Rules, 1)
	require.NotEmpty(t, doc.Warnings)
	assert.Equal(t, WarnFrontmatter, doc.Warnings[0].Kind)
}

func TestDetectLevel(t *testing.T) {
	assert.Equal(t, LevelMust, detectLevel("It MUST NOT fail"))
	assert.Equal(t, LevelMust, detectLevel("It MAY and SHALL"))
	assert.Equal(t, LevelShould, detectLevel("RECOMMENDED"))
	assert.Equal(t, LevelMay, detectLevel("OPTIONAL"))
	assert.Equal(t, LevelUnspecified, detectLevel("must lowercase does not count"))
	assert.Equal(t, LevelUnspecified, detectLevel("MAYBE"))
}
