package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIndex() *Index {
	return New(
		[]Rule{
			{Spec: "auth", ID: "auth.login", Text: "Users MUST log in.", File: "docs/auth.md", Line: 3},
			{Spec: "auth", ID: "auth.login.mfa", Text: "Login SHOULD use a second factor.", File: "docs/auth.md", Line: 7},
			{Spec: "auth", ID: "session.expiry", Text: "Sessions expire after login.", File: "docs/auth.md", Line: 12},
		},
		[]File{
			{Path: "internal/login/login.go", Content: []byte("package login\n\n// [impl auth.login]\nfunc Login() {}\n")},
			{Path: "internal/store/db.go", Content: []byte("package store\n")},
		},
	)
}

func TestSearch_Ranking(t *testing.T) {
	res := testIndex().Search("auth.login", 0)
	require.NotEmpty(t, res)
	assert.Equal(t, Result{Kind: KindRule, Spec: "auth", Rule: "auth.login", File: "docs/auth.md", Line: 3,
		Text: "Users MUST log in.", Score: 100}, res[0])
	assert.Equal(t, "auth.login.mfa", res[1].Rule)
	assert.Equal(t, 80, res[1].Score)

	last := res[len(res)-1]
	assert.Equal(t, KindLine, last.Kind)
	assert.Equal(t, "internal/login/login.go", last.File)
	assert.Equal(t, 3, last.Line)
	assert.Equal(t, "// [impl auth.login]", last.Text)
}

func TestSearch_AllTermsCaseInsensitive(t *testing.T) {
	res := testIndex().Search("LOGIN sessions", 0)
	require.Len(t, res, 1)
	assert.Equal(t, "session.expiry", res[0].Rule)
	assert.Equal(t, 20, res[0].Score)
}

func TestSearch_Files(t *testing.T) {
	res := testIndex().Search("db.go", 0)
	require.Len(t, res, 1)
	assert.Equal(t, KindFile, res[0].Kind)
	assert.Equal(t, 50, res[0].Score)

	res = testIndex().Search("store", 0)
	require.Len(t, res, 2)
	assert.Equal(t, KindFile, res[0].Kind)
	assert.Equal(t, 40, res[0].Score)
	assert.Equal(t, KindLine, res[1].Kind)
}

func TestSearch_Limit(t *testing.T) {
	assert.Len(t, testIndex().Search("login", 2), 2)
	assert.Empty(t, testIndex().Search("   ", 10))
	assert.Empty(t, testIndex().Search("nothing-matches", 10))

	var nilIndex *Index
	assert.Nil(t, nilIndex.Search("x", 1))
}
