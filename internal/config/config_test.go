package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `specs:
  - name: auth
    include: ["docs/spec/**/*.md"]
    naming: "^auth\\."
    impls:
      - lang: golang
        exclude: ["vendor/**"]
      - name: web
        lang: ts
        include: ["web/src/**/*.ts"]
`

const sampleTOML = `
[[specs]]
name = "auth"
prefix = "req"
include = ["docs/**/*.md"]

[[specs.impls]]
lang = "rust"
test_include = ["tests/**/*.rs", "**/*_test.rs"]
`

func TestParse_YAMLDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML), "yaml")
	require.NoError(t, err)
	require.Len(t, cfg.Specs, 1)

	s := cfg.Specs[0]
	assert.Equal(t, "r", s.Prefix)
	require.NotNil(t, s.NamingPattern())
	assert.True(t, s.NamingPattern().MatchString("auth.login"))

	goImpl, ok := s.Impl("go")
	require.True(t, ok, "name defaults to the canonical language")
	assert.Equal(t, "go", goImpl.Lang)
	assert.Equal(t, []string{"**/*.go"}, goImpl.Include)
	assert.Equal(t, []string{"**/*_test.go"}, goImpl.TestInclude)

	web, ok := s.Impl("web")
	require.True(t, ok)
	assert.Equal(t, "typescript", web.Lang)
	assert.Equal(t, []string{"web/src/**/*.ts"}, web.Include)

	assert.Equal(t, []Pair{{"auth", "go"}, {"auth", "web"}}, cfg.Pairs())
	assert.Equal(t, "auth/web", cfg.Pairs()[1].String())
}

func TestParse_TOML(t *testing.T) {
	cfg, err := Parse([]byte(sampleTOML), "toml")
	require.NoError(t, err)
	s, ok := cfg.Spec("auth")
	require.True(t, ok)
	assert.Equal(t, "req", s.Prefix)
	require.Len(t, s.Impls, 1)
	assert.Equal(t, "rust", s.Impls[0].Name)
	assert.Equal(t, []string{"tests/**/*.rs", "**/*_test.rs"}, s.Impls[0].TestInclude)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no specs", "specs: []\n", "at least one spec"},
		{"unknown key", "specs:\n  - name: a\n    color: red\n", "color"},
		{"missing name", "specs:\n  - include: [x]\n    impls: [{lang: go}]\n", "name is required"},
		{"slash in name", "specs:\n  - name: a/b\n    include: [x]\n    impls: [{lang: go}]\n", "must not contain"},
		{"duplicate spec", "specs:\n  - name: a\n    include: [x]\n    impls: [{lang: go}]\n  - name: a\n    include: [x]\n    impls: [{lang: go}]\n", "duplicate name"},
		{"missing include", "specs:\n  - name: a\n    impls: [{lang: go}]\n", "include is required"},
		{"no impls", "specs:\n  - name: a\n    include: [x]\n", "at least one impl"},
		{"unknown lang", "specs:\n  - name: a\n    include: [x]\n    impls: [{lang: cobol}]\n", "unknown language"},
		{"duplicate impl", "specs:\n  - name: a\n    include: [x]\n    impls: [{lang: go}, {lang: go}]\n", "duplicate name"},
		{"bad naming", "specs:\n  - name: a\n    include: [x]\n    naming: \"(\"\n    impls: [{lang: go}]\n", "naming"},
		{"bad glob", "specs:\n  - name: a\n    include: [\"[x\"]\n    impls: [{lang: go}]\n", "invalid glob"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), "yaml")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := Parse([]byte("[[specs]]\nname = \"a\"\nbogus = 1\n"), "toml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")

	_, err = Parse(nil, "ini")
	require.Error(t, err)
}

func TestImplMatching(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML), "yaml")
	require.NoError(t, err)
	s := cfg.Specs[0]
	im, _ := s.Impl("go")

	assert.True(t, im.Matches("internal/auth/auth.go"))
	assert.True(t, im.Matches("main.go"))
	assert.False(t, im.Matches("vendor/x/x.go"))
	assert.False(t, im.Matches("README.md"))
	assert.True(t, im.IsTest("internal/auth/auth_test.go"))
	assert.False(t, im.IsTest("internal/auth/auth.go"))

	assert.True(t, s.MatchesDoc("docs/spec/auth.md"))
	assert.True(t, s.MatchesDoc("docs/spec/deep/more.md"))
	assert.False(t, s.MatchesDoc("docs/other.md"))
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	_, err := Find(root)
	require.ErrorIs(t, err, ErrNotFound)

	dir := filepath.Join(root, ".config", "ruletrace")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(sampleTOML), 0o644))

	path, err := Find(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.toml"), path)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "auth", cfg.Specs[0].Name)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(sampleYAML), 0o644))
	path, err = Find(root)
	require.NoError(t, err)
	assert.Equal(t, "config.yaml", filepath.Base(path), "yaml is probed first")

	_, err = Load(filepath.Join(root, "missing.yaml"))
	require.Error(t, err)
}
