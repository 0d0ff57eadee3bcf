package scanner

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/php"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	ts "github.com/smacker/go-tree-sitter/typescript/typescript"
)

// BlockDelim is an opening/closing pair for block comments.
type BlockDelim struct {
	Open  string
	Close string
}

// Profile describes the comment syntax of one language. Adding a language is
// a new table entry; the scanner has no per-language branches.
type Profile struct {
	Language     string
	Extensions   []string
	LinePrefixes []string
	Blocks       []BlockDelim
	NestedBlocks bool

	// DocMarkers are the prefixes that mark documentation comments. They are
	// informational: doc comments are scanned like any other comment.
	DocMarkers []string

	// Quotes lists the bytes that open a string literal in code.
	Quotes string

	// CharLiterals marks languages where ' opens a char literal but may also
	// start something else, such as a Rust lifetime. A ' only opens a literal
	// when a complete char literal follows.
	CharLiterals bool

	// DefaultInclude is used when an implementation declares no include
	// patterns. DefaultTests classifies test files likewise.
	DefaultInclude string
	DefaultTests   []string
}

var slashBlock = []BlockDelim{{Open: "/*", Close: "*/"}}

// profiles is the fixed comment-syntax table keyed by canonical language name.
var profiles = map[string]*Profile{
	"go": {
		Language: "go", Extensions: []string{".go"},
		LinePrefixes: []string{"//"}, Blocks: slashBlock,
		Quotes: "\"`'", DefaultInclude: "**/*.go", DefaultTests: []string{"**/*_test.go"},
	},
	"rust": {
		Language: "rust", Extensions: []string{".rs"},
		LinePrefixes: []string{"//"}, Blocks: slashBlock, NestedBlocks: true,
		DocMarkers: []string{"///", "//!", "/**", "/*!"},
		Quotes:     "\"", CharLiterals: true,
		DefaultInclude: "**/*.rs", DefaultTests: []string{"tests/**/*.rs"},
	},
	"typescript": {
		Language: "typescript", Extensions: []string{".ts", ".tsx", ".mts", ".cts"},
		LinePrefixes: []string{"//"}, Blocks: slashBlock, DocMarkers: []string{"/**"},
		Quotes: "\"'`", DefaultInclude: "**/*.{ts,tsx}",
		DefaultTests: []string{"**/*.test.{ts,tsx}", "**/*.spec.{ts,tsx}"},
	},
	"javascript": {
		Language: "javascript", Extensions: []string{".js", ".jsx", ".mjs", ".cjs"},
		LinePrefixes: []string{"//"}, Blocks: slashBlock, DocMarkers: []string{"/**"},
		Quotes: "\"'`", DefaultInclude: "**/*.{js,jsx,mjs,cjs}",
		DefaultTests: []string{"**/*.test.{js,jsx}", "**/*.spec.{js,jsx}"},
	},
	"python": {
		Language: "python", Extensions: []string{".py"},
		LinePrefixes: []string{"#"},
		Blocks:       []BlockDelim{{Open: `"""`, Close: `"""`}, {Open: "'''", Close: "'''"}},
		DocMarkers:   []string{`"""`, "'''"},
		Quotes:       "\"'", DefaultInclude: "**/*.py",
		DefaultTests: []string{"**/test_*.py", "**/*_test.py"},
	},
	"c": {
		Language: "c", Extensions: []string{".c", ".h"},
		LinePrefixes: []string{"//"}, Blocks: slashBlock, DocMarkers: []string{"/**"},
		Quotes: "\"'", DefaultInclude: "**/*.{c,h}", DefaultTests: []string{"tests/**/*.c"},
	},
	"cpp": {
		Language: "cpp", Extensions: []string{".cpp", ".cc", ".cxx", ".hpp", ".hh"},
		LinePrefixes: []string{"//"}, Blocks: slashBlock, DocMarkers: []string{"/**", "///"},
		Quotes: "\"'", DefaultInclude: "**/*.{cpp,cc,cxx,hpp,hh,h}",
		DefaultTests: []string{"tests/**/*.{cpp,cc}", "**/*_test.{cpp,cc}"},
	},
	"java": {
		Language: "java", Extensions: []string{".java"},
		LinePrefixes: []string{"//"}, Blocks: slashBlock, DocMarkers: []string{"/**"},
		Quotes: "\"'", DefaultInclude: "**/*.java",
		DefaultTests: []string{"src/test/**/*.java", "**/*Test.java"},
	},
	"kotlin": {
		Language: "kotlin", Extensions: []string{".kt", ".kts"},
		LinePrefixes: []string{"//"}, Blocks: slashBlock, NestedBlocks: true, DocMarkers: []string{"/**"},
		Quotes: "\"'", DefaultInclude: "**/*.{kt,kts}",
		DefaultTests: []string{"src/test/**/*.kt", "**/*Test.kt"},
	},
	"swift": {
		Language: "swift", Extensions: []string{".swift"},
		LinePrefixes: []string{"//"}, Blocks: slashBlock, NestedBlocks: true,
		DocMarkers: []string{"///", "/**"},
		Quotes:     "\"", DefaultInclude: "**/*.swift", DefaultTests: []string{"Tests/**/*.swift"},
	},
	"csharp": {
		Language: "csharp", Extensions: []string{".cs"},
		LinePrefixes: []string{"//"}, Blocks: slashBlock, DocMarkers: []string{"///"},
		Quotes: "\"'", DefaultInclude: "**/*.cs", DefaultTests: []string{"**/*Tests.cs", "**/*Test.cs"},
	},
	"php": {
		Language: "php", Extensions: []string{".php"},
		LinePrefixes: []string{"//", "#"}, Blocks: slashBlock, DocMarkers: []string{"/**"},
		Quotes: "\"'", DefaultInclude: "**/*.php", DefaultTests: []string{"tests/**/*.php"},
	},
	"ruby": {
		Language: "ruby", Extensions: []string{".rb"},
		LinePrefixes: []string{"#"}, Blocks: []BlockDelim{{Open: "=begin", Close: "=end"}},
		Quotes: "\"'", DefaultInclude: "**/*.rb",
		DefaultTests: []string{"spec/**/*_spec.rb", "test/**/*_test.rb"},
	},
	"shell": {
		Language: "shell", Extensions: []string{".sh", ".bash", ".zsh"},
		LinePrefixes: []string{"#"},
		Quotes:       "\"'", DefaultInclude: "**/*.{sh,bash,zsh}", DefaultTests: []string{"tests/**/*.sh"},
	},
	"lua": {
		Language: "lua", Extensions: []string{".lua"},
		LinePrefixes: []string{"--"}, Blocks: []BlockDelim{{Open: "--[[", Close: "]]"}},
		Quotes: "\"'", DefaultInclude: "**/*.lua", DefaultTests: []string{"spec/**/*_spec.lua"},
	},
	"sql": {
		Language: "sql", Extensions: []string{".sql"},
		LinePrefixes: []string{"--"}, Blocks: slashBlock,
		Quotes: "'", DefaultInclude: "**/*.sql",
	},
	"haskell": {
		Language: "haskell", Extensions: []string{".hs"},
		LinePrefixes: []string{"--"}, Blocks: []BlockDelim{{Open: "{-", Close: "-}"}}, NestedBlocks: true,
		DocMarkers: []string{"-- |", "{-|"},
		Quotes:     "\"", DefaultInclude: "**/*.hs", DefaultTests: []string{"test/**/*.hs"},
	},
	"zig": {
		Language: "zig", Extensions: []string{".zig"},
		LinePrefixes: []string{"//"}, DocMarkers: []string{"///", "//!"},
		Quotes: "\"", CharLiterals: true, DefaultInclude: "**/*.zig",
	},
}

// extToLanguage maps file extensions to canonical language names. Built from
// the profile table.
var extToLanguage = func() map[string]string {
	m := make(map[string]string)
	for name, p := range profiles {
		for _, ext := range p.Extensions {
			m[ext] = name
		}
	}
	return m
}()

// aliases maps common alternative spellings to canonical names.
var aliases = map[string]string{
	"golang": "go",
	"rs":     "rust",
	"ts":     "typescript",
	"js":     "javascript",
	"py":     "python",
	"c++":    "cpp",
	"cs":     "csharp",
	"c#":     "csharp",
	"kt":     "kotlin",
	"rb":     "ruby",
	"sh":     "shell",
	"bash":   "shell",
}

// ProfileFor returns the comment profile for a language name or alias.
func ProfileFor(lang string) (*Profile, bool) {
	p, ok := profiles[Canonical(lang)]
	return p, ok
}

// Canonical normalizes a language name, resolving aliases.
func Canonical(lang string) string {
	l := strings.ToLower(strings.TrimSpace(lang))
	if a, ok := aliases[l]; ok {
		return a
	}
	return l
}

// Languages returns all supported language names, sorted.
func Languages() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LanguageForFile returns the canonical language name for a file path based
// on its extension. Returns ("", false) if the extension is not recognized.
func LanguageForFile(path string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	lang, ok := extToLanguage[ext]
	return lang, ok
}

// grammar pairs a tree-sitter language with the node types that count as
// code units. Nodes whose type is not listed are descended into.
type grammar struct {
	lang  *sitter.Language
	units map[string]string

	// needsBody lists unit node types that only count when they carry a body
	// (C struct specifiers also appear in plain declarations).
	needsBody map[string]bool
}

// langToGrammar maps language names to tree-sitter grammars.
// Lazily initialized on first call via sync.Once.
var (
	langToGrammar map[string]*grammar
	grammarsOnce  sync.Once
)

func initGrammars() {
	grammarsOnce.Do(func() {
		cUnits := map[string]string{
			"function_definition": "function",
			"struct_specifier":    "struct",
			"enum_specifier":      "enum",
			"union_specifier":     "union",
			"type_definition":     "type",
		}
		cBody := map[string]bool{"struct_specifier": true, "enum_specifier": true, "union_specifier": true}
		jsUnits := map[string]string{
			"function_declaration":           "function",
			"generator_function_declaration": "function",
			"method_definition":              "method",
		}
		langToGrammar = map[string]*grammar{
			"go": {lang: golang.GetLanguage(), units: map[string]string{
				"function_declaration": "function",
				"method_declaration":   "method",
				"type_declaration":     "type",
			}},
			"rust": {lang: rust.GetLanguage(), units: map[string]string{
				"function_item":    "function",
				"struct_item":      "struct",
				"enum_item":        "enum",
				"trait_item":       "trait",
				"union_item":       "union",
				"type_item":        "type",
				"macro_definition": "macro",
			}},
			"typescript": {lang: ts.GetLanguage(), units: map[string]string{
				"function_declaration":           "function",
				"generator_function_declaration": "function",
				"method_definition":              "method",
				"interface_declaration":          "interface",
				"type_alias_declaration":         "type",
				"enum_declaration":               "enum",
			}},
			"javascript": {lang: javascript.GetLanguage(), units: jsUnits},
			"python": {lang: python.GetLanguage(), units: map[string]string{
				"function_definition": "function",
			}},
			"c": {lang: c.GetLanguage(), units: cUnits, needsBody: cBody},
			"cpp": {lang: cpp.GetLanguage(), units: map[string]string{
				"function_definition": "function",
				"struct_specifier":    "struct",
				"enum_specifier":      "enum",
				"alias_declaration":   "type",
				"type_definition":     "type",
			}, needsBody: cBody},
			"java": {lang: java.GetLanguage(), units: map[string]string{
				"method_declaration":      "method",
				"constructor_declaration": "constructor",
				"interface_declaration":   "interface",
				"enum_declaration":        "enum",
				"record_declaration":      "record",
			}},
			"php": {lang: php.GetLanguage(), units: map[string]string{
				"function_definition":   "function",
				"method_declaration":    "method",
				"interface_declaration": "interface",
			}},
			"ruby": {lang: ruby.GetLanguage(), units: map[string]string{
				"method":           "method",
				"singleton_method": "method",
			}},
		}
	})
}

// grammarFor returns the tree-sitter grammar for a canonical language name.
// Returns (nil, false) if code units are not supported for the language.
func grammarFor(lang string) (*grammar, bool) {
	initGrammars()
	g, ok := langToGrammar[Canonical(lang)]
	return g, ok
}

// HasUnits reports whether code units can be extracted for lang.
func HasUnits(lang string) bool {
	_, ok := grammarFor(lang)
	return ok
}
