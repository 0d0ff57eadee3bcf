package ruletrace

import (
	"github.com/jward/ruletrace/internal/config"
	"github.com/jward/ruletrace/internal/index"
	"github.com/jward/ruletrace/internal/markdown"
	"github.com/jward/ruletrace/internal/scanner"
	"github.com/jward/ruletrace/internal/search"
	"github.com/jward/ruletrace/internal/session"
	"github.com/jward/ruletrace/internal/validate"
)

// Public aliases for internal types that appear in the QueryBuilder API, so
// callers outside this module can name them without conversion.

type Config = config.Config
type Spec = config.Spec
type Impl = config.Impl
type Pair = config.Pair
type RuleDefinition = markdown.RuleDefinition
type Reference = scanner.Reference
type Verb = scanner.Verb
type Forward = index.Forward
type Reverse = index.Reverse
type Doc = index.Doc
type OutlineEntry = index.OutlineEntry
type Unit = index.Unit
type Summary = index.Summary
type Report = validate.Report
type Issue = validate.Issue
type SearchResult = search.Result
type CoverageState = session.State
