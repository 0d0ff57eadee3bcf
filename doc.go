// Package ruletrace links the rules of markdown specifications to the source
// code that implements and verifies them.
//
// # Markers and references
//
// A specification defines a rule with a marker alone on its line:
//
//	r[auth.token.validation]
//	Tokens MUST be validated before use.
//
// Source code points back at rules from comments:
//
//	// [impl auth.token.validation]
//	// [verify auth.token.validation]
//
// The verbs are define, impl, verify, depends and related; a bare
// [rule.id] is an impl reference.
//
// # Pipeline
//
// The [Engine] reads the project configuration from
// .config/ruletrace/config.yaml (or .toml), then:
//
//  1. Extract: every spec document is parsed into rule definitions, an
//     outline and rendered HTML.
//  2. Scan: every implementation file is scanned for references, and files
//     with a tree-sitter grammar are split into code units. Scanning runs in
//     parallel and results are cached in SQLite by content hash.
//  3. Index: per spec/impl pair, definitions and references are merged into
//     forward (rule to references) and reverse (file to units) indexes and
//     validated.
//
// The result is published as an immutable [Snapshot]. [Engine.Run] watches
// the project and republishes after each debounced change; readers always
// see either the old or the new snapshot in full.
//
// # Usage
//
//	e, err := ruletrace.New("path/to/project", ruletrace.WithCache(".ruletrace/cache.db"))
//	if err != nil { ... }
//	defer e.Close()
//
//	if err := e.Build(ctx); err != nil { ... }
//	st := e.Query().Status()
//
// # Query API
//
// [QueryBuilder] reads one snapshot:
//
//   - [QueryBuilder.Config], [QueryBuilder.Version], [QueryBuilder.Search]
//   - [QueryBuilder.Spec], [QueryBuilder.Forward], [QueryBuilder.Reverse],
//     [QueryBuilder.File] for one spec/impl pair
//   - [QueryBuilder.Status], [QueryBuilder.Uncovered], [QueryBuilder.Untested],
//     [QueryBuilder.Unmapped], [QueryBuilder.Rule], [QueryBuilder.Validate]
//     back the tool protocol served by cmd/ruletrace.
//
// Pair selectors are "spec/impl", "spec" (its first impl) or empty when
// exactly one pair is configured.
package ruletrace
