// Package tools implements the MCP tools that expose a ruletrace index.
//
// Each tool is a struct holding its dependencies, with a Definition for
// registration and a Handle compatible with mcp-go's tool handler signature.
// Every response starts with a status header and the coverage changes the
// calling client has not seen yet, followed by the tool's own output and
// hints for follow-up calls.
package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jward/ruletrace"
	"github.com/jward/ruletrace/internal/scanner"
	"github.com/jward/ruletrace/internal/session"
)

// Engine is what the tools need from a ruletrace engine.
type Engine interface {
	Query() *ruletrace.QueryBuilder
	Reload(ctx context.Context) (ruletrace.ReloadResult, error)
}

// Responder wraps tool output with the status header and the caller's
// session delta.
type Responder struct {
	tracker *session.Tracker
	// fallback identifies callers without an MCP session, such as direct
	// handler calls.
	fallback string
}

// NewResponder creates a Responder recording deltas in tracker.
func NewResponder(tracker *session.Tracker) *Responder {
	return &Responder{tracker: tracker, fallback: uuid.NewString()}
}

// SessionID returns the MCP session id of ctx, or the responder's fallback.
func (r *Responder) SessionID(ctx context.Context) string {
	if cs := server.ClientSessionFromContext(ctx); cs != nil && cs.SessionID() != "" {
		return cs.SessionID()
	}
	return r.fallback
}

// Wrap prefixes body with the header and delta for the calling session and
// advances that session.
func (r *Responder) Wrap(ctx context.Context, q *ruletrace.QueryBuilder, body string) string {
	snap := q.Snapshot()
	if snap == nil {
		return "ruletrace | index not built yet\n\n" + body
	}
	d := r.tracker.Observe(r.SessionID(ctx), snap.Coverage)

	var b strings.Builder
	b.WriteString(formatHeader(q.Status(), d))
	b.WriteString("\n")
	b.WriteString(formatDelta(d))
	b.WriteString("\n")
	b.WriteString(body)
	return b.String()
}

// Text returns a successful result wrapping body.
func (r *Responder) Text(ctx context.Context, q *ruletrace.QueryBuilder, body string) *mcp.CallToolResult {
	return mcp.NewToolResultText(r.Wrap(ctx, q, body))
}

// Error returns an error result wrapping err's message.
func (r *Responder) Error(ctx context.Context, q *ruletrace.QueryBuilder, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(r.Wrap(ctx, q, userMessage(err)))
}

// userMessage renders query errors without the package prefix.
func userMessage(err error) string {
	msg := err.Error()
	switch {
	case errors.Is(err, ruletrace.ErrAmbiguousSelection):
		if _, rest, ok := strings.Cut(msg, ": "); ok {
			if _, detail, ok := strings.Cut(rest, ": "); ok {
				return upperFirst(detail)
			}
		}
	case errors.Is(err, ruletrace.ErrNoSnapshot):
		return "The index has not been built yet."
	}
	return strings.TrimPrefix(msg, "ruletrace: ")
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// formatHeader renders "ruletrace | spec/impl: NN% (+x.x%) | ...".
func formatHeader(st ruletrace.StatusResult, d session.Delta) string {
	parts := []string{"ruletrace"}
	for _, p := range st.Pairs {
		s := fmt.Sprintf("%s: %.0f%%", p.Pair, p.ImplPercent)
		if c, ok := d.CoverageChange[p.Pair]; ok && math.Abs(c) > 0.1 {
			s += fmt.Sprintf(" (%+.1f%%)", c)
		}
		parts = append(parts, s)
	}
	if st.ConfigError != "" {
		parts = append(parts, "config error")
	}
	return strings.Join(parts, " | ")
}

func formatDelta(d session.Delta) string {
	if d.Empty() {
		return "(no changes since last query)\n"
	}
	var b strings.Builder
	b.WriteString("Since last rebuild:\n")
	for _, c := range append(append([]session.Change(nil), d.Implemented...), d.Verified...) {
		fmt.Fprintf(&b, "  ✓ %s → %s:%d (%s)\n", c.Rule, c.File, c.Line, c.Verb)
	}
	for _, c := range d.Lost {
		what := "coverage"
		if c.Verb == scanner.VerbVerify {
			what = "verification"
		}
		fmt.Fprintf(&b, "  ✗ %s (%s lost)\n", c.Rule, what)
	}
	return b.String()
}

// selectorOption is the shared spec_impl argument.
func selectorOption() mcp.ToolOption {
	return mcp.WithString("spec_impl",
		mcp.Description(`Spec/impl to query, e.g. "my-spec/go" or just "my-spec" for its first impl. Optional if only one exists.`),
	)
}
