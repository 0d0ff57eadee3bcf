package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jward/ruletrace"
)

// UncoveredTool handles the ruletrace_uncovered MCP tool.
type UncoveredTool struct {
	engine Engine
	resp   *Responder
}

// NewUncoveredTool creates an UncoveredTool.
func NewUncoveredTool(e Engine, r *Responder) *UncoveredTool {
	return &UncoveredTool{engine: e, resp: r}
}

// Definition returns the MCP tool definition for registration.
func (t *UncoveredTool) Definition() mcp.Tool {
	return mcp.NewTool("ruletrace_uncovered",
		mcp.WithDescription(
			"List rules that have no implementation references ([impl ...] comments). "+
				"Optionally filter by spec/impl or rule id prefix.",
		),
		selectorOption(),
		mcp.WithString("prefix",
			mcp.Description(`Only list rules whose id starts with this prefix, e.g. "auth.token".`),
		),
	)
}

// Handle processes the ruletrace_uncovered tool call.
func (t *UncoveredTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := t.engine.Query()
	list, err := q.Uncovered(req.GetString("spec_impl", ""), req.GetString("prefix", ""))
	if err != nil {
		return t.resp.Error(ctx, q, err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d uncovered out of %d rules\n\n", list.Pair, list.Count, list.Total)
	if list.Count == 0 {
		b.WriteString("All rules have implementation references!\n")
		return t.resp.Text(ctx, q, b.String()), nil
	}
	writeSections(&b, list)
	b.WriteString("---\n→ ruletrace_rule <id> to see rule details\n")
	return t.resp.Text(ctx, q, b.String()), nil
}

// UntestedTool handles the ruletrace_untested MCP tool.
type UntestedTool struct {
	engine Engine
	resp   *Responder
}

// NewUntestedTool creates an UntestedTool.
func NewUntestedTool(e Engine, r *Responder) *UntestedTool {
	return &UntestedTool{engine: e, resp: r}
}

// Definition returns the MCP tool definition for registration.
func (t *UntestedTool) Definition() mcp.Tool {
	return mcp.NewTool("ruletrace_untested",
		mcp.WithDescription(
			"List rules that have implementation but no verification references ([verify ...] comments). "+
				"These rules are implemented but not tested.",
		),
		selectorOption(),
		mcp.WithString("prefix",
			mcp.Description(`Only list rules whose id starts with this prefix, e.g. "auth.token".`),
		),
	)
}

// Handle processes the ruletrace_untested tool call.
func (t *UntestedTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := t.engine.Query()
	list, err := q.Untested(req.GetString("spec_impl", ""), req.GetString("prefix", ""))
	if err != nil {
		return t.resp.Error(ctx, q, err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d untested (impl but no verify) out of %d rules\n\n", list.Pair, list.Count, list.Total)
	if list.Count == 0 {
		b.WriteString("All implemented rules have verification!\n")
		return t.resp.Text(ctx, q, b.String()), nil
	}
	writeSections(&b, list)
	b.WriteString("---\n→ ruletrace_rule <id> to see where a rule is implemented\n")
	return t.resp.Text(ctx, q, b.String()), nil
}

func writeSections(b *strings.Builder, list *ruletrace.RuleList) {
	for _, s := range list.Sections {
		fmt.Fprintf(b, "## %s\n", s.Title)
		for _, id := range s.Rules {
			fmt.Fprintf(b, "  - %s\n", id)
		}
		b.WriteString("\n")
	}
}
