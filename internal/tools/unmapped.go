package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// UnmappedTool handles the ruletrace_unmapped MCP tool.
type UnmappedTool struct {
	engine Engine
	resp   *Responder
}

// NewUnmappedTool creates an UnmappedTool.
func NewUnmappedTool(e Engine, r *Responder) *UnmappedTool {
	return &UnmappedTool{engine: e, resp: r}
}

// Definition returns the MCP tool definition for registration.
func (t *UnmappedTool) Definition() mcp.Tool {
	return mcp.NewTool("ruletrace_unmapped",
		mcp.WithDescription(
			"Show the source tree with the share of code units mapped to rules. "+
				"Code units (functions, types, ...) without any rule reference are 'unmapped'. "+
				"Pass a path to zoom into a directory or file.",
		),
		selectorOption(),
		mcp.WithString("path",
			mcp.Description("Directory or file to zoom into, relative to the project root."),
		),
	)
}

// Handle processes the ruletrace_unmapped tool call.
func (t *UnmappedTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := t.engine.Query()
	res, err := q.Unmapped(req.GetString("spec_impl", ""), req.GetString("path", ""))
	if err != nil {
		return t.resp.Error(ctx, q, err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d unmapped code units out of %d total\n\n", res.Pair, res.Unmapped, res.Total)
	for _, e := range res.Entries {
		icon := "📄"
		if e.Dir {
			icon = "📁"
		}
		fmt.Fprintf(&b, "%s %s (%.0f%% mapped, %d units)\n", icon, e.Path, e.Percent, e.Units)
	}
	for _, u := range res.Units {
		name := u.Name
		if name == "" {
			name = "(anonymous)"
		}
		fmt.Fprintf(&b, "  - %s %s (lines %d-%d)\n", u.Kind, name, u.StartLine, u.EndLine)
	}
	if len(res.Entries) > 0 {
		b.WriteString("\n---\n→ ruletrace_unmapped <path> to zoom into a directory or file\n")
	}
	return t.resp.Text(ctx, q, b.String()), nil
}
