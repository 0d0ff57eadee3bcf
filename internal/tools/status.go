package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusTool handles the ruletrace_status MCP tool.
type StatusTool struct {
	engine Engine
	resp   *Responder
}

// NewStatusTool creates a StatusTool.
func NewStatusTool(e Engine, r *Responder) *StatusTool {
	return &StatusTool{engine: e, resp: r}
}

// Definition returns the MCP tool definition for registration.
func (t *StatusTool) Definition() mcp.Tool {
	return mcp.NewTool("ruletrace_status",
		mcp.WithDescription(
			"Get coverage overview for all specs and implementations. "+
				"Shows current coverage percentages and what changed since the last query.",
		),
	)
}

// Handle processes the ruletrace_status tool call.
func (t *StatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := t.engine.Query()
	st := q.Status()

	var b strings.Builder
	b.WriteString("# Status\n\n")
	if st.ConfigError != "" {
		fmt.Fprintf(&b, "Configuration error: %s\n\n", st.ConfigError)
	}
	if len(st.Pairs) == 0 {
		b.WriteString("No specs configured.\n\n")
	}
	for _, p := range st.Pairs {
		fmt.Fprintf(&b, "## %s\n", p.Pair)
		fmt.Fprintf(&b, "- Implementation coverage: %.0f%% (%d/%d rules)\n", p.ImplPercent, p.Summary.Impl, p.Summary.Total)
		fmt.Fprintf(&b, "- Verification coverage: %.0f%% (%d/%d rules)\n", p.VerifyPercent, p.Summary.Verify, p.Summary.Total)
		fmt.Fprintf(&b, "- Fully covered (impl + verify): %d rules\n", p.FullyCovered)
		if p.Errors > 0 || p.Warnings > 0 {
			fmt.Fprintf(&b, "- Validation: %d error(s), %d warning(s)\n", p.Errors, p.Warnings)
		}
		b.WriteString("\n")
	}

	b.WriteString("---\n")
	b.WriteString("Available commands:\n")
	b.WriteString("→ ruletrace_uncovered - Rules without implementation\n")
	b.WriteString("→ ruletrace_untested - Rules without verification\n")
	b.WriteString("→ ruletrace_unmapped - Code without requirements\n")
	b.WriteString("→ ruletrace_rule <id> - Details about a specific rule\n")
	b.WriteString("→ ruletrace_validate - Broken references, duplicates and naming problems\n")

	return t.resp.Text(ctx, q, b.String()), nil
}
