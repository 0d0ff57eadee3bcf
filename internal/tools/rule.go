package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jward/ruletrace"
	"github.com/jward/ruletrace/internal/scanner"
)

// RuleTool handles the ruletrace_rule MCP tool.
type RuleTool struct {
	engine Engine
	resp   *Responder
}

// NewRuleTool creates a RuleTool.
func NewRuleTool(e Engine, r *Responder) *RuleTool {
	return &RuleTool{engine: e, resp: r}
}

// Definition returns the MCP tool definition for registration.
func (t *RuleTool) Definition() mcp.Tool {
	return mcp.NewTool("ruletrace_rule",
		mcp.WithDescription(
			"Get full details about a specific rule: its text, where it is defined, "+
				"and all implementation and verification references.",
		),
		mcp.WithString("rule_id",
			mcp.Required(),
			mcp.Description(`The rule id to look up, e.g. "auth.token.validation".`),
		),
	)
}

// Handle processes the ruletrace_rule tool call.
func (t *RuleTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := t.engine.Query()
	id := strings.TrimSpace(req.GetString("rule_id", ""))
	if id == "" {
		return mcp.NewToolResultError("rule_id is required"), nil
	}
	res, err := q.Rule(id)
	if errors.Is(err, ruletrace.ErrRuleNotFound) {
		return t.resp.Error(ctx, q, errors.New("Rule not found: "+id)), nil
	}
	if err != nil {
		return t.resp.Error(ctx, q, err), nil
	}

	def := res.Definition
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", def.ID)
	if text := strings.TrimSpace(def.RawText); text != "" {
		fmt.Fprintf(&b, "%s\n\n", text)
	}
	fmt.Fprintf(&b, "Defined in: %s:%d\n", def.SpecFile, def.Line)
	if def.Level != "" {
		fmt.Fprintf(&b, "Level: %s\n", def.Level)
	}
	if def.Status != "" {
		fmt.Fprintf(&b, "Status: %s\n", def.Status)
	}
	if len(def.DependsOn) > 0 {
		fmt.Fprintf(&b, "Depends on: %s\n", strings.Join(def.DependsOn, ", "))
	}
	b.WriteString("\n")

	for _, p := range res.Pairs {
		fmt.Fprintf(&b, "\n## %s\n", p.Pair)
		writeRefs(&b, "Impl references", p.Impl)
		writeRefs(&b, "Verify references", p.Verify)
		if len(p.Depends) > 0 {
			writeRefs(&b, "Depends references", p.Depends)
		}
		if len(p.Stale) > 0 {
			writeRefs(&b, "Stale references", p.Stale)
		}
	}
	return t.resp.Text(ctx, q, b.String()), nil
}

func writeRefs(b *strings.Builder, title string, refs []scanner.Reference) {
	fmt.Fprintf(b, "%s:\n", title)
	if len(refs) == 0 {
		b.WriteString("  (none)\n")
		return
	}
	for _, r := range refs {
		fmt.Fprintf(b, "  - %s:%d\n", r.File, r.Line)
	}
}
