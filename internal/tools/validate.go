package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jward/ruletrace/internal/validate"
)

// ValidateTool handles the ruletrace_validate MCP tool.
type ValidateTool struct {
	engine Engine
	resp   *Responder
}

// NewValidateTool creates a ValidateTool.
func NewValidateTool(e Engine, r *Responder) *ValidateTool {
	return &ValidateTool{engine: e, resp: r}
}

// Definition returns the MCP tool definition for registration.
func (t *ValidateTool) Definition() mcp.Tool {
	return mcp.NewTool("ruletrace_validate",
		mcp.WithDescription(
			"Validate a spec/impl pair: broken and stale references, duplicate rules, "+
				"naming violations and circular dependencies.",
		),
		selectorOption(),
	)
}

// Handle processes the ruletrace_validate tool call.
func (t *ValidateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := t.engine.Query()
	res, err := q.Validate(req.GetString("spec_impl", ""))
	if err != nil {
		return t.resp.Error(ctx, q, err), nil
	}

	var b strings.Builder
	if res.ConfigError != "" {
		fmt.Fprintf(&b, "Configuration error: %s\n\n", res.ConfigError)
	}
	n := res.Report.Errors()
	if n == 0 {
		fmt.Fprintf(&b, "✓ %s: No validation errors found\n", res.Pair)
	} else {
		fmt.Fprintf(&b, "✗ %s: %d error(s) found\n\n", res.Pair, n)
		writeIssues(&b, res.Report, validate.SeverityError)
	}
	if w := res.Report.Warnings(); w > 0 {
		fmt.Fprintf(&b, "\n%d warning(s):\n\n", w)
		writeIssues(&b, res.Report, validate.SeverityWarning)
	}
	return t.resp.Text(ctx, q, b.String()), nil
}

func writeIssues(b *strings.Builder, r *validate.Report, sev validate.Severity) {
	for _, is := range r.Issues {
		if is.Severity != sev {
			continue
		}
		fmt.Fprintf(b, "- [%s] %s", is.Code, is.Message)
		switch {
		case is.File != "" && is.Line > 0:
			fmt.Fprintf(b, " at %s:%d", is.File, is.Line)
		case is.File != "":
			fmt.Fprintf(b, " in %s", is.File)
		}
		b.WriteString("\n")
		if len(is.RelatedRules) > 0 {
			fmt.Fprintf(b, "  Related rules: %s\n", strings.Join(is.RelatedRules, ", "))
		}
		if len(is.Suggestions) > 0 {
			fmt.Fprintf(b, "  Did you mean: %s\n", strings.Join(is.Suggestions, ", "))
		}
	}
}
