package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// ConfigTool handles the ruletrace_config MCP tool.
type ConfigTool struct {
	engine Engine
	resp   *Responder
}

// NewConfigTool creates a ConfigTool.
func NewConfigTool(e Engine, r *Responder) *ConfigTool {
	return &ConfigTool{engine: e, resp: r}
}

// Definition returns the MCP tool definition for registration.
func (t *ConfigTool) Definition() mcp.Tool {
	return mcp.NewTool("ruletrace_config",
		mcp.WithDescription("Show the configured specs and implementations, and any configuration error."),
	)
}

// Handle processes the ruletrace_config tool call.
func (t *ConfigTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := t.engine.Query()
	info := q.Config()

	var b strings.Builder
	b.WriteString("# Configuration\n\n")
	fmt.Fprintf(&b, "Root: %s\n", info.Root)
	if info.Path != "" {
		fmt.Fprintf(&b, "Config file: %s\n", info.Path)
	}
	if info.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", info.Error)
	}
	b.WriteString("\n")
	for _, s := range info.Specs {
		fmt.Fprintf(&b, "## Spec: %s\n", s.Name)
		fmt.Fprintf(&b, "  Prefix: %s\n", s.Prefix)
		fmt.Fprintf(&b, "  Include: %s\n", strings.Join(s.Include, ", "))
		if s.Naming != "" {
			fmt.Fprintf(&b, "  Naming: %s\n", s.Naming)
		}
		names := make([]string, len(s.Impls))
		for i, im := range s.Impls {
			names[i] = im.Name
		}
		fmt.Fprintf(&b, "  Implementations: %s\n\n", strings.Join(names, ", "))
	}
	return t.resp.Text(ctx, q, b.String()), nil
}
