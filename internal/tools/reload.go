package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// ReloadTool handles the ruletrace_reload MCP tool.
type ReloadTool struct {
	engine Engine
	resp   *Responder
}

// NewReloadTool creates a ReloadTool.
func NewReloadTool(e Engine, r *Responder) *ReloadTool {
	return &ReloadTool{engine: e, resp: r}
}

// Definition returns the MCP tool definition for registration.
func (t *ReloadTool) Definition() mcp.Tool {
	return mcp.NewTool("ruletrace_reload",
		mcp.WithDescription("Re-read the configuration and rebuild the whole index."),
	)
}

// Handle processes the ruletrace_reload tool call.
func (t *ReloadTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := t.engine.Reload(ctx)
	q := t.engine.Query()
	body := fmt.Sprintf("Reload complete (version %d, took %dms)\n", res.Version, res.Took.Milliseconds())
	if err != nil {
		body += fmt.Sprintf("\nSome files could not be processed: %v\n", err)
	}
	if info := q.Config(); info.Error != "" {
		body += fmt.Sprintf("\nConfiguration error, previous configuration kept: %s\n", info.Error)
	}
	return t.resp.Text(ctx, q, body), nil
}
