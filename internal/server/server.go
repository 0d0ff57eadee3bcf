// Package server wires the ruletrace MCP tools into an MCP server.
//
// It is the composition root for the tool protocol: the engine and session
// tracker come in, a configured server goes out. No query logic lives here.
package server

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/jward/ruletrace/internal/session"
	"github.com/jward/ruletrace/internal/tools"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates the MCP server with every ruletrace tool registered. Sessions
// are forgotten by tracker when their client disconnects.
func New(engine tools.Engine, tracker *session.Tracker, logger *slog.Logger) *server.MCPServer {
	if logger == nil {
		logger = slog.Default()
	}

	s := server.NewMCPServer(
		"ruletrace",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
		server.WithHooks(sessionHooks(tracker, logger)),
	)

	resp := tools.NewResponder(tracker)

	status := tools.NewStatusTool(engine, resp)
	s.AddTool(status.Definition(), status.Handle)

	uncovered := tools.NewUncoveredTool(engine, resp)
	s.AddTool(uncovered.Definition(), uncovered.Handle)

	untested := tools.NewUntestedTool(engine, resp)
	s.AddTool(untested.Definition(), untested.Handle)

	unmapped := tools.NewUnmappedTool(engine, resp)
	s.AddTool(unmapped.Definition(), unmapped.Handle)

	rule := tools.NewRuleTool(engine, resp)
	s.AddTool(rule.Definition(), rule.Handle)

	validate := tools.NewValidateTool(engine, resp)
	s.AddTool(validate.Definition(), validate.Handle)

	config := tools.NewConfigTool(engine, resp)
	s.AddTool(config.Definition(), config.Handle)

	reload := tools.NewReloadTool(engine, resp)
	s.AddTool(reload.Definition(), reload.Handle)

	return s
}

// sessionHooks drops a client's delta state when it unregisters.
func sessionHooks(tracker *session.Tracker, logger *slog.Logger) *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddOnRegisterSession(func(ctx context.Context, cs server.ClientSession) {
		logger.Debug("mcp session registered", "session", cs.SessionID())
	})
	hooks.AddOnUnregisterSession(func(ctx context.Context, cs server.ClientSession) {
		tracker.Remove(cs.SessionID())
		logger.Debug("mcp session closed", "session", cs.SessionID(), "live", tracker.Len())
	})
	return hooks
}

// ServeStdio serves s over stdin and stdout until the client disconnects.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func serverInstructions() string {
	return `ruletrace indexes requirement rules defined in markdown specs (r[rule.id])
and the code comments that implement ([impl rule.id]) or verify ([verify rule.id])
them.

Every response starts with a status line showing implementation coverage per
spec/impl pair, followed by what changed since your previous call.

## Typical workflow

1. ruletrace_status to see coverage for every configured spec/impl pair.
2. ruletrace_uncovered to find rules that nothing implements yet.
3. ruletrace_rule <id> to read a rule's text and see where it is referenced.
4. Implement the rule and add a [impl rule.id] comment next to the code.
5. ruletrace_untested to find implemented rules without a [verify rule.id] test.
6. ruletrace_validate before finishing, to catch broken or stale references.

Use ruletrace_unmapped to find code that no rule describes, and zoom in by
passing a directory or file path.

When more than one spec/impl pair is configured, pass spec_impl as
"spec/impl", or just "spec" for its first implementation.

The index updates on its own when files change. Call ruletrace_reload only
after editing the configuration outside the project, or when results look
out of date.`
}
