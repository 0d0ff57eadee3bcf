package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/ruletrace"
	"github.com/jward/ruletrace/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T) *ruletrace.Engine {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		".config/ruletrace/config.yaml": "specs:\n  - name: auth\n    include: [\"docs/**/*.md\"]\n    impls:\n      - lang: go\n",
		"docs/spec.md":                  "# Auth\n\nr[auth.login]\nUsers MUST log in.\n",
		"auth.go":                       "package auth\n\n// [impl auth.login]\nfunc Login() {}\n",
	}
	for p, content := range files {
		full := filepath.Join(root, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	e, err := ruletrace.New(root, ruletrace.WithLogger(discardLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	require.NoError(t, e.Build(context.Background()))
	return e
}

type fakeSession struct {
	id    string
	notes chan mcp.JSONRPCNotification
}

func (s *fakeSession) Initialize()                                         {}
func (s *fakeSession) Initialized() bool                                   { return true }
func (s *fakeSession) NotificationChannel() chan<- mcp.JSONRPCNotification { return s.notes }
func (s *fakeSession) SessionID() string                                   { return s.id }

func TestNew_ListsAllTools(t *testing.T) {
	s := New(newTestEngine(t), session.NewTracker(), discardLogger())
	ctx := context.Background()

	s.HandleMessage(ctx, json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1.0"}}}`))
	resp := s.HandleMessage(ctx, json.RawMessage(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`))
	require.NotNil(t, resp)

	out, err := json.Marshal(resp)
	require.NoError(t, err)
	for _, name := range []string{
		"ruletrace_status",
		"ruletrace_uncovered",
		"ruletrace_untested",
		"ruletrace_unmapped",
		"ruletrace_rule",
		"ruletrace_validate",
		"ruletrace_config",
		"ruletrace_reload",
	} {
		assert.Contains(t, string(out), `"`+name+`"`)
	}
}

func TestSessionHooks_UnregisterForgetsSession(t *testing.T) {
	e := newTestEngine(t)
	tracker := session.NewTracker()
	tracker.Observe("a", e.Snapshot().Coverage)
	tracker.Observe("b", e.Snapshot().Coverage)
	require.Equal(t, 2, tracker.Len())

	hooks := sessionHooks(tracker, discardLogger())
	require.Len(t, hooks.OnUnregisterSession, 1)
	cs := &fakeSession{id: "a", notes: make(chan mcp.JSONRPCNotification, 1)}
	for _, h := range hooks.OnUnregisterSession {
		h(context.Background(), cs)
	}
	assert.Equal(t, 1, tracker.Len())
}

func TestServerInstructions(t *testing.T) {
	inst := serverInstructions()
	assert.Contains(t, inst, "ruletrace_status")
	assert.Contains(t, inst, "[impl rule.id]")
}
