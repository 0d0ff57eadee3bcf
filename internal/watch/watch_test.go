package watch

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects the changed sets passed to a RebuildFunc.
type recorder struct {
	mu      sync.Mutex
	calls   [][]string
	gate    chan struct{} // when non-nil, the first call blocks until closed
	once    sync.Once
	entered chan struct{}
}

func newRecorder() *recorder {
	return &recorder{entered: make(chan struct{}, 16)}
}

func (r *recorder) rebuild(ctx context.Context, changed []string) error {
	r.mu.Lock()
	r.calls = append(r.calls, changed)
	gate := r.gate
	r.mu.Unlock()
	select {
	case r.entered <- struct{}{}:
	default:
	}
	if gate != nil {
		r.once.Do(func() { <-gate })
	}
	return nil
}

func (r *recorder) snapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// start runs c until the test ends.
func start(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("Run did not return after cancel")
		}
	})
}

func waitEntered(t *testing.T, r *recorder) {
	t.Helper()
	select {
	case <-r.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("rebuild was not called")
	}
}

// =============================================================================
// Debounce & queueing
// =============================================================================

func TestNotify_CoalescesIntoOneRebuild(t *testing.T) {
	t.Parallel()
	r := newRecorder()
	c := New(t.TempDir(), r.rebuild, WithDebounce(30*time.Millisecond))
	start(t, c)

	c.Notify("b.go")
	c.Notify("a.go", "b.go")
	waitEntered(t, r)

	require.Eventually(t, func() bool { return c.Stats().State == Idle }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, [][]string{{"a.go", "b.go"}}, r.snapshot())
	assert.Equal(t, 1, c.Stats().Rebuilds)
}

func TestNotify_BeforeRun(t *testing.T) {
	t.Parallel()
	r := newRecorder()
	c := New(t.TempDir(), r.rebuild, WithDebounce(10*time.Millisecond))
	c.Notify("early.md")
	start(t, c)

	waitEntered(t, r)
	assert.Equal(t, [][]string{{"early.md"}}, r.snapshot())
}

func TestNotify_DuringRebuildIsQueued(t *testing.T) {
	t.Parallel()
	r := newRecorder()
	r.gate = make(chan struct{})
	c := New(t.TempDir(), r.rebuild, WithDebounce(10*time.Millisecond))
	start(t, c)

	c.Notify("a.go")
	waitEntered(t, r)
	assert.Equal(t, Rebuilding, c.Stats().State)

	c.Notify("c.go")
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, r.snapshot(), 1, "no second rebuild while the first runs")

	close(r.gate)
	waitEntered(t, r)
	assert.Equal(t, [][]string{{"a.go"}, {"c.go"}}, r.snapshot())
}

func TestNotify_EmptyIsIgnored(t *testing.T) {
	t.Parallel()
	c := New(t.TempDir(), newRecorder().rebuild)
	c.Notify()
	assert.Equal(t, Idle, c.Stats().State)
}

// =============================================================================
// Filesystem events
// =============================================================================

func TestRun_FileWriteTriggersRebuild(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0o755))
	r := newRecorder()
	c := New(root, r.rebuild, WithDebounce(10*time.Millisecond))
	start(t, c)

	target := filepath.Join(root, "docs", "spec.md")
	require.Eventually(t, func() bool {
		// Rewrite until the watcher is established and sees it.
		os.WriteFile(target, []byte("r[a.b]\nText MUST hold.\n"), 0o644)
		for _, call := range r.snapshot() {
			if slices.Contains(call, "docs/spec.md") {
				return true
			}
		}
		return false
	}, 5*time.Second, 50*time.Millisecond)
}

func TestRun_SkippedDirectoriesAreIgnored(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	for _, dir := range []string{"node_modules", ".git", "src"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
	}
	r := newRecorder()
	c := New(root, r.rebuild, WithDebounce(10*time.Millisecond))
	start(t, c)

	require.Eventually(t, func() bool {
		os.WriteFile(filepath.Join(root, "node_modules", "x.js"), []byte("x"), 0o644)
		os.WriteFile(filepath.Join(root, ".git", "HEAD"), []byte("x"), 0o644)
		os.WriteFile(filepath.Join(root, "src", "main.go"), []byte("package main"), 0o644)
		return len(r.snapshot()) > 0
	}, 5*time.Second, 50*time.Millisecond)

	for _, call := range r.snapshot() {
		for _, p := range call {
			assert.Equal(t, "src/main.go", p)
		}
	}
}

// =============================================================================
// Watch failures
// =============================================================================

func TestRun_MissingRootRetries(t *testing.T) {
	t.Parallel()
	root := filepath.Join(t.TempDir(), "missing")
	var mu sync.Mutex
	var hooked int
	c := New(root, newRecorder().rebuild,
		WithBackOff(func() backoff.BackOff { return backoff.NewConstantBackOff(5 * time.Millisecond) }),
		WithErrorHook(func(error) {
			mu.Lock()
			hooked++
			mu.Unlock()
		}),
	)
	start(t, c)

	require.Eventually(t, func() bool { return c.Stats().Errors >= 3 }, 5*time.Second, 5*time.Millisecond)
	st := c.Stats()
	require.Error(t, st.LastError)
	assert.Contains(t, st.LastError.Error(), "stat root")
	mu.Lock()
	assert.GreaterOrEqual(t, hooked, 3)
	mu.Unlock()
}

func TestRun_NotifyWhileWatcherDown(t *testing.T) {
	t.Parallel()
	r := newRecorder()
	c := New(filepath.Join(t.TempDir(), "missing"), r.rebuild,
		WithDebounce(10*time.Millisecond),
		WithBackOff(func() backoff.BackOff { return backoff.NewConstantBackOff(5 * time.Millisecond) }),
	)
	start(t, c)

	c.Notify("overlay.go")
	waitEntered(t, r)
	assert.Equal(t, [][]string{{"overlay.go"}}, r.snapshot())
}

func TestRun_RootRemovedIsRecorded(t *testing.T) {
	t.Parallel()
	parent := t.TempDir()
	root := filepath.Join(parent, "proj")
	require.NoError(t, os.MkdirAll(root, 0o755))
	c := New(root, newRecorder().rebuild,
		WithBackOff(func() backoff.BackOff { return backoff.NewConstantBackOff(5 * time.Millisecond) }),
	)
	start(t, c)

	require.Eventually(t, func() bool {
		os.RemoveAll(root)
		return c.Stats().Errors > 0
	}, 5*time.Second, 20*time.Millisecond)
}

// =============================================================================
// Helpers
// =============================================================================

func TestSkipDir(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"vendor", true},
		{"node_modules", true},
		{"__pycache__", true},
		{".git", true},
		{".config", true},
		{"src", false},
		{"internal", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SkipDir(tt.name))
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "debouncing", Debouncing.String())
	assert.Equal(t, "rebuilding", Rebuilding.String())
	assert.Equal(t, "State(9)", State(9).String())
}
