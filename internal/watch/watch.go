// Package watch drives the debounce/rebuild cycle of a project root.
//
// A Controller receives change notifications from an fsnotify watcher (and
// from callers via Notify), waits until no change arrived for the debounce
// window and then invokes a rebuild callback with the set of changed paths.
// Changes that arrive while a rebuild runs are queued and start another
// debounce cycle once it returns. Watcher failures are retried with
// exponential backoff and never stop the controller.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period before a rebuild starts.
const DefaultDebounce = 200 * time.Millisecond

// State is the controller's position in the Idle → Debouncing → Rebuilding cycle.
type State int

const (
	Idle State = iota
	Debouncing
	Rebuilding
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Debouncing:
		return "debouncing"
	case Rebuilding:
		return "rebuilding"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ErrRootRemoved is reported when the watched root disappears.
var ErrRootRemoved = errors.New("watch root removed")

// RebuildFunc rebuilds after the given root-relative, slash-separated paths
// changed. Paths are sorted and unique.
type RebuildFunc func(ctx context.Context, changed []string) error

// skipDirs are never descended into, in addition to hidden directories.
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
}

// SkipDir reports whether a directory named name is excluded from watching
// and discovery.
func SkipDir(name string) bool {
	return strings.HasPrefix(name, ".") || skipDirs[name]
}

// Stats is a point-in-time view of a Controller.
type Stats struct {
	State     State
	Rebuilds  int
	Errors    int
	LastError error
}

// Controller owns the watch/debounce/rebuild loop for one root.
type Controller struct {
	root     string
	extra    []string
	debounce time.Duration
	rebuild  RebuildFunc
	logger   *slog.Logger
	backoff  func() backoff.BackOff
	onError  func(error)

	mu       sync.Mutex
	pending  map[string]bool
	state    State
	rebuilds int
	errCount int
	lastErr  error

	kick chan struct{}
}

// Option configures a Controller.
type Option func(*Controller)

// WithDebounce sets the debounce window. Non-positive values keep the default.
func WithDebounce(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.debounce = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithExtraDirs watches additional directories non-recursively, for inputs
// living under otherwise skipped directories such as .config.
func WithExtraDirs(dirs ...string) Option {
	return func(c *Controller) {
		c.extra = append(c.extra, dirs...)
	}
}

// WithBackOff replaces the retry policy for watcher failures.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(c *Controller) {
		c.backoff = f
	}
}

// WithErrorHook is called for every watcher failure after it was recorded.
func WithErrorHook(f func(error)) Option {
	return func(c *Controller) {
		c.onError = f
	}
}

// New creates a Controller for root. Nothing happens until Run.
func New(root string, rebuild RebuildFunc, opts ...Option) *Controller {
	c := &Controller{
		root:     filepath.Clean(root),
		debounce: DefaultDebounce,
		rebuild:  rebuild,
		logger:   slog.Default(),
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
		pending: make(map[string]bool),
		kick:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Notify queues root-relative paths as changed. Safe to call at any time,
// including before Run and during a rebuild.
func (c *Controller) Notify(paths ...string) {
	if len(paths) == 0 {
		return
	}
	c.mu.Lock()
	for _, p := range paths {
		c.pending[filepath.ToSlash(p)] = true
	}
	c.mu.Unlock()
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Stats returns the current state and counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{State: c.state, Rebuilds: c.rebuilds, Errors: c.errCount, LastError: c.lastErr}
}

// Run watches the root until ctx is cancelled. It returns nil on
// cancellation after any in-flight rebuild has finished.
func (c *Controller) Run(ctx context.Context) error {
	watchCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.watchLoop(watchCtx)
	}()
	c.loop(ctx)
	stop()
	wg.Wait()
	return nil
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// loop is the single owner of the debounce timer and of rebuild scheduling.
func (c *Controller) loop(ctx context.Context) {
	var (
		timer *time.Timer
		fire  <-chan time.Time
		done  chan struct{}
	)
	arm := func() {
		if timer == nil {
			timer = time.NewTimer(c.debounce)
		} else {
			timer.Reset(c.debounce)
		}
		fire = timer.C
		c.setState(Debouncing)
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			if done != nil {
				<-done
			}
			return

		case <-c.kick:
			if done == nil {
				arm()
			}

		case <-fire:
			fire = nil
			changed := c.takePending()
			if len(changed) == 0 {
				c.setState(Idle)
				continue
			}
			c.setState(Rebuilding)
			done = make(chan struct{})
			go func(ch chan struct{}) {
				defer close(ch)
				c.runRebuild(ctx, changed)
			}(done)

		case <-done:
			done = nil
			if c.hasPending() {
				arm()
			} else {
				c.setState(Idle)
			}
		}
	}
}

func (c *Controller) runRebuild(ctx context.Context, changed []string) {
	start := time.Now()
	err := c.rebuild(ctx, changed)
	c.mu.Lock()
	c.rebuilds++
	c.mu.Unlock()
	if err != nil {
		c.logger.Error("rebuild failed", "changed", len(changed), "error", err)
		return
	}
	c.logger.Debug("rebuild complete", "changed", len(changed), "took", time.Since(start))
}

func (c *Controller) takePending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.pending))
	for p := range c.pending {
		out = append(out, p)
	}
	c.pending = make(map[string]bool)
	sort.Strings(out)
	return out
}

func (c *Controller) hasPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending) > 0
}

func (c *Controller) recordError(err error) {
	c.mu.Lock()
	c.errCount++
	c.lastErr = err
	c.mu.Unlock()
	c.logger.Warn("watch error", "root", c.root, "error", err)
	if c.onError != nil {
		c.onError(err)
	}
}

// watchLoop keeps an fsnotify session alive, retrying failures with backoff.
func (c *Controller) watchLoop(ctx context.Context) {
	b := backoff.WithContext(c.backoff(), ctx)
	for {
		err := c.watchOnce(ctx, b.Reset)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("watcher closed")
		}
		c.recordError(err)

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// watchOnce runs one watcher session. established is called once every
// directory is registered. A nil return means the watcher channels closed.
func (c *Controller) watchOnce(ctx context.Context, established func()) error {
	info, err := os.Stat(c.root)
	if err != nil {
		return fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("root %s is not a directory", c.root)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := c.addRecursive(w, c.root); err != nil {
		return err
	}
	for _, dir := range c.extra {
		if err := w.Add(dir); err != nil {
			c.logger.Debug("extra directory not watched", "path", dir, "error", err)
		}
	}
	established()
	c.logger.Debug("watching", "root", c.root, "debounce", c.debounce)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Name == c.root && (ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)) {
				return ErrRootRemoved
			}
			c.handle(w, ev)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watcher: %w", err)
		}
	}
}

func (c *Controller) handle(w *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
		return
	}
	rel, err := filepath.Rel(c.root, ev.Name)
	if err != nil || rel == "." {
		return
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if SkipDir(info.Name()) {
				return
			}
			if err := c.addRecursive(w, ev.Name); err != nil {
				c.logger.Warn("failed to watch new directory", "path", rel, "error", err)
			}
			// Files created together with the directory produce no events.
			c.Notify(c.filesUnder(ev.Name)...)
			return
		}
	}
	c.logger.Debug("change detected", "path", rel, "op", ev.Op.String())
	c.Notify(filepath.ToSlash(rel))
}

func (c *Controller) addRecursive(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return fmt.Errorf("walk %s: %w", dir, err)
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != c.root && SkipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			c.logger.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (c *Controller) filesUnder(dir string) []string {
	var out []string
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if rel, err := filepath.Rel(c.root, path); err == nil {
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	return out
}
