package ruletrace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/jward/ruletrace/internal/config"
	"github.com/jward/ruletrace/internal/markdown"
	"github.com/jward/ruletrace/internal/scanner"
	"github.com/jward/ruletrace/internal/store"
	"github.com/jward/ruletrace/internal/watch"
)

var (
	// ErrRootNotFound is returned by New when the project root is missing.
	ErrRootNotFound = errors.New("ruletrace: root not found")
	// ErrUnknownSpec is returned when a selector names no configured pair.
	ErrUnknownSpec = errors.New("ruletrace: unknown spec or impl")
	// ErrAmbiguousSelection is returned when no selector is given but more
	// than one spec/impl pair is configured.
	ErrAmbiguousSelection = errors.New("ruletrace: ambiguous spec/impl selection")
	// ErrRuleNotFound is returned when no spec defines the requested rule.
	ErrRuleNotFound = errors.New("ruletrace: rule not found")
)

// Engine owns the traceability pipeline for one project root: it loads the
// configuration, scans specification documents and source files, builds the
// index and publishes immutable snapshots. Readers never block on a rebuild.
type Engine struct {
	root       string
	configPath string // explicit; empty probes config.DefaultPaths
	cachePath  string // empty disables the persistent scan cache
	logger     *slog.Logger
	debounce   time.Duration
	parallel   bool

	store *store.Store

	// mu serializes rebuilds and guards the fields below it.
	mu          sync.Mutex
	cfg         *config.Config
	cfgPath     string
	cfgRaw      []byte
	cfgErr      error
	sources     map[string]source
	scans       map[store.Key]*scanner.FileResult
	docs        map[docKey]*markdown.Document
	version     uint64
	fingerprint uint64

	overlayMu sync.Mutex
	overlay   map[string][]byte

	snap atomic.Pointer[Snapshot]
	ctl  atomic.Pointer[watch.Controller]
}

type source struct {
	content []byte
	hash    string
}

type docKey struct {
	path   string
	prefix string
	hash   string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithDebounce sets the quiet period Run waits after a change before
// rebuilding.
func WithDebounce(d time.Duration) Option {
	return func(e *Engine) {
		e.debounce = d
	}
}

// WithParallel controls parallel scanning. When true (default), changed files
// are scanned by a worker pool bounded by the CPU count and merged serially.
func WithParallel(parallel bool) Option {
	return func(e *Engine) {
		e.parallel = parallel
	}
}

// WithCache persists scan results in a SQLite database at path so restarts
// only rescan files whose content changed. Relative paths are resolved
// against the root.
func WithCache(path string) Option {
	return func(e *Engine) {
		e.cachePath = path
	}
}

// WithConfigPath uses the configuration file at path instead of probing
// config.DefaultPaths. Relative paths are resolved against the root.
func WithConfigPath(path string) Option {
	return func(e *Engine) {
		e.configPath = path
	}
}

// New creates an Engine for the project at root. Nothing is scanned until
// Build or Run.
func New(root string, opts ...Option) (*Engine, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("ruletrace: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrRootNotFound, root)
	}

	e := &Engine{
		root:     abs,
		logger:   slog.Default(),
		debounce: watch.DefaultDebounce,
		parallel: true,
		sources:  make(map[string]source),
		scans:    make(map[store.Key]*scanner.FileResult),
		docs:     make(map[docKey]*markdown.Document),
		overlay:  make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.configPath != "" && !filepath.IsAbs(e.configPath) {
		e.configPath = filepath.Join(e.root, e.configPath)
	}

	if e.cachePath != "" {
		if !filepath.IsAbs(e.cachePath) {
			e.cachePath = filepath.Join(e.root, e.cachePath)
		}
		if err := os.MkdirAll(filepath.Dir(e.cachePath), 0o755); err != nil {
			return nil, fmt.Errorf("ruletrace: create cache dir: %w", err)
		}
		s, err := store.NewStore(e.cachePath)
		if err != nil {
			return nil, fmt.Errorf("ruletrace: create store: %w", err)
		}
		if err := s.Migrate(); err != nil {
			s.Close()
			return nil, fmt.Errorf("ruletrace: migrate: %w", err)
		}
		e.store = s
		e.restoreVersion()
	}
	return e, nil
}

// restoreVersion continues the version sequence of a previous process so
// clients never see it go backwards.
func (e *Engine) restoreVersion() {
	v, err := e.store.Meta("version")
	if err != nil || v == "" {
		return
	}
	fp, _ := e.store.Meta("fingerprint")
	e.version, _ = strconv.ParseUint(v, 10, 64)
	e.fingerprint, _ = strconv.ParseUint(fp, 10, 64)
}

// Close releases the Engine's database resources.
func (e *Engine) Close() error {
	if e.store == nil {
		return nil
	}
	return e.store.Close()
}

// Root returns the absolute project root.
func (e *Engine) Root() string { return e.root }

// Snapshot returns the currently published snapshot, or nil before the first
// build.
func (e *Engine) Snapshot() *Snapshot { return e.snap.Load() }

// Version returns the published snapshot version, 0 before the first build.
func (e *Engine) Version() uint64 {
	if s := e.snap.Load(); s != nil {
		return s.Version
	}
	return 0
}

// Query returns a QueryBuilder over the currently published snapshot. All
// reads through one QueryBuilder see the same snapshot.
func (e *Engine) Query() *QueryBuilder {
	return &QueryBuilder{snap: e.snap.Load()}
}

// Build scans the whole project and publishes a snapshot. The configuration
// is loaded on the first call only; use Reload to pick up config changes.
// Per-file failures do not prevent publication; they are summarized in the
// returned error.
func (e *Engine) Build(ctx context.Context) error {
	return e.rebuild(ctx, nil, false)
}

// ReloadResult reports a forced reload.
type ReloadResult struct {
	Version uint64        `json:"version"`
	Took    time.Duration `json:"took"`
}

// Reload re-reads the configuration and rebuilds everything. A broken
// configuration keeps the previous one serving; its error is surfaced on the
// snapshot.
func (e *Engine) Reload(ctx context.Context) (ReloadResult, error) {
	start := time.Now()
	err := e.rebuild(ctx, nil, true)
	return ReloadResult{Version: e.Version(), Took: time.Since(start)}, err
}

// Run builds the project if needed, then watches it and rebuilds on change
// until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if e.snap.Load() == nil {
		if err := e.Build(ctx); err != nil {
			if e.snap.Load() == nil {
				return err
			}
			e.logger.Warn("initial build incomplete", "error", err)
		}
	}

	extra := []string{filepath.Join(e.root, filepath.Dir(config.DefaultPaths[0]))}
	if e.configPath != "" {
		extra = append(extra, filepath.Dir(e.configPath))
	}
	ctl := watch.New(e.root,
		func(ctx context.Context, changed []string) error {
			return e.rebuild(ctx, changed, false)
		},
		watch.WithDebounce(e.debounce),
		watch.WithLogger(e.logger),
		watch.WithExtraDirs(extra...),
		watch.WithErrorHook(func(error) { watchErrors.Inc() }),
	)
	e.ctl.Store(ctl)
	defer e.ctl.Store(nil)

	e.logger.Info("watching project", "root", e.root, "version", e.Version())
	return ctl.Run(ctx)
}

// WatchStats returns the watcher state while Run is active.
func (e *Engine) WatchStats() (watch.Stats, bool) {
	ctl := e.ctl.Load()
	if ctl == nil {
		return watch.Stats{}, false
	}
	return ctl.Stats(), true
}

// =============================================================================
// Overlays
// =============================================================================

// OpenFile replaces the on-disk content of path with an editor buffer and
// rebuilds. While Run is active the rebuild goes through the debounce
// window; otherwise it happens before OpenFile returns.
func (e *Engine) OpenFile(ctx context.Context, path string, content []byte) error {
	rel, err := e.rel(path)
	if err != nil {
		return err
	}
	e.overlayMu.Lock()
	e.overlay[rel] = append([]byte(nil), content...)
	e.overlayMu.Unlock()
	return e.touch(ctx, rel)
}

// ChangeFile updates the buffer of an opened file.
func (e *Engine) ChangeFile(ctx context.Context, path string, content []byte) error {
	return e.OpenFile(ctx, path, content)
}

// CloseFile drops the buffer of path so its on-disk content applies again.
func (e *Engine) CloseFile(ctx context.Context, path string) error {
	rel, err := e.rel(path)
	if err != nil {
		return err
	}
	e.overlayMu.Lock()
	_, had := e.overlay[rel]
	delete(e.overlay, rel)
	e.overlayMu.Unlock()
	if !had {
		return nil
	}
	return e.touch(ctx, rel)
}

func (e *Engine) touch(ctx context.Context, rel string) error {
	if ctl := e.ctl.Load(); ctl != nil {
		ctl.Notify(rel)
		return nil
	}
	return e.rebuild(ctx, []string{rel}, false)
}

func (e *Engine) overlays() map[string][]byte {
	e.overlayMu.Lock()
	defer e.overlayMu.Unlock()
	out := make(map[string][]byte, len(e.overlay))
	for k, v := range e.overlay {
		out[k] = v
	}
	return out
}

// rel converts path to a clean, slash-separated path relative to the root.
func (e *Engine) rel(path string) (string, error) {
	if filepath.IsAbs(path) {
		r, err := filepath.Rel(e.root, path)
		if err != nil {
			return "", fmt.Errorf("ruletrace: %s: %w", path, err)
		}
		path = r
	}
	path = filepath.ToSlash(filepath.Clean(path))
	if path == "." || path == ".." || strings.HasPrefix(path, "../") {
		return "", fmt.Errorf("ruletrace: %s is outside the root", path)
	}
	return path, nil
}

// IsTestFile reports whether path is classified as a test file by any
// implementation that includes it.
func (e *Engine) IsTestFile(path string) bool {
	rel, err := e.rel(path)
	if err != nil {
		return false
	}
	snap := e.snap.Load()
	if snap == nil || snap.Config == nil {
		return false
	}
	for _, s := range snap.Config.Specs {
		for _, im := range s.Impls {
			if im.Matches(rel) && im.IsTest(rel) {
				return true
			}
		}
	}
	return false
}

// =============================================================================
// Rebuild
// =============================================================================

// rebuild is the single writer. changed == nil means a full rebuild: every
// input is re-read and compared by content hash. Otherwise only the changed
// paths are re-read and everything else is reused from the previous build.
func (e *Engine) rebuild(ctx context.Context, changed []string, reload bool) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	kind := "incremental"
	if changed == nil {
		kind = "full"
	}
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		rebuildsTotal.WithLabelValues(kind, status).Inc()
		rebuildDuration.Observe(time.Since(start).Seconds())
	}()

	if reload || (e.cfg == nil && e.cfgErr == nil) {
		e.loadConfig()
	}
	if changed != nil && e.touchesConfig(changed) {
		e.logger.Info("configuration changed, reloading")
		e.loadConfig()
		changed, kind = nil, "full"
	}
	if changed != nil && !e.relevant(changed) {
		e.logger.Debug("ignoring unrelated changes", "paths", changed)
		return nil
	}

	paths, err := e.discover()
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}
	overlay := e.overlays()
	for p := range overlay {
		paths = append(paths, p)
	}
	paths = dedupe(paths)

	plan := e.plan(paths)
	dirty := make(map[string]bool, len(changed))
	for _, p := range changed {
		dirty[p] = true
	}

	var errs []error
	sources := make(map[string]source, len(plan.inputs))
	for _, p := range plan.inputs {
		src, ok, err := e.read(p, changed == nil || dirty[p], overlay)
		if err != nil {
			errs = append(errs, fmt.Errorf("read %s: %w", p, err))
			continue
		}
		if ok {
			sources[p] = src
		}
	}

	docs := e.extractDocs(plan, sources, &errs)
	files, scanErrs := e.scanFiles(ctx, plan.jobs, sources)
	errs = append(errs, scanErrs...)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if e.store != nil && changed == nil {
		keep := make([]string, 0, len(sources))
		for p := range sources {
			keep = append(keep, p)
		}
		if n, err := e.store.PruneMissing(keep); err != nil {
			e.logger.Warn("prune scan cache", "error", err)
		} else if n > 0 {
			e.logger.Debug("pruned scan cache", "files", n)
		}
	}
	e.sources = sources

	fp := e.fingerprintOf(sources)
	if fp != e.fingerprint || e.version == 0 {
		e.version++
		e.fingerprint = fp
		e.persistVersion()
	}

	snap := buildSnapshot(snapshotInput{
		version: e.version,
		root:    e.root,
		cfgPath: e.cfgPath,
		cfg:     e.cfg,
		cfgErr:  e.cfgErr,
		docs:    docs,
		files:   pairFiles(e.cfg, plan, files),
		sources: sources,
	})
	snap.BuiltAt = time.Now()
	snap.Took = time.Since(start)
	e.snap.Store(snap)
	publishedVersion.Set(float64(snap.Version))

	e.logger.Debug("snapshot published",
		"version", snap.Version,
		"kind", kind,
		"files", len(sources),
		"took", snap.Took)

	if len(errs) > 0 {
		return fmt.Errorf("scan had %d error(s): %w", len(errs), errs[0])
	}
	return nil
}

func (e *Engine) loadConfig() {
	path := e.configPath
	if path == "" {
		found, err := config.Find(e.root)
		if err != nil {
			e.setConfigError(err)
			return
		}
		path = found
	}
	cfg, err := config.Load(path)
	if err != nil {
		e.setConfigError(err)
		return
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		e.setConfigError(fmt.Errorf("read config: %w", err))
		return
	}
	e.cfg, e.cfgPath, e.cfgRaw, e.cfgErr = cfg, path, raw, nil
}

// setConfigError records a failed load. The previous configuration, if any,
// stays in effect.
func (e *Engine) setConfigError(err error) {
	e.cfgErr = err
	if e.cfg != nil {
		e.logger.Error("config reload failed, keeping previous configuration", "error", err)
	} else {
		e.logger.Warn("no usable configuration", "error", err)
	}
}

func (e *Engine) touchesConfig(changed []string) bool {
	var own string
	if e.cfgPath != "" {
		// The config may live outside the root; the watcher reports it
		// relative to the root all the same.
		if r, err := filepath.Rel(e.root, e.cfgPath); err == nil {
			own = filepath.ToSlash(r)
		}
	}
	dir := filepath.ToSlash(filepath.Dir(config.DefaultPaths[0])) + "/"
	for _, p := range changed {
		if p == own || strings.HasPrefix(p, dir) {
			return true
		}
	}
	return false
}

// relevant reports whether any changed path is, or could become, an input.
func (e *Engine) relevant(changed []string) bool {
	for _, p := range changed {
		if _, ok := e.sources[p]; ok {
			return true
		}
		if e.cfg == nil {
			continue
		}
		for _, s := range e.cfg.Specs {
			if s.MatchesDoc(p) {
				return true
			}
			for _, im := range s.Impls {
				if im.Matches(p) {
					return true
				}
			}
		}
	}
	return false
}

// read returns the content of p. Unless fresh is set, content from the
// previous build is reused. ok is false when the file no longer exists.
func (e *Engine) read(p string, fresh bool, overlay map[string][]byte) (source, bool, error) {
	if content, ok := overlay[p]; ok {
		return source{content: content, hash: store.ContentHash(content)}, true, nil
	}
	if prev, ok := e.sources[p]; ok && !fresh {
		return prev, true, nil
	}
	content, err := os.ReadFile(filepath.Join(e.root, filepath.FromSlash(p)))
	if errors.Is(err, os.ErrNotExist) {
		return source{}, false, nil
	}
	if err != nil {
		return source{}, false, err
	}
	return source{content: content, hash: store.ContentHash(content)}, true, nil
}

// extractDocs extracts every spec's documents, reusing the previous
// extraction of unchanged content.
func (e *Engine) extractDocs(plan *buildPlan, sources map[string]source, errs *[]error) map[string][]*markdown.Document {
	out := make(map[string][]*markdown.Document, len(plan.docs))
	next := make(map[docKey]*markdown.Document, len(e.docs))
	for spec, entries := range plan.docs {
		for _, d := range entries {
			src, ok := sources[d.path]
			if !ok {
				continue
			}
			key := docKey{path: d.path, prefix: d.prefix, hash: src.hash}
			doc, ok := e.docs[key]
			if !ok {
				var err error
				doc, err = markdown.Extract(d.path, src.content, markdown.Options{Prefix: d.prefix})
				if err != nil {
					*errs = append(*errs, fmt.Errorf("extract %s: %w", d.path, err))
					continue
				}
				for _, w := range doc.Warnings {
					e.logger.Debug("spec warning", "file", w.File, "line", w.Line, "kind", w.Kind, "message", w.Message)
				}
			}
			next[key] = doc
			out[spec] = append(out[spec], doc)
		}
	}
	e.docs = next
	return out
}

func (e *Engine) fingerprintOf(sources map[string]source) uint64 {
	h := xxhash.New()
	h.Write(e.cfgRaw)
	if e.cfgErr != nil {
		h.WriteString("\x00err:" + e.cfgErr.Error())
	}
	paths := make([]string, 0, len(sources))
	for p := range sources {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		h.WriteString("\x00" + p + "\x00" + sources[p].hash)
	}
	return h.Sum64()
}

func (e *Engine) persistVersion() {
	if e.store == nil {
		return
	}
	if err := e.store.SetMeta("version", strconv.FormatUint(e.version, 10)); err != nil {
		e.logger.Warn("persist version", "error", err)
		return
	}
	if err := e.store.SetMeta("fingerprint", strconv.FormatUint(e.fingerprint, 10)); err != nil {
		e.logger.Warn("persist fingerprint", "error", err)
	}
}

func dedupe(paths []string) []string {
	sort.Strings(paths)
	out := paths[:0]
	for i, p := range paths {
		if i == 0 || p != paths[i-1] {
			out = append(out, p)
		}
	}
	return out
}
