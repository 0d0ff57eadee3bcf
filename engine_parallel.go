package ruletrace

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jward/ruletrace/internal/config"
	"github.com/jward/ruletrace/internal/scanner"
	"github.com/jward/ruletrace/internal/store"
)

type docEntry struct {
	path   string
	prefix string
}

// buildPlan maps the discovered paths onto the configuration.
type buildPlan struct {
	inputs []string                    // every path to read, sorted
	docs   map[string][]docEntry       // spec name -> documents
	jobs   []store.Key                 // unique scans
	pairs  map[config.Pair][]store.Key // pair -> scans of its files
}

func (e *Engine) plan(paths []string) *buildPlan {
	p := &buildPlan{
		docs:  make(map[string][]docEntry),
		pairs: make(map[config.Pair][]store.Key),
	}
	if e.cfg == nil {
		return p
	}
	needed := make(map[string]bool)
	seen := make(map[store.Key]bool)
	for _, s := range e.cfg.Specs {
		for _, path := range paths {
			if s.MatchesDoc(path) {
				p.docs[s.Name] = append(p.docs[s.Name], docEntry{path: path, prefix: s.Prefix})
				needed[path] = true
			}
		}
		for _, im := range s.Impls {
			pair := config.Pair{Spec: s.Name, Impl: im.Name}
			for _, path := range paths {
				if !im.Matches(path) {
					continue
				}
				key := store.Key{Path: path, Language: im.Lang, Prefix: s.Prefix}
				p.pairs[pair] = append(p.pairs[pair], key)
				needed[path] = true
				if !seen[key] {
					seen[key] = true
					p.jobs = append(p.jobs, key)
				}
			}
		}
	}
	for path := range needed {
		p.inputs = append(p.inputs, path)
	}
	sort.Strings(p.inputs)
	return p
}

// scanFiles returns a scan result for every job whose file was read. Results
// are taken, in order of preference, from the previous build, from the
// persistent cache, or from a fresh scan:
//
//	Phase A (serial):   reuse in-memory results with matching hashes.
//	Phase B (parallel): cache lookup or scan via a bounded worker pool,
//	                    buffering new results in a BatchedStore.
//	Phase C (serial):   commit the batch to SQLite in one transaction.
//
// Per-file failures are returned and do not stop other files.
func (e *Engine) scanFiles(ctx context.Context, jobs []store.Key, sources map[string]source) (map[store.Key]*scanner.FileResult, []error) {
	results := make(map[store.Key]*scanner.FileResult, len(jobs))

	// ---- Phase A: reuse ----
	var todo []store.Key
	for _, k := range jobs {
		src, ok := sources[k.Path]
		if !ok {
			continue
		}
		if prev, ok := e.scans[k]; ok && prev.Hash == src.hash {
			results[k] = prev
			filesScanned.WithLabelValues("memory").Inc()
			continue
		}
		todo = append(todo, k)
	}

	// ---- Phase B: parallel scan ----
	batch := store.NewBatchedStore(e.store)
	workers := 1
	if e.parallel {
		workers = max(1, min(runtime.NumCPU(), len(todo)))
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, k := range todo {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, how, err := e.scanOne(gctx, batch, k, sources[k.Path])
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("scan %s: %w", k.Path, err))
				return nil
			}
			results[k] = res
			filesScanned.WithLabelValues(how).Inc()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	// ---- Phase C: serial commit ----
	if e.store != nil && batch.Len() > 0 {
		if err := e.store.CommitBatch(batch); err != nil {
			e.logger.Warn("scan cache commit failed", "error", err)
		}
	}

	e.scans = results
	return results, errs
}

func (e *Engine) scanOne(ctx context.Context, ds store.DataStore, k store.Key, src source) (*scanner.FileResult, string, error) {
	res, hit, err := ds.Lookup(k, src.hash)
	if err != nil {
		e.logger.Debug("scan cache lookup failed", "path", k.Path, "error", err)
	}
	if hit {
		return res, "cache", nil
	}
	res, err = scanner.ScanFile(ctx, k.Path, k.Language, src.content, scanner.Options{Prefix: k.Prefix})
	if err != nil {
		return nil, "", err
	}
	res.Hash = src.hash
	for _, w := range res.Warnings {
		e.logger.Debug("scan warning", "file", w.File, "line", w.Line, "kind", w.Kind, "message", w.Message)
	}
	if err := ds.Put(k, res); err != nil {
		return nil, "", err
	}
	return res, "scan", nil
}

// pairFiles assembles each pair's scan results, classifying test files.
// Results are shared between pairs, so classification works on copies.
func pairFiles(cfg *config.Config, plan *buildPlan, results map[store.Key]*scanner.FileResult) map[config.Pair][]*scanner.FileResult {
	out := make(map[config.Pair][]*scanner.FileResult, len(plan.pairs))
	if cfg == nil {
		return out
	}
	for _, s := range cfg.Specs {
		for _, im := range s.Impls {
			pair := config.Pair{Spec: s.Name, Impl: im.Name}
			for _, k := range plan.pairs[pair] {
				res, ok := results[k]
				if !ok {
					continue
				}
				cp := *res
				cp.IsTest = im.IsTest(k.Path)
				out[pair] = append(out[pair], &cp)
			}
		}
	}
	return out
}
