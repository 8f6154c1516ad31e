// Package indexer walks a source tree, analyzes every file with the
// analyzer the registry selects, hands the documents to a sink and stores
// rendered cross-references under the data root.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sourcecolon/sourcecolon/internal/analysis"
	"github.com/sourcecolon/sourcecolon/internal/config"
	scerrors "github.com/sourcecolon/sourcecolon/internal/errors"
	"github.com/sourcecolon/sourcecolon/internal/ignore"
)

// Optimizer is a store that can be compacted after a run.
type Optimizer interface {
	Optimize(ctx context.Context) error
}

// Dependencies are the collaborators of an Indexer.
type Dependencies struct {
	// Registry selects analyzers and supplies the configuration (required).
	Registry *analysis.Registry

	// Sink receives analyzed documents (required).
	Sink analysis.DocumentSink

	// Optimizers run after the walk when database optimization is enabled.
	Optimizers []Optimizer

	// Workers bounds concurrent file analysis. Zero means GOMAXPROCS.
	Workers int

	// Progress, when set, is called after each file with the number of
	// files finished so far. Calls are serialized.
	Progress func(done, total int)
}

// Failure is a file that could not be indexed.
type Failure struct {
	Path string
	Err  error
}

// Result summarizes one run.
type Result struct {
	// Files is the number of files considered after ignore filtering.
	Files int

	// Indexed is the number of documents accepted by the sink.
	Indexed int

	// Xrefs is the number of cross-references written.
	Xrefs int

	// Failures lists per-file errors, sorted by path.
	Failures []Failure

	Duration time.Duration
}

// Indexer runs indexing passes. One Indexer may run repeatedly; each run
// reads the configuration snapshot current at its start.
type Indexer struct {
	reg        *analysis.Registry
	sink       analysis.DocumentSink
	optimizers []Optimizer
	workers    int
	progress   func(done, total int)
}

// New creates an Indexer.
func New(deps Dependencies) (*Indexer, error) {
	if deps.Registry == nil {
		return nil, scerrors.MissingArgument("registry")
	}
	if deps.Sink == nil {
		return nil, scerrors.MissingArgument("sink")
	}
	workers := deps.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Indexer{
		reg:        deps.Registry,
		sink:       deps.Sink,
		optimizers: deps.Optimizers,
		workers:    workers,
		progress:   deps.Progress,
	}, nil
}

// Run indexes every non-ignored regular file under the source root.
// Per-file failures are collected in the result; only cancellation, a
// missing source root, a held run lock or a failed walk end the run early.
func (ix *Indexer) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	cfg := ix.reg.Store().Current()

	root := cfg.Paths.SourceRoot
	if root == "" {
		return nil, scerrors.MissingArgument("source root")
	}

	if cfg.Index.Locking && cfg.Paths.DataRoot != "" {
		lock := NewRunLock(cfg.Paths.DataRoot)
		ok, err := lock.TryLock()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, scerrors.New(scerrors.ErrCodeIndexFailed,
				"another indexing run holds "+lock.Path(), nil).
				WithSuggestion("Wait for the other run to finish")
		}
		defer func() { _ = lock.Unlock() }()
	}

	policy, err := ignore.New(cfg.Index.IgnoredNames)
	if err != nil {
		return nil, scerrors.ConfigError("invalid ignored names", err)
	}

	files, err := scan(ctx, root, policy)
	if err != nil {
		return nil, err
	}

	slog.Info("index_started",
		slog.String("source_root", root),
		slog.Int("files", len(files)),
		slog.Int("workers", ix.workers))

	res := &Result{Files: len(files)}
	var mu sync.Mutex
	finished := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.workers)
	for _, rel := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			wrote, err := ix.indexFile(gctx, cfg, root, rel)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slog.Warn("index_file_failed",
					slog.String("path", rel),
					slog.String("error", err.Error()))
			}

			mu.Lock()
			defer mu.Unlock()
			finished++
			if ix.progress != nil {
				ix.progress(finished, len(files))
			}
			if err != nil {
				res.Failures = append(res.Failures, Failure{Path: rel, Err: err})
				return nil
			}
			res.Indexed++
			if wrote {
				res.Xrefs++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(res.Failures, func(i, j int) bool { return res.Failures[i].Path < res.Failures[j].Path })

	if cfg.Index.OptimizeDatabase {
		for _, o := range ix.optimizers {
			if err := o.Optimize(ctx); err != nil {
				slog.Warn("optimize_failed", slog.String("error", err.Error()))
			}
		}
	}

	res.Duration = time.Since(start)
	slog.Info("index_completed",
		slog.Int("indexed", res.Indexed),
		slog.Int("xrefs", res.Xrefs),
		slog.Int("failures", len(res.Failures)),
		slog.Duration("duration", res.Duration))
	return res, nil
}

// indexFile analyzes one file and reports whether an xref was written.
func (ix *Indexer) indexFile(ctx context.Context, cfg *config.Config, root, rel string) (bool, error) {
	f, err := os.Open(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return false, scerrors.Wrap(scerrors.ErrCodeFileNotFound, err)
	}
	defer func() { _ = f.Close() }()

	factory, rd, err := ix.reg.FindReader(rel, f)
	if err != nil {
		return false, err
	}

	a := ix.reg.GetAnalyzer(factory)
	doc := analysis.NewDocument()
	doc.Add(analysis.FieldPath, rel)
	if err := a.Analyze(ctx, doc, rd); err != nil {
		return false, err
	}
	if err := ix.sink.Index(ctx, rel, doc, a); err != nil {
		return false, err
	}

	if !cfg.Index.GenerateHTML || cfg.Paths.DataRoot == "" || !factory.Genre.Renders() {
		return false, nil
	}
	compress := cfg.Index.CompressXref
	if err := writeXref(a, cfg.Paths.DataRoot, rel, compress); err != nil {
		return false, fmt.Errorf("xref: %w", err)
	}
	return true, nil
}

// scan lists the regular files under root as slash-separated paths
// relative to root, in lexical order, pruning ignored directories.
func scan(ctx context.Context, root string, policy *ignore.Names) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			slog.Warn("index_walk_skipped", slog.String("path", path), slog.String("error", err.Error()))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == root {
			return nil
		}

		name := d.Name()
		if d.IsDir() {
			if policy.ShouldIgnoreDir(name) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || policy.ShouldIgnoreFile(name) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	return files, nil
}
