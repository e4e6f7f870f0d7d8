// Package extract runs feature extraction over npm package trees.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kluth/npm-feature-extractor/internal/analyzer"
	"github.com/kluth/npm-feature-extractor/internal/cache"
	"github.com/kluth/npm-feature-extractor/internal/features"
	"github.com/kluth/npm-feature-extractor/internal/manifest"
	"github.com/kluth/npm-feature-extractor/internal/patterns"
)

// DefaultMaxFileSize is the largest script analyzed, inclusive.
const DefaultMaxFileSize = 2 << 20

// DefaultExtensions are the script extensions visited by default.
var DefaultExtensions = []string{".js"}

// Options configures an Extractor. Zero values select the defaults.
type Options struct {
	MaxFileSize     int64
	MaxStringLength int
	MaxPositions    int
	// Workers bounds the files analyzed concurrently within one scan.
	Workers int
	// Extensions are the script extensions to visit.
	Extensions []string
	// Exclude are glob patterns, relative to the package root with '/'
	// separators, of paths to skip.
	Exclude              []string
	TolerateSyntaxErrors bool
	Tables               *patterns.Tables
	// Cache memoizes file results across scans. Nil disables it.
	Cache *cache.Cache
	// Logger receives warnings; DiagLogger receives parse failure detail.
	Logger     *slog.Logger
	DiagLogger *slog.Logger
}

// Result is the outcome of one scan.
type Result struct {
	Features  features.Record
	Positions *features.PositionRecorder
}

// Extractor scans package directories. It is safe for concurrent use; every
// call to Extract owns its own record and recorder.
type Extractor struct {
	opts     Options
	analyzer *analyzer.Analyzer
	selector *selector
	logger   *slog.Logger
	diag     *slog.Logger
}

// New validates opts and returns an Extractor.
func New(opts Options) (*Extractor, error) {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.MaxStringLength <= 0 {
		opts.MaxStringLength = analyzer.DefaultMaxStringLength
	}
	if opts.MaxPositions <= 0 {
		opts.MaxPositions = features.DefaultMaxPositions
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}
	if opts.Tables == nil {
		opts.Tables = patterns.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	diag := opts.DiagLogger
	if diag == nil {
		diag = logger
	}

	sel, err := newSelector(opts.Extensions, opts.Exclude)
	if err != nil {
		return nil, err
	}

	return &Extractor{
		opts: opts,
		analyzer: analyzer.New(analyzer.SyntaxOptions{
			Tables:          opts.Tables,
			MaxStringLength: opts.MaxStringLength,
			MaxPerFlag:      opts.MaxPositions,
			Tolerant:        opts.TolerateSyntaxErrors,
		}),
		selector: sel,
		logger:   logger,
		diag:     diag,
	}, nil
}

// Extract scans the package rooted at dir. Missing or malformed manifests
// and directory read failures abort the scan; script parse failures do not.
func (e *Extractor) Extract(ctx context.Context, dir string) (*Result, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dir, err)
	}
	// A symlinked root (pnpm's node_modules/<pkg>) is walked at its target
	// and reported under the path given.
	root := abs
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		root = resolved
	}

	m, err := manifest.LoadDir(root, e.logger)
	if err != nil {
		return nil, err
	}

	agg := features.NewAggregator(e.opts.MaxPositions)
	agg.Update(func(r *features.Record) {
		r.PackageName = m.Name
		r.Version = m.Version
		r.DependencyCount = m.DependencyCount
		r.DevDependencyCount = m.DevDependencyCount
		r.InstallCommands = append([]string(nil), m.InstallCommands...)
		r.ExecuteJSFiles = m.ScriptPaths()
	})
	e.scanHooks(agg, m)

	entries, err := walk(ctx, root, e.selector.withHooks(m.ScriptPaths()))
	if err != nil {
		return nil, err
	}

	results, err := e.analyzeFiles(ctx, entries)
	if err != nil {
		return nil, err
	}

	// Merge in walk order so positions do not depend on worker scheduling.
	var stats features.Stats
	for i, entry := range entries {
		stats.FilesVisited++
		if entry.Size > e.opts.MaxFileSize {
			stats.FilesOversized++
			e.logger.Debug("skipping oversize file", "path", entry.Path, "size", entry.Size)
			continue
		}
		res := results[i]
		stats.FilesAnalyzed++
		stats.SyntaxNodes += res.Nodes
		if res.ParseErr != nil {
			stats.ParseFailures++
		}
		for _, f := range res.Findings {
			agg.Raise(f.Flag, entry.Install, f.Position(entry.Path))
		}
	}
	agg.AddStats(stats)

	rec, positions := agg.Finalize()
	e.logger.Debug("package extracted",
		"package", rec.ID(),
		"files", stats.FilesVisited,
		"flags", len(rec.Raised()),
	)
	res := &Result{Features: rec, Positions: positions}
	res.rebase(root, abs)
	return res, nil
}

// rebase reports the result's file paths under to instead of from.
func (r *Result) rebase(from, to string) {
	if from == to {
		return
	}
	r.Positions.RewritePaths(from, to)
	for i, p := range r.Features.ExecuteJSFiles {
		if strings.HasPrefix(p, from) {
			r.Features.ExecuteJSFiles[i] = to + strings.TrimPrefix(p, from)
		}
	}
}

// scanHooks records the manifest-level findings.
func (e *Extractor) scanHooks(agg *features.Aggregator, m *manifest.Manifest) {
	if !m.HasInstallScripts() {
		return
	}
	agg.Raise(features.HasInstallScripts, false, features.Position{
		FilePath: m.Path,
		Literal:  m.InstallCommands[0],
	})
	for _, cmd := range m.InstallCommands {
		for _, f := range e.analyzer.Lexical().ScanCommand(cmd) {
			agg.Raise(f.Flag, false, f.Position(m.Path))
		}
	}
}

// analyzeFiles runs the detectors over every in-ceiling entry. Results are
// indexed like entries.
func (e *Extractor) analyzeFiles(ctx context.Context, entries []fileEntry) ([]analyzer.FileResult, error) {
	results := make([]analyzer.FileResult, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, entry := range entries {
		if entry.Size > e.opts.MaxFileSize {
			continue
		}
		g.Go(func() error {
			res, err := e.analyzeFile(gctx, entry.Path)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Extractor) analyzeFile(ctx context.Context, path string) (analyzer.FileResult, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return analyzer.FileResult{}, fmt.Errorf("reading %s: %w", path, err)
	}

	key := cache.KeyOf(src)
	res, ok := e.opts.Cache.Get(key)
	if !ok {
		res, err = e.analyzer.AnalyzeScript(ctx, src)
		if err != nil {
			return analyzer.FileResult{}, fmt.Errorf("analyzing %s: %w", path, err)
		}
		e.opts.Cache.Add(key, res)
	}

	if res.ParseErr != nil {
		perr := *res.ParseErr
		perr.Path = path
		res.ParseErr = &perr
		e.logger.Warn("syntax analysis skipped", "path", path, "line", perr.Line, "column", perr.Column)
		e.diag.Info("parse failure", "path", path, "error", perr.Error())
	}
	return res, nil
}
