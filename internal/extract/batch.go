package extract

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/karrick/godirwalk"
	"golang.org/x/sync/errgroup"

	"github.com/kluth/npm-feature-extractor/internal/manifest"
	"github.com/kluth/npm-feature-extractor/internal/tarball"
)

// Target is one package of a batch: a directory or a .tgz archive.
type Target struct {
	Path    string
	Archive bool
}

// BatchResult is the outcome of one target. Err is set when the target's
// scan failed; siblings are unaffected.
type BatchResult struct {
	Target Target
	Result *Result
	Err    error
}

// IsArchive reports whether path names a package tarball.
func IsArchive(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".tgz") || strings.HasSuffix(lower, ".tar.gz")
}

// TargetFor classifies a single input path.
func TargetFor(path string) Target {
	return Target{Path: path, Archive: IsArchive(path)}
}

// Discover lists the packages under root: directories holding a
// package.json and package tarballs. A package directory is not searched for
// nested packages. maxDepth limits how deep below root packages are looked
// for; zero means unlimited.
func Discover(root string, maxDepth int) ([]Target, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	var targets []Target
	err = godirwalk.Walk(root, &godirwalk.Options{
		Unsorted:            false,
		FollowSymbolicLinks: false,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				if de.Name() == prunedDir && path != root {
					return godirwalk.SkipThis
				}
				if hasManifest(path) {
					targets = append(targets, Target{Path: path})
					return godirwalk.SkipThis
				}
				if maxDepth > 0 && depth(root, path) >= maxDepth {
					return godirwalk.SkipThis
				}
				return nil
			}
			if de.IsSymlink() {
				// Linked packages are listed but not descended into.
				if info, err := os.Stat(path); err == nil {
					switch {
					case info.IsDir() && hasManifest(path):
						targets = append(targets, Target{Path: path})
					case info.Mode().IsRegular() && IsArchive(path):
						targets = append(targets, Target{Path: path, Archive: true})
					}
				}
				return nil
			}
			if de.IsRegular() && IsArchive(path) {
				targets = append(targets, Target{Path: path, Archive: true})
			}
			return nil
		},
		ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
			return godirwalk.Halt
		},
	})
	if err != nil {
		return nil, &WalkError{Path: root, Err: err}
	}
	return targets, nil
}

func hasManifest(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, manifest.FileName))
	return err == nil
}

func depth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(filepath.ToSlash(rel), "/") + 1
}

// ExtractTarget scans a directory or an archive. Archive members are
// reported under the archive path.
func (e *Extractor) ExtractTarget(ctx context.Context, t Target, limits tarball.Limits) (*Result, error) {
	if !t.Archive {
		return e.Extract(ctx, t.Path)
	}
	ep, err := tarball.ExtractFile(t.Path, limits)
	if err != nil {
		return nil, err
	}
	defer ep.Cleanup()
	return e.ExtractExtracted(ctx, ep, t.Path)
}

// ExtractExtracted scans an unpacked tarball and rewrites its temporary
// paths to start with displayPath.
func (e *Extractor) ExtractExtracted(ctx context.Context, ep *tarball.ExtractedPackage, displayPath string) (*Result, error) {
	root, err := filepath.Abs(ep.Root())
	if err != nil {
		return nil, err
	}
	e.logger.Debug("unpacked archive", "path", displayPath, "files", len(ep.Files))
	res, err := e.Extract(ctx, root)
	if err != nil {
		return nil, err
	}
	res.rebase(root, displayPath)
	return res, nil
}

// Batch scans targets with at most concurrency packages in flight. fn is
// called once per target, never concurrently. A package failure is passed
// to fn in BatchResult.Err; an error returned by fn stops the batch.
func (e *Extractor) Batch(ctx context.Context, targets []Target, concurrency int, limits tarball.Limits, fn func(BatchResult) error) error {
	if concurrency < 1 {
		concurrency = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var mu sync.Mutex
	for _, t := range targets {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := e.ExtractTarget(gctx, t, limits)
			if err != nil {
				e.logger.Warn("package extraction failed", "path", t.Path, "error", err)
			}
			mu.Lock()
			defer mu.Unlock()
			return fn(BatchResult{Target: t, Result: res, Err: err})
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
