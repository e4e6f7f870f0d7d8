package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"github.com/karrick/godirwalk"
)

// prunedDir is never descended into, the scan root included.
const prunedDir = "node_modules"

// WalkError is a directory traversal failure. It aborts the scan of the
// package being walked.
type WalkError struct {
	Path string
	Err  error
}

func (e *WalkError) Error() string {
	return fmt.Sprintf("walk %s: %v", e.Path, e.Err)
}

func (e *WalkError) Unwrap() error { return e.Err }

// fileEntry is a file selected for analysis.
type fileEntry struct {
	Path string
	Size int64
	// Install marks a file run by a lifecycle hook.
	Install bool
}

// selector decides which files a walk visits.
type selector struct {
	extensions map[string]bool
	hooks      map[string]bool
	exclude    []glob.Glob
}

func newSelector(extensions, exclude []string) (*selector, error) {
	s := &selector{extensions: make(map[string]bool, len(extensions))}
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		s.extensions[ext] = true
	}
	for _, pattern := range exclude {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("exclude pattern %q: %w", pattern, err)
		}
		s.exclude = append(s.exclude, g)
	}
	return s, nil
}

// withHooks returns a copy of s that also selects the given hook scripts.
func (s *selector) withHooks(paths []string) *selector {
	c := *s
	c.hooks = make(map[string]bool, len(paths))
	for _, p := range paths {
		c.hooks[filepath.Clean(p)] = true
	}
	return &c
}

func (s *selector) excluded(root, path string) bool {
	if len(s.exclude) == 0 {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, g := range s.exclude {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

func (s *selector) selects(path string) (selected, install bool) {
	install = s.hooks[path]
	return install || s.extensions[strings.ToLower(filepath.Ext(path))], install
}

// walk lists the files under root that s selects, in lexical depth-first
// order. Symbolic links are neither followed nor visited.
func walk(ctx context.Context, root string, s *selector) ([]fileEntry, error) {
	if filepath.Base(root) == prunedDir {
		return nil, nil
	}

	var (
		entries []fileEntry
		walkErr *WalkError
	)
	err := godirwalk.Walk(root, &godirwalk.Options{
		Unsorted:            false,
		FollowSymbolicLinks: false,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if de.IsDir() {
				if path != root && (de.Name() == prunedDir || s.excluded(root, path)) {
					return godirwalk.SkipThis
				}
				return nil
			}
			if !de.IsRegular() || s.excluded(root, path) {
				return nil
			}
			selected, install := s.selects(path)
			if !selected {
				return nil
			}
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			entries = append(entries, fileEntry{Path: path, Size: info.Size(), Install: install})
			return nil
		},
		ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
			if walkErr == nil {
				walkErr = &WalkError{Path: path, Err: err}
			}
			return godirwalk.Halt
		},
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if walkErr != nil {
			return nil, walkErr
		}
		return nil, &WalkError{Path: root, Err: err}
	}
	return entries, nil
}
