package tarball

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Limits bound what an archive may expand to.
type Limits struct {
	MaxTotalSize int64
	MaxFileSize  int64
	MaxFiles     int
}

// DefaultLimits are used when a zero Limits is passed.
var DefaultLimits = Limits{
	MaxTotalSize: 100 * 1024 * 1024, // 100MB
	MaxFileSize:  10 * 1024 * 1024,  // 10MB per file
	MaxFiles:     10000,
}

func (l Limits) orDefault() Limits {
	if l.MaxTotalSize <= 0 {
		l.MaxTotalSize = DefaultLimits.MaxTotalSize
	}
	if l.MaxFileSize <= 0 {
		l.MaxFileSize = DefaultLimits.MaxFileSize
	}
	if l.MaxFiles <= 0 {
		l.MaxFiles = DefaultLimits.MaxFiles
	}
	return l
}

// FileEntry represents a single extracted file.
type FileEntry struct {
	Path string // relative path within the package
	Size int64
}

// ExtractedPackage holds the result of extracting a tarball.
type ExtractedPackage struct {
	Dir   string      // temporary directory root
	Files []FileEntry // all extracted files
}

// Cleanup removes the temporary directory.
func (ep *ExtractedPackage) Cleanup() {
	if ep != nil && ep.Dir != "" {
		os.RemoveAll(ep.Dir)
	}
}

// Root returns the package directory: Dir itself when it holds a
// package.json, otherwise the single top-level directory that does. Some
// tarballs use a prefix other than "package/".
func (ep *ExtractedPackage) Root() string {
	if _, err := os.Stat(filepath.Join(ep.Dir, "package.json")); err == nil {
		return ep.Dir
	}
	entries, err := os.ReadDir(ep.Dir)
	if err != nil || len(entries) != 1 || !entries[0].IsDir() {
		return ep.Dir
	}
	sub := filepath.Join(ep.Dir, entries[0].Name())
	if _, err := os.Stat(filepath.Join(sub, "package.json")); err == nil {
		return sub
	}
	return ep.Dir
}

// Download fetches the tarball at the given URL, verifies its SHA-1 against
// expectedShasum, and extracts it into a temporary directory. The caller must
// call Cleanup() on the returned ExtractedPackage when done.
func Download(ctx context.Context, client *http.Client, tarballURL, expectedShasum string, limits Limits) (*ExtractedPackage, error) {
	if client == nil {
		client = http.DefaultClient
	}
	limits = limits.orDefault()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tarballURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading tarball: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tarball download returned status %d", resp.StatusCode)
	}

	hasher := sha1.New()
	limitedBody := io.LimitReader(resp.Body, limits.MaxTotalSize+1)
	reader := io.TeeReader(limitedBody, hasher)

	ep, err := extract(reader, limits)
	if err != nil {
		return nil, err
	}

	// Drain any remaining data so the hasher sees everything.
	io.Copy(io.Discard, reader)

	actualShasum := hex.EncodeToString(hasher.Sum(nil))
	if expectedShasum != "" && actualShasum != expectedShasum {
		ep.Cleanup()
		return nil, &ShasumMismatchError{Expected: expectedShasum, Actual: actualShasum}
	}

	return ep, nil
}

// ExtractFile extracts a local .tgz into a temporary directory.
func ExtractFile(path string, limits Limits) (*ExtractedPackage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ep, err := extract(f, limits.orDefault())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ep, nil
}

func extract(r io.Reader, limits Limits) (*ExtractedPackage, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer gz.Close()
	return extractTar(gz, limits)
}

func extractTar(gz io.Reader, limits Limits) (*ExtractedPackage, error) {
	tmpDir, err := os.MkdirTemp("", "npmfeat-tarball-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}

	ep := &ExtractedPackage{Dir: tmpDir}
	tr := tar.NewReader(gz)
	var totalSize int64
	fileCount := 0

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			ep.Cleanup()
			return nil, fmt.Errorf("reading tar: %w", err)
		}

		if header.Typeflag != tar.TypeReg {
			continue
		}

		fileCount++
		if err := validateLimits(limits, fileCount, header.Size, totalSize); err != nil {
			ep.Cleanup()
			return nil, err
		}
		totalSize += header.Size

		cleanName := sanitizePath(header.Name)
		if cleanName == "" {
			continue
		}

		if err := extractFile(ep, tr, tmpDir, cleanName, limits.MaxFileSize); err != nil {
			ep.Cleanup()
			return nil, err
		}
	}

	return ep, nil
}

func validateLimits(limits Limits, fileCount int, fileSize, totalSize int64) error {
	if fileCount > limits.MaxFiles {
		return fmt.Errorf("tarball exceeds maximum file count (%d)", limits.MaxFiles)
	}
	if fileSize > limits.MaxFileSize {
		return fmt.Errorf("file exceeds maximum size (%d bytes)", limits.MaxFileSize)
	}
	if totalSize+fileSize > limits.MaxTotalSize {
		return fmt.Errorf("tarball exceeds maximum total size (%d bytes)", limits.MaxTotalSize)
	}
	return nil
}

func extractFile(ep *ExtractedPackage, tr *tar.Reader, tmpDir, cleanName string, maxFileSize int64) error {
	destPath := filepath.Join(tmpDir, cleanName)

	if !strings.HasPrefix(filepath.Clean(destPath), filepath.Clean(tmpDir)+string(os.PathSeparator)) {
		return fmt.Errorf("path traversal detected: %q", cleanName)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("creating directory for %q: %w", cleanName, err)
	}

	f, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating file %q: %w", cleanName, err)
	}

	written, err := io.Copy(f, io.LimitReader(tr, maxFileSize))
	f.Close()
	if err != nil {
		return fmt.Errorf("writing file %q: %w", cleanName, err)
	}

	ep.Files = append(ep.Files, FileEntry{Path: cleanName, Size: written})
	return nil
}

// ShasumMismatchError is returned when the tarball shasum doesn't match.
type ShasumMismatchError struct {
	Expected string
	Actual   string
}

func (e *ShasumMismatchError) Error() string {
	return fmt.Sprintf("shasum mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// sanitizePath cleans a tar entry path. npm tarballs typically have a
// "package/" prefix; we strip it. Paths with ".." components are rejected.
func sanitizePath(name string) string {
	name = strings.TrimPrefix(name, "package/")
	name = filepath.Clean(name)

	if name == "." || name == "" || filepath.IsAbs(name) || strings.Contains(name, "..") {
		return ""
	}

	return name
}
