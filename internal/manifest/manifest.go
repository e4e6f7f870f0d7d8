// Package manifest reads the package.json of a package under analysis.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// FileName is the manifest file name inside a package directory.
const FileName = "package.json"

// InstallHooks are the lifecycle hooks that run on install, in run order.
var InstallHooks = []string{"preinstall", "install", "postinstall"}

// ErrNoManifest is returned when a package directory has no package.json.
var ErrNoManifest = errors.New("package.json not found")

// ScriptReference is a script file invoked by a lifecycle hook.
type ScriptReference struct {
	// Hook is the lifecycle hook name, e.g. "postinstall".
	Hook string `json:"hook"`
	// Command is the raw hook command the path was extracted from.
	Command string `json:"command"`
	// Path is the script path joined onto the manifest directory.
	Path string `json:"path"`
	// Exists reports whether Path names an existing file.
	Exists bool `json:"exists"`
}

// Manifest is the analysis view of a package.json.
type Manifest struct {
	// Path is the manifest file path.
	Path string
	// Name is the package name, empty when absent or not a string.
	Name string
	// Version is the package version, empty when absent or not a string.
	Version string
	// DependencyCount is the number of "dependencies" entries.
	DependencyCount int
	// DevDependencyCount is the number of "devDependencies" entries.
	DevDependencyCount int
	// InstallCommands are the install hook commands, pre/install/post.
	InstallCommands []string
	// References are the hook scripts extracted from InstallCommands.
	References []ScriptReference
}

// HasInstallScripts reports whether any install hook is defined.
func (m *Manifest) HasInstallScripts() bool {
	return len(m.InstallCommands) > 0
}

// ScriptPaths returns the paths of the hook scripts that exist.
func (m *Manifest) ScriptPaths() []string {
	var out []string
	for _, ref := range m.References {
		if ref.Exists {
			out = append(out, ref.Path)
		}
	}
	return out
}

type rawManifest struct {
	Name            json.RawMessage `json:"name"`
	Version         json.RawMessage `json:"version"`
	Dependencies    json.RawMessage `json:"dependencies"`
	DevDependencies json.RawMessage `json:"devDependencies"`
	Scripts         json.RawMessage `json:"scripts"`
}

// LoadDir reads the package.json in dir.
func LoadDir(dir string, logger *slog.Logger) (*Manifest, error) {
	return Load(filepath.Join(dir, FileName), logger)
}

// Load reads and decodes the manifest at path and resolves its hook
// scripts. Missing hook scripts are logged and marked as not existing.
func Load(path string, logger *slog.Logger) (*Manifest, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := ReadText(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoManifest, path)
		}
		return nil, err
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	m.Path = path
	m.resolveScripts(filepath.Dir(path), logger)
	return m, nil
}

// ReadText reads a file as UTF-8, dropping a leading byte order mark.
// UTF-16 content with a BOM is converted to UTF-8.
func ReadText(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	return io.ReadAll(transform.NewReader(f, dec))
}

// Parse decodes manifest JSON. Hook scripts are not resolved.
func Parse(data []byte) (*Manifest, error) {
	var raw rawManifest
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	m := &Manifest{
		Name:               jsonString(raw.Name),
		Version:            jsonString(raw.Version),
		DependencyCount:    objectLen(raw.Dependencies),
		DevDependencyCount: objectLen(raw.DevDependencies),
	}

	var scripts map[string]json.RawMessage
	if isObject(raw.Scripts) {
		if err := json.Unmarshal(raw.Scripts, &scripts); err != nil {
			return nil, err
		}
	}
	for _, hook := range InstallHooks {
		cmd := jsonString(scripts[hook])
		if cmd == "" {
			continue
		}
		m.InstallCommands = append(m.InstallCommands, cmd)
		if p, ok := ExtractScriptPath(cmd); ok {
			m.References = append(m.References, ScriptReference{Hook: hook, Command: cmd, Path: p})
		}
	}
	return m, nil
}

func (m *Manifest) resolveScripts(dir string, logger *slog.Logger) {
	for i := range m.References {
		ref := &m.References[i]
		ref.Path = filepath.Join(dir, ref.Path)
		info, err := os.Stat(ref.Path)
		if err != nil || info.IsDir() {
			logger.Warn("install script not found",
				"manifest", m.Path, "hook", ref.Hook, "script", ref.Path)
			continue
		}
		ref.Exists = true
	}
}

// scriptPathPattern captures the script argument of a node invocation,
// skipping interpreter flags.
var scriptPathPattern = regexp.MustCompile(
	`(?:^|[\s;&|(])node(?:js)?(?:\.exe)?\s+(?:-{1,2}[A-Za-z][\w-]*(?:=\S+)?\s+)*["']?([^\s"';&|()]+?\.(?:js|cjs|mjs))(?:["'\s;&|)]|$)`)

// ExtractScriptPath returns the script file of the first node invocation in
// a hook command.
func ExtractScriptPath(command string) (string, bool) {
	m := scriptPathPattern.FindStringSubmatch(command)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

func objectLen(raw json.RawMessage) int {
	if !isObject(raw) {
		return 0
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return 0
	}
	return len(m)
}

func jsonString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
