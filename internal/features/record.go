package features

import (
	"encoding/json"
	"strconv"
)

// Stats holds the scan counters that are not part of the classifier input.
type Stats struct {
	// FilesVisited counts every selected file, including oversize ones.
	FilesVisited int `json:"filesVisited" yaml:"filesVisited"`
	// FilesAnalyzed counts files whose content reached the detectors.
	FilesAnalyzed int `json:"filesAnalyzed" yaml:"filesAnalyzed"`
	// FilesOversized counts files skipped by the size ceiling.
	FilesOversized int `json:"filesOversized" yaml:"filesOversized"`
	// ParseFailures counts files the syntax analyzer could not parse.
	ParseFailures int `json:"parseFailures" yaml:"parseFailures"`
	// SyntaxNodes is the total number of syntax nodes traversed.
	SyntaxNodes int `json:"syntaxNodes" yaml:"syntaxNodes"`
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.FilesVisited += other.FilesVisited
	s.FilesAnalyzed += other.FilesAnalyzed
	s.FilesOversized += other.FilesOversized
	s.ParseFailures += other.ParseFailures
	s.SyntaxNodes += other.SyntaxNodes
}

// AverageSyntaxNodes returns the mean number of syntax nodes per analyzed
// file, or 0 when nothing was analyzed.
func (s Stats) AverageSyntaxNodes() float64 {
	if s.FilesAnalyzed == 0 {
		return 0
	}
	return float64(s.SyntaxNodes) / float64(s.FilesAnalyzed)
}

// Record is the fixed-schema feature vector of one package.
type Record struct {
	// PackageName is the manifest "name", empty when absent.
	PackageName string
	// Version is the manifest "version", empty when absent.
	Version string
	// DependencyCount is the number of entries in "dependencies".
	DependencyCount int
	// DevDependencyCount is the number of entries in "devDependencies".
	DevDependencyCount int
	// InstallCommands are the raw lifecycle hook commands, pre/install/post.
	InstallCommands []string
	// ExecuteJSFiles are the resolved hook script paths.
	ExecuteJSFiles []string
	// Stats are the scan counters.
	Stats Stats

	flags [numFlags]bool
}

// Has reports whether f is raised.
func (r *Record) Has(f Flag) bool {
	if !f.valid() {
		return false
	}
	return r.flags[f]
}

// Set raises f. Raising an install-script variant also raises its general
// flag. Flags are never lowered.
func (r *Record) Set(f Flag) {
	if !f.valid() {
		return
	}
	r.flags[f] = true
	if g, ok := f.General(); ok {
		r.flags[g] = true
	}
}

// Raised returns the raised flags in declaration order.
func (r *Record) Raised() []Flag {
	var out []Flag
	for i, v := range r.flags {
		if v {
			out = append(out, Flag(i))
		}
	}
	return out
}

// ID returns the package identity "name@version".
func (r *Record) ID() string {
	return r.PackageName + "@" + r.Version
}

// Rows returns the feature CSV as ordered name/value pairs, one row per
// classifier column.
func (r *Record) Rows() [][2]string {
	rows := make([][2]string, 0, len(csvOrder))
	for _, f := range csvOrder {
		rows = append(rows, [2]string{f.Column(), strconv.FormatBool(r.Has(f))})
	}
	return rows
}

type recordJSON struct {
	PackageName        string          `json:"packageName"`
	Version            string          `json:"version"`
	DependencyCount    int             `json:"dependencyNumber"`
	DevDependencyCount int             `json:"devDependencyNumber"`
	InstallCommands    []string        `json:"installCommand"`
	ExecuteJSFiles     []string        `json:"executeJSFiles"`
	Stats              Stats           `json:"stats"`
	Flags              map[string]bool `json:"flags"`
}

func (r *Record) toJSON() recordJSON {
	flags := make(map[string]bool, numFlags)
	for i, v := range r.flags {
		flags[Flag(i).Key()] = v
	}
	cmds := r.InstallCommands
	if cmds == nil {
		cmds = []string{}
	}
	files := r.ExecuteJSFiles
	if files == nil {
		files = []string{}
	}
	return recordJSON{
		PackageName:        r.PackageName,
		Version:            r.Version,
		DependencyCount:    r.DependencyCount,
		DevDependencyCount: r.DevDependencyCount,
		InstallCommands:    cmds,
		ExecuteJSFiles:     files,
		Stats:              r.Stats,
		Flags:              flags,
	}
}

// MarshalJSON encodes the record with every flag present.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.toJSON())
}

// UnmarshalJSON decodes a record written by MarshalJSON.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Record{
		PackageName:        raw.PackageName,
		Version:            raw.Version,
		DependencyCount:    raw.DependencyCount,
		DevDependencyCount: raw.DevDependencyCount,
		InstallCommands:    raw.InstallCommands,
		ExecuteJSFiles:     raw.ExecuteJSFiles,
		Stats:              raw.Stats,
	}
	for key, v := range raw.Flags {
		f, err := ParseFlag(key)
		if err != nil {
			return err
		}
		if v {
			r.Set(f)
		}
	}
	return nil
}

// MarshalYAML mirrors the JSON layout.
func (r Record) MarshalYAML() (interface{}, error) {
	j := r.toJSON()
	return map[string]interface{}{
		"packageName":         j.PackageName,
		"version":             j.Version,
		"dependencyNumber":    j.DependencyCount,
		"devDependencyNumber": j.DevDependencyCount,
		"installCommand":      j.InstallCommands,
		"executeJSFiles":      j.ExecuteJSFiles,
		"stats":               j.Stats,
		"flags":               j.Flags,
	}, nil
}
