package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kluth/npm-feature-extractor/internal/features"
)

// Formats
const (
	FormatTerminal = "terminal"
	FormatJSON     = "json"
	FormatYAML     = "yaml"
	FormatMarkdown = "markdown"
	FormatCSV      = "csv"
	FormatPDF      = "pdf"
)

// Formats lists the supported output formats.
func Formats() []string {
	return []string{FormatTerminal, FormatJSON, FormatYAML, FormatMarkdown, FormatCSV, FormatPDF}
}

// ValidFormat reports whether format is supported.
func ValidFormat(format string) bool {
	for _, f := range Formats() {
		if f == format {
			return true
		}
	}
	return false
}

// Report is the extraction result of one package, ready for rendering.
type Report struct {
	// Source is the scanned directory, archive or registry spec.
	Source      string                     `json:"source,omitempty" yaml:"source,omitempty"`
	Features    features.Record            `json:"features" yaml:"features"`
	Positions   *features.PositionRecorder `json:"positions" yaml:"positions"`
	ExtractedAt string                     `json:"extractedAt" yaml:"extractedAt"`
}

// NewReport stamps a report with the current time.
func NewReport(source string, rec features.Record, positions *features.PositionRecorder) Report {
	if positions == nil {
		positions = features.NewPositionRecorder(0)
	}
	return Report{
		Source:      source,
		Features:    rec,
		Positions:   positions,
		ExtractedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// Reporter outputs extraction results to a writer.
type Reporter struct {
	writer io.Writer
	format string
}

// New creates a new Reporter.
func New(w io.Writer, format string) *Reporter {
	if format == "" {
		format = FormatTerminal
	}
	return &Reporter{writer: w, format: format}
}

// Render outputs the report.
func (r *Reporter) Render(report Report) error {
	switch r.format {
	case FormatJSON:
		return r.renderJSON(report)
	case FormatYAML:
		return r.renderYAML(report)
	case FormatMarkdown:
		return r.renderMarkdown(report)
	case FormatCSV:
		return WriteFeatureCSV(r.writer, &report.Features)
	case FormatPDF:
		return r.renderPDF([]Report{report})
	case FormatTerminal:
		return r.renderTerminal(report)
	default:
		return fmt.Errorf("unknown format %q", r.format)
	}
}

// RenderBatch outputs several reports. Terminal output ends with a summary
// table; JSON and YAML emit a single list document.
func (r *Reporter) RenderBatch(reports []Report) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.writer)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	case FormatYAML:
		enc := yaml.NewEncoder(r.writer)
		enc.SetIndent(2)
		if err := enc.Encode(reports); err != nil {
			return err
		}
		return enc.Close()
	case FormatPDF:
		return r.renderPDF(reports)
	case FormatTerminal:
		for _, report := range reports {
			if err := r.renderTerminal(report); err != nil {
				return err
			}
		}
		return r.RenderSummary(reports)
	}

	for i, report := range reports {
		if i > 0 && r.format == FormatMarkdown {
			fmt.Fprint(r.writer, "\n---\n\n")
		}
		if err := r.Render(report); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reporter) renderJSON(report Report) error {
	enc := json.NewEncoder(r.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func (r *Reporter) renderYAML(report Report) error {
	enc := yaml.NewEncoder(r.writer)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return err
	}
	return enc.Close()
}

func (r *Reporter) renderMarkdown(report Report) error {
	w := r.writer
	rec := &report.Features
	fmt.Fprintf(w, "# Feature report: %s\n\n", displayID(rec))
	if report.Source != "" {
		fmt.Fprintf(w, "- **Source**: `%s`\n", report.Source)
	}
	fmt.Fprintf(w, "- **Dependencies**: %d\n", rec.DependencyCount)
	fmt.Fprintf(w, "- **Dev dependencies**: %d\n", rec.DevDependencyCount)
	fmt.Fprintf(w, "- **Files visited**: %d (%d analyzed, %d oversize, %d parse failures)\n",
		rec.Stats.FilesVisited, rec.Stats.FilesAnalyzed, rec.Stats.FilesOversized, rec.Stats.ParseFailures)

	if len(rec.InstallCommands) > 0 {
		fmt.Fprintf(w, "\n## Install scripts\n\n")
		for _, cmd := range rec.InstallCommands {
			fmt.Fprintf(w, "- `%s`\n", cmd)
		}
	}

	raised := rec.Raised()
	fmt.Fprintf(w, "\n## Features (%d/%d raised)\n\n", len(raised), len(features.AllFlags()))
	if len(raised) == 0 {
		fmt.Fprintf(w, "> No features raised.\n\n")
	} else {
		fmt.Fprintf(w, "| Feature | Description | Positions | First location |\n")
		fmt.Fprintf(w, "|---|---|---|---|\n")
		for _, f := range raised {
			pos := report.Positions.Get(f)
			first := ""
			if len(pos) > 0 {
				first = FormatPosition(pos[0])
			}
			fmt.Fprintf(w, "| `%s` | %s | %d | %s |\n", f.Key(), Describe(f), len(pos), escapeCell(first))
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "*Extracted at %s*\n", report.ExtractedAt)
	return nil
}

// FormatPosition renders a position as path:line:col or path: "literal".
func FormatPosition(p features.Position) string {
	if p.Range != nil {
		return fmt.Sprintf("%s:%d:%d", p.FilePath, p.Range.Start.Line, p.Range.Start.Column)
	}
	return fmt.Sprintf("%s: %q", p.FilePath, truncate(p.Literal, 60))
}

func displayID(rec *features.Record) string {
	if rec.PackageName == "" && rec.Version == "" {
		return "(unnamed package)"
	}
	return rec.ID()
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

var descriptions = map[features.Flag]string{
	features.HasInstallScripts:                  "Defines a preinstall, install or postinstall hook",
	features.ContainIP:                          "Contains an IPv4 address",
	features.UseBase64Conversion:                "Converts to or from base64",
	features.UseBase64ConversionInInstallScript: "Install script converts to or from base64",
	features.ContainBase64StringInJSFile:        "Contains a base64 encoded string",
	features.ContainBase64StringInInstallScript: "Install script contains a base64 encoded string",
	features.ContainBytestring:                  "Contains an escaped hex byte string",
	features.ContainDomainInJSFile:              "Contains a domain name",
	features.ContainDomainInInstallScript:       "Install script contains a domain name",
	features.UseBuffer:                          "Uses Buffer",
	features.UseEval:                            "Uses eval",
	features.RequireChildProcessInJSFile:        "Requires child_process",
	features.RequireChildProcessInInstallScript: "Install script requires child_process",
	features.AccessFSInJSFile:                   "Accesses the filesystem",
	features.AccessFSInInstallScript:            "Install script accesses the filesystem",
	features.AccessNetworkInJSFile:              "Accesses the network",
	features.AccessNetworkInInstallScript:       "Install script accesses the network",
	features.AccessProcessEnvInJSFile:           "Reads process.env",
	features.AccessProcessEnvInInstallScript:    "Install script reads process.env",
	features.ContainSuspiciousString:            "Contains a sensitive path or command",
	features.AccessCryptoAndZip:                 "Uses crypto or compression",
	features.AccessSensitiveAPI:                 "Calls an os module API",
}

// Describe returns a one-line description of f.
func Describe(f features.Flag) string {
	if d, ok := descriptions[f]; ok {
		return d
	}
	return f.Key()
}
