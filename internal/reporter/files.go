package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kluth/npm-feature-extractor/internal/features"
)

// FileStem names the output files of a record: "name@version" with the
// scope separator replaced so scoped packages stay in one directory.
func FileStem(rec *features.Record) string {
	stem := strings.ReplaceAll(rec.ID(), "/", "#")
	if stem == "@" {
		return "unnamed"
	}
	return stem
}

// WriteFeatureCSV writes the classifier input: one name,value row per
// feature column, no header.
func WriteFeatureCSV(w io.Writer, rec *features.Record) error {
	cw := csv.NewWriter(w)
	for _, row := range rec.Rows() {
		if err := cw.Write(row[:]); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WritePositions writes the position document, one key per feature.
func WritePositions(w io.Writer, positions *features.PositionRecorder) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(positions)
}

// SavedFiles are the paths written by Save.
type SavedFiles struct {
	Features  string `json:"features,omitempty"`
	Positions string `json:"positions,omitempty"`
}

// Save writes the feature CSV into featuresDir and the position document
// into positionsDir. An empty directory skips that file.
func Save(report Report, featuresDir, positionsDir string) (SavedFiles, error) {
	var out SavedFiles
	stem := FileStem(&report.Features)

	if featuresDir != "" {
		path := filepath.Join(featuresDir, stem+".csv")
		err := writeFile(path, func(w io.Writer) error {
			return WriteFeatureCSV(w, &report.Features)
		})
		if err != nil {
			return out, err
		}
		out.Features = path
	}

	if positionsDir != "" {
		path := filepath.Join(positionsDir, stem+".json")
		err := writeFile(path, func(w io.Writer) error {
			return WritePositions(w, report.Positions)
		})
		if err != nil {
			return out, err
		}
		out.Positions = path
	}
	return out, nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := fn(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
