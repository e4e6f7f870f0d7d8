package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kluth/npm-feature-extractor/internal/extract"
	"github.com/kluth/npm-feature-extractor/internal/reporter"
)

func newExtractCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "extract <path>...",
		Short: "Extract the features of package directories or .tgz archives",
		Long: `Extract scans each package directory (or npm .tgz archive), honoring its
package.json, and reports the feature record. All packages must succeed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runExtract(cmd.Context(), args)
		},
	}
}

func (a *app) runExtract(ctx context.Context, paths []string) error {
	ex, err := a.newExtractor(a.logger)
	if err != nil {
		return err
	}

	reports := make([]reporter.Report, 0, len(paths))
	for _, p := range paths {
		res, err := ex.ExtractTarget(ctx, extract.TargetFor(p), a.cfg.Archive)
		if err != nil {
			return fmt.Errorf("extracting %s: %w", p, err)
		}
		report := reporter.NewReport(p, res.Features, res.Positions)
		if err := a.save(report); err != nil {
			return err
		}
		reports = append(reports, report)
	}
	a.logCacheStats()

	if err := a.emit(reports); err != nil {
		return err
	}
	return a.enforce(reports)
}
