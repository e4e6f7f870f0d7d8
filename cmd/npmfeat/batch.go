package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kluth/npm-feature-extractor/internal/extract"
	"github.com/kluth/npm-feature-extractor/internal/reporter"
	"github.com/kluth/npm-feature-extractor/internal/tui"
)

func newBatchCmd(a *app) *cobra.Command {
	var interactive bool

	cmd := &cobra.Command{
		Use:   "batch <dir>",
		Short: "Extract the features of every package found under a directory",
		Long: `Batch discovers package directories (holding a package.json) and .tgz
archives under dir and extracts them concurrently. A package that fails is
reported and skipped; the command then exits with code 1.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBatch(cmd.Context(), args[0], interactive)
		},
	}

	cmd.Flags().IntP("concurrency", "c", defaultBatchConcurrency, "packages extracted concurrently")
	cmd.Flags().Int("depth", 0, "maximum discovery depth below dir (0 = unlimited)")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "show a progress screen")
	bindFlagToConfig(a.v, cmd.Flags().Lookup("concurrency"), batchConcurrencyKey)
	bindFlagToConfig(a.v, cmd.Flags().Lookup("depth"), batchDepthKey)
	return cmd
}

func (a *app) runBatch(ctx context.Context, root string, interactive bool) error {
	targets, err := extract.Discover(root, a.cfg.BatchDepth)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		a.logger.Warn("no packages found", "root", root)
		return nil
	}
	a.logger.Info("discovered packages", "root", root, "count", len(targets))

	// The progress screen owns the terminal, so per-package warnings go to
	// the diagnostics log instead.
	logger := a.logger
	if interactive {
		logger = a.diag
	}
	ex, err := a.newExtractor(logger)
	if err != nil {
		return err
	}

	results := make(map[string]extract.BatchResult, len(targets))
	collect := func(r extract.BatchResult) error {
		results[r.Target.Path] = r
		if r.Err != nil {
			return nil
		}
		return a.save(reporter.NewReport(r.Target.Path, r.Result.Features, r.Result.Positions))
	}

	if interactive {
		err = tui.Run(ctx, a.stderr, len(targets), func(ctx context.Context, send func(tui.PackageDoneMsg)) error {
			return ex.Batch(ctx, targets, a.cfg.BatchConcurrency, a.cfg.Archive, func(r extract.BatchResult) error {
				send(doneMsg(r))
				return collect(r)
			})
		})
	} else {
		err = ex.Batch(ctx, targets, a.cfg.BatchConcurrency, a.cfg.Archive, collect)
	}
	if err != nil {
		return err
	}
	a.logCacheStats()

	reports := make([]reporter.Report, 0, len(results))
	failed := 0
	for _, t := range targets {
		r, ok := results[t.Path]
		switch {
		case !ok:
		case r.Err != nil:
			failed++
			fmt.Fprintf(a.stderr, "failed: %v\n", r.Err)
		default:
			reports = append(reports, reporter.NewReport(t.Path, r.Result.Features, r.Result.Positions))
		}
	}

	if err := a.emit(reports); err != nil {
		return err
	}
	if err := a.enforce(reports); err != nil {
		return err
	}
	if failed > 0 {
		return &ExitError{Code: 1, Message: fmt.Sprintf("%d of %d packages failed", failed, len(targets))}
	}
	return nil
}

func doneMsg(r extract.BatchResult) tui.PackageDoneMsg {
	msg := tui.PackageDoneMsg{Path: r.Target.Path, Err: r.Err}
	if r.Result != nil {
		msg.ID = r.Result.Features.ID()
		msg.Raised = len(r.Result.Features.Raised())
	}
	return msg
}
