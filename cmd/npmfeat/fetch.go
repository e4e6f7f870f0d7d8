package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kluth/npm-feature-extractor/internal/extract"
	"github.com/kluth/npm-feature-extractor/internal/registry"
	"github.com/kluth/npm-feature-extractor/internal/reporter"
	"github.com/kluth/npm-feature-extractor/internal/tarball"
)

func newFetchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <name[@version]>...",
		Short: "Download packages from the npm registry and extract their features",
		Long: `Fetch resolves each package (latest when no version is given), downloads
its tarball, verifies the shasum and extracts the features without installing
anything. Positions are reported under "name@version/".`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runFetch(cmd.Context(), args)
		},
	}
}

func (a *app) runFetch(ctx context.Context, specs []string) error {
	client := registry.NewClient(a.cfg.RegistryURL, a.cfg.RegistryTimeout)
	ex, err := a.newExtractor(a.logger)
	if err != nil {
		return err
	}

	reports := make([]reporter.Report, 0, len(specs))
	for _, spec := range specs {
		report, err := a.fetchOne(ctx, client, ex, spec)
		if err != nil {
			return err
		}
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

func (a *app) fetchOne(ctx context.Context, client *registry.Client, ex *extract.Extractor, spec string) (reporter.Report, error) {
	name, version, err := registry.ParseSpec(spec)
	if err != nil {
		return reporter.Report{}, err
	}
	pv, err := client.GetVersion(ctx, name, version)
	if err != nil {
		return reporter.Report{}, err
	}

	id := name + "@" + pv.Version
	a.logger.Debug("downloading tarball", "package", id, "url", pv.Dist.Tarball)
	ep, err := tarball.Download(ctx, client.HTTPClient(), pv.Dist.Tarball, pv.Dist.Shasum, a.cfg.Archive)
	if err != nil {
		return reporter.Report{}, fmt.Errorf("%s: %w", id, err)
	}
	defer ep.Cleanup()

	res, err := ex.ExtractExtracted(ctx, ep, id)
	if err != nil {
		return reporter.Report{}, fmt.Errorf("%s: %w", id, err)
	}
	return reporter.NewReport(id, res.Features, res.Positions), nil
}
