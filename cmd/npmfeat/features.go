package main

import (
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kluth/npm-feature-extractor/internal/features"
	"github.com/kluth/npm-feature-extractor/internal/reporter"
)

func newFeaturesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "features",
		Short: "List the extracted features",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			writeFeatureTable(a.stdout)
			return nil
		},
	}
}

// writeFeatureTable lists every feature in CSV row order.
func writeFeatureTable(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Key", "CSV column", "Install variant of", "Description"})
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetBorder(false)

	for _, f := range features.CSVFlags() {
		general := ""
		if g, ok := f.General(); ok {
			general = g.Key()
		}
		table.Append([]string{f.Key(), f.Column(), general, reporter.Describe(f)})
	}
	table.Render()
}
