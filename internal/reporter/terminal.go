package reporter

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"

	"github.com/kluth/npm-feature-extractor/internal/features"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#F5C2E7")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#06B6D4")).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))

	raisedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	cleanStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7C3AED")).
			Padding(0, 1)
)

func (r *Reporter) renderTerminal(report Report) error {
	w := r.writer
	rec := &report.Features

	header := titleStyle.Render(displayID(rec))
	if report.Source != "" {
		header += "\n" + mutedStyle.Render(report.Source)
	}
	fmt.Fprintln(w, boxStyle.Render(header))

	field := func(label, value string) {
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render(label+":"), value)
	}
	field("Dependencies", fmt.Sprintf("%d (%d dev)", rec.DependencyCount, rec.DevDependencyCount))
	field("Files", fmt.Sprintf("%d visited, %d analyzed, %d oversize, %d parse failures",
		rec.Stats.FilesVisited, rec.Stats.FilesAnalyzed, rec.Stats.FilesOversized, rec.Stats.ParseFailures))
	field("Syntax nodes", fmt.Sprintf("%.1f per file", rec.Stats.AverageSyntaxNodes()))
	for _, cmd := range rec.InstallCommands {
		field("Install", cmd)
	}
	fmt.Fprintln(w)

	raised := rec.Raised()
	if len(raised) == 0 {
		fmt.Fprintln(w, "  "+cleanStyle.Render("No features raised."))
		fmt.Fprintln(w)
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Feature", "Positions", "First location"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_CENTER, tablewriter.ALIGN_LEFT})
	for _, f := range raised {
		pos := report.Positions.Get(f)
		first := ""
		if len(pos) > 0 {
			first = FormatPosition(pos[0])
		}
		table.Append([]string{raisedStyle.Render(f.Key()), strconv.Itoa(len(pos)), first})
	}
	table.SetFooter([]string{fmt.Sprintf("%d/%d raised", len(raised), len(features.AllFlags())), "", ""})
	table.Render()
	fmt.Fprintln(w)
	return nil
}

// RenderSummary writes one table row per report.
func (r *Reporter) RenderSummary(reports []Report) error {
	table := tablewriter.NewWriter(r.writer)
	table.SetHeader([]string{"Package", "Install", "Raised", "Files", "Source"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_CENTER, tablewriter.ALIGN_CENTER,
		tablewriter.ALIGN_CENTER, tablewriter.ALIGN_LEFT,
	})

	raisedTotal := 0
	for _, report := range reports {
		rec := &report.Features
		raised := len(rec.Raised())
		raisedTotal += raised
		table.Append([]string{
			displayID(rec),
			strconv.FormatBool(rec.Has(features.HasInstallScripts)),
			strconv.Itoa(raised),
			strconv.Itoa(rec.Stats.FilesVisited),
			report.Source,
		})
	}
	table.SetFooter([]string{fmt.Sprintf("%d packages", len(reports)), "", strconv.Itoa(raisedTotal), "", ""})
	table.Render()
	return nil
}
