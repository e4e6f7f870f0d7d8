package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(TitleStyle.Render("npmfeat batch"))
	b.WriteString("\n")

	status := fmt.Sprintf("%s Extracting %d/%d packages", m.spinner.View(), m.done, m.total)
	if m.finished {
		status = SuccessStyle.Render(fmt.Sprintf("Extracted %d/%d packages", m.done, m.total))
	}
	b.WriteString(status)
	b.WriteString("\n\n")
	b.WriteString(m.progress.ViewAs(m.percent()))
	b.WriteString("\n\n")

	var lines []string
	for _, r := range m.recent {
		name := filepath.Base(r.Path)
		if r.Err != nil {
			lines = append(lines, ErrorStyle.Render("✗ ")+name+MutedStyle.Render(": "+r.Err.Error()))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s %s %s",
			SuccessStyle.Render("✓"),
			r.ID,
			RaisedCountStyle(r.Raised).Render(fmt.Sprintf("(%d raised)", r.Raised))))
	}
	if len(lines) > 0 {
		b.WriteString(BoxStyle.Render(strings.Join(lines, "\n")))
		b.WriteString("\n")
	}

	elapsed := time.Since(m.start).Round(time.Second)
	b.WriteString(HelpStyle.Render(fmt.Sprintf("%d failed · %d features raised · %s · q to stop", m.failed, m.raised, elapsed)))
	if m.err != nil {
		b.WriteString("\n" + ErrorStyle.Render("Error: "+m.err.Error()))
	}
	b.WriteString("\n")
	return b.String()
}
