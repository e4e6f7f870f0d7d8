package tui

import (
	"context"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
)

// Run shows the progress screen while work runs. work reports packages
// through send. The context passed to work is cancelled when the user quits.
func Run(ctx context.Context, out io.Writer, total int, work func(ctx context.Context, send func(PackageDoneMsg)) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewModel(total, cancel), tea.WithOutput(out), tea.WithContext(ctx))

	errc := make(chan error, 1)
	go func() {
		err := work(ctx, func(msg PackageDoneMsg) { p.Send(msg) })
		p.Send(BatchDoneMsg{Err: err})
		errc <- err
	}()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	cancel()
	return <-errc
}
