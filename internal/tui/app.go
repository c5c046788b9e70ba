package tui

import (
	"context"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
)

// Task is work run under the progress spinner. report updates the phase shown
// next to the spinner.
type Task func(ctx context.Context, report func(phase string)) error

// Run executes task while rendering a spinner on out. Pressing ctrl+c cancels
// the context handed to task; Run returns once task has returned.
func Run(ctx context.Context, out io.Writer, task Task) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newModel(), tea.WithOutput(out))

	errc := make(chan error, 1)
	go func() {
		err := task(ctx, func(phase string) { p.Send(phaseMsg(phase)) })
		errc <- err
		p.Send(doneMsg{err: err})
	}()

	_, runErr := p.Run()

	// Either the task is done already, or the user interrupted it.
	cancel()
	err := <-errc
	if runErr != nil {
		return fmt.Errorf("TUI error: %w", runErr)
	}
	return err
}

// Report prints the started editor in the style of the progress view.
func Report(w io.Writer, template, url string) {
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("template"), template)
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("editor  "), urlStyle.Render(url))
}
