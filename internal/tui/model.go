package tui

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// model is the Bubble Tea model for the creation progress view.
type model struct {
	spinner     spinner.Model
	phase       string
	done        bool
	err         error
	interrupted bool
}

func newModel() model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle
	return model{
		spinner: s,
		phase:   "Starting...",
	}
}

func (m model) Init() tea.Cmd {
	return m.spinner.Tick
}
