package tui

func (m model) View() string {
	switch {
	case m.interrupted:
		return errorStyle.Render("Interrupted, cancelling...") + "\n"
	case m.done && m.err != nil:
		return errorStyle.Render("Failed: "+m.err.Error()) + "\n"
	case m.done:
		return ""
	}
	return m.spinner.View() + " " + phaseStyle.Render(m.phase) + "\n"
}
