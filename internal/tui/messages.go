package tui

// phaseMsg carries a progress update from the running task.
type phaseMsg string

// doneMsg is sent when the task returns.
type doneMsg struct {
	err error
}
