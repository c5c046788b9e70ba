package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestUpdatePhase(t *testing.T) {
	m := newModel()

	next, cmd := m.Update(phaseMsg("Provisioning sandbox..."))
	got := next.(model)
	if got.phase != "Provisioning sandbox..." {
		t.Errorf("phase = %q, want %q", got.phase, "Provisioning sandbox...")
	}
	if cmd != nil {
		t.Error("phase update should not schedule a command")
	}
	if !strings.Contains(got.View(), "Provisioning sandbox...") {
		t.Errorf("View() = %q, want it to contain the phase", got.View())
	}
}

func TestUpdateDone(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantView string
	}{
		{"success", nil, ""},
		{"failure", errors.New("sandbox is not running"), "sandbox is not running"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, cmd := newModel().Update(doneMsg{err: tt.err})
			got := next.(model)
			if !got.done {
				t.Error("done = false, want true")
			}
			if cmd == nil {
				t.Fatal("expected quit command")
			}
			if _, ok := cmd().(tea.QuitMsg); !ok {
				t.Errorf("cmd() = %T, want tea.QuitMsg", cmd())
			}
			if tt.wantView == "" && got.View() != "" {
				t.Errorf("View() = %q, want empty", got.View())
			}
			if !strings.Contains(got.View(), tt.wantView) {
				t.Errorf("View() = %q, want it to contain %q", got.View(), tt.wantView)
			}
		})
	}
}

func TestUpdateInterrupt(t *testing.T) {
	next, cmd := newModel().Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	got := next.(model)
	if !got.interrupted {
		t.Error("interrupted = false, want true")
	}
	if cmd == nil {
		t.Fatal("expected quit command")
	}

	next, cmd = newModel().Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if next.(model).interrupted || cmd != nil {
		t.Error("only ctrl+c should interrupt")
	}
}
