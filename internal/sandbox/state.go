package sandbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/JothamWong/TrEnv-X/internal/config"
)

// State is the ledger of sandboxes created from this project that have not
// been closed yet.
type State struct {
	Sandboxes map[string]*Record `json:"sandboxes"`
}

// Record is one ledger entry.
type Record struct {
	SandboxID  string    `json:"sandbox_id"`
	TemplateID string    `json:"template_id"`
	TargetAddr string    `json:"target_addr"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

func newState() *State {
	return &State{Sandboxes: make(map[string]*Record)}
}

func statePath(projectDir string) string {
	return filepath.Join(projectDir, config.Dir, config.StateFile)
}

func loadState(projectDir string) (*State, error) {
	path := statePath(projectDir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return newState(), nil
		}
		return nil, fmt.Errorf("reading state: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing state: %w", err)
	}
	if s.Sandboxes == nil {
		s.Sandboxes = make(map[string]*Record)
	}
	return &s, nil
}

func saveState(projectDir string, s *State) error {
	dir := filepath.Join(projectDir, config.Dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	return os.WriteFile(statePath(projectDir), data, 0o644)
}
