package sandbox

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/JothamWong/TrEnv-X/internal/config"
)

func TestStateLoadSave(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, config.Dir), 0o755)

	state := newState()
	state.Sandboxes["sbx-1"] = &Record{
		SandboxID:  "sbx-1",
		TemplateID: "claude-code",
		TargetAddr: "localhost:5000",
		Status:     StatusRunning,
		CreatedAt:  time.Now(),
	}

	if err := saveState(dir, state); err != nil {
		t.Fatalf("saveState: %v", err)
	}

	loaded, err := loadState(dir)
	if err != nil {
		t.Fatalf("loadState: %v", err)
	}

	rec, ok := loaded.Sandboxes["sbx-1"]
	if !ok {
		t.Fatal("sandbox 'sbx-1' not found in loaded state")
	}
	if rec.TemplateID != "claude-code" {
		t.Errorf("TemplateID = %q, want %q", rec.TemplateID, "claude-code")
	}
	if rec.Status != StatusRunning {
		t.Errorf("Status = %q, want %q", rec.Status, StatusRunning)
	}
	if rec.TargetAddr != "localhost:5000" {
		t.Errorf("TargetAddr = %q, want %q", rec.TargetAddr, "localhost:5000")
	}
}

func TestStateLoadMissing(t *testing.T) {
	dir := t.TempDir()
	state, err := loadState(dir)
	if err != nil {
		t.Fatalf("loadState: %v", err)
	}
	if len(state.Sandboxes) != 0 {
		t.Errorf("expected empty state, got %d sandboxes", len(state.Sandboxes))
	}
}

func TestStateLoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, config.Dir), 0o755)
	os.WriteFile(statePath(dir), []byte("{not json"), 0o644)

	if _, err := loadState(dir); err == nil {
		t.Error("expected error for corrupt state file")
	}
}
