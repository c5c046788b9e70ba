package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JothamWong/TrEnv-X/internal/coder"
	"github.com/JothamWong/TrEnv-X/internal/config"
	"github.com/JothamWong/TrEnv-X/internal/sandbox"
	"github.com/JothamWong/TrEnv-X/internal/sandbox/sandboxtest"
)

// setupProject points a project directory at srv and makes it the working
// directory for the rest of the test.
func setupProject(t *testing.T, srv *sandboxtest.Server) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Backend.Addr = srv.URL
	cfg.Backend.Domain = srv.Domain()
	require.NoError(t, config.Save(dir, cfg))
	t.Chdir(dir)
	return dir
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRunNoFlags(t *testing.T) {
	srv := sandboxtest.NewServer(t)
	setupProject(t, srv)

	_, stderr, err := execute(t)
	require.NoError(t, err)

	creates := srv.Creates()
	require.Len(t, creates, 1)
	assert.Equal(t, coder.DefaultTemplate, creates[0].TemplateID)
	assert.Empty(t, creates[0].EnvVars)

	wantURL := "http://" + srv.Domain() + "/" + sandboxtest.DefaultPrivateIP + "/3000/"
	assert.Contains(t, stderr, "template="+coder.DefaultTemplate)
	assert.Contains(t, stderr, wantURL)

	assert.Len(t, srv.Kills(), 1)
	assert.Equal(t, []string{"sbx-1"}, srv.Deletes())
}

func TestRunFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantEnv map[string]string
	}{
		{"kimi", []string{"--kimi"}, map[string]string{
			"ANTHROPIC_BASE_URL": "https://api.moonshot.cn/anthropic/",
		}},
		{"api key", []string{"--api-key", "X"}, map[string]string{
			"ANTHROPIC_API_KEY": "X",
		}},
		{"both", []string{"--api-key", "X", "--kimi"}, map[string]string{
			"ANTHROPIC_BASE_URL": "https://api.moonshot.cn/anthropic/",
			"ANTHROPIC_API_KEY":  "X",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := sandboxtest.NewServer(t)
			setupProject(t, srv)

			_, _, err := execute(t, tt.args...)
			require.NoError(t, err)

			creates := srv.Creates()
			require.Len(t, creates, 1)
			assert.Equal(t, tt.wantEnv, creates[0].EnvVars)
		})
	}
}

func TestRunTemplateFlag(t *testing.T) {
	srv := sandboxtest.NewServer(t)
	setupProject(t, srv)

	_, stderr, err := execute(t, "--template", "claude-code-large")
	require.NoError(t, err)

	creates := srv.Creates()
	require.Len(t, creates, 1)
	assert.Equal(t, "claude-code-large", creates[0].TemplateID)
	assert.Contains(t, stderr, "template=claude-code-large")
}

func TestRunConfigDefaults(t *testing.T) {
	srv := sandboxtest.NewServer(t)
	dir := setupProject(t, srv)

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	cfg.Defaults.Template = "team-template"
	cfg.Defaults.Env = map[string]string{"ANTHROPIC_API_KEY": "from-config", "TZ": "UTC"}
	require.NoError(t, config.Save(dir, cfg))

	_, _, err = execute(t, "--api-key", "from-flag")
	require.NoError(t, err)

	creates := srv.Creates()
	require.Len(t, creates, 1)
	assert.Equal(t, "team-template", creates[0].TemplateID)
	assert.Equal(t, map[string]string{"ANTHROPIC_API_KEY": "from-flag", "TZ": "UTC"}, creates[0].EnvVars)
}

func TestRunSandboxNotRunning(t *testing.T) {
	srv := sandboxtest.NewServer(t)
	srv.SetPrivateIP("")
	setupProject(t, srv)

	_, _, err := execute(t)
	require.ErrorIs(t, err, coder.ErrSandboxNotRunning)
	assert.Empty(t, srv.Starts())

	// The leftover sandbox can be purged afterwards.
	stdout, _, err := execute(t, "purge")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Purged 1 sandbox(es)")
	assert.Equal(t, []string{"sbx-1"}, srv.Deletes())
}

func TestCloseOnError(t *testing.T) {
	srv := sandboxtest.NewServer(t)
	dir := setupProject(t, srv)

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := sandbox.NewClient(dir, cfg, logger)

	c, err := coder.Create(context.Background(), client, coder.Options{TargetAddr: srv.URL, Logger: logger})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	uiErr := errors.New("TUI error: terminal went away")
	err = closeOnError(ctx, c, uiErr)
	require.ErrorIs(t, err, uiErr)
	assert.Equal(t, []string{c.Sandbox().ID()}, srv.Deletes())
	assert.Empty(t, client.Records())

	assert.Equal(t, uiErr, closeOnError(ctx, nil, uiErr))
}

func TestRejectsUnknownFlags(t *testing.T) {
	srv := sandboxtest.NewServer(t)
	setupProject(t, srv)

	_, _, err := execute(t, "--verbose")
	require.Error(t, err)
	assert.Empty(t, srv.Creates())
}

func TestInit(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	stdout, _, err := execute(t, "init")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Initialized")
	assert.True(t, config.Exists(dir))

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, coder.DefaultTemplate, cfg.Defaults.Template)
	assert.Equal(t, "localhost:5000", cfg.Backend.Addr)

	gitignore, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
	require.NoError(t, err)
	assert.Contains(t, string(gitignore), ".trenv/state.json")

	stdout, _, err = execute(t, "init")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Already initialized")
}

func TestUpdateGitignoreKeepsExistingEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".gitignore")
	require.NoError(t, os.WriteFile(path, []byte("node_modules/"), 0o644))

	require.NoError(t, updateGitignore(dir))
	require.NoError(t, updateGitignore(dir))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.True(t, strings.HasPrefix(content, "node_modules/\n"))
	assert.Equal(t, 1, strings.Count(content, ".trenv/state.json"))
}
