// Package coder provisions sandboxes that also run a browser-based editor
// (openvscode-server) reachable through the sandbox proxy.
package coder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/JothamWong/TrEnv-X/internal/sandbox"
)

const (
	// DefaultTemplate is the sandbox template used when none is given.
	DefaultTemplate = "claude-code"

	// EditorPort is the port openvscode-server listens on inside the sandbox.
	EditorPort = 3000

	homeDir    = "/home/user/"
	serverRoot = "/home/user/.openvscode-server"
)

// ErrSandboxNotRunning is returned when the base sandbox came back without a
// private address.
var ErrSandboxNotRunning = errors.New("sandbox is not running")

// Provisioner creates base sandboxes. *sandbox.Client implements it.
type Provisioner interface {
	Create(ctx context.Context, opts sandbox.Options) (*sandbox.Sandbox, error)
}

// ProgressFunc is called with status updates during creation.
type ProgressFunc func(phase string)

// Options configures Create. Everything except Template and Progress is
// passed through to the provisioner unchanged.
type Options struct {
	Template   string
	Cwd        string
	EnvVars    map[string]string
	Timeout    time.Duration
	OnStdout   func(sandbox.ProcessMessage)
	OnStderr   func(sandbox.ProcessMessage)
	OnExit     func(exitCode int)
	TargetAddr string

	Progress ProgressFunc
	Logger   *slog.Logger
}

// Coder is a sandbox with an editor server running inside it.
type Coder struct {
	sbx      *sandbox.Sandbox
	template string
	editor   *sandbox.Process
	log      *slog.Logger
}

// EditorEnv returns the environment the editor process is started with.
func EditorEnv() map[string]string {
	return map[string]string{
		"LANG":                   "C.UTF-8",
		"LC_ALL":                 "C.UTF-8",
		"EDITOR":                 "code",
		"VISUAL":                 "code",
		"GIT_EDITOR":             "code --wait",
		"OPENVSCODE_SERVER_ROOT": serverRoot,
	}
}

// EditorCommand builds the editor command line. The server root is left as a
// variable for the sandbox shell to expand; the base path matches the proxy
// route of the sandbox.
func EditorCommand(privateIP string, port int) string {
	cmd := []string{
		"${OPENVSCODE_SERVER_ROOT}/bin/openvscode-server",
		"--host 0.0.0.0",
		fmt.Sprintf("--port %d", port),
		"--without-connection-token",
		fmt.Sprintf("--server-base-path /%s/%d", privateIP, port),
	}
	return strings.Join(cmd, " ")
}

// Create provisions a sandbox and starts the editor server inside it.
//
// A sandbox that was provisioned but failed the running check or the editor
// start is not torn down here; it stays in the client ledger for purge.
func Create(ctx context.Context, p Provisioner, opts Options) (*Coder, error) {
	report := func(phase string) {
		if opts.Progress != nil {
			opts.Progress(phase)
		}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	template := opts.Template
	if template == "" {
		template = DefaultTemplate
	}

	report("Provisioning sandbox...")
	sbx, err := p.Create(ctx, sandbox.Options{
		Template:   template,
		Cwd:        opts.Cwd,
		EnvVars:    opts.EnvVars,
		Timeout:    opts.Timeout,
		OnStdout:   opts.OnStdout,
		OnStderr:   opts.OnStderr,
		OnExit:     opts.OnExit,
		TargetAddr: opts.TargetAddr,
	})
	if err != nil {
		return nil, err
	}

	info := sbx.Info()
	if info == nil || info.PrivateIP == "" {
		return nil, fmt.Errorf("sandbox %s: %w", sbx.ID(), ErrSandboxNotRunning)
	}

	report("Starting editor server...")
	editor, err := sbx.StartProcess(ctx, sandbox.ProcessOptions{
		Cmd:     EditorCommand(info.PrivateIP, EditorPort),
		EnvVars: EditorEnv(),
		Cwd:     homeDir,
	})
	if err != nil {
		return nil, fmt.Errorf("starting editor server: %w", err)
	}

	log.Debug("editor server started", "sandbox_id", sbx.ID(), "process_id", editor.ID)

	return &Coder{
		sbx:      sbx,
		template: template,
		editor:   editor,
		log:      log,
	}, nil
}

// Template returns the template the sandbox was created from.
func (c *Coder) Template() string { return c.template }

// Sandbox returns the underlying sandbox.
func (c *Coder) Sandbox() *sandbox.Sandbox { return c.sbx }

// Editor returns the editor server process.
func (c *Coder) Editor() *sandbox.Process { return c.editor }

// EditorURL returns the browser URL of the editor server.
func (c *Coder) EditorURL() string {
	return c.sbx.Protocol() + "://" + c.sbx.AddrForPort(EditorPort) + "/"
}

// Close stops the editor server and tears the sandbox down. A failure to stop
// the editor is logged and does not prevent the teardown.
func (c *Coder) Close(ctx context.Context) error {
	if c.editor != nil {
		if err := c.editor.Kill(ctx); err != nil {
			c.log.Warn("failed to stop editor server", "sandbox_id", c.sbx.ID(), "error", err)
		}
	}
	return c.sbx.Close(ctx)
}
