package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/JothamWong/TrEnv-X/internal/agent"
	"github.com/JothamWong/TrEnv-X/internal/coder"
	"github.com/JothamWong/TrEnv-X/internal/config"
	"github.com/JothamWong/TrEnv-X/internal/sandbox"
	"github.com/JothamWong/TrEnv-X/internal/tui"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

type runOptions struct {
	template string
	kimi     bool
	apiKey   string
}

func newRootCmd() *cobra.Command {
	var opts runOptions

	root := &cobra.Command{
		Use:          "claude-coder",
		Short:        "Run Claude Code in a sandbox with a browser-based editor",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCoder(cmd, opts)
		},
	}

	root.Flags().StringVar(&opts.template, "template", "", "Sandbox template to use")
	root.Flags().BoolVar(&opts.kimi, "kimi", false, "Use kimi api")
	root.Flags().StringVar(&opts.apiKey, "api-key", "", "API key")

	root.AddCommand(initCmd())
	root.AddCommand(purgeCmd())
	return root
}

func runCoder(cmd *cobra.Command, opts runOptions) error {
	projectDir, err := os.Getwd()
	if err != nil {
		return err
	}

	cfg, err := config.LoadOrDefault(projectDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	stderr := cmd.ErrOrStderr()
	logger := newLogger(stderr)
	client := sandbox.NewClient(projectDir, cfg, logger)

	// Flags win over configured defaults.
	env := maps.Clone(cfg.Defaults.Env)
	if env == nil {
		env = map[string]string{}
	}
	maps.Copy(env, agent.Env(agent.Options{Kimi: opts.kimi, APIKey: opts.apiKey}))

	template := opts.template
	if template == "" {
		template = cfg.Defaults.Template
	}

	createOpts := coder.Options{
		Template:   template,
		Cwd:        cfg.Defaults.Cwd,
		EnvVars:    env,
		Timeout:    cfg.Backend.Timeout,
		TargetAddr: cfg.Backend.Addr,
		Logger:     logger,
	}

	ctx := cmd.Context()
	interactive := isTerminal(stderr)

	var c *coder.Coder
	if interactive {
		err = tui.Run(ctx, stderr, func(ctx context.Context, report func(string)) error {
			createOpts.Progress = report
			var err error
			c, err = coder.Create(ctx, client, createOpts)
			return err
		})
	} else {
		createOpts.Progress = func(phase string) { logger.Debug(phase) }
		c, err = coder.Create(ctx, client, createOpts)
	}
	if err != nil {
		return closeOnError(ctx, c, err)
	}

	url := c.EditorURL()
	logger.Info("claude coder started", "template", c.Template(), "url", url)
	if interactive {
		tui.Report(cmd.OutOrStdout(), c.Template(), url)
	}

	// Tear down even if the run was interrupted after creation.
	return c.Close(context.WithoutCancel(ctx))
}

// closeOnError tears down c, if the run got as far as creating it, and
// returns err together with any teardown failure.
func closeOnError(ctx context.Context, c *coder.Coder, err error) error {
	if c == nil {
		return err
	}
	return errors.Join(err, c.Close(context.WithoutCancel(ctx)))
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default .trenv/config.yaml for the current project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			projectDir, err := os.Getwd()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if config.Exists(projectDir) {
				fmt.Fprintln(out, "Already initialized in this project.")
				return nil
			}

			cfg := config.Default()
			cfg.Backend = config.Backend{
				Addr:    sandbox.BackendAddr,
				Domain:  sandbox.DefaultDomain,
				Timeout: sandbox.DefaultTimeout,
			}
			cfg.Defaults.Template = coder.DefaultTemplate

			if err := config.Save(projectDir, cfg); err != nil {
				return fmt.Errorf("saving config: %w", err)
			}

			if err := updateGitignore(projectDir); err != nil {
				return fmt.Errorf("updating .gitignore: %w", err)
			}

			fmt.Fprintf(out, "Initialized %s\n", filepath.Join(config.Dir, config.ConfigFile))
			fmt.Fprintf(out, "  Backend: %s\n", cfg.Backend.Addr)
			fmt.Fprintf(out, "  Template: %s\n", cfg.Defaults.Template)
			return nil
		},
	}
}

func purgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Tear down sandboxes left behind by interrupted or failed runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			projectDir, err := os.Getwd()
			if err != nil {
				return err
			}

			cfg, err := config.LoadOrDefault(projectDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			client := sandbox.NewClient(projectDir, cfg, newLogger(cmd.ErrOrStderr()))
			n, err := client.Purge(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d sandbox(es)\n", n)
			return err
		},
	}
}

func updateGitignore(projectDir string) error {
	gitignorePath := filepath.Join(projectDir, ".gitignore")
	entry := filepath.ToSlash(filepath.Join(config.Dir, config.StateFile))

	existing, _ := os.ReadFile(gitignorePath)
	content := string(existing)
	if strings.Contains(content, entry) {
		return nil
	}

	if len(content) > 0 && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += "\n# claude-coder\n" + entry + "\n"

	return os.WriteFile(gitignorePath, []byte(content), 0o644)
}

func newLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
