package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JothamWong/TrEnv-X/internal/config"
)

const (
	requestTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10
)

// APIError is returned when the backend or the in-sandbox daemon answers with
// a non-2xx status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("sandbox api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("sandbox api: status %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client provisions sandboxes through the backend and keeps a ledger of the
// ones it created so that interrupted runs can be purged later.
type Client struct {
	mu         sync.Mutex
	projectDir string
	domain     string
	secure     bool
	httpClient *http.Client
	log        *slog.Logger
	state      *State
}

// NewClient creates a sandbox client for the project in projectDir.
func NewClient(projectDir string, cfg *config.Config, logger *slog.Logger) *Client {
	log := logger.With("component", "sandbox-client")
	state, err := loadState(projectDir)
	if err != nil {
		log.Warn("ignoring unreadable sandbox state", "error", err)
		state = newState()
	}
	domain := cfg.Backend.Domain
	if domain == "" {
		domain = DefaultDomain
	}
	return &Client{
		projectDir: projectDir,
		domain:     domain,
		secure:     cfg.Backend.Secure,
		httpClient: &http.Client{},
		log:        log,
		state:      state,
	}
}

type createRequest struct {
	TemplateID string            `json:"templateID"`
	Cwd        string            `json:"cwd,omitempty"`
	EnvVars    map[string]string `json:"envVars"`
	Timeout    int               `json:"timeout"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Create provisions a sandbox from opts.Template and waits for the backend to
// hand back its handle. The whole call is bounded by opts.Timeout.
func (c *Client) Create(ctx context.Context, opts Options) (*Sandbox, error) {
	if opts.Template == "" {
		return nil, errors.New("sandbox template is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.TargetAddr == "" {
		opts.TargetAddr = BackendAddr
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	req := createRequest{
		TemplateID: opts.Template,
		Cwd:        opts.Cwd,
		EnvVars:    opts.EnvVars,
		Timeout:    timeoutSeconds(opts.Timeout),
		Metadata:   map[string]string{"execution_id": uuid.NewString()},
	}

	var info Info
	if err := c.call(ctx, http.MethodPost, backendURL(opts.TargetAddr, "/sandboxes"), req, &info); err != nil {
		return nil, fmt.Errorf("creating sandbox from template %q: %w", opts.Template, err)
	}
	if info.SandboxID == "" {
		return nil, errors.New("backend returned a sandbox without an ID")
	}
	if info.TemplateID == "" {
		info.TemplateID = opts.Template
	}

	status := StatusRunning
	if info.PrivateIP == "" {
		status = StatusCreating
	}

	sbx := &Sandbox{
		client:     c,
		targetAddr: opts.TargetAddr,
		privateIP:  info.PrivateIP,
		id:         info.SandboxID,
		onStdout:   opts.OnStdout,
		onStderr:   opts.OnStderr,
		onExit:     opts.OnExit,
		info:       &info,
		status:     status,
		procs:      make(map[string]*Process),
	}

	c.record(&Record{
		SandboxID:  info.SandboxID,
		TemplateID: info.TemplateID,
		TargetAddr: opts.TargetAddr,
		Status:     status,
		CreatedAt:  time.Now(),
	})

	c.log.Info("sandbox created",
		"sandbox_id", info.SandboxID,
		"template", info.TemplateID,
		"private_ip", info.PrivateIP,
	)
	return sbx, nil
}

// Records returns the sandboxes in the ledger sorted by creation time.
func (c *Client) Records() []*Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reload()

	result := make([]*Record, 0, len(c.state.Sandboxes))
	for _, rec := range c.state.Sandboxes {
		result = append(result, rec)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// Purge tears down every sandbox still in the ledger and returns how many
// were removed. Sandboxes the backend no longer knows about count as removed.
func (c *Client) Purge(ctx context.Context) (int, error) {
	var (
		finalErr error
		purged   int
	)
	for _, rec := range c.Records() {
		err := func() error {
			ctx, cancel := context.WithTimeout(ctx, requestTimeout)
			defer cancel()
			return c.call(ctx, http.MethodDelete, backendURL(rec.TargetAddr, "/sandboxes/"+rec.SandboxID), nil, nil)
		}()
		if err != nil && !IsNotFound(err) {
			finalErr = errors.Join(finalErr, fmt.Errorf("purging sandbox %s: %w", rec.SandboxID, err))
			continue
		}
		c.forget(rec.SandboxID)
		purged++
		c.log.Info("purged sandbox", "sandbox_id", rec.SandboxID, "template", rec.TemplateID)
	}
	return purged, finalErr
}

func (c *Client) record(rec *Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reload()
	c.state.Sandboxes[rec.SandboxID] = rec
	c.persist()
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reload()
	if _, ok := c.state.Sandboxes[id]; !ok {
		return
	}
	delete(c.state.Sandboxes, id)
	c.persist()
}

// reload picks up ledger changes made by other runs in the same project.
// The in-memory copy is kept when the file cannot be read.
func (c *Client) reload() {
	state, err := loadState(c.projectDir)
	if err != nil {
		c.log.Warn("keeping cached sandbox state", "error", err)
		return
	}
	c.state = state
}

func (c *Client) persist() {
	if err := saveState(c.projectDir, c.state); err != nil {
		c.log.Warn("failed to save sandbox state", "error", err)
	}
}

// call sends a JSON request and decodes a JSON response into out, if given.
func (c *Client) call(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// timeoutSeconds converts d to the whole seconds the backend expects,
// rounding up so that sub-second timeouts do not become zero.
func timeoutSeconds(d time.Duration) int {
	return int((d + time.Second - 1) / time.Second)
}

// backendURL joins addr and path. Bare host:port addresses are reached over
// plain HTTP.
func backendURL(addr, path string) string {
	if strings.Contains(addr, "://") {
		return strings.TrimRight(addr, "/") + path
	}
	return "http://" + addr + path
}
