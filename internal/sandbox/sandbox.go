package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const (
	// SandboxPort is the port of the process daemon running inside every sandbox.
	SandboxPort = 49982

	// DefaultTimeout bounds sandbox creation when Options.Timeout is unset.
	DefaultTimeout = 60 * time.Second

	// BackendAddr is the default address of the sandbox backend.
	BackendAddr = "localhost:5000"

	// DefaultDomain is the default host of the reverse proxy in front of sandboxes.
	DefaultDomain = "localhost"
)

// ErrClosed is returned by operations on a sandbox that has been closed.
var ErrClosed = errors.New("sandbox is closed")

// Status represents the lifecycle state of a sandbox.
type Status string

const (
	StatusCreating Status = "creating"
	StatusRunning  Status = "running"
	StatusClosed   Status = "closed"
	StatusError    Status = "error"
)

// Info is the handle the backend returns for a provisioned sandbox.
type Info struct {
	SandboxID  string `json:"sandboxID"`
	TemplateID string `json:"templateID"`
	ClientID   string `json:"clientID"`
	PrivateIP  string `json:"privateIP"`
}

// ProcessMessage is a single line of output from a sandbox process.
type ProcessMessage struct {
	Line      string
	Error     bool
	Timestamp time.Time
}

// Options configures sandbox creation.
type Options struct {
	Template string
	Cwd      string
	EnvVars  map[string]string
	Timeout  time.Duration

	// Output callbacks. Processes started without their own callbacks use these.
	OnStdout func(ProcessMessage)
	OnStderr func(ProcessMessage)
	OnExit   func(exitCode int)

	TargetAddr string
}

// Sandbox is a running sandbox provisioned through a Client.
type Sandbox struct {
	client     *Client
	targetAddr string
	privateIP  string
	id         string

	onStdout func(ProcessMessage)
	onStderr func(ProcessMessage)
	onExit   func(int)

	// closeMu serializes teardown attempts.
	closeMu sync.Mutex

	mu     sync.Mutex
	info   *Info
	status Status
	procs  map[string]*Process
}

// Info returns the sandbox handle, or nil once the sandbox is closed.
func (s *Sandbox) Info() *Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info == nil {
		return nil
	}
	info := *s.info
	return &info
}

// ID returns the backend-assigned sandbox ID.
func (s *Sandbox) ID() string { return s.id }

// Status returns the current lifecycle state.
func (s *Sandbox) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Protocol returns the URL scheme used to reach services inside the sandbox.
func (s *Sandbox) Protocol() string {
	if s.client.secure {
		return "https"
	}
	return "http"
}

// AddrForPort returns the proxy address of a port inside the sandbox, without
// scheme. The proxy routes by the /<private-ip>/<port> path prefix.
func (s *Sandbox) AddrForPort(port int) string {
	return fmt.Sprintf("%s/%s/%d", s.client.domain, s.privateIP, port)
}

func (s *Sandbox) envdURL(path string) string {
	return s.Protocol() + "://" + s.AddrForPort(SandboxPort) + path
}

// Close tears the sandbox down. It is safe to call more than once; once the
// backend has confirmed the teardown, later calls return nil. A failed
// teardown leaves the sandbox in StatusError so Close can be retried.
func (s *Sandbox) Close(ctx context.Context) error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.Status() == StatusClosed {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	err := s.client.call(ctx, http.MethodDelete, backendURL(s.targetAddr, "/sandboxes/"+s.id), nil, nil)
	if err != nil && !IsNotFound(err) {
		s.mu.Lock()
		s.status = StatusError
		s.mu.Unlock()
		return fmt.Errorf("closing sandbox %s: %w", s.id, err)
	}
	if err != nil {
		s.client.log.Debug("sandbox already gone", "sandbox_id", s.id)
	}

	s.mu.Lock()
	s.status = StatusClosed
	s.info = nil
	procs := s.procs
	s.procs = nil
	s.mu.Unlock()

	for _, p := range procs {
		p.stopStream()
	}

	s.client.forget(s.id)
	s.client.log.Info("sandbox closed", "sandbox_id", s.id)
	return nil
}
