package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrStreamEnded is returned by Process.Wait when the output stream closed
// before the process reported an exit code.
var ErrStreamEnded = errors.New("process stream ended before exit")

// ProcessOptions configures a process started inside a sandbox. The command
// runs through the sandbox user's login shell, so ${VAR} references expand
// there. Nil callbacks fall back to the ones given when the sandbox was created.
type ProcessOptions struct {
	Cmd     string
	EnvVars map[string]string
	Cwd     string

	OnStdout func(ProcessMessage)
	OnStderr func(ProcessMessage)
	OnExit   func(exitCode int)
}

// Process is a handle to a process running inside a sandbox.
type Process struct {
	ID  string
	Cmd string

	sbx    *Sandbox
	cancel context.CancelFunc
	done   chan struct{}

	// Written by follow before done is closed.
	exited   bool
	exitCode int
	err      error
}

type startProcessRequest struct {
	Cmd  string            `json:"cmd"`
	Envs map[string]string `json:"envs,omitempty"`
	Cwd  string            `json:"cwd,omitempty"`
}

type startProcessResponse struct {
	ProcessID string `json:"processID"`
}

type processEvent struct {
	Type      string    `json:"type"`
	Line      string    `json:"line,omitempty"`
	ExitCode  int       `json:"exitCode,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StartProcess starts a background process in the sandbox and follows its
// output until it exits, the process is killed, or the sandbox is closed.
func (s *Sandbox) StartProcess(ctx context.Context, opts ProcessOptions) (*Process, error) {
	if s.Info() == nil {
		return nil, ErrClosed
	}
	if s.privateIP == "" {
		return nil, fmt.Errorf("sandbox %s has no private address", s.id)
	}
	if opts.OnStdout == nil {
		opts.OnStdout = s.onStdout
	}
	if opts.OnStderr == nil {
		opts.OnStderr = s.onStderr
	}
	if opts.OnExit == nil {
		opts.OnExit = s.onExit
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var resp startProcessResponse
	req := startProcessRequest{Cmd: opts.Cmd, Envs: opts.EnvVars, Cwd: opts.Cwd}
	if err := s.client.call(reqCtx, http.MethodPost, s.envdURL("/processes"), req, &resp); err != nil {
		return nil, fmt.Errorf("starting process in sandbox %s: %w", s.id, err)
	}
	if resp.ProcessID == "" {
		return nil, fmt.Errorf("sandbox %s returned a process without an ID", s.id)
	}

	streamCtx, stop := context.WithCancel(context.Background())
	p := &Process{
		ID:     resp.ProcessID,
		Cmd:    opts.Cmd,
		sbx:    s,
		cancel: stop,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if s.status == StatusClosed {
		s.mu.Unlock()
		stop()
		return nil, ErrClosed
	}
	s.procs[p.ID] = p
	s.mu.Unlock()

	go p.follow(streamCtx, opts.OnStdout, opts.OnStderr, opts.OnExit)

	s.client.log.Debug("process started", "sandbox_id", s.id, "process_id", p.ID)
	return p, nil
}

// Kill stops the process. A process the daemon no longer knows about is
// treated as already stopped.
func (p *Process) Kill(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	err := p.sbx.client.call(ctx, http.MethodDelete, p.sbx.envdURL("/processes/"+p.ID), nil, nil)
	p.stopStream()
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("killing process %s: %w", p.ID, err)
	}
	return nil
}

// Wait blocks until the process exits and returns its exit code.
func (p *Process) Wait(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case <-p.done:
	}
	if p.exited {
		return p.exitCode, nil
	}
	if p.err != nil {
		return -1, p.err
	}
	return -1, ErrStreamEnded
}

func (p *Process) stopStream() {
	p.cancel()
}

func (p *Process) follow(ctx context.Context, onStdout, onStderr func(ProcessMessage), onExit func(int)) {
	defer close(p.done)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.sbx.envdURL("/processes/"+p.ID+"/events"), nil)
	if err != nil {
		p.err = err
		return
	}
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := p.sbx.client.httpClient.Do(req)
	if err != nil {
		p.err = fmt.Errorf("following process %s: %w", p.ID, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		p.err = &APIError{StatusCode: resp.StatusCode, Message: string(msg)}
		return
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var ev processEvent
		if err := dec.Decode(&ev); err != nil {
			switch {
			case ctx.Err() != nil:
				p.err = ctx.Err()
			case errors.Is(err, io.EOF):
				p.err = ErrStreamEnded
			default:
				p.err = fmt.Errorf("reading process %s events: %w", p.ID, err)
			}
			return
		}

		switch ev.Type {
		case "stdout":
			if onStdout != nil {
				onStdout(ProcessMessage{Line: ev.Line, Timestamp: ev.Timestamp})
			}
		case "stderr":
			if onStderr != nil {
				onStderr(ProcessMessage{Line: ev.Line, Error: true, Timestamp: ev.Timestamp})
			}
		case "exit":
			p.exited = true
			p.exitCode = ev.ExitCode
			if onExit != nil {
				onExit(ev.ExitCode)
			}
			return
		}
	}
}
