// Package sandboxtest provides an in-memory sandbox backend for tests. A single
// httptest server plays both the backend and the reverse proxy in front of the
// in-sandbox process daemon.
package sandboxtest

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// DefaultPrivateIP is the private address handed out to new sandboxes.
const DefaultPrivateIP = "10.11.0.2"

// CreateRequest is a decoded sandbox creation request.
type CreateRequest struct {
	TemplateID string            `json:"templateID"`
	Cwd        string            `json:"cwd"`
	EnvVars    map[string]string `json:"envVars"`
	Timeout    int               `json:"timeout"`
	Metadata   map[string]string `json:"metadata"`
}

// StartRequest is a decoded process start request.
type StartRequest struct {
	Cmd  string            `json:"cmd"`
	Envs map[string]string `json:"envs"`
	Cwd  string            `json:"cwd"`

	// PrivateIP is the sandbox address the request was routed to.
	PrivateIP string `json:"-"`
	Port      string `json:"-"`
}

// Event is one line of a process event stream.
type Event struct {
	Type     string `json:"type"`
	Line     string `json:"line,omitempty"`
	ExitCode int    `json:"exitCode,omitempty"`
}

// Server is a fake sandbox backend.
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	privateIP    string
	createStatus int
	startStatus  int
	deleteStatus int
	killStatus   int
	events       []Event
	nextID       int
	live         map[string]bool
	creates      []CreateRequest
	starts       []StartRequest
	deletes      []string
	kills        []string
}

// NewServer starts a fake backend that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		privateIP: DefaultPrivateIP,
		live:      make(map[string]bool),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Domain returns the host:port to use as the proxy domain.
func (s *Server) Domain() string {
	return s.Listener.Addr().String()
}

// SetPrivateIP sets the address reported for sandboxes created afterwards.
// An empty address simulates a sandbox that never reached the running state.
func (s *Server) SetPrivateIP(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.privateIP = ip
}

// FailCreate makes sandbox creation answer with status.
func (s *Server) FailCreate(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createStatus = status
}

// FailStart makes process start answer with status.
func (s *Server) FailStart(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startStatus = status
}

// FailDelete makes sandbox deletion answer with status. Zero restores the
// normal behavior.
func (s *Server) FailDelete(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteStatus = status
}

// FailKill makes process kill answer with status. Zero restores the normal
// behavior.
func (s *Server) FailKill(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killStatus = status
}

// SetEvents sets the events streamed for every process.
func (s *Server) SetEvents(events ...Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = events
}

// Forget drops a sandbox from the backend, as if it expired on its own.
func (s *Server) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, id)
}

func (s *Server) Creates() []CreateRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CreateRequest(nil), s.creates...)
}

func (s *Server) Starts() []StartRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StartRequest(nil), s.starts...)
}

func (s *Server) Deletes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deletes...)
}

func (s *Server) Kills() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.kills...)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	switch {
	case r.Method == http.MethodPost && len(parts) == 1 && parts[0] == "sandboxes":
		s.createSandbox(w, r)
	case r.Method == http.MethodDelete && len(parts) == 2 && parts[0] == "sandboxes":
		s.deleteSandbox(w, parts[1])
	case r.Method == http.MethodPost && len(parts) == 3 && parts[2] == "processes":
		s.startProcess(w, r, parts[0], parts[1])
	case r.Method == http.MethodDelete && len(parts) == 4 && parts[2] == "processes":
		s.killProcess(w, parts[3])
	case r.Method == http.MethodGet && len(parts) == 5 && parts[2] == "processes" && parts[4] == "events":
		s.streamEvents(w)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) createSandbox(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.creates = append(s.creates, CreateRequest{
		TemplateID: req.TemplateID,
		Cwd:        req.Cwd,
		EnvVars:    maps.Clone(req.EnvVars),
		Timeout:    req.Timeout,
		Metadata:   req.Metadata,
	})
	if s.createStatus != 0 {
		status := s.createStatus
		s.mu.Unlock()
		http.Error(w, "template not available", status)
		return
	}
	s.nextID++
	id := fmt.Sprintf("sbx-%d", s.nextID)
	s.live[id] = true
	ip := s.privateIP
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{
		"sandboxID":  id,
		"templateID": req.TemplateID,
		"clientID":   "client-1",
		"privateIP":  ip,
	})
}

func (s *Server) deleteSandbox(w http.ResponseWriter, id string) {
	s.mu.Lock()
	s.deletes = append(s.deletes, id)
	if status := s.deleteStatus; status != 0 {
		s.mu.Unlock()
		http.Error(w, "backend unavailable", status)
		return
	}
	known := s.live[id]
	delete(s.live, id)
	s.mu.Unlock()

	if !known {
		http.Error(w, "sandbox not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) startProcess(w http.ResponseWriter, r *http.Request, ip, port string) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.PrivateIP = ip
	req.Port = port

	s.mu.Lock()
	s.starts = append(s.starts, req)
	status := s.startStatus
	n := len(s.starts)
	s.mu.Unlock()

	if status != 0 {
		http.Error(w, "process daemon unavailable", status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"processID": fmt.Sprintf("proc-%d", n)})
}

func (s *Server) killProcess(w http.ResponseWriter, pid string) {
	s.mu.Lock()
	s.kills = append(s.kills, pid)
	status := s.killStatus
	s.mu.Unlock()

	if status != 0 {
		http.Error(w, "process not killed", status)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) streamEvents(w http.ResponseWriter) {
	s.mu.Lock()
	events := append([]Event(nil), s.events...)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(w)
	for _, ev := range events {
		enc.Encode(ev)
	}
}
