package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/zot/reactive/internal/config"
	"github.com/zot/reactive/internal/path"
	"github.com/zot/reactive/internal/protocol"
	"github.com/zot/reactive/state"
)

// Server ties the websocket endpoint and the JSON state dump to an HTTP mux.
type Server struct {
	config   *config.Config
	endpoint *Endpoint
	root     *state.Proxy
	mux      *http.ServeMux
}

// NewServer creates the devtools HTTP server for one tracked store.
func NewServer(cfg *config.Config, store *state.Store, root *state.Proxy) *Server {
	s := &Server{
		config:   cfg,
		endpoint: NewEndpoint(cfg, store, root),
		root:     root,
		mux:      http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

// Endpoint returns the websocket endpoint.
func (s *Server) Endpoint() *Endpoint {
	return s.endpoint
}

// setupRoutes configures HTTP routes.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/ws", s.handleWebSocket)
	s.mux.HandleFunc("/state", s.handleState)
	s.mux.HandleFunc("/state/", s.handleState)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleWebSocket handles websocket upgrade requests.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.endpoint.HandleWebSocket(w, r)
}

// handleState serves a JSON dump of the state at an optional dot path:
// GET /state or GET /state/users.0
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	pathStr := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/state"), "/")
	parsed, err := path.Parse(pathStr)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Snapshot through the executor so reads serialize with message
	// processing.
	v, err := s.endpoint.Execute(func() (interface{}, error) {
		snap := s.root.Snapshot()
		v, ok := path.ResolveSnapshot(snap, parsed)
		if !ok {
			return nil, fmt.Errorf("path %q not found", pathStr)
		}
		return v, nil
	})
	if err != nil {
		s.writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	if state.IsAbsent(v) {
		v = nil
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(protocol.Response{Error: message})
}

// ListenAndServe starts serving on the configured address.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.config.Log(0, "Devtools server listening on %s", addr)
	return http.ListenAndServe(addr, s)
}
