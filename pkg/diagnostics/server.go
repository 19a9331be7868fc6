// Package diagnostics implements a debug HTTP server that exposes the
// bridge's shared state and idempotency caches for inspection, routed with
// gorilla/mux the same way the proxy's own control plane is.
package diagnostics

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/agentrelay/winclient/pkg/client"
	"github.com/agentrelay/winclient/pkg/idempotency"
)

// Server is a small HTTP server for operator inspection. It listens on
// whatever address ListenAndServe is given and does not itself restrict
// that address to loopback; it requires no authentication.
type Server struct {
	State    *client.State
	FSCache  *idempotency.Cache
	CmdCache *idempotency.Cache

	httpServer *http.Server
}

// New builds a Server; the listen address is passed to ListenAndServe.
func New(state *client.State, fsCache, cmdCache *idempotency.Cache) *Server {
	return &Server{State: state, FSCache: fsCache, CmdCache: cmdCache}
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware)
	r.Use(recoveryMiddleware)

	r.HandleFunc("/debug/state", s.handleState).Methods(http.MethodGet)
	r.HandleFunc("/debug/caches", s.handleCaches).Methods(http.MethodGet)
	r.HandleFunc("/debug/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	return r
}

// ListenAndServe binds addr and serves until Shutdown is called. It is
// meant to be run in its own goroutine.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router()}
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap := s.State.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}

type cachesResponse struct {
	FS  []string `json:"fs"`
	Cmd []string `json:"cmd"`
}

func (s *Server) handleCaches(w http.ResponseWriter, r *http.Request) {
	resp := cachesResponse{}
	if s.FSCache != nil {
		resp.FS = s.FSCache.Snapshot()
	}
	if s.CmdCache != nil {
		resp.Cmd = s.CmdCache.Snapshot()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
