package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mukut03/agents/agents"
	"github.com/mukut03/agents/framework"
	"github.com/mukut03/agents/persistence"
)

// OrchestratorFactory builds an orchestrator over mem. mem is nil for a new
// conversation.
type OrchestratorFactory func(mem *framework.Memory) *agents.Orchestrator

// APIServer exposes conversations over HTTP. Each session owns one
// orchestrator; queries against the same session are serialised.
type APIServer struct {
	NewOrchestrator OrchestratorFactory
	// Store, when set, persists every session after each query and is
	// consulted for sessions not held in memory.
	Store  persistence.SnapshotStore
	Logger *log.Logger
	// Gatherer backs /metrics; defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	// QueryTimeout bounds a single query; zero leaves the request context as is.
	QueryTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	mu   sync.Mutex
	orch *agents.Orchestrator
}

// QueryRequest describes the POST /api/query payload.
type QueryRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Query     string `json:"query"`
}

// QueryResponse describes the POST /api/query result.
type QueryResponse struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
}

// Serve starts listening on the provided address.
func (s *APIServer) Serve(addr string) error {
	return s.ServeContext(context.Background(), addr)
}

// ServeContext allows the caller to control shutdown via context cancellation.
func (s *APIServer) ServeContext(ctx context.Context, addr string) error {
	server := &http.Server{Addr: addr, Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	s.logger().Info("API listening", "addr", addr)
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler returns the routed mux.
func (s *APIServer) Handler() http.Handler {
	gatherer := s.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/query", s.handleQuery)
	mux.HandleFunc("GET /api/sessions/{id}/memory", s.handleMemory)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDelete)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}

func (s *APIServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		http.Error(w, "query required", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	sess, err := s.session(r.Context(), req.SessionID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, persistence.ErrInvalidID) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	ctx := r.Context()
	if s.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.QueryTimeout)
		defer cancel()
	}
	sess.mu.Lock()
	answer, err := sess.orch.ProcessQuery(ctx, req.Query)
	if s.Store != nil {
		// a timed-out query still leaves its user turn and tool results to keep
		saveCtx := context.WithoutCancel(r.Context())
		if saveErr := s.Store.Save(saveCtx, req.SessionID, sess.orch.Memory().Snapshot()); saveErr != nil {
			s.logger().Error("persist session failed", "session", req.SessionID, "err", saveErr)
		}
	}
	sess.mu.Unlock()

	resp := QueryResponse{SessionID: req.SessionID, Answer: answer}
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		var coded framework.CodedError
		if errors.As(err, &coded) {
			resp.Code = string(coded.Code())
		}
		status = http.StatusBadGateway
		s.logger().Warn("query failed", "session", req.SessionID, "err", err)
	}
	writeJSON(w, status, resp)
}

func (s *APIServer) handleMemory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if ok {
		sess.mu.Lock()
		snap := sess.orch.Memory().Snapshot()
		sess.mu.Unlock()
		writeJSON(w, http.StatusOK, snap)
		return
	}
	if s.Store != nil {
		snap, err := s.Store.Load(r.Context(), id)
		if err != nil && !errors.Is(err, persistence.ErrInvalidID) {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if snap != nil {
			writeJSON(w, http.StatusOK, snap)
			return
		}
	}
	http.Error(w, "session not found", http.StatusNotFound)
}

func (s *APIServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	if s.Store != nil {
		if err := s.Store.Delete(r.Context(), id); err != nil && !errors.Is(err, persistence.ErrInvalidID) {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// session returns the live session for id, restoring it from the store or
// creating it on first use.
func (s *APIServer) session(ctx context.Context, id string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		s.sessions = make(map[string]*session)
	}
	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}
	var mem *framework.Memory
	if s.Store != nil {
		snap, err := s.Store.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if snap != nil {
			if mem, err = framework.RestoreSnapshot(snap); err != nil {
				return nil, err
			}
		}
	}
	sess := &session{orch: s.NewOrchestrator(mem)}
	s.sessions[id] = sess
	return sess, nil
}

func (s *APIServer) logger() *log.Logger {
	if s.Logger == nil {
		return log.Default()
	}
	return s.Logger
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
