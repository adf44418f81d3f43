// Package server exposes compiled graphs, their threads and the memory store
// over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/langgraph-go/stategraph/checkpoint"
	sgerrors "github.com/langgraph-go/stategraph/errors"
	"github.com/langgraph-go/stategraph/graph"
	"github.com/langgraph-go/stategraph/store"
	"github.com/langgraph-go/stategraph/stream"
	"github.com/langgraph-go/stategraph/types"
	"github.com/langgraph-go/stategraph/visualization"
)

// Server serves registered graphs. It is safe for concurrent use.
type Server struct {
	mu     sync.RWMutex
	router *http.ServeMux
	graphs map[string]*graph.Compiled
	runs   map[string]*Run
	config *Config
	log    logr.Logger
}

// Config configures the server.
type Config struct {
	// AuthToken, when set, is required as a bearer token or X-API-Key.
	AuthToken string
	// Store backs the /store routes. They answer 501 when nil.
	Store store.Store
	// Hub, when set, is mounted at /events.
	Hub    *stream.Hub
	Logger logr.Logger
}

// Run records the outcome of one invocation.
type Run struct {
	RunID     string         `json:"run_id"`
	GraphID   string         `json:"graph_id"`
	ThreadID  string         `json:"thread_id"`
	Status    string         `json:"status"`
	Output    map[string]any `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Run statuses.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusError   = "error"
)

// Snapshot is the JSON form of a thread snapshot.
type Snapshot struct {
	ThreadID     string         `json:"thread_id"`
	CheckpointID string         `json:"checkpoint_id"`
	ParentID     string         `json:"parent_id,omitempty"`
	Step         int            `json:"step"`
	Values       map[string]any `json:"values"`
	Completed    []string       `json:"completed"`
	Next         []string       `json:"next"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// RunRequest is the body of a run creation.
type RunRequest struct {
	Input          map[string]any `json:"input,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	RecursionLimit int            `json:"recursion_limit,omitempty"`
	Configurable   map[string]any `json:"configurable,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// New creates a server. A nil config serves without auth, store or events.
func New(config *Config) *Server {
	if config == nil {
		config = &Config{}
	}
	log := config.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	s := &Server{
		router: http.NewServeMux(),
		graphs: make(map[string]*graph.Compiled),
		runs:   make(map[string]*Run),
		config: config,
		log:    log,
	}
	s.setupRoutes()
	return s
}

// RegisterGraph makes g reachable under /graphs/{graphID}.
func (s *Server) RegisterGraph(graphID string, g *graph.Compiled) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphs[graphID] = g
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /graphs", s.handleListGraphs)
	s.router.HandleFunc("GET /graphs/{graph}", s.handleGetGraph)
	s.router.HandleFunc("POST /graphs/{graph}/threads/{thread}/runs", s.handleCreateRun)
	s.router.HandleFunc("GET /graphs/{graph}/threads/{thread}/state", s.handleGetState)
	s.router.HandleFunc("GET /graphs/{graph}/threads/{thread}/history", s.handleGetHistory)
	s.router.HandleFunc("GET /runs/{run}", s.handleGetRun)
	s.router.HandleFunc("GET /store/items", s.handleGetItem)
	s.router.HandleFunc("PUT /store/items", s.handlePutItem)
	s.router.HandleFunc("DELETE /store/items", s.handleDeleteItem)
	s.router.HandleFunc("POST /store/items/search", s.handleSearchItems)
	s.router.HandleFunc("POST /store/namespaces", s.handleListNamespaces)
	if s.config.Hub != nil {
		s.router.Handle("GET /events", s.config.Hub)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if s.config.AuthToken != "" && r.URL.Path != "/health" {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			token = r.Header.Get("X-API-Key")
		}
		if token != s.config.AuthToken {
			s.writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
	}
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) graph(w http.ResponseWriter, r *http.Request) (*graph.Compiled, bool) {
	s.mu.RLock()
	g, ok := s.graphs[r.PathValue("graph")]
	s.mu.RUnlock()
	if !ok {
		s.writeError(w, http.StatusNotFound, "Graph not found")
	}
	return g, ok
}

func (s *Server) handleListGraphs(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.graphs))
	for id := range s.graphs {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	s.writeJSON(w, http.StatusOK, ids)
}

func (s *Server) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	g, ok := s.graph(w, r)
	if !ok {
		return
	}
	drawing, err := visualization.Mermaid(g)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"graph_id": r.PathValue("graph"),
		"keys":     g.Schema().Keys(),
		"graph":    g.Describe(),
		"mermaid":  drawing,
	})
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	g, ok := s.graph(w, r)
	if !ok {
		return
	}
	var req RunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	now := time.Now()
	run := &Run{
		RunID:     uuid.NewString(),
		GraphID:   r.PathValue("graph"),
		ThreadID:  r.PathValue("thread"),
		Status:    RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.runs[run.RunID] = run
	s.mu.Unlock()

	cfg := types.NewRunnableConfig().
		WithRunID(run.RunID).
		WithThreadID(run.ThreadID)
	for k, v := range req.Metadata {
		cfg.Metadata[k] = v
	}
	for k, v := range req.Configurable {
		cfg.Set(k, v)
	}
	if req.UserID != "" {
		cfg = cfg.WithUserID(req.UserID)
	}
	if req.RecursionLimit > 0 {
		cfg = cfg.WithRecursionLimit(req.RecursionLimit)
	}

	var out map[string]any
	input, err := g.Schema().Coerce(req.Input)
	if err == nil {
		out, err = g.Invoke(r.Context(), input, cfg)
	}

	s.mu.Lock()
	run.UpdatedAt = time.Now()
	if err != nil {
		run.Status = RunStatusError
		run.Error = err.Error()
		run.ErrorCode = string(sgerrors.GetErrorCode(err))
	} else {
		run.Status = RunStatusSuccess
		run.Output = out
	}
	result := *run
	s.mu.Unlock()

	if err != nil {
		s.log.Error(err, "run failed", "graph", run.GraphID, "thread", run.ThreadID, "run_id", run.RunID)
		s.writeJSON(w, statusFor(err), result)
		return
	}
	s.log.V(1).Info("run finished", "graph", run.GraphID, "thread", run.ThreadID, "run_id", run.RunID)
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[r.PathValue("run")]
	if !ok {
		s.writeError(w, http.StatusNotFound, "Run not found")
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	g, ok := s.graph(w, r)
	if !ok {
		return
	}
	snap, err := g.GetState(r.Context(), r.PathValue("thread"))
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, toSnapshot(snap))
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	g, ok := s.graph(w, r)
	if !ok {
		return
	}
	history, err := g.History(r.Context(), r.PathValue("thread"))
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	out := make([]Snapshot, 0, len(history))
	for _, h := range history {
		out = append(out, toSnapshot(h))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) memory(w http.ResponseWriter) (store.Store, bool) {
	if s.config.Store == nil {
		s.writeError(w, http.StatusNotImplemented, "No store configured")
		return nil, false
	}
	return s.config.Store, true
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	st, ok := s.memory(w)
	if !ok {
		return
	}
	ns, key := namespaceParam(r), r.URL.Query().Get("key")
	if key == "" {
		s.writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	item, err := st.Get(r.Context(), ns, key)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if item == nil {
		s.writeError(w, http.StatusNotFound, "Item not found")
		return
	}
	s.writeJSON(w, http.StatusOK, toItem(item))
}

func (s *Server) handlePutItem(w http.ResponseWriter, r *http.Request) {
	st, ok := s.memory(w)
	if !ok {
		return
	}
	var req struct {
		Namespace []string       `json:"namespace"`
		Key       string         `json:"key"`
		Value     map[string]any `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Key == "" {
		s.writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	if err := st.Put(r.Context(), req.Namespace, req.Key, req.Value); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	st, ok := s.memory(w)
	if !ok {
		return
	}
	if err := st.Delete(r.Context(), namespaceParam(r), r.URL.Query().Get("key")); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearchItems(w http.ResponseWriter, r *http.Request) {
	st, ok := s.memory(w)
	if !ok {
		return
	}
	var req struct {
		NamespacePrefix []string       `json:"namespace_prefix"`
		Query           string         `json:"query,omitempty"`
		Filter          map[string]any `json:"filter,omitempty"`
		Limit           int            `json:"limit,omitempty"`
		Offset          int            `json:"offset,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	items, err := st.Search(r.Context(), req.NamespacePrefix, store.SearchOptions{
		Query:  req.Query,
		Filter: req.Filter,
		Limit:  req.Limit,
		Offset: req.Offset,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]itemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, toItem(it))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (s *Server) handleListNamespaces(w http.ResponseWriter, r *http.Request) {
	st, ok := s.memory(w)
	if !ok {
		return
	}
	var req struct {
		Prefix   []string `json:"prefix,omitempty"`
		MaxDepth int      `json:"max_depth,omitempty"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	namespaces, err := st.ListNamespaces(r.Context(), req.Prefix, req.MaxDepth)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"namespaces": namespaces})
}

type itemResponse struct {
	Namespace []string       `json:"namespace"`
	Key       string         `json:"key"`
	Value     map[string]any `json:"value"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func toItem(it *store.Item) itemResponse {
	return itemResponse{
		Namespace: it.Namespace,
		Key:       it.Key,
		Value:     it.Value,
		CreatedAt: it.CreatedAt,
		UpdatedAt: it.UpdatedAt,
	}
}

func toSnapshot(s *types.StateSnapshot) Snapshot {
	return Snapshot{
		ThreadID:     s.ThreadID,
		CheckpointID: s.CheckpointID,
		ParentID:     s.ParentID,
		Step:         s.Step,
		Values:       s.Values,
		Completed:    s.Completed,
		Next:         s.Next,
		Metadata:     s.Metadata,
		CreatedAt:    s.CreatedAt,
	}
}

// namespaceParam reads a dot-separated namespace from the query.
func namespaceParam(r *http.Request) []string {
	raw := r.URL.Query().Get("namespace")
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ".")
}

// statusFor maps engine errors to HTTP statuses.
func statusFor(err error) int {
	if errors.Is(err, checkpoint.ErrNotFound) {
		return http.StatusNotFound
	}
	switch sgerrors.GetErrorCode(err) {
	case sgerrors.ErrorCodeSchemaViolation,
		sgerrors.ErrorCodeInvalidUpdate,
		sgerrors.ErrorCodeInvalidConcurrentGraphUpdate,
		sgerrors.ErrorCodeRouting,
		sgerrors.ErrorCodeGraphRecursionLimit:
		return http.StatusUnprocessableEntity
	case sgerrors.ErrorCodeCheckpointConflict:
		return http.StatusConflict
	case sgerrors.ErrorCodeCancellation:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error(err, "encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
