package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/cascade/pkg/engine"
	"github.com/cuemby/cascade/pkg/log"
	"github.com/cuemby/cascade/pkg/metrics"
	"github.com/cuemby/cascade/pkg/pipeline"
	"github.com/cuemby/cascade/pkg/queue"
	"github.com/rs/zerolog"
)

// Config tunes the HTTP surface.
type Config struct {
	// BasePath is where task endpoints are mounted.
	BasePath string

	// PoisonThreshold is the queue retry count past which the callback
	// endpoint acknowledges a failing task to drop it.
	PoisonThreshold int
}

// Server exposes the engine's task endpoints, the read-only query API
// and the health/metrics endpoints over HTTP.
type Server struct {
	engine *engine.Engine
	cfg    Config
	mux    *http.ServeMux
	logger zerolog.Logger
}

// NewServer wires all endpoints onto a fresh mux.
func NewServer(eng *engine.Engine, cfg Config) *Server {
	if cfg.BasePath == "" {
		cfg.BasePath = "/_ah/pipeline"
	}
	if cfg.PoisonThreshold <= 0 {
		cfg.PoisonThreshold = 16
	}

	mux := http.NewServeMux()
	s := &Server{
		engine: eng,
		cfg:    cfg,
		mux:    mux,
		logger: log.Component("api"),
	}

	base := strings.TrimRight(cfg.BasePath, "/")
	for _, path := range []string{
		queue.PathRun,
		queue.PathOutput,
		queue.PathFinalized,
		queue.PathFanout,
		queue.PathFanoutAbort,
		queue.PathAbort,
		queue.PathCleanup,
	} {
		mux.HandleFunc(base+"/"+path, s.taskHandler(path))
	}
	mux.HandleFunc(base+"/"+queue.PathCallback, s.callbackHandler)

	mux.HandleFunc(base+"/rootlist", s.rootListHandler)
	mux.HandleFunc(base+"/tree", s.treeHandler)
	mux.HandleFunc(base+"/class_paths", s.classPathsHandler)

	mux.HandleFunc("/health", s.healthHandler)
	mux.Handle("/metrics", metrics.Handler())

	return s
}

// Handler returns the server's mux, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return server.ListenAndServe()
}

// taskHandler adapts one engine task handler to HTTP. Requests must
// originate from the task queue; handler errors become 500 so the queue
// retries the task.
func (s *Server) taskHandler(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		defer timer.ObserveDurationVec(metrics.APIRequestDuration, path)

		if r.Method != http.MethodPost {
			s.count(path, http.StatusMethodNotAllowed)
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get(queue.HeaderQueue) == "" {
			s.count(path, http.StatusForbidden)
			http.Error(w, "Task queue origin required", http.StatusForbidden)
			return
		}
		if err := r.ParseForm(); err != nil {
			s.count(path, http.StatusBadRequest)
			http.Error(w, "Malformed form body", http.StatusBadRequest)
			return
		}

		if err := s.engine.Deliver(r.Context(), path, r.PostForm); err != nil {
			s.logger.Error().Err(err).Str("path", path).Msg("Task handler failed")
			s.count(path, http.StatusInternalServerError)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.count(path, http.StatusOK)
		w.WriteHeader(http.StatusOK)
	}
}

// callbackHandler enforces the stage's access class, then dispatches.
// Once the queue's retry count passes the poison threshold the task is
// acknowledged regardless of outcome so it stops redelivering.
func (s *Server) callbackHandler(w http.ResponseWriter, r *http.Request) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.APIRequestDuration, queue.PathCallback)

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		s.count(queue.PathCallback, http.StatusMethodNotAllowed)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		s.count(queue.PathCallback, http.StatusBadRequest)
		http.Error(w, "Malformed form body", http.StatusBadRequest)
		return
	}

	access := s.engine.CallbackAccessOf(r.Context(), r.Form.Get("pipeline_id"))
	fromQueue := r.Header.Get(queue.HeaderQueue) != ""
	if access != pipeline.AccessPublic && !fromQueue {
		// Admin gating is delegated to the deployment's front end;
		// internally both classes require queue origin.
		s.count(queue.PathCallback, http.StatusForbidden)
		http.Error(w, "Callback access denied", http.StatusForbidden)
		return
	}

	err := s.engine.Deliver(r.Context(), queue.PathCallback, r.Form)
	if err != nil {
		retries, _ := strconv.Atoi(r.Header.Get(queue.HeaderRetryCount))
		if retries >= s.cfg.PoisonThreshold {
			s.logger.Error().
				Err(err).
				Int("retry_count", retries).
				Msg("Dropping poison callback task")
			s.count(queue.PathCallback, http.StatusOK)
			w.WriteHeader(http.StatusOK)
			return
		}
		s.logger.Error().Err(err).Msg("Callback handler failed")
		s.count(queue.PathCallback, http.StatusInternalServerError)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.count(queue.PathCallback, http.StatusOK)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) rootListHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	count, _ := strconv.Atoi(r.URL.Query().Get("count"))
	result, err := s.engine.RootList(
		r.Context(),
		r.URL.Query().Get("class_path"),
		r.URL.Query().Get("cursor"),
		count,
	)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, result)
}

func (s *Server) treeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rootID := r.URL.Query().Get("root_pipeline_id")
	if rootID == "" {
		http.Error(w, "root_pipeline_id required", http.StatusBadRequest)
		return
	}
	tree, err := s.engine.Tree(r.Context(), rootID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.writeJSON(w, tree)
}

func (s *Server) classPathsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.engine.StageNames())
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// healthHandler implements the /health endpoint
// This is a simple liveness check - returns 200 if the process is alive
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, HealthResponse{Status: "healthy", Timestamp: time.Now()})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) count(endpoint string, status int) {
	metrics.APIRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}
