// Package api exposes the download engine over a loopback HTTP control
// surface. It is a consumer of the engine's observer contract; the engine
// itself knows nothing about it.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"turbodl/internal/config"
	"turbodl/internal/engine"
	"turbodl/internal/events"
)

type Server struct {
	settings *config.Settings
	logger   *slog.Logger
	router   *chi.Mux

	mu   sync.Mutex
	jobs map[string]*managedJob
}

func NewServer(settings *config.Settings, logger *slog.Logger) *Server {
	s := &Server{
		settings: settings,
		logger:   logger,
		router:   chi.NewRouter(),
		jobs:     make(map[string]*managedJob),
	}
	s.setupRoutes()
	return s
}

// Router returns the HTTP handler, mainly for tests.
func (s *Server) Router() http.Handler { return s.router }

// Start binds the listener and serves in the background.
func (s *Server) Start(addr string) error {
	conn, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("control server failed to bind: %w", err)
	}
	s.logger.Info("control server listening", "addr", addr)
	go func() {
		if err := http.Serve(conn, s.router); err != nil {
			s.logger.Error("control server failed", "error", err)
		}
	}()
	return nil
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.loopbackOnly)

	s.router.Post("/v1/jobs", s.handleSubmit)
	s.router.Get("/v1/jobs/{id}", s.handleStatus)
	s.router.Post("/v1/jobs/{id}/pause", s.handlePause)
	s.router.Post("/v1/jobs/{id}/resume", s.handleResume)
	s.router.Get("/v1/jobs/{id}/events", s.handleEvents)
}

func (s *Server) loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sourceIP, _, _ := net.SplitHostPort(r.RemoteAddr)
		if sourceIP != "127.0.0.1" && sourceIP != "::1" {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type submitRequest struct {
	URL         string `json:"url"`
	OutputDir   string `json:"outputDir,omitempty"`
	StateDir    string `json:"stateDir,omitempty"`
	FileName    string `json:"fileName,omitempty"`
	Connections int    `json:"connections,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	cfg := engine.Config{
		URL:         req.URL,
		OutputDir:   req.OutputDir,
		StateDir:    req.StateDir,
		FileName:    req.FileName,
		Connections: req.Connections,
		JobID:       uuid.NewString(),
		UserAgent:   s.settings.UserAgent,
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = s.settings.OutputDir
	}
	if cfg.StateDir == "" {
		cfg.StateDir = s.settings.StateDir
	}
	if cfg.Connections == 0 {
		cfg.Connections = s.settings.Connections
	}

	mj := newManagedJob()
	job, err := engine.NewJob(cfg, s.logger, mj)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	mj.job = job

	s.mu.Lock()
	s.jobs[job.ID()] = mj
	s.mu.Unlock()

	go func() {
		if err := job.Start(context.Background()); err != nil {
			s.logger.Error("job failed", "job", job.ID(), "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"id": job.ID()})
}

func (s *Server) lookup(r *http.Request) *managedJob {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	mj := s.lookup(r)
	if mj == nil {
		http.Error(w, "unknown job", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, mj.statusPayload())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	mj := s.lookup(r)
	if mj == nil {
		http.Error(w, "unknown job", http.StatusNotFound)
		return
	}
	mj.job.Pause()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	mj := s.lookup(r)
	if mj == nil {
		http.Error(w, "unknown job", http.StatusNotFound)
		return
	}
	if mj.job.Status() != engine.StatusPaused {
		http.Error(w, "job is not paused", http.StatusConflict)
		return
	}
	mj.reopen()
	go func() {
		if err := mj.job.Start(context.Background()); err != nil {
			s.logger.Error("job failed", "job", mj.job.ID(), "error", err)
		}
	}()
	w.WriteHeader(http.StatusAccepted)
}

// handleEvents streams the job's observer events as server-sent events
// until the job reaches a terminal state or the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	mj := s.lookup(r)
	if mj == nil {
		http.Error(w, "unknown job", http.StatusNotFound)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	sub := mj.subscribe()
	defer mj.unsubscribe(sub)

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			payload, _ := json.Marshal(eventPayload(e))
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, payload)
			flusher.Flush()
			if e.Type == events.Complete || e.Type == events.Error || e.Type == events.Paused {
				return
			}
		}
	}
}

func eventPayload(e events.Event) map[string]interface{} {
	p := map[string]interface{}{"jobId": e.JobID}
	switch e.Type {
	case events.Start:
		p["totalBytes"] = e.TotalBytes
		p["fileName"] = e.FileName
	case events.Progress:
		p["downloaded"] = e.Downloaded
		p["total"] = e.Total
		p["speed"] = e.Speed
	case events.Complete:
		p["finalPath"] = e.FinalPath
	case events.Error:
		p["message"] = e.Message
	}
	return p
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
