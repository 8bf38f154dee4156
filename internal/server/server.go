package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lazypower/mnemo/internal/decay"
	"github.com/lazypower/mnemo/internal/engine"
	"github.com/lazypower/mnemo/internal/temporal"
)

// Server is the mnemo HTTP API server.
type Server struct {
	engine    *engine.Engine
	facts     *temporal.Service
	scheduler *decay.Scheduler
	router    chi.Router
	version   string
	started   time.Time
}

// New creates a new Server. scheduler may be nil when decay is disabled.
func New(eng *engine.Engine, facts *temporal.Service, scheduler *decay.Scheduler, version string) *Server {
	s := &Server{
		engine:    eng,
		facts:     facts,
		scheduler: scheduler,
		version:   version,
		started:   time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/decay", s.handleDecayStats)
		r.Post("/decay/run", s.handleDecayRun)

		r.Post("/memories/{id}/reinforce", s.handleReinforce)

		r.Get("/namespaces", s.handleListNamespaces)
		r.Route("/namespaces/{ns}", func(r chi.Router) {
			r.Get("/", s.handleGetNamespace)
			r.Put("/", s.handleDescribeNamespace)

			r.Post("/memories", s.handleAddMemory)
			r.Get("/memories", s.handleListMemories)
			r.Get("/memories/{id}", s.handleGetMemory)
			r.Patch("/memories/{id}", s.handleUpdateMemory)
			r.Delete("/memories/{id}", s.handleDeleteMemory)
			r.Post("/memories/{id}/reinforce", s.handleReinforce)
			r.Post("/query", s.handleQuery)

			r.Post("/facts", s.handleInsertFact)
			r.Get("/facts/current", s.handleCurrentFact)
			r.Get("/facts/at", s.handleFactAt)
			r.Get("/facts/timeline", s.handleTimeline)
			r.Get("/facts/snapshot", s.handleSnapshot)
			r.Get("/facts/compare", s.handleCompare)
			r.Get("/facts/volatile", s.handleVolatile)
			r.Post("/facts/invalidate", s.handleInvalidate)
			r.Get("/facts/{id}", s.handleGetFact)
			r.Patch("/facts/{id}", s.handleUpdateFact)
			r.Delete("/facts/{id}", s.handlePurgeFact)
		})
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	db := s.engine.DB
	dbOK := true
	if err := db.Ping(); err != nil {
		dbOK = false
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"version":  s.version,
		"uptime":   time.Since(s.started).Seconds(),
		"db":       dbOK,
		"db_path":  db.Path,
		"embedder": s.engine.Embedder.Model(),
		"dims":     s.engine.Embedder.Dimensions(),
		"engine":   s.engine.Stats(),
		"decay":    s.scheduler != nil,
	})
}

func (s *Server) handleDecayStats(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"enabled": true, "stats": s.scheduler.Stats()})
}

func (s *Server) handleDecayRun(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "decay is disabled"})
		return
	}
	report, err := s.scheduler.RunCycle(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
