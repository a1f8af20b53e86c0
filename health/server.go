package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/withobsrvr/postgres-to-es/etl"
	"github.com/withobsrvr/postgres-to-es/logging"
)

// StatsSource reports orchestrator progress. *etl.Orchestrator implements it.
type StatsSource interface {
	Stats() etl.Stats
}

// Server exposes /health, /health/{index} and /metrics
type Server struct {
	port    int
	stats   StatsSource
	metrics http.Handler
	logger  *logging.ComponentLogger
	server  *http.Server
}

// IndexHealth is the health view of one index
type IndexHealth struct {
	Watermark          string `json:"watermark,omitempty"`
	LastPassAt         string `json:"last_pass_at,omitempty"`
	LagSeconds         int64  `json:"lag_seconds"`
	DocumentsPublished int64  `json:"documents_published"`
	ChunksPublished    int64  `json:"chunks_published"`
	Errors             int64  `json:"errors"`
	LastError          string `json:"last_error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string                 `json:"status"`
	Phase         etl.Phase              `json:"phase"`
	CurrentIndex  string                 `json:"current_index,omitempty"`
	PassID        string                 `json:"pass_id,omitempty"`
	Passes        int64                  `json:"passes"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Indexes       map[string]IndexHealth `json:"indexes"`
}

// NewServer creates the ops server. metrics may be nil.
func NewServer(port int, stats StatsSource, metrics http.Handler, logger *logging.ComponentLogger) *Server {
	return &Server{
		port:    port,
		stats:   stats,
		metrics: metrics,
		logger:  logger,
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/health/{index}", s.handleIndexHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	return router
}

// Start serves in the background
func (s *Server) Start() {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info().Int("port", s.port).Msg("Health server listening")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Health server error")
		}
	}()
}

// Stop shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.stats.Stats()
	now := time.Now()

	response := HealthResponse{
		Status:        "healthy",
		Phase:         stats.Phase,
		CurrentIndex:  stats.CurrentIndex,
		PassID:        stats.PassID,
		Passes:        stats.Passes,
		UptimeSeconds: int64(now.Sub(stats.StartedAt).Seconds()),
		Indexes:       make(map[string]IndexHealth, len(stats.Indexes)),
	}
	for name, idx := range stats.Indexes {
		h := indexHealth(idx, now)
		if h.LastError != "" {
			response.Status = "degraded"
		}
		response.Indexes[name] = h
	}

	code := http.StatusOK
	if stats.Phase == etl.PhaseStopped {
		response.Status = "stopped"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, response)
}

func (s *Server) handleIndexHealth(w http.ResponseWriter, r *http.Request) {
	index := mux.Vars(r)["index"]
	idx, ok := s.stats.Stats().Indexes[index]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown index " + index})
		return
	}
	writeJSON(w, http.StatusOK, indexHealth(idx, time.Now()))
}

func indexHealth(idx etl.IndexStats, now time.Time) IndexHealth {
	h := IndexHealth{
		DocumentsPublished: idx.DocumentsPublished,
		ChunksPublished:    idx.ChunksPublished,
		Errors:             idx.Errors,
		LastError:          idx.LastError,
	}
	if !idx.Watermark.IsZero() {
		h.Watermark = idx.Watermark.Format(time.RFC3339)
		h.LagSeconds = int64(now.Sub(idx.Watermark).Seconds())
	}
	if !idx.LastPassAt.IsZero() {
		h.LastPassAt = idx.LastPassAt.Format(time.RFC3339)
	}
	return h
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
