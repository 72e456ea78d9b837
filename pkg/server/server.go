package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/elonfeng/newsgauge/internal/store"
	"github.com/elonfeng/newsgauge/pkg/saturation"
	"github.com/elonfeng/newsgauge/pkg/search"
)

// Server provides the HTTP API over stored measurements and the live
// pipeline.
type Server struct {
	store  store.Store
	orch   *saturation.Orchestrator
	gate   *search.Gate
	port   int
	logger *zap.Logger
}

// New creates a new HTTP server.
func New(s store.Store, orch *saturation.Orchestrator, gate *search.Gate, port int, logger *zap.Logger) *Server {
	if port == 0 {
		port = 8080
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{store: s, orch: orch, gate: gate, port: port, logger: logger}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/measurements", s.handleMeasurements)
	mux.HandleFunc("/api/v1/evaluations", s.handleEvaluations)
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/quantify", s.handleQuantify)

	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("server listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMeasurements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	opts := store.MeasurementListOpts{
		RunID:    r.URL.Query().Get("run_id"),
		DiffOnly: r.URL.Query().Get("diff") == "true",
		Limit:    100,
	}
	recs, err := s.store.ListMeasurements(r.Context(), opts)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  recs,
		"count": len(recs),
	})
}

func (s *Server) handleEvaluations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	evs, err := s.store.ListEvaluations(r.Context(), store.EvaluationListOpts{
		ContentType: r.URL.Query().Get("type"),
		Limit:       100,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  evs,
		"count": len(evs),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	available, retryAt := s.gate.Available(r.Context(), search.OpSearch)
	reg, err := s.store.LoadRegistry(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	status := map[string]any{
		"search_available": available,
		"key_persons":      reg.Len(),
	}
	if !available {
		status["retry_at"] = retryAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, status)
}

// handleQuantify runs one text through extract → measure synchronously.
func (s *Server) handleQuantify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		ID         string           `json:"id"`
		Text       string           `json:"text"`
		PriorLevel saturation.Level `json:"prior_level"`
		DryRun     bool             `json:"dry_run"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing text"})
		return
	}
	if req.ID == "" {
		req.ID = "adhoc"
	}

	report, err := s.orch.Run(r.Context(), []saturation.Item{
		{ID: req.ID, Text: req.Text, PriorLevel: req.PriorLevel},
	}, saturation.RunOptions{DryRun: req.DryRun})
	if err != nil || len(report.Results) == 0 {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "quantify run failed"})
		return
	}

	writeJSON(w, http.StatusOK, report.Results[0])
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
