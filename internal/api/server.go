package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"officer-vitals/internal/alerting"
	"officer-vitals/internal/engine"
	"officer-vitals/internal/handler"
	"officer-vitals/internal/metrics"
	"officer-vitals/internal/models"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	defaultSummaryHours = 24
	maxSummaryHours     = 24 * 30
)

// SummaryStore serves the per-officer risk summary over persisted assessments.
type SummaryStore interface {
	RiskSummary(ctx context.Context, subjectID string, hours int, now time.Time) (models.RiskSummary, error)
}

type Server struct {
	router    *mux.Router
	engine    *engine.Engine
	processor *handler.ReadingProcessor
	summaries SummaryStore
	logger    *zap.Logger
	now       func() time.Time
}

func NewServer(e *engine.Engine, processor *handler.ReadingProcessor, summaries SummaryStore, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		router:    mux.NewRouter(),
		engine:    e,
		processor: processor,
		summaries: summaries,
		logger:    logger,
		now:       time.Now,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(instrument)
	s.router.HandleFunc("/health", s.healthHandler).Methods("GET")
	s.router.HandleFunc("/readings", s.ingestReadingHandler).Methods("POST")
	s.router.HandleFunc("/alerts/{id}", s.getAlertHandler).Methods("GET")
	s.router.HandleFunc("/alerts/{id}/{action}", s.alertActionHandler).Methods("POST")
	s.router.HandleFunc("/recommendations/{id}", s.getRecommendationHandler).Methods("GET")
	s.router.HandleFunc("/recommendations/{id}/{action}", s.recommendationActionHandler).Methods("POST")
	s.router.HandleFunc("/subjects/{id}/summary", s.summaryHandler).Methods("GET")
	s.router.HandleFunc("/subjects/{id}/window", s.windowHandler).Methods("GET")
	s.router.HandleFunc("/stats", s.statsHandler).Methods("GET")
	s.router.Handle("/metrics/prometheus", promhttp.Handler())
}

func (s *Server) Handler() http.Handler {
	return s.router
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		metrics.RequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "healthy",
		"timestamp":       s.now().UTC(),
		"scorer":          s.engine.ScorerName(),
		"active_subjects": s.engine.ActiveSubjects(),
	})
}

func (s *Server) ingestReadingHandler(w http.ResponseWriter, r *http.Request) {
	var msg models.ReadingMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		metrics.ReadingRejected(handler.SourceHTTP)
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.processor.HandleReading(r.Context(), msg, handler.SourceHTTP)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidReading) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		s.logger.Error("Failed to process reading", zap.String("subject_id", msg.OfficerID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) getAlertHandler(w http.ResponseWriter, r *http.Request) {
	alert, err := s.engine.Alert(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, alertErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) alertActionHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	payload := models.AlertActionPayload{AlertID: vars["id"], Action: vars["action"]}

	var body struct {
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	payload.Notes = body.Notes

	alert, err := s.processor.ApplyAlertAction(r.Context(), payload)
	if err != nil {
		writeError(w, alertErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) getRecommendationHandler(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.Recommendation(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, alertErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) recommendationActionHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rec, err := s.processor.ApplyRecommendationAction(r.Context(), vars["id"], vars["action"])
	if err != nil {
		writeError(w, alertErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func alertErrorStatus(err error) int {
	switch {
	case errors.Is(err, alerting.ErrAlertNotFound), errors.Is(err, alerting.ErrRecommendationNotFound):
		return http.StatusNotFound
	case errors.Is(err, alerting.ErrTerminalAlert), errors.Is(err, alerting.ErrTerminalRecommendation):
		return http.StatusConflict
	case errors.Is(err, engine.ErrUnknownAction):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	if s.summaries == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no durable store configured"))
		return
	}
	hours := defaultSummaryHours
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxSummaryHours {
			writeError(w, http.StatusBadRequest, fmt.Errorf("hours must be an integer in [1, %d]", maxSummaryHours))
			return
		}
		hours = n
	}

	summary, err := s.summaries.RiskSummary(r.Context(), mux.Vars(r)["id"], hours, s.now())
	if err != nil {
		s.logger.Error("Failed to build risk summary", zap.String("subject_id", mux.Vars(r)["id"]), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) windowHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	win, ok := s.engine.Window(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("no window for %s", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"subject_id": id,
		"values":     win.Values(),
	})
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.Stats()
	metrics.ActiveSubjects.Set(float64(stats.ActiveSubjects))
	writeJSON(w, http.StatusOK, stats)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		s.logger.Info("HTTP server is shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		srv.SetKeepAlivesEnabled(false)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Could not gracefully shutdown the server", zap.Error(err))
		}
	}()

	s.logger.Info("HTTP server is ready to handle requests", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("could not listen on %s: %w", addr, err)
	}

	<-done
	s.logger.Info("HTTP server stopped")
	return nil
}
