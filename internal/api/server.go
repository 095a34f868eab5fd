// Package api exposes the HTTP interface for the venue crawler service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/artatlas/venue-crawler/internal/actor"
	"github.com/artatlas/venue-crawler/internal/config"
	"github.com/artatlas/venue-crawler/internal/core"
	"github.com/artatlas/venue-crawler/internal/metrics"
	"github.com/artatlas/venue-crawler/internal/middleware"
	"github.com/artatlas/venue-crawler/internal/similarity"
	"github.com/artatlas/venue-crawler/internal/stages"
)

// jobTimeout bounds fire-and-forget stage invocations started by handlers.
const jobTimeout = 10 * time.Minute

// Server wires HTTP handlers to the coordinator, pipeline and stores.
type Server struct {
	router      chi.Router
	store       core.Store
	coordinator *actor.Coordinator
	pipeline    *stages.Pipeline
	engine      *similarity.Engine
	idGen       core.IDGenerator
	cfg         config.Config
	logger      *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	store core.Store,
	coordinator *actor.Coordinator,
	pipeline *stages.Pipeline,
	engine *similarity.Engine,
	idGen core.IDGenerator,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:       store,
		coordinator: coordinator,
		pipeline:    pipeline,
		engine:      engine,
		idGen:       idGen,
		cfg:         cfg,
		logger:      logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(middleware.Metrics)
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/sources", func(r chi.Router) {
			r.Post("/", s.seedSource)
			r.Route("/{source_id}", func(r chi.Router) {
				r.Post("/discover", s.discoverSource)
				r.Post("/scrape", s.scrapeSource)
				r.Get("/pipeline", s.getPipeline)
				r.Get("/status", s.getStatus)
			})
		})
		r.Route("/pages", func(r chi.Router) {
			r.Post("/scrape", s.scrapePages)
			r.Post("/extract", s.extractPages)
			r.Post("/process-events", s.processEvents)
		})
		r.Post("/embed", s.embed)
		r.Post("/merges", s.applyMerge)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// Readiness only needs the store to answer.
	if _, err := s.store.ListEntities(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type seedRequest struct {
	MainURL  string `json:"main_url"`
	AboutURL string `json:"about_url"`
}

func (s *Server) seedSource(w http.ResponseWriter, r *http.Request) {
	var req seedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MainURL == "" {
		writeError(w, http.StatusBadRequest, "main_url required")
		return
	}
	entity, err := s.coordinator.Seed(r.Context(), req.MainURL, req.AboutURL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"entity_id": entity.ID})
}

type discoverRequest struct {
	SeedURLs []string `json:"seed_urls"`
	Limit    int      `json:"limit"`
}

func (s *Server) discoverSource(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "source_id")
	var req discoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	entity, err := s.store.GetEntity(r.Context(), sourceID)
	if err != nil {
		writeError(w, statusFor(err), "source not found")
		return
	}
	runID, err := s.startJob(w, func(ctx context.Context) error {
		_, err := s.pipeline.DiscoverLinks(ctx, entity, req.SeedURLs, req.Limit)
		return err
	})
	if err != nil {
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

type pageIDsRequest struct {
	PageIDs []string `json:"page_ids"`
}

func (s *Server) scrapePages(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePageIDs(w, r)
	if !ok {
		return
	}
	runID, err := s.startJob(w, func(ctx context.Context) error {
		_, err := s.pipeline.ScrapePages(ctx, req.PageIDs)
		return err
	})
	if err != nil {
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

// extractPages classifies pages that still lack a label, then extracts.
// Pages already carrying a label keep it; reclassification happens on
// rescrape, not on extract requests.
func (s *Server) extractPages(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePageIDs(w, r)
	if !ok {
		return
	}
	runID, err := s.startJob(w, func(ctx context.Context) error {
		unlabeled := make([]string, 0, len(req.PageIDs))
		for _, id := range req.PageIDs {
			page, err := s.store.GetPage(ctx, id)
			if err != nil {
				if errors.Is(err, core.ErrNotFound) {
					continue
				}
				return err
			}
			if page.Classification == core.ClassUnknown {
				unlabeled = append(unlabeled, id)
			}
		}
		if len(unlabeled) > 0 {
			if _, err := s.pipeline.ClassifyPages(ctx, unlabeled); err != nil {
				return err
			}
		}
		_, err := s.pipeline.ExtractPages(ctx, req.PageIDs)
		return err
	})
	if err != nil {
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) processEvents(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePageIDs(w, r)
	if !ok {
		return
	}
	report, err := s.pipeline.ProcessExtractedEvents(r.Context(), req.PageIDs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"processed_count": report.ProcessedCount})
}

type embedRequest struct {
	EventIDs  []string `json:"event_ids"`
	EntityIDs []string `json:"entity_ids"`
}

func (s *Server) embed(w http.ResponseWriter, r *http.Request) {
	var req embedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.EventIDs) == 0 && len(req.EntityIDs) == 0 {
		writeError(w, http.StatusBadRequest, "event_ids or entity_ids required")
		return
	}
	if _, err := s.startJob(w, func(ctx context.Context) error {
		if len(req.EventIDs) > 0 {
			if _, err := s.pipeline.EmbedEvents(ctx, req.EventIDs); err != nil {
				return err
			}
		}
		if len(req.EntityIDs) > 0 {
			if _, err := s.pipeline.EmbedEntities(ctx, req.EntityIDs); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"ok": true})
}

func (s *Server) getPipeline(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "source_id")
	entity, err := s.store.GetEntity(r.Context(), sourceID)
	if err != nil {
		writeError(w, statusFor(err), "source not found")
		return
	}
	pages, err := s.store.ListPagesBySource(r.Context(), sourceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch pages")
		return
	}
	events, err := s.store.ListEventsBySource(r.Context(), sourceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch events")
		return
	}
	writeJSON(w, http.StatusOK, core.PipelineView{Entity: entity, Pages: pages, Events: events})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "source_id")
	if _, err := s.store.GetEntity(r.Context(), sourceID); err != nil {
		writeError(w, statusFor(err), "source not found")
		return
	}
	state, err := s.coordinator.ActorFor(sourceID).Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type scrapeSourceRequest struct {
	ForceRefresh bool `json:"force_refresh"`
}

func (s *Server) scrapeSource(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "source_id")
	if _, err := s.store.GetEntity(r.Context(), sourceID); err != nil {
		writeError(w, statusFor(err), "source not found")
		return
	}
	var req scrapeSourceRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	result, err := s.coordinator.ActorFor(sourceID).StartScraping(r.Context(), req.ForceRefresh)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if result.Cached {
		writeJSON(w, http.StatusOK, map[string]any{"cached": true, "status": result.Status})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": result.RunID})
}

type mergeRequest struct {
	EntityType string `json:"entity_type"`
	WinnerID   string `json:"winner_id"`
	LoserID    string `json:"loser_id"`
}

func (s *Server) applyMerge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.engine.Merge(r.Context(), req.EntityType, req.WinnerID, req.LoserID); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, core.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"merged": true})
}

// startJob launches fn in the background under its own timeout and returns
// a job id for log correlation. Handler errors after this point are the
// job's problem, not the request's.
func (s *Server) startJob(w http.ResponseWriter, fn func(ctx context.Context) error) (string, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate job id")
		return "", err
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.logger.Warn("background job failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}()
	return jobID, nil
}

func decodePageIDs(w http.ResponseWriter, r *http.Request) (pageIDsRequest, bool) {
	var req pageIDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.PageIDs) == 0 {
		writeError(w, http.StatusBadRequest, "page_ids required")
		return pageIDsRequest{}, false
	}
	return req, true
}

func statusFor(err error) int {
	if errors.Is(err, core.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-API-Key") != key {
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	n, err := sw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}
