package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"subscription-reconciler/internal/domain/ports/repository"
	"subscription-reconciler/internal/infra/sched"
)

// RunReporter exposes the result of the most recent reconciliation run.
type RunReporter interface {
	LastRun() (sched.RunSummary, bool)
}

// Server is the ops surface: health, metrics and a small read-only API for
// inspecting reconciliation state.
type Server struct {
	httpServer *http.Server
	log        zerolog.Logger
}

func NewServer(
	port int,
	apiKey string,
	reporter RunReporter,
	subs repository.SubscriptionRepository,
	logger *zerolog.Logger,
) *Server {
	log := logger.With().Str("component", "web").Logger()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(requireAPIKey(apiKey))
		r.Get("/runs/last", handleLastRun(reporter))
		r.Get("/subscriptions/status-counts", handleStatusCounts(subs, &log))
	})

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      r,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		log: log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("ops server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func requireAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			token := strings.TrimPrefix(auth, "Bearer ")
			if key == "" || token != key {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func handleLastRun(reporter RunReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		summary, ok := reporter.LastRun()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no completed run yet"})
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func handleStatusCounts(subs repository.SubscriptionRepository, log *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := subs.CountByStatus(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("count subscriptions by status")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
		out := make(map[string]int, len(counts))
		for status, n := range counts {
			out[string(status)] = n
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
