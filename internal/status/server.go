// Package status serves the bot's read-only operational surface: health,
// Prometheus metrics, open positions and a websocket stream of fills.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"momentum-bot/internal/logger"
	"momentum-bot/internal/metrics"
	"momentum-bot/internal/types"
)

// Source is what the status endpoints report on.
type Source interface {
	Holdings() []types.Holding
	Pending() []types.PendingOrder
}

type Server struct {
	src     Source
	hub     *Hub
	mode    string
	venue   string
	started time.Time
}

func NewServer(src Source, hub *Hub, mode, venue string) *Server {
	return &Server{src: src, hub: hub, mode: mode, venue: venue, started: time.Now()}
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(metrics.Middleware)

	r.Get("/health", s.health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/positions", s.positions)
		r.Get("/orders/pending", s.pending)
		r.Get("/ws", s.hub.HandleWS(s.src.Holdings))
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"mode":           s.mode,
		"venue":          s.venue,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"ws_clients":     s.hub.ClientCount(),
	})
}

func (s *Server) positions(w http.ResponseWriter, r *http.Request) {
	holdings := s.src.Holdings()
	if holdings == nil {
		holdings = []types.Holding{}
	}
	writeJSON(w, http.StatusOK, holdings)
}

func (s *Server) pending(w http.ResponseWriter, r *http.Request) {
	orders := s.src.Pending()
	if orders == nil {
		orders = []types.PendingOrder{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn(context.Background(), "Failed to encode response", "error", err)
	}
}

// ListenAndServe runs the hub and the HTTP server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Router(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "Status server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}
