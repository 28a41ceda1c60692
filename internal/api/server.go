package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/farhan/wagate/internal/config"
	"github.com/farhan/wagate/internal/queue"
	"github.com/farhan/wagate/internal/storage"
)

type Server struct {
	cfg    config.ServerConfig
	store  storage.Storage
	queue  *queue.Queue
	router *chi.Mux
	log    zerolog.Logger
	http   *http.Server
}

func NewServer(cfg config.ServerConfig, store storage.Storage, q *queue.Queue, log zerolog.Logger) *Server {
	s := &Server{
		cfg:   cfg,
		store: store,
		queue: q,
		log:   log,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	accHandler := NewAccountHandler(s.store)
	whHandler := NewWebhookHandler(s.store, s.queue)
	evHandler := NewEventHandler(s.store, s.queue)
	dlvHandler := NewDeliveryHandler(s.store)
	statsHandler := NewStatsHandler(s.store, s.queue)

	// Health check — no auth
	r.Get("/health", statsHandler.Health)

	r.Route("/api/v1", func(r chi.Router) {
		// Account management — admin routes, no bearer auth
		r.Post("/accounts", accHandler.Create)
		r.Get("/accounts", accHandler.List)
		r.Get("/accounts/{id}", accHandler.Get)
		r.Delete("/accounts/{id}", accHandler.Delete)
		r.Post("/accounts/{id}/rotate-key", accHandler.RotateKey)
		r.Patch("/accounts/{id}/status", accHandler.UpdateStatus)

		// Authenticated routes, scoped to the caller's account
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(s.store))

			// Webhooks
			r.Post("/webhooks", whHandler.Create)
			r.Get("/webhooks", whHandler.List)
			r.Get("/webhooks/{id}", whHandler.Get)
			r.Put("/webhooks/{id}", whHandler.Update)
			r.Delete("/webhooks/{id}", whHandler.Delete)
			r.Patch("/webhooks/{id}/toggle", whHandler.Toggle)
			r.Post("/webhooks/{id}/test", whHandler.Test)

			// Events — inbound/outbound message events fan out from here
			r.Post("/events", evHandler.Ingest)

			// Deliveries
			r.Get("/deliveries/dead-letter", dlvHandler.ListDeadLetters)
			r.Get("/deliveries/{id}", dlvHandler.Get)
			r.Post("/deliveries/{id}/requeue", dlvHandler.Requeue)

			// Stats
			r.Get("/stats", statsHandler.Stats)
		})
	})

	return r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
