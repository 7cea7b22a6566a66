// Package server exposes the HTTP surface: the LINE webhook endpoint,
// the dispatch API and the operational endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/example/clinic-notify/internal/dispatch"
	"github.com/example/clinic-notify/internal/store"
	"github.com/example/clinic-notify/internal/webhook"
)

// Dependencies collects the server's collaborators.
type Dependencies struct {
	Dispatcher *dispatch.Dispatcher
	Processor  *webhook.Processor
	Directory  store.RecipientDirectory
	Store      store.DeliveryStore
	Logger     zerolog.Logger
}

// Server is the HTTP front of the notification daemon.
type Server struct {
	dispatcher *dispatch.Dispatcher
	processor  *webhook.Processor
	directory  store.RecipientDirectory
	store      store.DeliveryStore
	logger     zerolog.Logger
	http       *http.Server
}

// New constructs the server listening on the given port.
func New(port int, deps Dependencies) (*Server, error) {
	if deps.Dispatcher == nil {
		return nil, errors.New("server: dispatcher dependency is required")
	}
	if deps.Processor == nil {
		return nil, errors.New("server: webhook processor dependency is required")
	}
	if deps.Directory == nil {
		return nil, errors.New("server: recipient directory dependency is required")
	}
	if deps.Store == nil {
		return nil, errors.New("server: delivery store dependency is required")
	}

	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "http_server").Logger()

	s := &Server{
		dispatcher: deps.Dispatcher,
		processor:  deps.Processor,
		directory:  deps.Directory,
		store:      deps.Store,
		logger:     logger,
	}
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Post("/webhooks/line", s.handleWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Post("/notifications", s.handleDispatch)
		r.Get("/recipients/{recipientID}/deliveries", s.handleDeliveries)
	})

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.http.Addr).Msg("http server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
