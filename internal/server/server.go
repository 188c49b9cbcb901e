// Package server implements the TopicDeck HTTP server and REST routes.
package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/topicdeck/topicdeck/internal/busy"
	"github.com/topicdeck/topicdeck/internal/config"
	"github.com/topicdeck/topicdeck/internal/topic"
)

// Server is the TopicDeck HTTP server. It exposes the topic catalog as a
// JSON REST API plus server-sent-event streams for live reads.
type Server struct {
	cfg        *config.Config
	router     chi.Router
	api        huma.API
	repo       *topic.Repository
	uploads    *topic.UploadCoordinator
	ordering   *topic.OrderingCoordinator
	busy       *busy.Coordinator
	httpServer *http.Server
}

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status string `json:"status" example:"ok" doc:"Health status"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Body HealthBody
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithRepository sets the topic repository for the server.
func WithRepository(repo *topic.Repository) ServerOption {
	return func(s *Server) {
		s.repo = repo
	}
}

// WithUploadCoordinator sets the upload coordinator for the server.
func WithUploadCoordinator(up *topic.UploadCoordinator) ServerOption {
	return func(s *Server) {
		s.uploads = up
	}
}

// WithOrderingCoordinator sets the ordering coordinator for the server.
func WithOrderingCoordinator(o *topic.OrderingCoordinator) ServerOption {
	return func(s *Server) {
		s.ordering = o
	}
}

// WithBusyCoordinator sets the busy coordinator for the server.
func WithBusyCoordinator(b *busy.Coordinator) ServerOption {
	return func(s *Server) {
		s.busy = b
	}
}

// New creates a new Server with the given configuration and wires up all
// routes on the Chi router with Huma API. Use ServerOption functions to
// provide the repository and coordinators.
func New(cfg *config.Config, opts ...ServerOption) (*Server, error) {
	router := chi.NewMux()

	humaConfig := huma.DefaultConfig("TopicDeck API", "1.0.0")
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, humaConfig)

	s := &Server{
		cfg:    cfg,
		router: router,
		api:    api,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerRoutes()
	return s, nil
}

// ListenAndServe starts the HTTP server on the given address.
// The returned http.Server is stored so it can be shut down gracefully.
func (s *Server) ListenAndServe(addr string) error {
	var handler http.Handler = s.router
	handler = requestIDMiddleware(handler)
	handler = metricsMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the server's router. Used by tests with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// registerRoutes configures all routes on the Chi router. Huma routes
// (/health, /docs, /openapi.json) and /metrics come first; the topic REST
// routes follow.
func (s *Server) registerRoutes() {
	// Register /health via Huma for auto-OpenAPI documentation.
	huma.Register(s.api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the TopicDeck server.",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		return &HealthOutput{Body: HealthBody{Status: "ok"}}, nil
	})

	// Register HEAD /health separately (Huma only does one method per registration).
	s.router.Head("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	})

	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Get("/busy", s.handleBusy)

	s.router.Route("/topics", func(r chi.Router) {
		r.Get("/", s.handleListTopics)
		r.Post("/", s.handleCreateTopic)
		r.Get("/watch", s.handleWatchAll)
		r.Route("/{topicID}", func(r chi.Router) {
			r.Get("/", s.handleGetTopic)
			r.Patch("/", s.handleUpdateTopic)
			r.Delete("/", s.handleRemoveTopic)
			r.Get("/watch", s.handleWatchTopic)
			r.Post("/images", s.handleUploadImage)
			r.Delete("/images/{imageID}", s.handleDeleteImage)
			r.Post("/reorder", s.handleReorder)
		})
	})
}
