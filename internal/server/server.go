package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/leofalp/mosaik/core/engine"
	"github.com/leofalp/mosaik/providers/observability"
	"github.com/leofalp/mosaik/providers/recorder/redisrec"
)

const (
	// maxImportBytes bounds the body of POST /nodes/{id}/import.
	maxImportBytes = 8 << 20

	// maxJSONBytes bounds every JSON request body.
	maxJSONBytes = 1 << 20

	shutdownTimeout = 10 * time.Second
)

// History reads back recorded runs. *redisrec.Recorder implements it.
type History interface {
	History(ctx context.Context, runID engine.RunID) ([]engine.Event, error)
	RecentRuns(ctx context.Context, limit int) ([]redisrec.RunSummary, error)
}

var _ History = (*redisrec.Recorder)(nil)

// Server serves one engine.
type Server struct {
	engine   *engine.Engine
	observer observability.Provider
	metrics  http.Handler
	history  History
}

type Option func(*Server)

// WithObserver logs requests and failures through observer.
func WithObserver(observer observability.Provider) Option {
	return func(server *Server) {
		server.observer = observer
	}
}

// WithMetrics mounts handler at GET /metrics.
func WithMetrics(handler http.Handler) Option {
	return func(server *Server) {
		server.metrics = handler
	}
}

// WithHistory enables GET /history and GET /runs/{id}/history.
func WithHistory(history History) Option {
	return func(server *Server) {
		server.history = history
	}
}

// New creates a server for mosaik.
func New(mosaik *engine.Engine, opts ...Option) *Server {
	server := &Server{engine: mosaik}
	for _, opt := range opts {
		opt(server)
	}
	return server
}

// Handler returns the routed HTTP handler.
func (server *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(server.logRequests)
	router.Use(enableCORS)

	router.Get("/health", server.getHealth)

	router.Route("/graph", func(router chi.Router) {
		router.Get("/", server.getGraph)
		router.Get("/version", server.getGraphVersion)
	})

	router.Route("/nodes", func(router chi.Router) {
		router.Post("/", server.createNode)
		router.Route("/{nodeID}", func(router chi.Router) {
			router.Get("/", server.getNode)
			router.Delete("/", server.deleteNode)
			router.Put("/config", server.updateConfig)
			router.Put("/text", server.setText)
			router.Post("/messages", server.chat)
			router.Delete("/messages", server.clearConversation)
			router.Post("/import", server.importFile)
			router.Get("/export", server.exportNode)
		})
	})

	router.Route("/edges", func(router chi.Router) {
		router.Post("/", server.connect)
		router.Delete("/", server.disconnect)
	})

	router.Route("/runs", func(router chi.Router) {
		router.Get("/", server.listRuns)
		router.Post("/", server.triggerRun)
		router.Route("/{runID}", func(router chi.Router) {
			router.Get("/", server.getRun)
			router.Delete("/", server.cancelRun)
			router.Get("/history", server.getRunHistory)
		})
	})
	router.Get("/history", server.getRecentRuns)

	router.Get("/events", server.streamEvents)

	router.Route("/providers", func(router chi.Router) {
		router.Get("/", server.listProviders)
		router.Get("/{providerID}/models", server.listModels)
	})

	if server.metrics != nil {
		router.Method(http.MethodGet, "/metrics", server.metrics)
	}
	return router
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (server *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	served := make(chan error, 1)
	go func() { served <- httpServer.ListenAndServe() }()

	if server.observer != nil {
		server.observer.Info(ctx, "HTTP server listening", observability.String("addr", addr))
	}

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (server *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if server.observer == nil {
			next.ServeHTTP(writer, request)
			return
		}
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(writer, request.ProtoMajor)
		next.ServeHTTP(wrapped, request)
		server.observer.Debug(request.Context(), "HTTP request",
			observability.String(observability.AttrHTTPMethod, request.Method),
			observability.String(observability.AttrHTTPURL, request.URL.Path),
			observability.Int(observability.AttrHTTPStatusCode, wrapped.Status()),
			observability.Duration(observability.AttrDuration, time.Since(start)),
		)
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Access-Control-Allow-Origin", "*")
		writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID")
		if request.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(writer, request)
	})
}
