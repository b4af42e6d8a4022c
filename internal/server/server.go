package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/ziadkadry99/cadence/internal/config"
)

// Routes is anything that mounts its own HTTP routes.
type Routes interface {
	RegisterRoutes(r chi.Router)
}

// Server is the engine's HTTP surface.
type Server struct {
	cfg        config.ServerConfig
	logger     *zap.Logger
	router     chi.Router
	httpServer *http.Server
}

// New creates a server with the given feature routes mounted.
func New(cfg config.ServerConfig, logger *zap.Logger, routes ...Routes) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{cfg: cfg, logger: logger}
	s.router = s.buildRouter(routes)
	return s
}

// buildRouter creates and configures the chi router with all routes.
func (s *Server) buildRouter(routes []Routes) chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// The websocket stream lives outside the timeout group.
	r.Group(func(r chi.Router) {
		for _, rt := range routes {
			rt.RegisterRoutes(timeoutRouter{Router: r})
		}
	})
	return r
}

// timeoutRouter applies the request timeout to /api routes only, so that
// long-lived websocket connections are not cut off.
type timeoutRouter struct {
	chi.Router
}

func (t timeoutRouter) Route(pattern string, fn func(r chi.Router)) chi.Router {
	return t.Router.Route(pattern, func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		fn(r)
	})
}

// Router returns the chi router.
func (s *Server) Router() chi.Router { return s.router }

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("cadence server listening", zap.String("addr", addr))
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
