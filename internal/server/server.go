// Package server wires the college proxy: router, middleware, routes, and
// graceful shutdown. main stays minimal; everything testable lives here.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/akashpatel/courseloop/internal/college"
	"github.com/akashpatel/courseloop/internal/handler"
	"github.com/akashpatel/courseloop/internal/middleware"
)

// Config holds everything the proxy needs to run.
type Config struct {
	Addr string

	// CollegeBaseURL is empty for the real Scorecard API; tests point it at
	// a local upstream.
	CollegeBaseURL string
	CollegeAPIKey  string
}

type Server struct {
	router *chi.Mux
	config Config
	logger *slog.Logger
}

// New assembles the dependency chain: college client → handler → routes.
func New(cfg Config, logger *slog.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router so tests can drive it with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	collegeClient := college.New(s.config.CollegeBaseURL, s.config.CollegeAPIKey, s.logger)
	collegeHandler := handler.NewCollegeHandler(collegeClient, s.logger)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/colleges", collegeHandler.HandleSearch)
	})
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
}

// Start runs the server until SIGINT/SIGTERM, then drains in-flight
// requests before returning.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("college proxy starting", slog.String("addr", s.config.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	s.logger.Info("server stopped")
	return nil
}
