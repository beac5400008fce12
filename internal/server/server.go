// Package server: HTTP-сервер directory-api с graceful shutdown.
// Внутри кластера обычный HTTP, TLS терминируется на gateway.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bigkaa/stl-directory/internal/api/handlers"
	"github.com/bigkaa/stl-directory/internal/api/middleware"
	"github.com/bigkaa/stl-directory/internal/config"
)

// MediaPrefix: префикс, по которому раздаётся локальное хранилище.
const MediaPrefix = "/media/"

// Routes: всё, что монтирует роутер.
type Routes struct {
	API    *handlers.APIHandler
	Health *handlers.HealthHandler
	// JWTAuth может быть nil, тогда все запросы анонимные
	JWTAuth *middleware.JWTAuth
	// Throttle может быть nil
	Throttle *middleware.Throttle
	// Media раздаёт MediaPrefix при локальном бэкенде (может быть nil)
	Media http.Handler
}

// Server: HTTP-сервер directory-api.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт сервер с маршрутами и middleware.
func New(cfg *config.Config, logger *slog.Logger, routes Routes) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(cfg, logger, routes),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "http_server")),
		cfg:        cfg,
	}
}

// NewRouter собирает chi-роутер:
//
//	GET  /health/live, /health/ready, /metrics
//	GET  /media/*                        (локальное хранилище)
//	POST /api/v1/reviews, /api/v1/businesses, /api/v1/contact
//	GET  /api/v1/businesses/{id}, /api/v1/businesses/{id}/reviews
//	POST /api/v1/reviews/{id}/approve    (роль admin)
func NewRouter(cfg *config.Config, logger *slog.Logger, routes Routes) http.Handler {
	router := chi.NewRouter()

	// Глобальные middleware
	router.Use(chimw.RealIP)
	router.Use(chimw.Recoverer)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	// Пробы и метрики опрашиваются напрямую, без аутентификации и throttle.
	router.Get("/health/live", routes.Health.HealthLive)
	router.Get("/health/ready", routes.Health.HealthReady)
	router.Get("/metrics", routes.Health.GetMetrics)

	if routes.Media != nil {
		router.Handle(MediaPrefix+"*", http.StripPrefix(MediaPrefix, routes.Media))
	}

	router.Route("/api/v1", func(r chi.Router) {
		if routes.Throttle != nil {
			r.Use(routes.Throttle.Middleware())
		}
		if routes.JWTAuth != nil {
			r.Use(routes.JWTAuth.Middleware())
		}

		r.Post("/reviews", routes.API.SubmitReview)
		r.Post("/businesses", routes.API.SubmitBusiness)
		r.Post("/contact", routes.API.SubmitContact)
		r.Get("/businesses/{id}", routes.API.GetBusiness)
		r.Get("/businesses/{id}/reviews", routes.API.ListReviews)
		r.With(middleware.RequireRole(cfg.AdminRole)).Post("/reviews/{id}/approve", routes.API.ApproveReview)
	})

	return router
}

// Handler возвращает корневой обработчик.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run запускает сервер и блокирует до SIGINT/SIGTERM, затем выполняет
// graceful shutdown в пределах cfg.ShutdownTimeout.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен", slog.String("addr", s.httpServer.Addr))

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
