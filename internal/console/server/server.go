package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xela07ax/spaceai-assistant/internal/console/handler"
	"github.com/xela07ax/spaceai-assistant/internal/domain"
	"github.com/xela07ax/spaceai-assistant/internal/infra"
	"github.com/xela07ax/spaceai-assistant/internal/infra/auth"
	"go.uber.org/zap"
)

// Deps — обработчики и инфраструктура консоли.
// Validator == nil, локальный режим без токенов.
type Deps struct {
	Tasks       *handler.TaskHandler
	Permissions *handler.PermissionHandler
	Tools       *handler.ToolHandler
	Audit       *handler.AuditHandler
	Validator   auth.TokenValidator
	Gatherer    prometheus.Gatherer
	Logger      *zap.Logger
}

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	deps   Deps
	srv    *http.Server
}

// NewConsoleServer собирает роутер со всеми зависимостями
func NewConsoleServer(deps Deps) *ConsoleServer {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ConsoleServer{
		router: chi.NewRouter(),
		logger: logger.Named("console-api"),
		deps:   deps,
	}
	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(infra.TracingMiddleware)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (RS256 токен, если настроен) ---
	r.Group(func(r chi.Router) {
		if s.deps.Validator != nil {
			r.Use(auth.NewMiddleware(s.deps.Validator, s.logger))
		}

		if h := s.deps.Tasks; h != nil {
			r.With(auth.RequireScope(domain.ScopeTasks)).Post("/v1/requests", h.Submit)
			r.Route("/v1/tasks", func(r chi.Router) {
				r.Use(auth.RequireScope(domain.ScopeTasks))
				r.Get("/", h.List)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.Get)
					r.Post("/cancel", h.Cancel)
					r.Post("/pause", h.Pause)
					r.Post("/resume", h.Resume)
				})
			})
		}

		if h := s.deps.Permissions; h != nil {
			r.Route("/v1/permissions", func(r chi.Router) {
				r.Use(auth.RequireScope(domain.ScopePermissions))
				r.Get("/", h.List)
				r.Get("/pending", h.Pending)
				r.Post("/prompts/{id}/respond", h.Respond)
				r.Delete("/{signature}", h.Revoke)
			})
		}

		if h := s.deps.Tools; h != nil {
			r.Route("/v1/tools", func(r chi.Router) {
				r.Use(auth.RequireScope(domain.ScopeTasks))
				r.Get("/", h.List)
				r.Route("/{name}", func(r chi.Router) {
					r.Get("/", h.Help)
					// Kill-switch: отключение видно всем узлам
					r.With(auth.RequireScope(domain.ScopePermissions)).Post("/disable", h.Disable)
					r.With(auth.RequireScope(domain.ScopePermissions)).Post("/enable", h.Enable)
				})
			})
		}

		// Аудит (Observability)
		if h := s.deps.Audit; h != nil {
			r.With(auth.RequireScope(domain.ScopeAudit)).Get("/v1/audit", h.GetLogs)
		}
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run слушает addr до отмены ctx, затем дает запросам 5 секунд на завершение
func (s *ConsoleServer) Run(ctx context.Context, addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("console API started", zap.String("addr", addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("console API stopped")
	return nil
}
