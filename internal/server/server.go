package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xela07ax/fleet-observer/internal/infra/auth"
)

// Server — внешняя поверхность control plane: реестр для discovery,
// статус флота для UI и операторские заглушки алертов.
type Server struct {
	router *chi.Mux
	logger *zap.Logger

	authValidator auth.TokenValidator

	registryHandler *RegistryHandler
	fleetHandler    *FleetHandler
	silenceHandler  *SilenceHandler
}

func New(
	logger *zap.Logger,
	validator auth.TokenValidator,
	registryH *RegistryHandler,
	fleetH *FleetHandler,
	silenceH *SilenceHandler,
	gatherer prometheus.Gatherer,
) *Server {
	s := &Server{
		router:          chi.NewRouter(),
		logger:          logger.Named("api"),
		authValidator:   validator,
		registryHandler: registryH,
		fleetHandler:    fleetH,
		silenceHandler:  silenceH,
	}

	s.routes(gatherer)
	return s
}

func (s *Server) routes(gatherer prometheus.Gatherer) {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(TracingMiddleware)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		// Healthcheck самого control plane
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		// Скрейп собственных метрик + экспортированных SLO-порогов
		r.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

		// Discovery: активный набор агентов для gateway/UI
		r.Get("/v1/registry", s.registryHandler.List)

		// Статус флота из последнего цикла опроса
		r.Route("/v1/fleet", func(r chi.Router) {
			r.Get("/status", s.fleetHandler.Fleet)
			r.Get("/status/{name}", s.fleetHandler.Agent)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требует RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		r.Route("/v1/agents/{name}", func(r chi.Router) {
			r.Post("/silence", s.silenceHandler.Silence)     // Заглушить алерты агента
			r.Post("/unsilence", s.silenceHandler.Unsilence) // Снять заглушку
		})
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
