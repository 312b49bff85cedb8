package api

import (
	"context"
	"net/http"
	"time"

	"example.com/gatherly/services/attendance/config"
	"example.com/gatherly/services/attendance/internal/api/handlers"
	"example.com/gatherly/services/attendance/internal/api/middleware"
	"example.com/gatherly/services/attendance/internal/metrics"
	"example.com/gatherly/services/attendance/internal/services"
	"example.com/gatherly/services/attendance/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Server represents the HTTP server
type Server struct {
	config            config.Config
	router            *gin.Engine
	httpServer        *http.Server
	admissionService  *services.AdmissionService
	redemptionService *services.RedemptionService
	metrics           *metrics.Metrics
	tracer            tracing.Tracer
}

// NewServer creates a new HTTP server
func NewServer(cfg config.Config, admission *services.AdmissionService, redemption *services.RedemptionService, m *metrics.Metrics, tracer tracing.Tracer) *Server {
	server := &Server{
		config:            cfg,
		admissionService:  admission,
		redemptionService: redemption,
		metrics:           m,
		tracer:            tracer,
	}

	router := server.setupRouter()
	server.router = router

	httpServer := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  cfg.ServerTimeout,
		WriteTimeout: cfg.ServerTimeout,
	}
	server.httpServer = httpServer

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	if s.config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.Logger())
	router.Use(gin.Recovery())

	// Authenticated API surface. The caller identity arrives on a header
	// set by the gateway upstream.
	authed := router.Group("/api")
	authed.Use(middleware.Identity())

	rsvpHandler := handlers.NewRSVPHandler(s.admissionService, s.tracer)
	rsvpHandler.RegisterRoutes(authed)

	checkinHandler := handlers.NewCheckinHandler(s.redemptionService, s.tracer)
	checkinHandler.RegisterRoutes(authed)

	// Operational endpoints stay outside the identity requirement
	metricsHandler := handlers.NewMetricsHandler(s.metrics)
	metricsHandler.RegisterRoutes(router)

	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.ServerAddress).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
