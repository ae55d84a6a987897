// Package http exposes the session and analysis API, health checks,
// Prometheus metrics and the websocket sample-ingest endpoint.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"gaze-engine/pkg/analysis"
	"gaze-engine/pkg/config"
	"gaze-engine/pkg/errors"
	"gaze-engine/pkg/gaze"
	"gaze-engine/pkg/metrics"
)

// ConnectionChecker reports broker connectivity for health checks
type ConnectionChecker interface {
	IsConnected() bool
}

// Server hosts the REST API, websocket ingest and operational endpoints
type Server struct {
	config       config.HTTPConfig
	logger       *logrus.Logger
	httpServer   *http.Server
	mux          *http.ServeMux
	manager      *gaze.SessionManager
	orchestrator *analysis.Orchestrator
	amqpClient   ConnectionChecker
	startTime    time.Time
}

// NewServer creates the HTTP server and registers all routes. amqpClient may
// be nil when messaging is not configured.
func NewServer(logger *logrus.Logger, cfg config.HTTPConfig, manager *gaze.SessionManager, orchestrator *analysis.Orchestrator, amqpClient ConnectionChecker) *Server {
	server := &Server{
		config:       cfg,
		logger:       logger,
		manager:      manager,
		orchestrator: orchestrator,
		amqpClient:   amqpClient,
		startTime:    time.Now(),
	}

	mux := http.NewServeMux()
	server.mux = mux

	mux.HandleFunc("GET /health", server.HealthHandler)
	mux.HandleFunc("GET /health/live", server.LivenessHandler)
	mux.HandleFunc("GET /health/ready", server.ReadinessHandler)

	if cfg.EnableMetrics {
		if registry := metrics.GetRegistry(); registry != nil {
			mux.Handle("GET /metrics", promhttp.HandlerFor(
				registry,
				promhttp.HandlerOpts{
					EnableOpenMetrics: true,
					Registry:          registry,
				},
			))
			logger.Info("Prometheus metrics endpoint enabled at /metrics")
		}
	} else {
		logger.Info("Metrics endpoint disabled")
	}

	if cfg.EnableAPI {
		mux.HandleFunc("POST /api/sessions", server.StartSessionHandler)
		mux.HandleFunc("GET /api/sessions", server.ListSessionsHandler)
		mux.HandleFunc("GET /api/sessions/stats", server.SessionStatsHandler)
		mux.HandleFunc("GET /api/sessions/{id}", server.GetSessionHandler)
		mux.HandleFunc("POST /api/sessions/{id}/samples", server.IngestSamplesHandler)
		mux.HandleFunc("PUT /api/sessions/{id}/device", server.UpdateDeviceHandler)
		mux.HandleFunc("POST /api/sessions/{id}/calibration/start", server.BeginCalibrationHandler)
		mux.HandleFunc("POST /api/sessions/{id}/calibration", server.CompleteCalibrationHandler)
		mux.HandleFunc("POST /api/sessions/{id}/stop", server.StopSessionHandler)
		mux.HandleFunc("POST /api/sessions/{id}/analyses", server.GenerateAnalysisHandler)
		mux.HandleFunc("GET /api/sessions/{id}/analyses", server.SessionAnalysesHandler)
		mux.HandleFunc("GET /api/participants/{id}/sessions", server.ParticipantSessionsHandler)
		mux.HandleFunc("GET /api/analyses/{id}", server.GetAnalysisHandler)
		mux.HandleFunc("GET /ws/sessions/{id}", server.WebsocketIngestHandler)
		logger.Info("Session API endpoints enabled")
	}

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Start starts the HTTP server in a goroutine
func (s *Server) Start() {
	s.logger.WithField("port", s.config.Port).Info("Starting HTTP server")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server failed")
		}
	}()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}

// ErrorResponse sends a standardized error response
func (s *Server) ErrorResponse(w http.ResponseWriter, err error) {
	errors.WriteError(w, err)
	s.logger.WithError(err).Warn("HTTP error response sent")
}
