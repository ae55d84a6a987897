package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"gaze-engine/pkg/analysis"
	"gaze-engine/pkg/analyzer"
	"gaze-engine/pkg/config"
	"gaze-engine/pkg/gaze"
	http_server "gaze-engine/pkg/http"
	"gaze-engine/pkg/messaging"
	"gaze-engine/pkg/metrics"
	"gaze-engine/pkg/storage"
)

var (
	logger    = logrus.New()
	appConfig *config.Config

	sessionManager  *gaze.SessionManager
	cleanupService  *gaze.CleanupService
	orchestrator    *analysis.Orchestrator
	providerManager *analyzer.ProviderManager
	amqpClient      *messaging.AMQPClient
	httpServer      *http_server.Server

	// Context for graceful shutdown
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

func main() {
	// Basic logger setup; updated once configuration is loaded
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	logger.SetOutput(os.Stdout)

	rootCtx, rootCancel = context.WithCancel(context.Background())
	defer rootCancel()

	if err := initialize(); err != nil {
		logger.WithError(err).Fatal("Failed to initialize application")
	}

	var wg sync.WaitGroup
	wg.Add(1)

	if appConfig.HTTP.Enabled {
		httpServer.Start()
		logger.Info("HTTP server started")
	} else {
		logger.Info("HTTP server is disabled by configuration")
	}

	cleanupService.Start()

	// Graceful shutdown handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		defer wg.Done()
		sig := <-sigChan
		logger.WithField("signal", sig.String()).Info("Received shutdown signal, cleaning up...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		rootCancel()

		// Stop accepting traffic first
		if httpServer != nil {
			logger.Debug("Shutting down HTTP server...")
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Error("Error shutting down HTTP server")
			} else {
				logger.Info("HTTP server shut down successfully")
			}
		}

		// Stop the reaper before draining sessions so the two don't race
		if cleanupService != nil {
			cleanupService.Stop(5 * time.Second)
		}

		// Flush every active session to the durable store
		if sessionManager != nil {
			sessionManager.Shutdown(shutdownCtx)
		}

		if amqpClient != nil {
			logger.Debug("Disconnecting from AMQP...")
			amqpClient.Disconnect()
		}

		logger.Info("Application shut down gracefully")
	}()

	wg.Wait()
}

// initialize loads configuration and wires all components
func initialize() error {
	var err error

	appConfig, err = config.Load(logger)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := appConfig.ApplyLogging(logger); err != nil {
		return fmt.Errorf("failed to apply logging configuration: %w", err)
	}
	logger.WithField("level", logger.GetLevel().String()).Info("Log level set")

	metrics.StartMetrics(logger, appConfig.HTTP.EnableMetrics)

	// Durable store
	var sessionStore gaze.SessionStore
	var analysisStore analysis.AnalysisStore

	switch appConfig.Storage.Backend {
	case "dynamodb":
		dynamoStore, err := storage.NewDynamoStore(rootCtx, logger, appConfig.Storage)
		if err != nil {
			return fmt.Errorf("failed to initialize DynamoDB store: %w", err)
		}
		sessionStore = dynamoStore
		analysisStore = dynamoStore
	case "memory":
		memoryStore := storage.NewMemoryStore(logger)
		sessionStore = memoryStore
		analysisStore = memoryStore
		logger.Warn("Using in-memory storage backend; data does not survive restarts")
	default:
		return fmt.Errorf("unsupported storage backend: %s", appConfig.Storage.Backend)
	}

	// Session manager and idle reaper
	sessionManager = gaze.NewSessionManager(logger, sessionStore, &gaze.SessionManagerConfig{
		Defaults: gaze.ConfigDefaults{
			SampleRate:        appConfig.Tracking.DefaultSampleRate,
			CalibrationPoints: appConfig.Tracking.DefaultCalibrationPoints,
			SmoothingFactor:   appConfig.Tracking.DefaultSmoothingFactor,
		},
		IdleTimeout:     appConfig.Tracking.IdleTimeout,
		CleanupInterval: appConfig.Tracking.CleanupInterval,
		FlushBatch:      appConfig.Tracking.FlushBatch,
	})
	cleanupService = gaze.NewCleanupService(logger, sessionManager, appConfig.Tracking.CleanupInterval)

	// AMQP is optional; a missing broker degrades event delivery only
	var publisher analysis.EventPublisher
	if appConfig.Messaging.AMQPUrl != "" {
		logger.Info("Initializing AMQP client")
		amqpClient = messaging.NewAMQPClient(logger, messaging.AMQPConfig{
			URL:        appConfig.Messaging.AMQPUrl,
			QueueName:  appConfig.Messaging.AMQPQueueName,
			RoutingKey: appConfig.Messaging.RoutingKey,
		})
		if err := amqpClient.Connect(); err != nil {
			logger.WithError(err).Warn("Failed to connect to AMQP server, continuing without event publishing")
		}
		publisher = amqpClient
	} else {
		logger.Warn("AMQP not configured, analysis events will not be published")
	}

	// External analyzer providers
	if appConfig.Analyzer.Provider != "" {
		providerManager = analyzer.NewProviderManager(logger, appConfig.Analyzer.Provider)

		switch appConfig.Analyzer.Provider {
		case "mock":
			if err := providerManager.RegisterProvider(analyzer.NewMockProvider(logger)); err != nil {
				return fmt.Errorf("failed to register mock analysis provider: %w", err)
			}
		case "http":
			httpProvider := analyzer.NewHTTPProvider(logger,
				appConfig.Analyzer.Endpoint,
				appConfig.Analyzer.APIKey,
				appConfig.Analyzer.Timeout)
			if err := providerManager.RegisterProvider(httpProvider); err != nil {
				return fmt.Errorf("failed to register HTTP analysis provider: %w", err)
			}
		default:
			return fmt.Errorf("unsupported analysis provider: %s", appConfig.Analyzer.Provider)
		}
	} else {
		logger.Info("External analysis disabled")
	}

	// Analysis pipeline. The session manager is the session source so
	// analysis of a still-active session sees the registry copy.
	orchestrator = analysis.NewOrchestrator(logger, analysis.OrchestratorConfig{
		FixationDispersionPx:    appConfig.Tracking.FixationMaxDispersion,
		FixationMinDurationMs:   appConfig.Tracking.FixationMinDuration,
		SaccadeVelocityThresh:   appConfig.Tracking.SaccadeVelocityThreshold,
		HeatmapCellSizePx:       appConfig.Tracking.HeatmapCellSize,
		ValidityThreshold:       appConfig.Tracking.ValidityThreshold,
		ExternalAnalysisEnabled: providerManager != nil,
	}, sessionManager, analysisStore, publisher, providerManager)

	// A nil *AMQPClient must not become a non-nil ConnectionChecker
	var brokerCheck http_server.ConnectionChecker
	if amqpClient != nil {
		brokerCheck = amqpClient
	}
	httpServer = http_server.NewServer(logger, appConfig.HTTP, sessionManager, orchestrator, brokerCheck)

	logStartupConfig()

	return nil
}

// logStartupConfig logs the effective configuration
func logStartupConfig() {
	logger.Info("Gaze engine is starting with the following configuration:")

	logger.WithFields(logrus.Fields{
		"http_enabled":       appConfig.HTTP.Enabled,
		"http_port":          appConfig.HTTP.Port,
		"http_metrics":       appConfig.HTTP.EnableMetrics,
		"http_api":           appConfig.HTTP.EnableAPI,
		"http_read_timeout":  appConfig.HTTP.ReadTimeout,
		"http_write_timeout": appConfig.HTTP.WriteTimeout,
	}).Info("HTTP server configuration")

	logger.WithFields(logrus.Fields{
		"backend":         appConfig.Storage.Backend,
		"region":          appConfig.Storage.Region,
		"sessions_table":  appConfig.Storage.SessionsTable,
		"analyses_table":  appConfig.Storage.AnalysesTable,
		"request_timeout": appConfig.Storage.RequestTimeout,
	}).Info("Storage configuration")

	logger.WithFields(logrus.Fields{
		"sample_rate":        appConfig.Tracking.DefaultSampleRate,
		"calibration_points": appConfig.Tracking.DefaultCalibrationPoints,
		"idle_timeout":       appConfig.Tracking.IdleTimeout,
		"cleanup_interval":   appConfig.Tracking.CleanupInterval,
		"flush_batch":        appConfig.Tracking.FlushBatch,
	}).Info("Tracking configuration")

	logger.WithFields(logrus.Fields{
		"fixation_dispersion_px":   appConfig.Tracking.FixationMaxDispersion,
		"fixation_min_duration_ms": appConfig.Tracking.FixationMinDuration,
		"saccade_velocity":         appConfig.Tracking.SaccadeVelocityThreshold,
		"heatmap_cell_size":        appConfig.Tracking.HeatmapCellSize,
		"validity_threshold":       appConfig.Tracking.ValidityThreshold,
	}).Info("Analysis configuration")

	logger.WithFields(logrus.Fields{
		"provider": appConfig.Analyzer.Provider,
		"endpoint": appConfig.Analyzer.Endpoint,
	}).Info("External analyzer configuration")

	if appConfig.Messaging.AMQPUrl != "" {
		logger.WithFields(logrus.Fields{
			"queue":       appConfig.Messaging.AMQPQueueName,
			"routing_key": appConfig.Messaging.RoutingKey,
		}).Info("Messaging configuration")
	}
}
