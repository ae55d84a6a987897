package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gaze-engine/pkg/errors"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config represents the complete application configuration
type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	Storage   StorageConfig   `json:"storage"`
	Messaging MessagingConfig `json:"messaging"`
	Analyzer  AnalyzerConfig  `json:"analyzer"`
	Tracking  TrackingConfig  `json:"tracking"`
	Logging   LoggingConfig   `json:"logging"`
}

// HTTPConfig holds HTTP server configurations
type HTTPConfig struct {
	// HTTP port
	Port int `json:"port" env:"HTTP_PORT" default:"8080"`

	// Whether HTTP server is enabled
	Enabled bool `json:"enabled" env:"HTTP_ENABLED" default:"true"`

	// Whether metrics endpoint is enabled
	EnableMetrics bool `json:"enable_metrics" env:"HTTP_ENABLE_METRICS" default:"true"`

	// Whether API endpoints are enabled
	EnableAPI bool `json:"enable_api" env:"HTTP_ENABLE_API" default:"true"`

	// Read timeout for HTTP requests
	ReadTimeout time.Duration `json:"read_timeout" env:"HTTP_READ_TIMEOUT" default:"10s"`

	// Write timeout for HTTP responses
	WriteTimeout time.Duration `json:"write_timeout" env:"HTTP_WRITE_TIMEOUT" default:"30s"`
}

// StorageConfig holds durable store configurations
type StorageConfig struct {
	// Backend: dynamodb or memory
	Backend string `json:"backend" env:"STORAGE_BACKEND" default:"memory"`

	// AWS region for DynamoDB
	Region string `json:"region" env:"AWS_REGION" default:"us-east-1"`

	// Optional endpoint override (local DynamoDB)
	Endpoint string `json:"endpoint" env:"DYNAMODB_ENDPOINT"`

	// Table holding tracking sessions, keyed by sessionId
	SessionsTable string `json:"sessions_table" env:"DYNAMODB_SESSIONS_TABLE" default:"eye-tracking-sessions"`

	// Table holding gaze analyses, keyed by analysisId
	AnalysesTable string `json:"analyses_table" env:"DYNAMODB_ANALYSES_TABLE" default:"gaze-analyses"`

	// GSI on the sessions table for participant queries
	ParticipantIndex string `json:"participant_index" env:"DYNAMODB_PARTICIPANT_INDEX" default:"participant-index"`

	// Per-request timeout for store operations
	RequestTimeout time.Duration `json:"request_timeout" env:"STORAGE_REQUEST_TIMEOUT" default:"5s"`
}

// MessagingConfig holds AMQP messaging configurations
type MessagingConfig struct {
	// AMQP URL (empty disables messaging)
	AMQPUrl string `json:"amqp_url" env:"AMQP_URL"`

	// Queue to publish analysis events to
	AMQPQueueName string `json:"amqp_queue_name" env:"AMQP_QUEUE_NAME" default:"gaze-analysis-events"`

	// Routing key for analysis-completed events
	RoutingKey string `json:"routing_key" env:"AMQP_ROUTING_KEY" default:"analysis.completed"`
}

// AnalyzerConfig holds external analyzer configurations
type AnalyzerConfig struct {
	// Provider to use: http, mock, or none to disable
	Provider string `json:"provider" env:"ANALYZER_PROVIDER" default:"mock"`

	// Endpoint of the HTTP analyzer service
	Endpoint string `json:"endpoint" env:"ANALYZER_ENDPOINT"`

	// API key sent to the analyzer service, if any
	APIKey string `json:"api_key" env:"ANALYZER_API_KEY"`

	// Per-request timeout for analyzer calls
	Timeout time.Duration `json:"timeout" env:"ANALYZER_TIMEOUT" default:"30s"`
}

// TrackingConfig holds session and analysis tuning parameters
type TrackingConfig struct {
	// Default sample rate in Hz when a session does not specify one
	DefaultSampleRate int `json:"default_sample_rate" env:"TRACKING_SAMPLE_RATE" default:"60"`

	// Default calibration point count
	DefaultCalibrationPoints int `json:"default_calibration_points" env:"TRACKING_CALIBRATION_POINTS" default:"9"`

	// Default smoothing factor
	DefaultSmoothingFactor float64 `json:"default_smoothing_factor" env:"TRACKING_SMOOTHING_FACTOR" default:"0.7"`

	// Idle timeout before a silent session is force-disconnected
	IdleTimeout time.Duration `json:"idle_timeout" env:"TRACKING_IDLE_TIMEOUT" default:"5m"`

	// How often the idle reaper scans for silent sessions
	CleanupInterval time.Duration `json:"cleanup_interval" env:"TRACKING_CLEANUP_INTERVAL" default:"1m"`

	// Number of unflushed samples that triggers a durable write
	FlushBatch int `json:"flush_batch" env:"TRACKING_FLUSH_BATCH" default:"256"`

	// Heatmap grid cell size in pixels
	HeatmapCellSize float64 `json:"heatmap_cell_size" env:"TRACKING_HEATMAP_CELL_SIZE" default:"50"`

	// Maximum point-to-anchor distance within a fixation, in pixels
	FixationMaxDispersion float64 `json:"fixation_max_dispersion" env:"TRACKING_FIXATION_DISPERSION" default:"50"`

	// Minimum fixation duration in milliseconds
	FixationMinDuration float64 `json:"fixation_min_duration" env:"TRACKING_FIXATION_MIN_DURATION_MS" default:"100"`

	// Velocity above which movement is classified as a saccade, in px/ms
	SaccadeVelocityThreshold float64 `json:"saccade_velocity_threshold" env:"TRACKING_SACCADE_VELOCITY" default:"30"`

	// Minimum per-eye validity for a sample to count as valid
	ValidityThreshold float64 `json:"validity_threshold" env:"TRACKING_VALIDITY_THRESHOLD" default:"0.5"`
}

// LoggingConfig holds logging configurations
type LoggingConfig struct {
	// Log level
	Level string `json:"level" env:"LOG_LEVEL" default:"info"`

	// Log format (json or text)
	Format string `json:"format" env:"LOG_FORMAT" default:"json"`

	// Output file for logs (empty = stdout)
	OutputFile string `json:"output_file" env:"LOG_OUTPUT_FILE"`
}

// Load loads the configuration from environment variables and .env files
func Load(logger *logrus.Logger) (*Config, error) {
	// Get current working directory
	wd, err := os.Getwd()
	if err != nil {
		logger.WithError(err).Warn("Failed to get current working directory")
		wd = "unknown"
	}

	// Define possible locations for .env file
	possibleEnvFiles := []string{
		".env",                    // Current directory
		"../.env",                 // Parent directory
		filepath.Join(wd, ".env"), // Absolute path
	}

	// Try loading .env file from each possible location
	var loadedFrom string
	var loadErr error

	for _, envFile := range possibleEnvFiles {
		// Try to load this .env file
		if _, statErr := os.Stat(envFile); statErr == nil {
			absPath, _ := filepath.Abs(envFile)
			logger.WithField("path", absPath).Debug("Attempting to load .env file")

			if loadErr = godotenv.Load(envFile); loadErr == nil {
				loadedFrom = absPath
				break
			}
		}
	}

	// If all attempts failed, try default Load() which uses working directory
	if loadedFrom == "" {
		if loadErr = godotenv.Load(); loadErr == nil {
			if _, statErr := os.Stat(".env"); statErr == nil {
				loadedFrom, _ = filepath.Abs(".env")
			}
		}
	}

	// Report results
	if loadedFrom != "" {
		logger.WithFields(logrus.Fields{
			"working_dir": wd,
			"path":        loadedFrom,
		}).Info("Successfully loaded .env file")
	} else {
		logger.WithField("working_dir", wd).Warn("No .env file found, using environment variables only")
	}

	// Initialize config with default values
	config := &Config{}

	// Load HTTP configuration
	if err := loadHTTPConfig(logger, &config.HTTP); err != nil {
		return nil, errors.Wrap(err, "failed to load HTTP configuration")
	}

	// Load storage configuration
	if err := loadStorageConfig(logger, &config.Storage); err != nil {
		return nil, errors.Wrap(err, "failed to load storage configuration")
	}

	// Load messaging configuration
	if err := loadMessagingConfig(logger, &config.Messaging); err != nil {
		return nil, errors.Wrap(err, "failed to load messaging configuration")
	}

	// Load analyzer configuration
	if err := loadAnalyzerConfig(logger, &config.Analyzer); err != nil {
		return nil, errors.Wrap(err, "failed to load analyzer configuration")
	}

	// Load tracking configuration
	if err := loadTrackingConfig(logger, &config.Tracking); err != nil {
		return nil, errors.Wrap(err, "failed to load tracking configuration")
	}

	// Load logging configuration
	if err := loadLoggingConfig(logger, &config.Logging); err != nil {
		return nil, errors.Wrap(err, "failed to load logging configuration")
	}

	// Validate the complete configuration
	if err := validateConfig(logger, config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return config, nil
}

// loadHTTPConfig loads the HTTP configuration section
func loadHTTPConfig(logger *logrus.Logger, config *HTTPConfig) error {
	config.Port = getEnvInt("HTTP_PORT", 8080)
	config.Enabled = getEnvBool("HTTP_ENABLED", true)
	config.EnableMetrics = getEnvBool("HTTP_ENABLE_METRICS", true)
	config.EnableAPI = getEnvBool("HTTP_ENABLE_API", true)
	config.ReadTimeout = getEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second)
	config.WriteTimeout = getEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second)

	if config.Port < 1 || config.Port > 65535 {
		return errors.New(fmt.Sprintf("invalid HTTP_PORT: %d", config.Port))
	}

	return nil
}

// loadStorageConfig loads the storage configuration section
func loadStorageConfig(logger *logrus.Logger, config *StorageConfig) error {
	config.Backend = strings.ToLower(getEnv("STORAGE_BACKEND", "memory"))
	if config.Backend != "dynamodb" && config.Backend != "memory" {
		logger.Warnf("Invalid STORAGE_BACKEND '%s', defaulting to 'memory'", config.Backend)
		config.Backend = "memory"
	}

	config.Region = getEnv("AWS_REGION", "us-east-1")
	config.Endpoint = getEnv("DYNAMODB_ENDPOINT", "")
	config.SessionsTable = getEnv("DYNAMODB_SESSIONS_TABLE", "eye-tracking-sessions")
	config.AnalysesTable = getEnv("DYNAMODB_ANALYSES_TABLE", "gaze-analyses")
	config.ParticipantIndex = getEnv("DYNAMODB_PARTICIPANT_INDEX", "participant-index")
	config.RequestTimeout = getEnvDuration("STORAGE_REQUEST_TIMEOUT", 5*time.Second)

	if config.Backend == "dynamodb" {
		if strings.TrimSpace(config.SessionsTable) == "" {
			return errors.New("DynamoDB backend selected but DYNAMODB_SESSIONS_TABLE is empty")
		}
		if strings.TrimSpace(config.AnalysesTable) == "" {
			return errors.New("DynamoDB backend selected but DYNAMODB_ANALYSES_TABLE is empty")
		}
	}

	return nil
}

// loadMessagingConfig loads the messaging configuration section
func loadMessagingConfig(logger *logrus.Logger, config *MessagingConfig) error {
	config.AMQPUrl = getEnv("AMQP_URL", "")
	config.AMQPQueueName = getEnv("AMQP_QUEUE_NAME", "gaze-analysis-events")
	config.RoutingKey = getEnv("AMQP_ROUTING_KEY", "analysis.completed")

	if config.AMQPUrl != "" && config.AMQPQueueName == "" {
		logger.Warn("Incomplete AMQP configuration: both AMQP_URL and AMQP_QUEUE_NAME must be provided")
	}

	return nil
}

// loadAnalyzerConfig loads the external analyzer configuration section
func loadAnalyzerConfig(logger *logrus.Logger, config *AnalyzerConfig) error {
	config.Provider = strings.ToLower(getEnv("ANALYZER_PROVIDER", "mock"))
	config.Endpoint = getEnv("ANALYZER_ENDPOINT", "")
	config.APIKey = getEnv("ANALYZER_API_KEY", "")
	config.Timeout = getEnvDuration("ANALYZER_TIMEOUT", 30*time.Second)

	switch config.Provider {
	case "http", "mock":
	case "none", "disabled":
		config.Provider = ""
	default:
		logger.Warnf("Unknown ANALYZER_PROVIDER '%s', defaulting to 'mock'", config.Provider)
		config.Provider = "mock"
	}

	if config.Provider == "http" && config.Endpoint == "" {
		return errors.New("ANALYZER_PROVIDER is 'http' but ANALYZER_ENDPOINT is empty")
	}

	return nil
}

// loadTrackingConfig loads the tracking configuration section
func loadTrackingConfig(logger *logrus.Logger, config *TrackingConfig) error {
	config.DefaultSampleRate = getEnvInt("TRACKING_SAMPLE_RATE", 60)
	config.DefaultCalibrationPoints = getEnvInt("TRACKING_CALIBRATION_POINTS", 9)
	config.DefaultSmoothingFactor = getEnvFloat("TRACKING_SMOOTHING_FACTOR", 0.7)
	config.IdleTimeout = getEnvDuration("TRACKING_IDLE_TIMEOUT", 5*time.Minute)
	config.CleanupInterval = getEnvDuration("TRACKING_CLEANUP_INTERVAL", 1*time.Minute)
	config.FlushBatch = getEnvInt("TRACKING_FLUSH_BATCH", 256)
	config.HeatmapCellSize = getEnvFloat("TRACKING_HEATMAP_CELL_SIZE", 50)
	config.FixationMaxDispersion = getEnvFloat("TRACKING_FIXATION_DISPERSION", 50)
	config.FixationMinDuration = getEnvFloat("TRACKING_FIXATION_MIN_DURATION_MS", 100)
	config.SaccadeVelocityThreshold = getEnvFloat("TRACKING_SACCADE_VELOCITY", 30)
	config.ValidityThreshold = getEnvFloat("TRACKING_VALIDITY_THRESHOLD", 0.5)

	// Session defaults must themselves sit inside the accepted ranges
	if config.DefaultSampleRate < 30 || config.DefaultSampleRate > 120 {
		logger.Warnf("TRACKING_SAMPLE_RATE %d outside 30-120, defaulting to 60", config.DefaultSampleRate)
		config.DefaultSampleRate = 60
	}
	if config.DefaultCalibrationPoints < 3 || config.DefaultCalibrationPoints > 16 {
		logger.Warnf("TRACKING_CALIBRATION_POINTS %d outside 3-16, defaulting to 9", config.DefaultCalibrationPoints)
		config.DefaultCalibrationPoints = 9
	}
	if config.DefaultSmoothingFactor < 0 || config.DefaultSmoothingFactor > 1 {
		logger.Warnf("TRACKING_SMOOTHING_FACTOR %v outside 0-1, defaulting to 0.7", config.DefaultSmoothingFactor)
		config.DefaultSmoothingFactor = 0.7
	}

	return nil
}

// loadLoggingConfig loads the logging configuration section
func loadLoggingConfig(logger *logrus.Logger, config *LoggingConfig) error {
	// Load log level
	config.Level = getEnv("LOG_LEVEL", "info")

	// Validate log level
	_, err := logrus.ParseLevel(config.Level)
	if err != nil {
		logger.Warnf("Invalid LOG_LEVEL '%s', defaulting to 'info'", config.Level)
		config.Level = "info"
	}

	// Load log format
	config.Format = getEnv("LOG_FORMAT", "json")
	if config.Format != "json" && config.Format != "text" {
		logger.Warn("Invalid LOG_FORMAT, must be 'json' or 'text', defaulting to 'json'")
		config.Format = "json"
	}

	// Load log output file
	config.OutputFile = getEnv("LOG_OUTPUT_FILE", "")

	return nil
}

// validateConfig validates the complete configuration
func validateConfig(logger *logrus.Logger, config *Config) error {
	if config.Tracking.FlushBatch < 1 {
		return errors.New("invalid TRACKING_FLUSH_BATCH: must be at least 1")
	}

	if config.Tracking.IdleTimeout <= 0 {
		return errors.New("invalid TRACKING_IDLE_TIMEOUT: must be a positive duration")
	}

	if config.Tracking.CleanupInterval <= 0 {
		return errors.New("invalid TRACKING_CLEANUP_INTERVAL: must be a positive duration")
	}

	if config.Tracking.CleanupInterval >= config.Tracking.IdleTimeout {
		logger.Warn("TRACKING_CLEANUP_INTERVAL should be smaller than TRACKING_IDLE_TIMEOUT for effective reaping")
	}

	if config.Tracking.HeatmapCellSize <= 0 {
		return errors.New("invalid TRACKING_HEATMAP_CELL_SIZE: must be positive")
	}

	if config.Tracking.FixationMaxDispersion <= 0 {
		return errors.New("invalid TRACKING_FIXATION_DISPERSION: must be positive")
	}

	if config.Tracking.SaccadeVelocityThreshold <= 0 {
		return errors.New("invalid TRACKING_SACCADE_VELOCITY: must be positive")
	}

	// Validate logging configuration
	if config.Logging.OutputFile != "" {
		// Check if the log file can be created/written
		f, err := os.OpenFile(config.Logging.OutputFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("cannot write to log file: %s", config.Logging.OutputFile))
		}
		f.Close()
	}

	return nil
}

// ApplyLogging applies the configuration to the logger
func (c *Config) ApplyLogging(logger *logrus.Logger) error {
	// Set log level
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("invalid log level: %s", c.Logging.Level))
	}
	logger.SetLevel(level)

	// Set log format
	if c.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
		})
	}

	// Set log output
	if c.Logging.OutputFile != "" {
		f, err := os.OpenFile(c.Logging.OutputFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("failed to open log file: %s", c.Logging.OutputFile))
		}
		logger.SetOutput(f)
	} else {
		logger.SetOutput(os.Stdout)
	}

	return nil
}

// Helper function to get an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// Helper function to get a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	switch strings.ToLower(value) {
	case "true", "yes", "1", "on":
		return true
	case "false", "no", "0", "off":
		return false
	default:
		return defaultValue
	}
}

// Helper function to get an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// Helper function to get a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}

// getEnvFloat retrieves an environment variable and converts it to float64
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatValue
}
