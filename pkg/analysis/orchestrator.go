package analysis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"gaze-engine/pkg/analyzer"
	"gaze-engine/pkg/errors"
	"gaze-engine/pkg/gaze"
	"gaze-engine/pkg/metrics"
)

// SessionSource resolves a session by id. The server wires the session
// manager here so active sessions resolve from the registry before the
// durable store; the stores also satisfy it directly.
type SessionSource interface {
	GetSession(ctx context.Context, sessionID string) (*gaze.Session, error)
}

// AnalysisStore persists and retrieves analysis records
type AnalysisStore interface {
	PutAnalysis(ctx context.Context, analysis *Analysis) error
	GetAnalysis(ctx context.Context, analysisID string) (*Analysis, error)
	GetAnalysesBySession(ctx context.Context, sessionID string) ([]*Analysis, error)
}

// EventPublisher broadcasts analysis lifecycle events
type EventPublisher interface {
	PublishAnalysisEvent(ctx context.Context, event AnalysisEvent) error
}

// AnalysisEvent is the message published when an analysis completes
type AnalysisEvent struct {
	EventType     string    `json:"eventType"`
	AnalysisID    string    `json:"analysisId"`
	SessionID     string    `json:"sessionId"`
	ParticipantID string    `json:"participantId"`
	CreatedAt     time.Time `json:"createdAt"`
	FixationCount int       `json:"fixationCount"`
	SaccadeCount  int       `json:"saccadeCount"`
	DataLossRate  float64   `json:"dataLossRate"`
}

// OrchestratorConfig carries the detector tuning for the orchestrator
type OrchestratorConfig struct {
	FixationDispersionPx    float64
	FixationMinDurationMs   float64
	SaccadeVelocityThresh   float64
	HeatmapCellSizePx       float64
	ValidityThreshold       float64
	ExternalAnalysisEnabled bool
}

// Orchestrator runs the full analysis pipeline for a session: detectors,
// heatmap, quality scoring, optional external provider, persistence and
// event publication. Analyses are immutable; re-running produces a new
// record with a fresh id.
type Orchestrator struct {
	logger    *logrus.Logger
	sessions  SessionSource
	store     AnalysisStore
	publisher EventPublisher
	providers *analyzer.ProviderManager

	fixations *FixationDetector
	saccades  *SaccadeDetector
	heatmap   *HeatmapAggregator
	quality   *QualityAssessor

	externalEnabled bool
}

// NewOrchestrator creates an orchestrator. publisher and providers may be nil
// when messaging or external analysis is not configured.
func NewOrchestrator(logger *logrus.Logger, cfg OrchestratorConfig, sessions SessionSource, store AnalysisStore, publisher EventPublisher, providers *analyzer.ProviderManager) *Orchestrator {
	return &Orchestrator{
		logger:          logger,
		sessions:        sessions,
		store:           store,
		publisher:       publisher,
		providers:       providers,
		fixations:       NewFixationDetector(cfg.FixationDispersionPx, cfg.FixationMinDurationMs),
		saccades:        NewSaccadeDetector(cfg.SaccadeVelocityThresh),
		heatmap:         NewHeatmapAggregator(cfg.HeatmapCellSizePx),
		quality:         NewQualityAssessor(cfg.ValidityThreshold),
		externalEnabled: cfg.ExternalAnalysisEnabled && providers != nil,
	}
}

// GenerateAnalysis resolves the session by id and runs the pipeline over it.
// Works for active sessions and for completed ones; each run produces a new
// immutable record.
func (o *Orchestrator) GenerateAnalysis(ctx context.Context, sessionID string) (*Analysis, error) {
	session, err := o.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return o.GenerateForSession(ctx, session)
}

// GenerateForSession runs the pipeline over an already-resolved session.
// Used when the caller just stopped the session and still holds it, so the
// analysis covers the full sample log even when it was not persisted.
func (o *Orchestrator) GenerateForSession(ctx context.Context, session *gaze.Session) (*Analysis, error) {
	start := time.Now()
	samples := session.CopySamples()

	fixations := o.fixations.Detect(samples, session.CaptureType)
	saccades := o.saccades.Detect(samples)
	heatmap := o.heatmap.Aggregate(samples)
	qualityMetrics := o.quality.Assess(samples, session.CaptureType, session.Calibration)

	analysis := &Analysis{
		AnalysisID:      uuid.NewString(),
		SessionID:       session.SessionID,
		ParticipantID:   session.ParticipantID,
		CreatedAt:       time.Now().UTC(),
		Fixations:       fixations,
		Saccades:        saccades,
		Attention:       BuildAttentionMetrics(fixations, saccades, heatmap, session.AreasOfInterest),
		Quality:         qualityMetrics,
		Recommendations: o.quality.Recommendations(qualityMetrics, session.CaptureType),
	}

	if o.externalEnabled {
		analysis.External = o.runExternal(ctx, session, samples)
	}

	if err := o.store.PutAnalysis(ctx, analysis); err != nil {
		metrics.RecordAnalysisGenerated("error")
		return nil, errors.NewPersistenceFailure("put_analysis", err)
	}

	o.recordMetrics(session.CaptureType, analysis, time.Since(start))
	o.publishEvent(ctx, analysis)

	o.logger.WithFields(logrus.Fields{
		"analysis_id": analysis.AnalysisID,
		"session_id":  session.SessionID,
		"samples":     len(samples),
		"fixations":   len(fixations),
		"saccades":    len(saccades),
		"duration":    time.Since(start),
	}).Info("Gaze analysis generated")

	return analysis, nil
}

// GetAnalysis retrieves a stored analysis record by id
func (o *Orchestrator) GetAnalysis(ctx context.Context, analysisID string) (*Analysis, error) {
	return o.store.GetAnalysis(ctx, analysisID)
}

// GetAnalysesBySession retrieves all analyses generated for a session
func (o *Orchestrator) GetAnalysesBySession(ctx context.Context, sessionID string) ([]*Analysis, error) {
	return o.store.GetAnalysesBySession(ctx, sessionID)
}

// runExternal calls the external provider best-effort. A provider failure
// degrades the analysis (no external section) rather than failing it.
func (o *Orchestrator) runExternal(ctx context.Context, session *gaze.Session, samples []gaze.GazeSample) *analyzer.Result {
	provider, err := o.providers.GetDefaultProvider()
	if err != nil {
		o.logger.WithError(err).Warning("No external analysis provider available")
		return nil
	}

	width, height := session.ScreenBounds()
	payload := analyzer.Payload{
		SessionID:     session.SessionID,
		ParticipantID: session.ParticipantID,
		CaptureType:   session.CaptureType,
		ScreenWidth:   width,
		ScreenHeight:  height,
		Samples:       samples,
	}

	start := time.Now()
	result, err := provider.Analyze(ctx, payload)
	if metrics.AnalyzerLatency != nil {
		metrics.AnalyzerLatency.WithLabelValues(provider.Name()).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if metrics.AnalyzerErrors != nil {
			metrics.AnalyzerErrors.WithLabelValues(provider.Name(), "analyze").Inc()
		}
		o.logger.WithError(err).WithFields(logrus.Fields{
			"provider":   provider.Name(),
			"session_id": session.SessionID,
		}).Warning("External analysis failed, continuing without it")
		return nil
	}

	return result
}

// recordMetrics updates the analysis counters and histograms
func (o *Orchestrator) recordMetrics(captureType gaze.CaptureType, analysis *Analysis, elapsed time.Duration) {
	metrics.RecordAnalysisGenerated("success")
	if metrics.AnalysisDuration != nil {
		metrics.AnalysisDuration.WithLabelValues(string(captureType)).Observe(elapsed.Seconds())
	}
	if metrics.FixationsDetected != nil {
		metrics.FixationsDetected.WithLabelValues(string(captureType)).Add(float64(len(analysis.Fixations)))
	}
	if metrics.SaccadesDetected != nil {
		metrics.SaccadesDetected.WithLabelValues(string(captureType)).Add(float64(len(analysis.Saccades)))
	}
}

// publishEvent broadcasts the completion event best-effort
func (o *Orchestrator) publishEvent(ctx context.Context, analysis *Analysis) {
	if o.publisher == nil {
		return
	}

	event := AnalysisEvent{
		EventType:     "analysis.completed",
		AnalysisID:    analysis.AnalysisID,
		SessionID:     analysis.SessionID,
		ParticipantID: analysis.ParticipantID,
		CreatedAt:     analysis.CreatedAt,
		FixationCount: len(analysis.Fixations),
		SaccadeCount:  len(analysis.Saccades),
		DataLossRate:  analysis.Quality.DataLossRate,
	}

	if err := o.publisher.PublishAnalysisEvent(ctx, event); err != nil {
		o.logger.WithError(err).WithField("analysis_id", analysis.AnalysisID).
			Warning("Failed to publish analysis event")
	}
}
