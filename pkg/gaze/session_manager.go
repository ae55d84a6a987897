package gaze

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"gaze-engine/pkg/errors"
	"gaze-engine/pkg/metrics"

	"github.com/sirupsen/logrus"
)

// SessionStore is the durable persistence consumed by the manager. The
// concrete implementation lives in pkg/storage.
type SessionStore interface {
	PutSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	QuerySessionsByParticipant(ctx context.Context, participantID string) ([]*Session, error)
}

// SessionManagerConfig configures the session manager
type SessionManagerConfig struct {
	Defaults        ConfigDefaults
	MaxSessions     int
	IdleTimeout     time.Duration
	CleanupInterval time.Duration
	FlushBatch      int
}

// DefaultSessionManagerConfig returns default configuration
func DefaultSessionManagerConfig() *SessionManagerConfig {
	return &SessionManagerConfig{
		Defaults: ConfigDefaults{
			SampleRate:        60,
			CalibrationPoints: 9,
			SmoothingFactor:   0.7,
		},
		MaxSessions:     1000,
		IdleTimeout:     5 * time.Minute,
		CleanupInterval: 1 * time.Minute,
		FlushBatch:      256,
	}
}

// SessionManager owns the active-session registry and the session state
// machine. Concurrency discipline: the sharded registry serializes lookups,
// each session's own lock serializes its mutation, and no global lock exists.
type SessionManager struct {
	registry *shardedRegistry
	store    SessionStore
	logger   *logrus.Logger

	defaults    ConfigDefaults
	maxSessions int32
	idleTimeout time.Duration
	flushBatch  int

	// Statistics
	activeSessions int32
	totalSessions  int64
}

// NewSessionManager creates a new session manager
func NewSessionManager(logger *logrus.Logger, store SessionStore, config *SessionManagerConfig) *SessionManager {
	if config == nil {
		config = DefaultSessionManagerConfig()
	}

	// Validate configuration and set safe defaults
	if config.MaxSessions <= 0 {
		config.MaxSessions = 1000
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 5 * time.Minute
	}
	if config.FlushBatch <= 0 {
		config.FlushBatch = 256
	}
	if config.Defaults.SampleRate == 0 {
		config.Defaults = DefaultSessionManagerConfig().Defaults
	}

	return &SessionManager{
		registry:    newShardedRegistry(64), // 64 shards for high concurrency
		store:       store,
		logger:      logger,
		defaults:    config.Defaults,
		maxSessions: int32(config.MaxSessions),
		idleTimeout: config.IdleTimeout,
		flushBatch:  config.FlushBatch,
	}
}

// StartSessionRequest carries everything a new session needs
type StartSessionRequest struct {
	ParticipantID   string           `json:"participantId"`
	TestID          string           `json:"testId,omitempty"`
	CaptureType     CaptureType      `json:"captureType,omitempty"`
	Config          EyeTrackerConfig `json:"config"`
	Calibration     *CalibrationData `json:"calibration,omitempty"`
	AreasOfInterest []AreaOfInterest `json:"areasOfInterest,omitempty"`
	ScreenWidth     float64          `json:"screenWidth,omitempty"`
	ScreenHeight    float64          `json:"screenHeight,omitempty"`
}

// StartSession creates, registers and durably persists a new session.
// The durable write happens before return so a crash never loses a
// session record that a caller has seen.
func (sm *SessionManager) StartSession(ctx context.Context, req StartSessionRequest) (*Session, error) {
	if strings.TrimSpace(req.ParticipantID) == "" {
		return nil, errors.NewInvalidConfig("participant id is required")
	}

	current := atomic.LoadInt32(&sm.activeSessions)
	if current >= sm.maxSessions {
		return nil, errors.NewInternalError("maximum concurrent sessions reached",
			map[string]interface{}{"max_sessions": sm.maxSessions})
	}

	config := req.Config
	if err := config.Normalize(sm.defaults); err != nil {
		return nil, errors.NewInvalidConfig(err.Error())
	}

	for i := range req.AreasOfInterest {
		if err := req.AreasOfInterest[i].Validate(); err != nil {
			return nil, errors.NewInvalidConfig(err.Error())
		}
	}

	captureType := req.CaptureType
	if captureType == "" {
		captureType = CaptureWeb
	}
	if captureType != CaptureNative && captureType != CaptureWeb {
		return nil, errors.NewInvalidConfig("unsupported capture type: " + string(captureType))
	}

	now := time.Now()
	session := &Session{
		SessionID:       NewSessionID(),
		ParticipantID:   req.ParticipantID,
		TestID:          req.TestID,
		CaptureType:     captureType,
		StartTime:       now,
		Status:          StatusConnecting,
		Config:          config,
		Calibration:     req.Calibration,
		AreasOfInterest: req.AreasOfInterest,
		Samples:         make([]GazeSample, 0, sm.flushBatch),
		Metadata: SessionMetadata{
			ScreenWidth:  req.ScreenWidth,
			ScreenHeight: req.ScreenHeight,
		},
		lastSampleAt: now,
	}

	// A registry collision means the id generator misbehaved; fail rather
	// than overwrite another session
	if !sm.registry.StoreIfAbsent(session.SessionID, session) {
		return nil, errors.NewInternalError("session id collision",
			map[string]interface{}{"session_id": session.SessionID})
	}

	// Persist a snapshot before returning; no orphaned in-memory-only
	// sessions, and the store never aliases the live object
	if err := sm.store.PutSession(ctx, session.Snapshot()); err != nil {
		sm.registry.Delete(session.SessionID)
		return nil, errors.NewPersistenceFailure("put_session", err,
			map[string]interface{}{"session_id": session.SessionID})
	}

	atomic.AddInt32(&sm.activeSessions, 1)
	atomic.AddInt64(&sm.totalSessions, 1)

	if metrics.IsMetricsEnabled() && metrics.SessionsActive != nil {
		metrics.SessionsActive.Inc()
		metrics.SessionsTotal.WithLabelValues(string(captureType)).Inc()
	}

	sm.logger.WithFields(logrus.Fields{
		"session_id":     session.SessionID,
		"participant_id": session.ParticipantID,
		"capture_type":   captureType,
		"sample_rate":    config.SampleRate,
	}).Info("Tracking session started")

	return session, nil
}

// IngestSample validates and appends one sample to a session's log. The hot
// path holds only the session's own lock; durable writes are deferred to
// batch flushes.
func (sm *SessionManager) IngestSample(ctx context.Context, sessionID string, sample GazeSample) error {
	return sm.ingestSample(ctx, sessionID, sample, "api")
}

// IngestStreamSample is IngestSample for the websocket transport; only the
// metrics attribution differs
func (sm *SessionManager) IngestStreamSample(ctx context.Context, sessionID string, sample GazeSample) error {
	return sm.ingestSample(ctx, sessionID, sample, "websocket")
}

func (sm *SessionManager) ingestSample(ctx context.Context, sessionID string, sample GazeSample, transport string) error {
	session, ok := sm.registry.Load(sessionID)
	if !ok {
		// A session evicted from the registry has ended; distinguish
		// terminal from unknown for the caller
		stored, err := sm.store.GetSession(ctx, sessionID)
		if err == nil && stored != nil && stored.Status.IsTerminal() {
			return errors.NewSessionTerminal(sessionID, string(stored.Status))
		}
		return errors.NewSessionNotFound(sessionID)
	}

	needFlush := false

	session.mu.Lock()
	if session.Status.IsTerminal() {
		status := session.Status
		session.mu.Unlock()
		return errors.NewSessionTerminal(sessionID, string(status))
	}

	maxX, maxY := session.ScreenBounds()
	var prevTS float64
	if last, found := session.LastSample(); found {
		prevTS = last.TimestampMs
	}

	if err := ValidateSample(sample, maxX, maxY, prevTS); err != nil {
		session.mu.Unlock()
		if reason, rok := errors.GetErrorFields(err)["reason"].(string); rok {
			metrics.RecordSampleRejected(reason)
		}
		return err
	}

	session.Samples = append(session.Samples, sample)
	session.lastSampleAt = time.Now()
	session.Metadata.PointCount = len(session.Samples)

	// First accepted sample moves a connecting session to tracking
	if session.Status == StatusConnecting {
		session.Status = StatusTracking
	}

	if len(session.Samples)-session.flushedCount >= sm.flushBatch && !session.flushing {
		session.flushing = true
		needFlush = true
	}
	session.mu.Unlock()

	metrics.RecordSampleIngested(transport)

	if needFlush {
		if err := sm.flushSession(ctx, session, "batch"); err != nil {
			sm.logger.WithError(err).WithField("session_id", sessionID).
				Warn("Batch flush failed, samples retained in memory")
		}
	}

	return nil
}

// UpdateDeviceMetadata records the capture device's actual screen dimensions,
// typically delivered with the first ingest batch
func (sm *SessionManager) UpdateDeviceMetadata(sessionID string, screenWidth, screenHeight float64) error {
	session, ok := sm.registry.Load(sessionID)
	if !ok {
		return errors.NewSessionNotFound(sessionID)
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.Status.IsTerminal() {
		return errors.NewSessionTerminal(sessionID, string(session.Status))
	}

	if screenWidth > 0 {
		session.Metadata.ScreenWidth = screenWidth
	}
	if screenHeight > 0 {
		session.Metadata.ScreenHeight = screenHeight
	}

	return nil
}

// BeginCalibration moves a session into the calibrating state. Samples keep
// being accepted while calibrating; detectors do not distinguish them.
func (sm *SessionManager) BeginCalibration(sessionID string) error {
	session, ok := sm.registry.Load(sessionID)
	if !ok {
		return errors.NewSessionNotFound(sessionID)
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.Status.IsTerminal() {
		return errors.NewSessionTerminal(sessionID, string(session.Status))
	}

	session.Status = StatusCalibrating
	return nil
}

// CompleteCalibration stores the calibration result and returns the session
// to tracking (or connecting, when no sample has arrived yet)
func (sm *SessionManager) CompleteCalibration(sessionID string, data CalibrationData) error {
	if data.Accuracy < 0 || data.Accuracy > 1 {
		return errors.NewInvalidInput("calibration accuracy must be within 0-1",
			map[string]interface{}{"accuracy": data.Accuracy})
	}

	session, ok := sm.registry.Load(sessionID)
	if !ok {
		return errors.NewSessionNotFound(sessionID)
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.Status.IsTerminal() {
		return errors.NewSessionTerminal(sessionID, string(session.Status))
	}

	session.Calibration = &data
	session.Metadata.AverageAccuracy = data.Accuracy

	if session.Status == StatusCalibrating {
		if len(session.Samples) > 0 {
			session.Status = StatusTracking
		} else {
			session.Status = StatusConnecting
		}
	}

	sm.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"accuracy":   data.Accuracy,
		"points":     len(data.Points),
	}).Info("Session calibration recorded")

	return nil
}

// StopSession transitions a session to disconnected, stamps its end time,
// flushes remaining samples when saveData is set, and evicts the session
// from the registry once the durable copy is written.
func (sm *SessionManager) StopSession(ctx context.Context, sessionID string, saveData bool) (*Session, error) {
	session, ok := sm.registry.Load(sessionID)
	if !ok {
		stored, err := sm.store.GetSession(ctx, sessionID)
		if err == nil && stored != nil {
			return nil, errors.NewSessionTerminal(sessionID, string(stored.Status))
		}
		return nil, errors.NewSessionNotFound(sessionID)
	}

	session.mu.Lock()
	if session.Status.IsTerminal() {
		status := session.Status
		session.mu.Unlock()
		return nil, errors.NewSessionTerminal(sessionID, string(status))
	}

	now := time.Now()
	session.Status = StatusDisconnected
	session.EndTime = &now
	session.Metadata.DurationMs = float64(now.Sub(session.StartTime).Milliseconds())
	session.Metadata.PointCount = len(session.Samples)
	session.flushing = true
	captureType := session.CaptureType
	session.mu.Unlock()

	if metrics.IsMetricsEnabled() && metrics.SessionDuration != nil {
		metrics.SessionDuration.WithLabelValues(string(captureType)).
			Observe(now.Sub(session.StartTime).Seconds())
	}

	if saveData {
		if err := sm.flushSession(ctx, session, "stop"); err != nil {
			// The session stays in the registry, terminal but retired, so
			// the cleanup cycle can retry the flush until the store recovers
			sm.retire(session)
			sm.logger.WithError(err).WithFields(logrus.Fields{
				"session_id": sessionID,
				"samples":    session.SampleCount(),
			}).Error("Final flush failed, durable copy is behind in-memory state")
			return session, errors.NewPersistenceFailure("put_session", err,
				map[string]interface{}{"session_id": sessionID})
		}
	} else {
		session.mu.Lock()
		session.flushing = false
		session.mu.Unlock()
	}

	sm.evict(sessionID)

	sm.logger.WithFields(logrus.Fields{
		"session_id":  sessionID,
		"samples":     session.SampleCount(),
		"duration_ms": session.Metadata.DurationMs,
		"saved":       saveData,
	}).Info("Tracking session stopped")

	return session, nil
}

// GetSession checks the active registry first and falls back to the durable
// store. Read failures against the store are retried once.
func (sm *SessionManager) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	if session, ok := sm.registry.Load(sessionID); ok {
		return session, nil
	}

	session, err := sm.store.GetSession(ctx, sessionID)
	if err != nil && errors.IsErrorType(err, errors.ErrPersistenceFailure) {
		sm.logger.WithError(err).WithField("session_id", sessionID).
			Warn("Durable read failed, retrying once")
		session, err = sm.store.GetSession(ctx, sessionID)
	}
	if err != nil {
		if errors.IsErrorType(err, errors.ErrNotFound) || errors.IsErrorType(err, errors.ErrSessionNotFound) {
			return nil, errors.NewSessionNotFound(sessionID)
		}
		return nil, err
	}
	if session == nil {
		return nil, errors.NewSessionNotFound(sessionID)
	}

	return session, nil
}

// GetSessionsByParticipant queries the durable store's participant index
func (sm *SessionManager) GetSessionsByParticipant(ctx context.Context, participantID string) ([]*Session, error) {
	if strings.TrimSpace(participantID) == "" {
		return nil, errors.NewInvalidInput("participant id is required")
	}
	return sm.store.QuerySessionsByParticipant(ctx, participantID)
}

// ActiveSessionCount returns the number of sessions in the registry
func (sm *SessionManager) ActiveSessionCount() int {
	return int(atomic.LoadInt32(&sm.activeSessions))
}

// ActiveSessions returns a summary line per active session. Stopped sessions
// awaiting a flush retry still sit in the registry but are not listed.
func (sm *SessionManager) ActiveSessions() []SessionSummary {
	now := time.Now()
	summaries := make([]SessionSummary, 0, sm.registry.Count())

	sm.registry.Range(func(_ string, session *Session) bool {
		summary := session.Summary(now)
		if !summary.Status.IsTerminal() {
			summaries = append(summaries, summary)
		}
		return true
	})

	return summaries
}

// SessionManagerStats provides session manager statistics
type SessionManagerStats struct {
	ActiveSessions int   `json:"active_sessions"`
	TotalSessions  int64 `json:"total_sessions"`
	MaxSessions    int   `json:"max_sessions"`
}

// Statistics returns manager-level counters
func (sm *SessionManager) Statistics() SessionManagerStats {
	return SessionManagerStats{
		ActiveSessions: int(atomic.LoadInt32(&sm.activeSessions)),
		TotalSessions:  atomic.LoadInt64(&sm.totalSessions),
		MaxSessions:    int(sm.maxSessions),
	}
}

// ReapIdleSessions force-disconnects sessions with no accepted sample for the
// idle timeout. Sessions mid-flush are skipped this cycle to avoid racing a
// concurrent StopSession. Returns the number of sessions reaped.
func (sm *SessionManager) ReapIdleSessions(ctx context.Context) int {
	now := time.Now()
	var idle []*Session

	sm.registry.Range(func(_ string, session *Session) bool {
		session.mu.Lock()
		eligible := !session.Status.IsTerminal() && !session.flushing &&
			now.Sub(session.lastSampleAt) >= sm.idleTimeout
		session.mu.Unlock()

		if eligible {
			idle = append(idle, session)
		}
		return true
	})

	reaped := 0
	for _, session := range idle {
		if _, err := sm.StopSession(ctx, session.SessionID, true); err != nil {
			if errors.IsErrorType(err, errors.ErrSessionTerminal) {
				// Lost the race to a caller-driven stop; nothing to do
				continue
			}
			sm.logger.WithError(err).WithField("session_id", session.SessionID).
				Warn("Failed to reap idle session")
			continue
		}

		reaped++
		if metrics.IsMetricsEnabled() && metrics.SessionsReaped != nil {
			metrics.SessionsReaped.Inc()
		}
		sm.logger.WithFields(logrus.Fields{
			"session_id":   session.SessionID,
			"idle_timeout": sm.idleTimeout,
		}).Info("Idle session force-disconnected")
	}

	return reaped
}

// RetryUnflushedSessions retries the final durable write for stopped sessions
// whose stop-time flush failed. A successful retry releases the session from
// the registry; a failed one leaves it for the next cycle. Returns the number
// of sessions flushed.
func (sm *SessionManager) RetryUnflushedSessions(ctx context.Context) int {
	var pending []*Session

	sm.registry.Range(func(_ string, session *Session) bool {
		session.mu.Lock()
		eligible := session.Status.IsTerminal() && !session.flushing &&
			session.flushedCount < len(session.Samples)
		if eligible {
			session.flushing = true
		}
		session.mu.Unlock()

		if eligible {
			pending = append(pending, session)
		}
		return true
	})

	flushed := 0
	for _, session := range pending {
		if err := sm.flushSession(ctx, session, "retry"); err != nil {
			sm.logger.WithError(err).WithField("session_id", session.SessionID).
				Warn("Retry flush failed, keeping session for next cycle")
			continue
		}

		sm.registry.Delete(session.SessionID)
		flushed++
		sm.logger.WithFields(logrus.Fields{
			"session_id": session.SessionID,
			"samples":    session.SampleCount(),
		}).Info("Stopped session flushed after earlier failure")
	}

	return flushed
}

// Shutdown stops all active sessions, flushing each to the durable store
func (sm *SessionManager) Shutdown(ctx context.Context) {
	var active []*Session
	sm.registry.Range(func(_ string, session *Session) bool {
		active = append(active, session)
		return true
	})

	for _, session := range active {
		if _, err := sm.StopSession(ctx, session.SessionID, true); err != nil &&
			!errors.IsErrorType(err, errors.ErrSessionTerminal) {
			sm.logger.WithError(err).WithField("session_id", session.SessionID).
				Warn("Failed to stop session during shutdown")
		}
	}

	// Last chance for sessions whose final flush failed earlier
	sm.RetryUnflushedSessions(ctx)

	sm.logger.WithField("stopped", len(active)).Info("Session manager shut down")
}

// flushSession writes a consistent snapshot of the session to the durable
// store. The session lock is released during the write; the flushing flag
// keeps the reaper and concurrent flushes away in the meantime.
func (sm *SessionManager) flushSession(ctx context.Context, session *Session, trigger string) error {
	session.mu.Lock()
	snapshot := session.snapshotLocked()
	target := len(session.Samples)
	session.mu.Unlock()

	start := time.Now()
	err := sm.store.PutSession(ctx, snapshot)

	session.mu.Lock()
	if err == nil {
		session.flushedCount = target
	}
	session.flushing = false
	session.mu.Unlock()

	if err != nil {
		return err
	}

	if metrics.IsMetricsEnabled() && metrics.SessionsFlushed != nil {
		metrics.SessionsFlushed.WithLabelValues(trigger).Inc()
	}
	if metrics.IsMetricsEnabled() && metrics.SampleBatchFlush != nil {
		metrics.SampleBatchFlush.WithLabelValues(trigger).Observe(time.Since(start).Seconds())
	}

	sm.logger.WithFields(logrus.Fields{
		"session_id": session.SessionID,
		"samples":    target,
		"trigger":    trigger,
		"took":       time.Since(start),
	}).Debug("Session flushed to durable store")

	return nil
}

// snapshotLocked builds a copy safe to hand to the store while ingestion
// continues. Caller must hold the session lock.
func (s *Session) snapshotLocked() *Session {
	samples := make([]GazeSample, len(s.Samples))
	copy(samples, s.Samples)

	return &Session{
		SessionID:       s.SessionID,
		ParticipantID:   s.ParticipantID,
		TestID:          s.TestID,
		CaptureType:     s.CaptureType,
		StartTime:       s.StartTime,
		EndTime:         s.EndTime,
		Status:          s.Status,
		Config:          s.Config,
		Calibration:     s.Calibration,
		AreasOfInterest: s.AreasOfInterest,
		Samples:         samples,
		Metadata:        s.Metadata,
	}
}

// Snapshot returns a consistent copy of the session safe for serialization
// while ingestion continues
func (s *Session) Snapshot() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// retire releases a session from active accounting exactly once. The session
// may outlive this in the registry when its final flush still needs a retry.
func (sm *SessionManager) retire(session *Session) {
	session.mu.Lock()
	already := session.retired
	session.retired = true
	session.mu.Unlock()

	if already {
		return
	}

	atomic.AddInt32(&sm.activeSessions, -1)
	if metrics.IsMetricsEnabled() && metrics.SessionsActive != nil {
		metrics.SessionsActive.Dec()
	}
}

// evict retires a session and removes it from the registry
func (sm *SessionManager) evict(sessionID string) {
	session, ok := sm.registry.Load(sessionID)
	if !ok {
		return
	}
	sm.retire(session)
	sm.registry.Delete(sessionID)
}
