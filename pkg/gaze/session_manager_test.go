package gaze

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gaze-engine/pkg/errors"
)

// stubStore is an in-memory SessionStore with injectable failures
type stubStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	puts     int
	failPuts bool
}

func newStubStore() *stubStore {
	return &stubStore{sessions: make(map[string]*Session)}
}

func (s *stubStore) PutSession(ctx context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.failPuts {
		return fmt.Errorf("store unavailable")
	}
	s.sessions[session.SessionID] = session
	return nil
}

func (s *stubStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, errors.NewSessionNotFound(sessionID)
	}
	return session, nil
}

func (s *stubStore) QuerySessionsByParticipant(ctx context.Context, participantID string) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matches []*Session
	for _, session := range s.sessions {
		if session.ParticipantID == participantID {
			matches = append(matches, session)
		}
	}
	return matches, nil
}

func (s *stubStore) storedSampleCount(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return -1
	}
	return len(session.Samples)
}

func newTestManager(store SessionStore, cfg *SessionManagerConfig) *SessionManager {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewSessionManager(logger, store, cfg)
}

func validSample(x, y, ts float64) GazeSample {
	return GazeSample{X: x, Y: y, TimestampMs: ts}
}

func TestStartSessionDefaults(t *testing.T) {
	store := newStubStore()
	manager := newTestManager(store, nil)

	session, err := manager.StartSession(context.Background(), StartSessionRequest{
		ParticipantID: "participant-1",
	})
	require.NoError(t, err)

	assert.Contains(t, session.SessionID, "gaze-session-")
	assert.Equal(t, StatusConnecting, session.Status)
	assert.Equal(t, CaptureWeb, session.CaptureType)
	assert.Equal(t, 60, session.Config.SampleRate)
	assert.Equal(t, 9, session.Config.CalibrationPoints)
	assert.Equal(t, 1, manager.ActiveSessionCount())
	// Durable write happened before return
	assert.Equal(t, 1, store.puts)
}

func TestStartSessionRejectsOutOfRangeRate(t *testing.T) {
	store := newStubStore()
	manager := newTestManager(store, nil)

	_, err := manager.StartSession(context.Background(), StartSessionRequest{
		ParticipantID: "participant-1",
		Config:        EyeTrackerConfig{SampleRate: 1000},
	})
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrInvalidConfig))
	assert.Equal(t, 0, manager.ActiveSessionCount())
	assert.Equal(t, 0, store.puts)
}

func TestStartSessionRequiresParticipant(t *testing.T) {
	manager := newTestManager(newStubStore(), nil)

	_, err := manager.StartSession(context.Background(), StartSessionRequest{})
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrInvalidConfig))
}

func TestStartSessionPersistenceFailure(t *testing.T) {
	store := newStubStore()
	store.failPuts = true
	manager := newTestManager(store, nil)

	_, err := manager.StartSession(context.Background(), StartSessionRequest{
		ParticipantID: "participant-1",
	})
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrPersistenceFailure))
	// No orphaned in-memory session
	assert.Equal(t, 0, manager.ActiveSessionCount())
}

func TestIngestSampleTransitionsToTracking(t *testing.T) {
	manager := newTestManager(newStubStore(), nil)

	session, err := manager.StartSession(context.Background(), StartSessionRequest{
		ParticipantID: "participant-1",
	})
	require.NoError(t, err)

	require.NoError(t, manager.IngestSample(context.Background(), session.SessionID, validSample(100, 100, 10)))

	current, err := manager.GetSession(context.Background(), session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusTracking, current.Status)
	assert.Equal(t, 1, current.SampleCount())
}

func TestIngestSampleRejectsInvalid(t *testing.T) {
	manager := newTestManager(newStubStore(), nil)

	session, err := manager.StartSession(context.Background(), StartSessionRequest{
		ParticipantID: "participant-1",
	})
	require.NoError(t, err)

	err = manager.IngestSample(context.Background(), session.SessionID, validSample(-1, 100, 10))
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrInvalidSample))

	// Sample count unchanged
	current, err := manager.GetSession(context.Background(), session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 0, current.SampleCount())
}

func TestIngestSampleUnknownSession(t *testing.T) {
	manager := newTestManager(newStubStore(), nil)

	err := manager.IngestSample(context.Background(), "no-such-session", validSample(1, 1, 1))
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrSessionNotFound))
}

func TestIngestBatchFlush(t *testing.T) {
	store := newStubStore()
	manager := newTestManager(store, &SessionManagerConfig{FlushBatch: 4})

	session, err := manager.StartSession(context.Background(), StartSessionRequest{
		ParticipantID: "participant-1",
	})
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		require.NoError(t, manager.IngestSample(context.Background(), session.SessionID,
			validSample(float64(i), float64(i), float64(i*10))))
	}

	// Batch threshold reached: durable copy carries all four samples
	assert.Equal(t, 4, store.storedSampleCount(session.SessionID))
}

func TestStopSessionSavesAndEvicts(t *testing.T) {
	store := newStubStore()
	manager := newTestManager(store, nil)

	session, err := manager.StartSession(context.Background(), StartSessionRequest{
		ParticipantID: "participant-1",
	})
	require.NoError(t, err)
	require.NoError(t, manager.IngestSample(context.Background(), session.SessionID, validSample(5, 5, 10)))

	stopped, err := manager.StopSession(context.Background(), session.SessionID, true)
	require.NoError(t, err)

	assert.Equal(t, StatusDisconnected, stopped.Status)
	assert.NotNil(t, stopped.EndTime)
	assert.Equal(t, 1, stopped.Metadata.PointCount)
	assert.Equal(t, 0, manager.ActiveSessionCount())
	assert.Equal(t, 1, store.storedSampleCount(session.SessionID))
}

func TestStopSessionTwiceIsTerminal(t *testing.T) {
	manager := newTestManager(newStubStore(), nil)

	session, err := manager.StartSession(context.Background(), StartSessionRequest{
		ParticipantID: "participant-1",
	})
	require.NoError(t, err)

	_, err = manager.StopSession(context.Background(), session.SessionID, true)
	require.NoError(t, err)

	_, err = manager.StopSession(context.Background(), session.SessionID, true)
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrSessionTerminal))
}

func TestIngestAfterStopIsTerminal(t *testing.T) {
	manager := newTestManager(newStubStore(), nil)

	session, err := manager.StartSession(context.Background(), StartSessionRequest{
		ParticipantID: "participant-1",
	})
	require.NoError(t, err)

	_, err = manager.StopSession(context.Background(), session.SessionID, true)
	require.NoError(t, err)

	err = manager.IngestSample(context.Background(), session.SessionID, validSample(1, 1, 1))
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrSessionTerminal))
}

func TestStopSessionDiscardWithoutSave(t *testing.T) {
	store := newStubStore()
	manager := newTestManager(store, &SessionManagerConfig{FlushBatch: 100})

	session, err := manager.StartSession(context.Background(), StartSessionRequest{
		ParticipantID: "participant-1",
	})
	require.NoError(t, err)
	require.NoError(t, manager.IngestSample(context.Background(), session.SessionID, validSample(5, 5, 10)))

	stopped, err := manager.StopSession(context.Background(), session.SessionID, false)
	require.NoError(t, err)

	// The returned session still holds the samples for analysis, but the
	// durable copy was never updated past creation
	assert.Equal(t, 1, stopped.SampleCount())
	assert.Equal(t, 0, store.storedSampleCount(session.SessionID))
}

func TestUpdateDeviceMetadata(t *testing.T) {
	manager := newTestManager(newStubStore(), nil)

	session, err := manager.StartSession(context.Background(), StartSessionRequest{
		ParticipantID: "participant-1",
	})
	require.NoError(t, err)

	require.NoError(t, manager.UpdateDeviceMetadata(session.SessionID, 2560, 1440))

	current, err := manager.GetSession(context.Background(), session.SessionID)
	require.NoError(t, err)
	width, height := current.ScreenBounds()
	assert.Equal(t, 2560.0, width)
	assert.Equal(t, 1440.0, height)

	// Samples beyond the old default bounds are now accepted
	assert.NoError(t, manager.IngestSample(context.Background(), session.SessionID, validSample(2500, 1400, 10)))
}

func TestReapIdleSessions(t *testing.T) {
	store := newStubStore()
	manager := newTestManager(store, &SessionManagerConfig{IdleTimeout: 10 * time.Millisecond})

	session, err := manager.StartSession(context.Background(), StartSessionRequest{
		ParticipantID: "participant-1",
	})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	reaped := manager.ReapIdleSessions(context.Background())
	assert.Equal(t, 1, reaped)
	assert.Equal(t, 0, manager.ActiveSessionCount())

	stored, err := store.GetSession(context.Background(), session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, stored.Status)
}

func TestReapSkipsActiveSessions(t *testing.T) {
	manager := newTestManager(newStubStore(), &SessionManagerConfig{IdleTimeout: time.Hour})

	_, err := manager.StartSession(context.Background(), StartSessionRequest{
		ParticipantID: "participant-1",
	})
	require.NoError(t, err)

	assert.Equal(t, 0, manager.ReapIdleSessions(context.Background()))
	assert.Equal(t, 1, manager.ActiveSessionCount())
}

func TestConcurrentIngestDistinctSessions(t *testing.T) {
	store := newStubStore()
	manager := newTestManager(store, nil)

	const sessions = 8
	const samplesPerSession = 50

	ids := make([]string, sessions)
	for i := range ids {
		session, err := manager.StartSession(context.Background(), StartSessionRequest{
			ParticipantID: fmt.Sprintf("participant-%d", i),
		})
		require.NoError(t, err)
		ids[i] = session.SessionID
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(sessionID string) {
			defer wg.Done()
			for j := 1; j <= samplesPerSession; j++ {
				_ = manager.IngestSample(context.Background(), sessionID,
					validSample(float64(j), float64(j), float64(j)))
			}
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		session, err := manager.GetSession(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, samplesPerSession, session.SampleCount())
	}
}

func TestShutdownStopsAllSessions(t *testing.T) {
	store := newStubStore()
	manager := newTestManager(store, nil)

	for i := 0; i < 3; i++ {
		_, err := manager.StartSession(context.Background(), StartSessionRequest{
			ParticipantID: fmt.Sprintf("participant-%d", i),
		})
		require.NoError(t, err)
	}

	manager.Shutdown(context.Background())
	assert.Equal(t, 0, manager.ActiveSessionCount())
}

func TestStatistics(t *testing.T) {
	manager := newTestManager(newStubStore(), nil)

	session, err := manager.StartSession(context.Background(), StartSessionRequest{
		ParticipantID: "participant-1",
	})
	require.NoError(t, err)
	_, err = manager.StopSession(context.Background(), session.SessionID, true)
	require.NoError(t, err)

	stats := manager.Statistics()
	assert.Equal(t, 0, stats.ActiveSessions)
	assert.Equal(t, int64(1), stats.TotalSessions)
}

func TestStopFlushFailureRetriedByCleanup(t *testing.T) {
	store := newStubStore()
	manager := newTestManager(store, nil)

	session, err := manager.StartSession(context.Background(), StartSessionRequest{
		ParticipantID: "participant-1",
	})
	require.NoError(t, err)
	require.NoError(t, manager.IngestSample(context.Background(), session.SessionID, validSample(5, 5, 10)))

	store.failPuts = true
	_, err = manager.StopSession(context.Background(), session.SessionID, true)
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrPersistenceFailure))

	// The stopped session no longer counts against the active budget and is
	// not listed as active, even though its samples are still unflushed
	assert.Equal(t, 0, manager.ActiveSessionCount())
	assert.Empty(t, manager.ActiveSessions())

	// While the store is down the retry fails and the session is kept
	assert.Equal(t, 0, manager.RetryUnflushedSessions(context.Background()))

	store.failPuts = false
	assert.Equal(t, 1, manager.RetryUnflushedSessions(context.Background()))

	stored, err := store.GetSession(context.Background(), session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, stored.Status)
	assert.Len(t, stored.Samples, 1)

	// Released from the registry; nothing left to retry
	assert.Equal(t, 0, manager.RetryUnflushedSessions(context.Background()))
}

func TestCalibrationFlow(t *testing.T) {
	manager := newTestManager(newStubStore(), nil)

	session, err := manager.StartSession(context.Background(), StartSessionRequest{
		ParticipantID: "participant-1",
	})
	require.NoError(t, err)

	require.NoError(t, manager.BeginCalibration(session.SessionID))
	got, err := manager.GetSession(context.Background(), session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusCalibrating, got.Status)

	// Samples are still accepted mid-calibration
	require.NoError(t, manager.IngestSample(context.Background(), session.SessionID, validSample(100, 100, 10)))

	require.NoError(t, manager.CompleteCalibration(session.SessionID, CalibrationData{
		Accuracy: 0.92,
		Points:   []CalibrationPoint{{X: 960, Y: 540, Accuracy: 0.92}},
	}))

	got, err = manager.GetSession(context.Background(), session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusTracking, got.Status)
	require.NotNil(t, got.Calibration)
	assert.Equal(t, 0.92, got.Calibration.Accuracy)
	assert.Equal(t, 0.92, got.Metadata.AverageAccuracy)
}

func TestCompleteCalibrationBeforeSamplesReturnsToConnecting(t *testing.T) {
	manager := newTestManager(newStubStore(), nil)

	session, err := manager.StartSession(context.Background(), StartSessionRequest{
		ParticipantID: "participant-1",
	})
	require.NoError(t, err)

	require.NoError(t, manager.BeginCalibration(session.SessionID))
	require.NoError(t, manager.CompleteCalibration(session.SessionID, CalibrationData{Accuracy: 0.88}))

	got, err := manager.GetSession(context.Background(), session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusConnecting, got.Status)
}

func TestCalibrationErrors(t *testing.T) {
	manager := newTestManager(newStubStore(), nil)

	assert.Error(t, manager.BeginCalibration("no-such-session"))

	session, err := manager.StartSession(context.Background(), StartSessionRequest{
		ParticipantID: "participant-1",
	})
	require.NoError(t, err)

	err = manager.CompleteCalibration(session.SessionID, CalibrationData{Accuracy: 1.5})
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrInvalidInput))

	_, err = manager.StopSession(context.Background(), session.SessionID, true)
	require.NoError(t, err)

	err = manager.BeginCalibration(session.SessionID)
	require.Error(t, err)
}
