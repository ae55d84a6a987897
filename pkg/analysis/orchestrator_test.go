package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gaze-engine/pkg/analyzer"
	gazeerrors "gaze-engine/pkg/errors"
	"gaze-engine/pkg/gaze"
	"gaze-engine/pkg/metrics"
)

type fakeSessionSource struct {
	sessions map[string]*gaze.Session
}

func (f *fakeSessionSource) GetSession(ctx context.Context, sessionID string) (*gaze.Session, error) {
	session, ok := f.sessions[sessionID]
	if !ok {
		return nil, gazeerrors.NewSessionNotFound(sessionID)
	}
	return session, nil
}

type fakeAnalysisStore struct {
	records []*Analysis
	failPut bool
}

func (f *fakeAnalysisStore) PutAnalysis(ctx context.Context, record *Analysis) error {
	if f.failPut {
		return errors.New("store unavailable")
	}
	f.records = append(f.records, record)
	return nil
}

func (f *fakeAnalysisStore) GetAnalysis(ctx context.Context, analysisID string) (*Analysis, error) {
	for _, record := range f.records {
		if record.AnalysisID == analysisID {
			return record, nil
		}
	}
	return nil, gazeerrors.ErrAnalysisNotFound
}

func (f *fakeAnalysisStore) GetAnalysesBySession(ctx context.Context, sessionID string) ([]*Analysis, error) {
	var matches []*Analysis
	for _, record := range f.records {
		if record.SessionID == sessionID {
			matches = append(matches, record)
		}
	}
	return matches, nil
}

type fakePublisher struct {
	events []AnalysisEvent
}

func (f *fakePublisher) PublishAnalysisEvent(ctx context.Context, event AnalysisEvent) error {
	f.events = append(f.events, event)
	return nil
}

func testSession() *gaze.Session {
	return &gaze.Session{
		SessionID:     "gaze-session-1700000000000-abcd1234",
		ParticipantID: "participant-7",
		CaptureType:   gaze.CaptureWeb,
		Status:        gaze.StatusDisconnected,
		Samples: []gaze.GazeSample{
			sampleAt(100, 100, 0),
			sampleAt(102, 101, 60),
			sampleAt(101, 99, 130),
			sampleAt(800, 600, 140),
			sampleAt(802, 601, 260),
		},
	}
}

func newTestOrchestrator(store *fakeAnalysisStore, publisher EventPublisher, session *gaze.Session) *Orchestrator {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	source := &fakeSessionSource{sessions: map[string]*gaze.Session{}}
	if session != nil {
		source.sessions[session.SessionID] = session
	}

	return NewOrchestrator(logger, OrchestratorConfig{}, source, store, publisher, nil)
}

func TestGenerateAnalysisUnknownSession(t *testing.T) {
	orchestrator := newTestOrchestrator(&fakeAnalysisStore{}, nil, nil)

	_, err := orchestrator.GenerateAnalysis(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, gazeerrors.IsErrorType(err, gazeerrors.ErrSessionNotFound))
}

func TestGenerateAnalysisPersistsAndPublishes(t *testing.T) {
	store := &fakeAnalysisStore{}
	publisher := &fakePublisher{}
	session := testSession()
	orchestrator := newTestOrchestrator(store, publisher, session)

	record, err := orchestrator.GenerateAnalysis(context.Background(), session.SessionID)
	require.NoError(t, err)

	assert.NotEmpty(t, record.AnalysisID)
	assert.Equal(t, session.SessionID, record.SessionID)
	assert.Equal(t, session.ParticipantID, record.ParticipantID)
	assert.Len(t, store.records, 1)

	if assert.Len(t, publisher.events, 1) {
		event := publisher.events[0]
		assert.Equal(t, "analysis.completed", event.EventType)
		assert.Equal(t, record.AnalysisID, event.AnalysisID)
		assert.Equal(t, len(record.Fixations), event.FixationCount)
	}
}

func TestGenerateAnalysisStoreFailure(t *testing.T) {
	store := &fakeAnalysisStore{failPut: true}
	session := testSession()
	orchestrator := newTestOrchestrator(store, nil, session)

	_, err := orchestrator.GenerateAnalysis(context.Background(), session.SessionID)
	require.Error(t, err)
	assert.True(t, gazeerrors.IsErrorType(err, gazeerrors.ErrPersistenceFailure))
}

func TestGenerateAnalysisIdempotentContent(t *testing.T) {
	store := &fakeAnalysisStore{}
	session := testSession()
	orchestrator := newTestOrchestrator(store, nil, session)

	first, err := orchestrator.GenerateAnalysis(context.Background(), session.SessionID)
	require.NoError(t, err)
	second, err := orchestrator.GenerateAnalysis(context.Background(), session.SessionID)
	require.NoError(t, err)

	// New record each run, identical derived content
	assert.NotEqual(t, first.AnalysisID, second.AnalysisID)
	assert.Equal(t, first.Fixations, second.Fixations)
	assert.Equal(t, first.Saccades, second.Saccades)
	assert.Equal(t, first.Attention.Heatmap, second.Attention.Heatmap)
	assert.Equal(t, first.Quality, second.Quality)
	assert.Equal(t, first.Recommendations, second.Recommendations)
}

func TestExternalAnalyzerFailureDoesNotFailAnalysis(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	// Real collectors so the failure path exercises the label sets
	metrics.Init(logger)

	providers := analyzer.NewProviderManager(logger, "http")
	require.NoError(t, providers.RegisterProvider(
		analyzer.NewHTTPProvider(logger, "http://127.0.0.1:1", "", time.Second)))

	store := &fakeAnalysisStore{}
	session := testSession()
	source := &fakeSessionSource{sessions: map[string]*gaze.Session{session.SessionID: session}}
	orchestrator := NewOrchestrator(logger, OrchestratorConfig{ExternalAnalysisEnabled: true},
		source, store, nil, providers)

	record, err := orchestrator.GenerateAnalysis(context.Background(), session.SessionID)
	require.NoError(t, err)

	// Degraded, not failed: the record persists without the external section
	assert.Nil(t, record.External)
	assert.Len(t, store.records, 1)
}

func TestGetAnalysesBySession(t *testing.T) {
	store := &fakeAnalysisStore{}
	session := testSession()
	orchestrator := newTestOrchestrator(store, nil, session)

	_, err := orchestrator.GenerateAnalysis(context.Background(), session.SessionID)
	require.NoError(t, err)
	_, err = orchestrator.GenerateAnalysis(context.Background(), session.SessionID)
	require.NoError(t, err)

	analyses, err := orchestrator.GetAnalysesBySession(context.Background(), session.SessionID)
	require.NoError(t, err)
	assert.Len(t, analyses, 2)
}
