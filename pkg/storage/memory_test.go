package storage

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gaze-engine/pkg/analysis"
	"gaze-engine/pkg/errors"
	"gaze-engine/pkg/gaze"
)

func newTestStore() *MemoryStore {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewMemoryStore(logger)
}

func storedSession(id, participantID string, start time.Time) *gaze.Session {
	return &gaze.Session{
		SessionID:     id,
		ParticipantID: participantID,
		CaptureType:   gaze.CaptureWeb,
		Status:        gaze.StatusDisconnected,
		StartTime:     start,
	}
}

func TestMemoryStoreSessionRoundTrip(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	session := storedSession("s-1", "p-1", time.Now())
	require.NoError(t, store.PutSession(ctx, session))

	got, err := store.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "p-1", got.ParticipantID)

	_, err = store.GetSession(ctx, "s-missing")
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrSessionNotFound))
}

func TestMemoryStoreQuerySessionsByParticipant(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	base := time.Now()
	require.NoError(t, store.PutSession(ctx, storedSession("s-old", "p-1", base.Add(-time.Hour))))
	require.NoError(t, store.PutSession(ctx, storedSession("s-new", "p-1", base)))
	require.NoError(t, store.PutSession(ctx, storedSession("s-other", "p-2", base)))

	sessions, err := store.QuerySessionsByParticipant(ctx, "p-1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "s-new", sessions[0].SessionID)
	assert.Equal(t, "s-old", sessions[1].SessionID)

	none, err := store.QuerySessionsByParticipant(ctx, "p-none")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStoreAnalysisImmutable(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	record := &analysis.Analysis{AnalysisID: "a-1", SessionID: "s-1", CreatedAt: time.Now()}
	require.NoError(t, store.PutAnalysis(ctx, record))

	err := store.PutAnalysis(ctx, &analysis.Analysis{AnalysisID: "a-1", SessionID: "s-1"})
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrAlreadyExists))

	got, err := store.GetAnalysis(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, "s-1", got.SessionID)

	_, err = store.GetAnalysis(ctx, "a-missing")
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrAnalysisNotFound))
}

func TestMemoryStoreAnalysesBySessionNewestFirst(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	base := time.Now()
	require.NoError(t, store.PutAnalysis(ctx, &analysis.Analysis{
		AnalysisID: "a-old", SessionID: "s-1", CreatedAt: base.Add(-time.Minute)}))
	require.NoError(t, store.PutAnalysis(ctx, &analysis.Analysis{
		AnalysisID: "a-new", SessionID: "s-1", CreatedAt: base}))
	require.NoError(t, store.PutAnalysis(ctx, &analysis.Analysis{
		AnalysisID: "a-other", SessionID: "s-2", CreatedAt: base}))

	records, err := store.GetAnalysesBySession(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a-new", records[0].AnalysisID)
	assert.Equal(t, "a-old", records[1].AnalysisID)
}
