// Package storage provides the durable store implementations behind the
// session manager and analysis orchestrator: an in-memory store for tests
// and local development, and a DynamoDB store for production.
package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"gaze-engine/pkg/analysis"
	"gaze-engine/pkg/errors"
	"gaze-engine/pkg/gaze"
)

// MemoryStore is a map-backed store. It implements the same interfaces as
// DynamoStore so the two are interchangeable behind configuration.
type MemoryStore struct {
	logger *logrus.Logger

	mu       sync.RWMutex
	sessions map[string]*gaze.Session
	analyses map[string]*analysis.Analysis
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(logger *logrus.Logger) *MemoryStore {
	return &MemoryStore{
		logger:   logger,
		sessions: make(map[string]*gaze.Session),
		analyses: make(map[string]*analysis.Analysis),
	}
}

// PutSession stores or replaces a session record
func (m *MemoryStore) PutSession(ctx context.Context, session *gaze.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.SessionID] = session
	return nil
}

// GetSession retrieves a session record by id
func (m *MemoryStore) GetSession(ctx context.Context, sessionID string) (*gaze.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, errors.NewSessionNotFound(sessionID)
	}
	return session, nil
}

// QuerySessionsByParticipant returns all sessions for a participant,
// newest first
func (m *MemoryStore) QuerySessionsByParticipant(ctx context.Context, participantID string) ([]*gaze.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]*gaze.Session, 0)
	for _, session := range m.sessions {
		if session.ParticipantID == participantID {
			matches = append(matches, session)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].StartTime.After(matches[j].StartTime)
	})

	return matches, nil
}

// PutAnalysis stores an analysis record. Records are immutable; an id
// collision means a caller bug, not an update.
func (m *MemoryStore) PutAnalysis(ctx context.Context, record *analysis.Analysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.analyses[record.AnalysisID]; exists {
		return errors.Wrap(errors.ErrAlreadyExists, "analysis "+record.AnalysisID+" already stored")
	}
	m.analyses[record.AnalysisID] = record
	return nil
}

// GetAnalysis retrieves an analysis record by id
func (m *MemoryStore) GetAnalysis(ctx context.Context, analysisID string) (*analysis.Analysis, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, exists := m.analyses[analysisID]
	if !exists {
		return nil, errors.Wrap(errors.ErrAnalysisNotFound, "analysis "+analysisID+" not found")
	}
	return record, nil
}

// GetAnalysesBySession returns all analyses for a session, newest first
func (m *MemoryStore) GetAnalysesBySession(ctx context.Context, sessionID string) ([]*analysis.Analysis, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]*analysis.Analysis, 0)
	for _, record := range m.analyses {
		if record.SessionID == sessionID {
			matches = append(matches, record)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})

	return matches, nil
}
