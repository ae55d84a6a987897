package analyzer

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// MockProvider implements the Provider interface for testing and local
// development. It returns a deterministic summary of the payload instead of
// calling out to a real service.
type MockProvider struct {
	logger *logrus.Logger
}

// NewMockProvider creates a new mock analysis provider
func NewMockProvider(logger *logrus.Logger) *MockProvider {
	return &MockProvider{logger: logger}
}

// Name returns the provider name
func (p *MockProvider) Name() string {
	return "mock"
}

// Initialize initializes the mock provider
func (p *MockProvider) Initialize() error {
	p.logger.Info("Initializing mock analysis provider")
	return nil
}

// Analyze returns a canned result summarizing the payload
func (p *MockProvider) Analyze(ctx context.Context, payload Payload) (*Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	p.logger.WithFields(logrus.Fields{
		"session_id": payload.SessionID,
		"samples":    len(payload.Samples),
	}).Debug("Mock analysis requested")

	return &Result{
		Provider:    p.Name(),
		GeneratedAt: time.Now().UTC(),
		Payload: map[string]interface{}{
			"sessionId":   payload.SessionID,
			"sampleCount": len(payload.Samples),
			"captureType": string(payload.CaptureType),
			"engagement":  "moderate",
		},
	}, nil
}
