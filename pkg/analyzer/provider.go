// Package analyzer defines the pluggable external gaze-analysis provider
// abstraction. Providers receive a session's raw samples and return an
// opaque, provider-namespaced result that is attached to the analysis record
// without interpretation.
package analyzer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"gaze-engine/pkg/gaze"
)

// Payload is the session slice handed to an external provider
type Payload struct {
	SessionID     string            `json:"sessionId"`
	ParticipantID string            `json:"participantId"`
	CaptureType   gaze.CaptureType  `json:"captureType"`
	ScreenWidth   float64           `json:"screenWidth"`
	ScreenHeight  float64           `json:"screenHeight"`
	Samples       []gaze.GazeSample `json:"samples"`
}

// Result is an external provider's output. Payload is opaque to the engine;
// it is stored and returned under the provider's namespace as-is.
type Result struct {
	Provider    string                 `json:"provider"`
	GeneratedAt time.Time              `json:"generatedAt"`
	Payload     map[string]interface{} `json:"payload"`
}

// Provider defines the interface for external analysis providers
type Provider interface {
	// Initialize prepares the provider for use
	Initialize() error

	// Name returns the provider's identifier
	Name() string

	// Analyze submits the session payload and returns the provider's result
	Analyze(ctx context.Context, payload Payload) (*Result, error)
}

// ProviderManager manages registered analysis providers
type ProviderManager struct {
	providers       map[string]Provider
	defaultProvider string
	logger          *logrus.Logger
	mutex           sync.RWMutex
}

// NewProviderManager creates a new provider manager
func NewProviderManager(logger *logrus.Logger, defaultProvider string) *ProviderManager {
	return &ProviderManager{
		providers:       make(map[string]Provider),
		defaultProvider: defaultProvider,
		logger:          logger,
	}
}

// RegisterProvider initializes and registers a provider
func (m *ProviderManager) RegisterProvider(provider Provider) error {
	if provider == nil {
		return fmt.Errorf("cannot register nil provider")
	}

	if err := provider.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize provider %s: %w", provider.Name(), err)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	name := provider.Name()
	m.providers[name] = provider
	m.logger.WithField("provider", name).Info("Registered analysis provider")

	return nil
}

// GetProvider returns the provider with the given name, or the default
// provider when name is empty
func (m *ProviderManager) GetProvider(name string) (Provider, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if name == "" {
		name = m.defaultProvider
	}

	provider, exists := m.providers[name]
	if !exists {
		return nil, fmt.Errorf("analysis provider not found: %s", name)
	}

	return provider, nil
}

// GetDefaultProvider returns the configured default provider
func (m *ProviderManager) GetDefaultProvider() (Provider, error) {
	return m.GetProvider(m.defaultProvider)
}
