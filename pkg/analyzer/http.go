package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"gaze-engine/pkg/errors"
	"gaze-engine/pkg/metrics"
)

// HTTPProvider submits sessions to a remote analysis service over HTTP.
// The remote contract is a single POST of the payload returning a JSON body
// that becomes the result's opaque payload.
type HTTPProvider struct {
	logger   *logrus.Logger
	client   *http.Client
	endpoint string
	apiKey   string
}

// NewHTTPProvider creates a provider targeting the given endpoint
func NewHTTPProvider(logger *logrus.Logger, endpoint, apiKey string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPProvider{
		logger:   logger,
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		apiKey:   apiKey,
	}
}

// Name returns the provider name
func (p *HTTPProvider) Name() string {
	return "http"
}

// Initialize validates the configured endpoint
func (p *HTTPProvider) Initialize() error {
	if p.endpoint == "" {
		return fmt.Errorf("analysis endpoint not configured")
	}

	parsed, err := url.Parse(p.endpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid analysis endpoint: %s", p.endpoint)
	}

	p.logger.WithField("endpoint", p.endpoint).Info("HTTP analysis provider initialized")
	return nil
}

// Analyze posts the payload and decodes the provider's JSON response
func (p *HTTPProvider) Analyze(ctx context.Context, payload Payload) (*Result, error) {
	start := time.Now()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode analysis payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build analysis request")
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		metrics.RecordAnalyzerRequest(p.Name(), "error")
		return nil, errors.NewAnalyzerUnavailable(p.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.RecordAnalyzerRequest(p.Name(), "error")
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.NewAnalyzerUnavailable(p.Name(),
			fmt.Errorf("analysis service returned %d: %s", resp.StatusCode, string(snippet)))
	}

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		metrics.RecordAnalyzerRequest(p.Name(), "error")
		return nil, errors.NewAnalyzerUnavailable(p.Name(),
			fmt.Errorf("failed to decode analysis response: %w", err))
	}

	metrics.RecordAnalyzerRequest(p.Name(), "success")

	p.logger.WithFields(logrus.Fields{
		"session_id": payload.SessionID,
		"samples":    len(payload.Samples),
		"duration":   time.Since(start),
	}).Debug("External analysis completed")

	return &Result{
		Provider:    p.Name(),
		GeneratedAt: time.Now().UTC(),
		Payload:     decoded,
	}, nil
}
