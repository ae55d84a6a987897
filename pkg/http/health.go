package http

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"
)

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
	System    SystemInfo             `json:"system"`
}

// CheckResult represents an individual health check result
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SystemInfo contains system resource information
type SystemInfo struct {
	GoRoutines     int    `json:"goroutines"`
	MemoryMB       uint64 `json:"memory_mb"`
	CPUCount       int    `json:"cpu_count"`
	ActiveSessions int    `json:"active_sessions"`
}

// HealthHandler handles health check requests
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Checks:    make(map[string]CheckResult),
	}

	// Session manager
	if s.manager != nil {
		health.Checks["sessions"] = CheckResult{
			Status:  "healthy",
			Message: "Session manager operational",
		}
		health.System.ActiveSessions = s.manager.ActiveSessionCount()
	} else {
		health.Checks["sessions"] = CheckResult{
			Status:  "unhealthy",
			Message: "Session manager not initialized",
		}
		health.Status = "unhealthy"
	}

	// Analysis pipeline
	if s.orchestrator != nil {
		health.Checks["analysis"] = CheckResult{
			Status:  "healthy",
			Message: "Analysis pipeline operational",
		}
	} else {
		health.Checks["analysis"] = CheckResult{
			Status:  "unhealthy",
			Message: "Analysis orchestrator not initialized",
		}
		health.Status = "unhealthy"
	}

	// AMQP is optional; losing it degrades event delivery, not tracking
	if s.amqpClient != nil {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					health.Checks["amqp"] = CheckResult{
						Status:  "degraded",
						Message: "AMQP status check panicked",
					}
				}
			}()
			if s.amqpClient.IsConnected() {
				health.Checks["amqp"] = CheckResult{
					Status:  "healthy",
					Message: "AMQP connected",
				}
			} else {
				health.Checks["amqp"] = CheckResult{
					Status:  "degraded",
					Message: "AMQP disconnected, events are being dropped",
				}
				if health.Status == "healthy" {
					health.Status = "degraded"
				}
			}
		}()
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	health.System.GoRoutines = runtime.NumGoroutine()
	health.System.MemoryMB = memStats.Alloc / 1024 / 1024
	health.System.CPUCount = runtime.NumCPU()

	status := http.StatusOK
	if health.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(health)
}

// LivenessHandler handles liveness probe requests
func (s *Server) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
}

// ReadinessHandler handles readiness probe requests. The service is ready
// once the manager and orchestrator are wired; AMQP does not gate readiness.
func (s *Server) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ready := s.manager != nil && s.orchestrator != nil

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "not_ready"})
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}
