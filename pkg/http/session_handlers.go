package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"gaze-engine/pkg/errors"
	"gaze-engine/pkg/gaze"
)

// ingestRequest is the sample batch body. A device may piggyback its screen
// dimensions on any batch; the first one usually carries them.
type ingestRequest struct {
	Samples      []gaze.GazeSample `json:"samples"`
	ScreenWidth  float64           `json:"screenWidth,omitempty"`
	ScreenHeight float64           `json:"screenHeight,omitempty"`
}

// ingestResponse reports per-batch acceptance counts
type ingestResponse struct {
	SessionID string `json:"sessionId"`
	Accepted  int    `json:"accepted"`
	Rejected  int    `json:"rejected"`
	// FirstError carries the first rejection so clients can fix their stream
	FirstError string `json:"firstError,omitempty"`
}

// stopRequest controls what happens to the session's data on stop
type stopRequest struct {
	SaveData         *bool `json:"saveData,omitempty"`
	GenerateAnalysis bool  `json:"generateAnalysis,omitempty"`
}

// deviceRequest updates the capture device's reported dimensions
type deviceRequest struct {
	ScreenWidth  float64 `json:"screenWidth"`
	ScreenHeight float64 `json:"screenHeight"`
}

// StartSessionHandler handles POST /api/sessions
func (s *Server) StartSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req gaze.StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.ErrorResponse(w, errors.NewInvalidInput("invalid session request body: "+err.Error()))
		return
	}

	session, err := s.manager.StartSession(r.Context(), req)
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, session.Snapshot())
}

// ListSessionsHandler handles GET /api/sessions
func (s *Server) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": s.manager.ActiveSessions(),
	})
}

// SessionStatsHandler handles GET /api/sessions/stats
func (s *Server) SessionStatsHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.Statistics())
}

// GetSessionHandler handles GET /api/sessions/{id}
func (s *Server) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	session, err := s.manager.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, session.Snapshot())
}

// IngestSamplesHandler handles POST /api/sessions/{id}/samples. Samples are
// applied in order; a rejected sample does not block the rest of the batch.
func (s *Server) IngestSamplesHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.ErrorResponse(w, errors.NewInvalidInput("invalid sample batch body: "+err.Error()))
		return
	}
	if len(req.Samples) == 0 {
		s.ErrorResponse(w, errors.NewInvalidInput("sample batch is empty"))
		return
	}

	if req.ScreenWidth > 0 || req.ScreenHeight > 0 {
		if err := s.manager.UpdateDeviceMetadata(sessionID, req.ScreenWidth, req.ScreenHeight); err != nil {
			s.ErrorResponse(w, err)
			return
		}
	}

	resp := ingestResponse{SessionID: sessionID}
	for _, sample := range req.Samples {
		if err := s.manager.IngestSample(r.Context(), sessionID, sample); err != nil {
			// A missing or ended session fails the whole batch
			if errors.IsErrorType(err, errors.ErrSessionNotFound) ||
				errors.IsErrorType(err, errors.ErrSessionTerminal) {
				s.ErrorResponse(w, err)
				return
			}
			resp.Rejected++
			if resp.FirstError == "" {
				resp.FirstError = err.Error()
			}
			continue
		}
		resp.Accepted++
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// UpdateDeviceHandler handles PUT /api/sessions/{id}/device
func (s *Server) UpdateDeviceHandler(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.ErrorResponse(w, errors.NewInvalidInput("invalid device metadata body: "+err.Error()))
		return
	}
	if req.ScreenWidth <= 0 && req.ScreenHeight <= 0 {
		s.ErrorResponse(w, errors.NewInvalidInput("device metadata requires positive screen dimensions"))
		return
	}

	if err := s.manager.UpdateDeviceMetadata(r.PathValue("id"), req.ScreenWidth, req.ScreenHeight); err != nil {
		s.ErrorResponse(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// BeginCalibrationHandler handles POST /api/sessions/{id}/calibration/start
func (s *Server) BeginCalibrationHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if err := s.manager.BeginCalibration(sessionID); err != nil {
		s.ErrorResponse(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"sessionId": sessionID,
		"status":    string(gaze.StatusCalibrating),
	})
}

// CompleteCalibrationHandler handles POST /api/sessions/{id}/calibration
func (s *Server) CompleteCalibrationHandler(w http.ResponseWriter, r *http.Request) {
	var data gaze.CalibrationData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		s.ErrorResponse(w, errors.NewInvalidInput("invalid calibration body: "+err.Error()))
		return
	}

	sessionID := r.PathValue("id")
	if err := s.manager.CompleteCalibration(sessionID, data); err != nil {
		s.ErrorResponse(w, err)
		return
	}

	session, err := s.manager.GetSession(r.Context(), sessionID)
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, session.Snapshot())
}

// StopSessionHandler handles POST /api/sessions/{id}/stop. Analysis generation
// is composed here rather than inside the manager so it works even when the
// caller opted out of persisting the raw samples.
func (s *Server) StopSessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	req := stopRequest{}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.ErrorResponse(w, errors.NewInvalidInput("invalid stop request body: "+err.Error()))
			return
		}
	}

	saveData := true
	if req.SaveData != nil {
		saveData = *req.SaveData
	}

	session, err := s.manager.StopSession(r.Context(), sessionID, saveData)
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}

	result := map[string]interface{}{"session": session.Snapshot()}

	if req.GenerateAnalysis {
		analysisRecord, err := s.orchestrator.GenerateForSession(r.Context(), session)
		if err != nil {
			// The stop itself succeeded; report the analysis failure inline
			s.logger.WithError(err).WithField("session_id", sessionID).
				Warn("Analysis generation failed after session stop")
			result["analysisError"] = err.Error()
		} else {
			result["analysis"] = analysisRecord
		}
	}

	s.writeJSON(w, http.StatusOK, result)
}

// GenerateAnalysisHandler handles POST /api/sessions/{id}/analyses. Analyses
// are immutable, so re-posting creates a new record over the same samples
// rather than touching earlier ones.
func (s *Server) GenerateAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	record, err := s.orchestrator.GenerateAnalysis(r.Context(), r.PathValue("id"))
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, record)
}

// SessionAnalysesHandler handles GET /api/sessions/{id}/analyses
func (s *Server) SessionAnalysesHandler(w http.ResponseWriter, r *http.Request) {
	analyses, err := s.orchestrator.GetAnalysesBySession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"analyses": analyses,
	})
}

// ParticipantSessionsHandler handles GET /api/participants/{id}/sessions
func (s *Server) ParticipantSessionsHandler(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.manager.GetSessionsByParticipant(r.Context(), r.PathValue("id"))
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
	})
}

// GetAnalysisHandler handles GET /api/analyses/{id}
func (s *Server) GetAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	record, err := s.orchestrator.GetAnalysis(r.Context(), r.PathValue("id"))
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, record)
}

// writeJSON writes a JSON response with the given status
func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithFields(logrus.Fields{
			"error": err.Error(),
			"time":  time.Now().Format(time.RFC3339),
		}).Error("Failed to encode HTTP response")
	}
}
