package http

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"gaze-engine/pkg/errors"
	"gaze-engine/pkg/gaze"
	"gaze-engine/pkg/metrics"
)

// WebSocketUpgrader configures the WebSocket connection
var WebSocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all connections
		return true
	},
}

// wsIngestMessage is one inbound websocket frame. Trackers stream either
// single samples or small batches, and may piggyback device metadata.
type wsIngestMessage struct {
	Type         string            `json:"type"`
	Sample       *gaze.GazeSample  `json:"sample,omitempty"`
	Samples      []gaze.GazeSample `json:"samples,omitempty"`
	ScreenWidth  float64           `json:"screenWidth,omitempty"`
	ScreenHeight float64           `json:"screenHeight,omitempty"`
}

// wsAck is the per-frame acknowledgement sent back to the tracker
type wsAck struct {
	Type     string `json:"type"`
	Accepted int    `json:"accepted"`
	Rejected int    `json:"rejected"`
	Error    string `json:"error,omitempty"`
}

// WebsocketIngestHandler handles GET /ws/sessions/{id}: a persistent sample
// stream for one session. The connection closes when the session ends.
func (s *Server) WebsocketIngestHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	// Reject unknown sessions before upgrading
	if _, err := s.manager.GetSession(r.Context(), sessionID); err != nil {
		s.ErrorResponse(w, err)
		return
	}

	conn, err := WebSocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	if metrics.WebsocketConnectionsActive != nil {
		metrics.WebsocketConnectionsActive.Inc()
		defer metrics.WebsocketConnectionsActive.Dec()
	}

	s.logger.WithField("session_id", sessionID).Info("WebSocket ingest connected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.WithError(err).WithField("session_id", sessionID).
					Warn("WebSocket ingest closed unexpectedly")
			}
			return
		}

		var msg wsIngestMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.writeAck(conn, sessionID, wsAck{Type: "error", Error: "invalid message: " + err.Error()})
			continue
		}

		if metrics.WebsocketMessagesReceived != nil {
			metrics.WebsocketMessagesReceived.WithLabelValues(msg.Type).Inc()
		}

		switch msg.Type {
		case "device":
			if err := s.manager.UpdateDeviceMetadata(sessionID, msg.ScreenWidth, msg.ScreenHeight); err != nil {
				s.writeAck(conn, sessionID, wsAck{Type: "error", Error: err.Error()})
				continue
			}
			s.writeAck(conn, sessionID, wsAck{Type: "ack"})

		case "sample", "samples", "":
			batch := msg.Samples
			if msg.Sample != nil {
				batch = append(batch, *msg.Sample)
			}
			if len(batch) == 0 {
				s.writeAck(conn, sessionID, wsAck{Type: "error", Error: "message carries no samples"})
				continue
			}

			ack := wsAck{Type: "ack"}
			ended := false
			for _, sample := range batch {
				if err := s.ingestWebsocketSample(r, sessionID, sample); err != nil {
					if errors.IsErrorType(err, errors.ErrSessionNotFound) ||
						errors.IsErrorType(err, errors.ErrSessionTerminal) {
						ack.Error = err.Error()
						ended = true
						break
					}
					ack.Rejected++
					if ack.Error == "" {
						ack.Error = err.Error()
					}
					continue
				}
				ack.Accepted++
			}

			s.writeAck(conn, sessionID, ack)
			if ended {
				// Session is gone; end the stream
				return
			}

		default:
			s.writeAck(conn, sessionID, wsAck{Type: "error", Error: "unknown message type: " + msg.Type})
		}
	}
}

// ingestWebsocketSample forwards one sample to the manager
func (s *Server) ingestWebsocketSample(r *http.Request, sessionID string, sample gaze.GazeSample) error {
	return s.manager.IngestStreamSample(r.Context(), sessionID, sample)
}

// writeAck sends an acknowledgement frame, logging write failures
func (s *Server) writeAck(conn *websocket.Conn, sessionID string, ack wsAck) {
	if err := conn.WriteJSON(ack); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"session_id": sessionID,
		}).Debug("Failed to write WebSocket acknowledgement")
	}
}
