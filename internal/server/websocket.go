package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-intel/internal/metrics"
)

const writeWait = 30 * time.Second

// defaultOrigins are the local development front ends.
var defaultOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// newUpgrader builds a websocket upgrader that accepts the allowed origins.
// "*" allows any origin; an empty list means defaultOrigins. Requests without
// an Origin header come from non-browser clients and are accepted.
func newUpgrader(allowed []string) *websocket.Upgrader {
	origins := allowedOrigins(allowed)
	wildcard := false
	set := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			wildcard = true
		}
		set[strings.ToLower(o)] = struct{}{}
	}

	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || wildcard {
				return true
			}
			_, ok := set[strings.ToLower(origin)]
			return ok
		},
	}
}

type connectionFrame struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// handleInvestigationStream streams a session's events over WebSocket.
// The first frame is a "connection" welcome; the stream ends when the
// session is deleted or the client goes away.
func (s *Server) handleInvestigationStream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, err := s.orch.Get(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	sub, err := s.orch.Subscribe(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer s.orch.Unsubscribe(id, sub)

	conn, err := newUpgrader(s.cfg.Server.AllowedOrigins).Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.String("session_id", id), zap.Error(err))
		return
	}
	defer conn.Close()

	metrics.WebSocketConnections.Inc()
	defer metrics.WebSocketConnections.Dec()
	log := s.logger.With(zap.String("session_id", id))
	log.Debug("websocket connected")

	// The client never sends anything we act on; reading only detects
	// close frames and dead peers.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			metrics.WebSocketMessagesTotal.WithLabelValues("inbound").Inc()
		}
	}()

	welcome := connectionFrame{
		Type:      "connection",
		SessionID: id,
		Status:    string(sess.Status),
		Message:   "Connected to investigation " + id,
		Timestamp: time.Now(),
	}
	if err := writeFrame(conn, welcome); err != nil {
		return
	}

	for {
		select {
		case <-gone:
			log.Debug("websocket client disconnected")
			return
		case ev, ok := <-sub.Ch:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "investigation closed"))
				return
			}
			if err := writeFrame(conn, ev); err != nil {
				log.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	metrics.WebSocketMessagesTotal.WithLabelValues("outbound").Inc()
	return nil
}
