package httpapi

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/nedlabs/ned/internal/protocol"
	"github.com/nedlabs/ned/internal/session"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsReadLimit    = 64 << 20
)

// handleSessionWS attaches a realtime channel to a session. Events
// published before the attach are not replayed, so a reconnecting
// client simply resumes with future events.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	sess, err := s.orch.Session(sessionID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	events, unsubscribe, err := s.orch.Subscribe(sessionID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	defer unsubscribe()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	defer s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// local carries per-connection protocol errors so the hub stream
	// and the websocket share a single writer goroutine.
	local := make(chan any, 16)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer conn.Close()

		s.writeEvent(conn, protocol.Ready{Type: protocol.TypeReady, Message: "session channel attached"})
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					// Session torn down; say goodbye and drop the line.
					deadline := time.Now().Add(wsWriteTimeout)
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"), deadline)
					return
				}
				if !s.writeEvent(conn, ev) {
					return
				}
			case ev := <-local:
				if !s.writeEvent(conn, ev) {
					return
				}
			}
		}
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.sendLocal(local, protocol.Error{Type: protocol.TypeError, Message: err.Error()})
			continue
		}
		if t, ok := protocol.TypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}

		switch msg := parsed.(type) {
		case protocol.Analyze:
			s.handleAnalyze(sess, msg, local)
		case protocol.Stop:
			if sess.Mode == session.ModeLive {
				_ = s.orch.CloseSession(sess.ID)
			}
		}
	}

	cancel()
	<-writerDone
}

func (s *Server) handleAnalyze(sess *session.Session, msg protocol.Analyze, local chan any) {
	payload, err := decodeVideoData(msg.VideoData)
	if err != nil {
		s.sendLocal(local, protocol.Error{Type: protocol.TypeError, Message: "videoData is not valid base64"})
		return
	}
	if _, err := s.orch.SubmitSegment(sess.ID, payload, msg.MimeType); err != nil {
		s.sendLocal(local, protocol.Error{Type: protocol.TypeError, Message: err.Error()})
	}
}

// decodeVideoData accepts raw base64 or a data URL payload.
func decodeVideoData(data string) ([]byte, error) {
	if idx := strings.Index(data, ";base64,"); idx >= 0 {
		data = data[idx+len(";base64,"):]
	}
	return base64.StdEncoding.DecodeString(data)
}

func (s *Server) writeEvent(conn *websocket.Conn, ev any) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(ev); err != nil {
		return false
	}
	if t, ok := protocol.TypeOf(ev); ok {
		s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
	}
	return true
}

func (s *Server) sendLocal(local chan any, ev any) {
	select {
	case local <- ev:
	default:
		// Single writer per socket; drop rather than block the reader.
		s.metrics.ChannelDrops.Inc()
	}
}
