package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"allies-service/internal/connsync"
	"allies-service/internal/metrics"
	"allies-service/internal/models"
	"allies-service/internal/observability"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 30 * time.Second
	streamReadLimit  = 64 * 1024
	streamSendBuffer = 64
)

// StreamFrame is the envelope for every websocket message in both directions.
type StreamFrame struct {
	Type   string          `json:"type"`
	Action string          `json:"action,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type streamError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ConnectionStreamHandler runs one connection sync per websocket and pushes
// its state to the client.
type ConnectionStreamHandler struct {
	store    connsync.Store
	feed     connsync.Feed
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewConnectionStreamHandler(store connsync.Store, feed connsync.Feed, allowedOrigins []string, logger *slog.Logger) *ConnectionStreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionStreamHandler{
		store:  store,
		feed:   feed,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || (len(allowed) == 1 && allowed[0] == "*") {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (h *ConnectionStreamHandler) Stream(c *gin.Context) {
	userID := userIDFromContext(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "user_id", userID, "err", err)
		return
	}
	observability.IncStreamSessions()
	defer observability.DecStreamSessions()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	session := &streamSession{
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, streamSendBuffer),
		done:   make(chan struct{}),
		logger: h.logger.With("user_id", userID),
	}
	go session.writePump()

	cs := connsync.New(userID, h.store, h.feed,
		connsync.WithLogger(session.logger),
		connsync.WithNotifier(connsync.NotifierFunc(func(n connsync.Notice) {
			session.push("notice", "", n)
		})),
		connsync.WithOnChange(func(snap connsync.Snapshot) {
			session.push("snapshot", "", snap)
		}),
	)

	session.logger.Info("connection stream opened", "remote", c.ClientIP())
	if err := cs.Activate(ctx); err != nil {
		session.logger.Error("failed to activate connection sync", "err", err)
		session.push("error", "", streamError{Code: "unavailable", Message: "realtime updates unavailable"})
		session.close()
		return
	}

	session.readPump(func(frame StreamFrame) {
		h.handleFrame(ctx, session, cs, frame)
	})

	cs.Deactivate()
	session.close()
	session.logger.Info("connection stream closed")
}

func (h *ConnectionStreamHandler) handleFrame(ctx context.Context, session *streamSession, cs *connsync.Sync, frame StreamFrame) {
	switch {
	case frame.Type == "ping":
		session.push("pong", "", nil)

	case frame.Type == "connection" && frame.Action == "send":
		var d struct {
			RecipientID string `json:"recipient_id"`
		}
		if err := json.Unmarshal(frame.Data, &d); err != nil || d.RecipientID == "" {
			metrics.IncConnectionRequest(metrics.StatusFailed)
			session.push("error", frame.Action, streamError{Code: "invalid_data", Message: "recipient_id is required"})
			return
		}
		req, err := cs.SendConnectionRequest(ctx, d.RecipientID)
		metrics.IncConnectionRequest(metrics.StatusOf(err))
		if err != nil {
			session.push("error", frame.Action, streamError{Code: "send_failed", Message: err.Error()})
			return
		}
		session.push("result", frame.Action, req)

	case frame.Type == "connection" && frame.Action == "update":
		var d struct {
			ID     string                  `json:"id"`
			Status models.ConnectionStatus `json:"status"`
		}
		if err := json.Unmarshal(frame.Data, &d); err != nil || d.ID == "" {
			decisionMetric(d.Status)(metrics.StatusFailed)
			session.push("error", frame.Action, streamError{Code: "invalid_data", Message: "id and status are required"})
			return
		}
		updated, err := cs.UpdateConnectionStatus(ctx, d.ID, d.Status)
		decisionMetric(d.Status)(metrics.StatusOf(err))
		if err != nil {
			session.push("error", frame.Action, streamError{Code: "update_failed", Message: err.Error()})
			return
		}
		session.push("result", frame.Action, updated)

	case frame.Type == "connection" && frame.Action == "refresh":
		_ = cs.Refresh(ctx)

	default:
		session.logger.Warn("unknown stream frame", "type", frame.Type, "action", frame.Action)
		session.push("error", frame.Action, streamError{Code: "unknown_frame", Message: "unknown frame type"})
	}
}

type streamSession struct {
	conn      *websocket.Conn
	userID    string
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

// push queues a frame for the client. Frames are dropped when the client is
// too slow; the next snapshot supersedes them.
func (s *streamSession) push(typ, action string, data any) {
	frame := StreamFrame{Type: typ, Action: action}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			s.logger.Error("failed to encode stream frame", "type", typ, "err", err)
			return
		}
		frame.Data = raw
	}
	b, err := json.Marshal(frame)
	if err != nil {
		s.logger.Error("failed to encode stream frame", "type", typ, "err", err)
		return
	}

	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.send <- b:
	case <-s.done:
	default:
		s.logger.Warn("stream send buffer full, dropping frame", "type", typ)
	}
}

// close asks the write pump to send a close frame and release the socket.
func (s *streamSession) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *streamSession) readPump(handle func(StreamFrame)) {
	s.conn.SetReadLimit(streamReadLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("unexpected stream close", "err", err)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(streamPongWait))

		var frame StreamFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			s.push("error", "", streamError{Code: "invalid_frame", Message: "frame is not valid JSON"})
			continue
		}
		handle(frame)
	}
}

func (s *streamSession) writePump() {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
		_ = s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			for n := len(s.send); n > 0; n-- {
				if err := s.conn.WriteMessage(websocket.TextMessage, <-s.send); err != nil {
					return
				}
			}
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case message := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Debug("stream write failed", "err", err)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debug("stream ping failed", "err", err)
				return
			}
		}
	}
}
