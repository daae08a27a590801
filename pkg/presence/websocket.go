package presence

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/platinummonkey/beacon/pkg/httputil"
	"github.com/platinummonkey/beacon/pkg/observability"
	"github.com/platinummonkey/beacon/pkg/session"
)

// Wire message types
const (
	MessageStatus = "status"
	MessageSync   = "sync"
	MessageTrack  = "track"
	MessageLeave  = "leave"
	MessageError  = "error"
)

// Message is the websocket envelope in both directions
type Message struct {
	Type    string                `json:"type"`
	Status  string                `json:"status,omitempty"`
	Payload *Payload              `json:"payload,omitempty"`
	State   map[string][]Presence `json:"state,omitempty"`
	Error   string                `json:"error,omitempty"`
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 4096
)

// Handler serves a Hub over websocket. The key query parameter names the
// presence key; the server confirms with a SUBSCRIBED status, then pushes
// a sync after every change.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewHandler creates a websocket handler for hub. An empty origins list
// accepts any origin.
func NewHandler(hub *Hub, origins []string, logger *observability.Logger, metrics *observability.Metrics) *Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	h := &Handler{
		hub:     hub,
		logger:  logger.WithComponent("presence-ws"),
		metrics: metrics,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(origins),
	}
	return h
}

func originChecker(origins []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		if len(origins) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		for _, o := range origins {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if !session.Valid(key) {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "key must be 1-64 characters")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		h.logger.WithError(err).Debug("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := h.logger.WithField("key", key)
	if requestID := observability.GetRequestID(r.Context()); requestID != "" {
		log = log.WithField("request_id", requestID)
	}

	member, err := h.hub.Join(r.Context(), key)
	if err != nil {
		log.WithError(err).Warn("Presence join failed")
		_ = writeMessage(conn, Message{Type: MessageError, Error: err.Error()})
		return
	}
	defer member.Leave()

	if h.metrics != nil {
		h.metrics.PresenceConnections.Inc()
		defer h.metrics.PresenceConnections.Dec()
	}

	if err := writeMessage(conn, Message{Type: MessageStatus, Status: member.Status()}); err != nil {
		return
	}

	done := make(chan struct{})
	go h.writeLoop(conn, member, done, log)

	h.readLoop(conn, member, key, log)
	close(done)
}

func (h *Handler) readLoop(conn *websocket.Conn, member *Member, key string, log *observability.Logger) {
	conn.SetReadLimit(maxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Debug("Websocket closed unexpectedly")
			}
			return
		}

		switch msg.Type {
		case MessageTrack:
			if msg.Payload == nil {
				continue
			}
			// a connection only speaks for the session it joined as
			p := *msg.Payload
			p.SessionID = key
			if p.OnlineAt == "" {
				p.OnlineAt = time.Now().UTC().Format(time.RFC3339Nano)
			}
			if err := member.Track(context.Background(), p); err != nil {
				log.WithError(err).Warn("Presence track failed")
				return
			}
		case MessageLeave:
			return
		default:
			log.WithField("type", msg.Type).Debug("Ignoring unknown message")
		}
	}
}

func (h *Handler) writeLoop(conn *websocket.Conn, member *Member, done <-chan struct{}, log *observability.Logger) {
	defer observability.RecoverPanic(log, "presence write loop")

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	syncs := member.Syncs()
	for {
		select {
		case <-done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case s, ok := <-syncs:
			if !ok {
				// hub closed or member left
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				conn.Close()
				return
			}
			if err := writeMessage(conn, Message{Type: MessageSync, State: s.State}); err != nil {
				conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func writeMessage(conn *websocket.Conn, msg Message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}
