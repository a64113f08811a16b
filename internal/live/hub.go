// Package live pushes real-time updates to connected dashboard sessions over
// WebSocket and accepts inbound location updates from them.
package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"itemreminder/go-server/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 32
)

// Event is the envelope for every message pushed to a session.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// LocationProcessor handles a location update received over the socket. The
// processor is responsible for pushing any resulting events back through the
// hub; the session only reports failures to the client.
type LocationProcessor func(ctx context.Context, sample model.LocationSample) error

// Hub tracks connected sessions and routes events to all of them or to a
// single user's sessions.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	onLocation LocationProcessor

	mu       sync.RWMutex
	sessions map[*clientSession]struct{}
	byUser   map[string]map[*clientSession]struct{}
}

type clientSession struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan Event
	hub    *Hub
	once   sync.Once

	// mu guards closed and serializes sends against close(send), so a send
	// racing teardown becomes a no-op instead of a panic.
	mu     sync.Mutex
	closed bool
}

// NewHub constructs a hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The dashboard is served from arbitrary origins on the LAN.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions: make(map[*clientSession]struct{}),
		byUser:   make(map[string]map[*clientSession]struct{}),
	}
}

// SetLocationProcessor wires the handler for socket-borne location updates.
func (h *Hub) SetLocationProcessor(p LocationProcessor) {
	h.onLocation = p
}

// HandleWS upgrades an HTTP request to a live session. The user identity
// comes from the authenticated request context upstream.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s := &clientSession{
		id:     uuid.New().String()[:8],
		userID: userID,
		conn:   conn,
		send:   make(chan Event, sendBuffer),
		hub:    h,
	}

	h.register(s)
	h.logger.Info("live session connected", "session", s.id, "user", userID)

	// The request context dies when the handler returns; the hijacked
	// connection outlives it.
	go s.writePump()
	go s.readPump(context.Background())
}

// Broadcast sends an event to every connected session.
func (h *Hub) Broadcast(eventType string, data any) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.sessions {
		s.trySend(Event{Type: eventType, Data: data})
	}
}

// SendToUser sends an event to every session of one user.
func (h *Hub) SendToUser(userID, eventType string, data any) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.byUser[userID] {
		s.trySend(Event{Type: eventType, Data: data})
	}
}

// SessionCount reports the number of connected sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) register(s *clientSession) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sessions[s] = struct{}{}
	if s.userID != "" {
		if h.byUser[s.userID] == nil {
			h.byUser[s.userID] = make(map[*clientSession]struct{})
		}
		h.byUser[s.userID][s] = struct{}{}
	}
}

func (h *Hub) unregister(s *clientSession) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.sessions, s)
	if set := h.byUser[s.userID]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(h.byUser, s.userID)
		}
	}
}

// Close tears down all sessions.
func (h *Hub) Close() {
	h.mu.Lock()
	sessions := make([]*clientSession, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

func (s *clientSession) trySend(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.send <- evt:
	default:
		// A session that cannot keep up gets dropped instead of stalling the
		// broadcast path.
		s.hub.logger.Warn("live session too slow, dropping", "session", s.id, "user", s.userID)
		go s.close()
	}
}

func (s *clientSession) close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.send)
		s.mu.Unlock()
		s.hub.unregister(s)
		_ = s.conn.Close()
		s.hub.logger.Info("live session closed", "session", s.id, "user", s.userID)
	})
}

func (s *clientSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteJSON(evt); err != nil {
				s.close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		}
	}
}

// inboundMessage is what clients may send: currently only location updates.
type inboundMessage struct {
	Type      string   `json:"type"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

func (s *clientSession) readPump(ctx context.Context) {
	defer s.close()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.logger.Warn("live session read error", "session", s.id, "error", err)
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.trySend(Event{Type: "error", Data: map[string]string{"message": "invalid message"}})
			continue
		}

		if msg.Type == "location-update" {
			s.handleLocationUpdate(ctx, msg)
		}
	}
}

func (s *clientSession) handleLocationUpdate(ctx context.Context, msg inboundMessage) {
	if s.hub.onLocation == nil {
		return
	}
	if s.userID == "" {
		s.trySend(Event{Type: "error", Data: map[string]string{"message": "not authenticated"}})
		return
	}
	if msg.Latitude == nil || msg.Longitude == nil {
		s.trySend(Event{Type: "error", Data: map[string]string{"message": "invalid location data"}})
		return
	}

	sample := model.LocationSample{
		UserID:    s.userID,
		Latitude:  *msg.Latitude,
		Longitude: *msg.Longitude,
		Accuracy:  msg.Accuracy,
		Timestamp: time.Now().UTC(),
	}

	if err := s.hub.onLocation(ctx, sample); err != nil {
		s.hub.logger.Error("location update over socket failed", "user", s.userID, "error", err)
		s.trySend(Event{Type: "error", Data: map[string]string{"message": "failed to process location update"}})
	}
}
