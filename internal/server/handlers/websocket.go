// internal/server/handlers/websocket.go

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"eventmap/internal/domain/mapview"
	mapviewsvc "eventmap/internal/service/mapview"
)

// StateSubscriber is the subset of *nats.Conn used to follow session snapshots
type StateSubscriber interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// WebSocketConfig contains configuration for WebSocket connections
type WebSocketConfig struct {
	// Time allowed to write a message to the peer
	WriteWait time.Duration

	// Time allowed to read the next pong message from the peer
	PongWait time.Duration

	// Send pings to peer with this period
	PingPeriod time.Duration

	// Maximum message size allowed from peer
	MaxMessageSize int64
}

// DefaultWebSocketConfig returns the default WebSocket configuration
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     (60 * time.Second * 9) / 10,
		MaxMessageSize: 64 * 1024,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origins are enforced by the CORS layer
		return true
	},
}

// sessionClient is one WebSocket connection following a map session
type sessionClient struct {
	conn        *websocket.Conn
	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	sessionID   string
	coordinator *mapviewsvc.Coordinator
	manager     SessionManager
	config      WebSocketConfig
	logger      zerolog.Logger
	unsubscribe []func()
}

// SessionWebSocketHandler streams session snapshots to the client and
// applies the events it sends. Snapshots come from the event bus when
// subscriber is set, otherwise straight from the session.
func SessionWebSocketHandler(manager SessionManager, subscriber StateSubscriber, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "id")
		if sessionID == "" {
			respondWithError(w, r, http.StatusBadRequest, "Missing session ID", nil)
			return
		}

		coordinator, err := manager.Get(sessionID)
		if err != nil {
			respondWithDomainError(w, r, "Failed to get session", err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to upgrade to websocket")
			return
		}

		client := &sessionClient{
			conn:        conn,
			send:        make(chan []byte, 64),
			done:        make(chan struct{}),
			sessionID:   sessionID,
			coordinator: coordinator,
			manager:     manager,
			config:      DefaultWebSocketConfig(),
			logger:      logger.With().Str("session_id", sessionID).Logger(),
		}

		if err := client.subscribe(subscriber); err != nil {
			client.logger.Error().Err(err).Msg("failed to subscribe to session state")
			client.closeConnection()
			return
		}

		go client.writePump()
		go client.readPump()

		client.logger.Info().Msg("websocket connected")
		client.sendSnapshot(coordinator.Snapshot())
	}
}

func (c *sessionClient) subscribe(subscriber StateSubscriber) error {
	if subscriber == nil {
		c.unsubscribe = append(c.unsubscribe, c.coordinator.Subscribe(c.sendSnapshot))
		return nil
	}

	sub, err := subscriber.Subscribe(c.manager.StateSubject(c.sessionID), func(msg *nats.Msg) {
		c.enqueue(msg.Data)
	})
	if err != nil {
		return err
	}
	c.unsubscribe = append(c.unsubscribe, func() { sub.Unsubscribe() })
	return nil
}

func (c *sessionClient) sendSnapshot(snap mapview.Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshal snapshot")
		return
	}
	c.enqueue(data)
}

// enqueue drops the message when the client is gone or too slow
func (c *sessionClient) enqueue(data []byte) {
	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.logger.Warn().Msg("websocket send buffer full, dropping snapshot")
	}
}

// readPump applies session events received from the client
func (c *sessionClient) readPump() {
	defer c.closeConnection()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("websocket error")
			}
			return
		}

		c.processIncomingMessage(message)
	}
}

// writePump pumps queued snapshots to the WebSocket connection
func (c *sessionClient) writePump() {
	ticker := time.NewTicker(c.config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for {
		select {
		case <-c.done:
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type wsError struct {
	Type   string `json:"type"`
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// processIncomingMessage applies one session event. Successful events
// are answered by the snapshot they publish; failures get an error frame.
func (c *sessionClient) processIncomingMessage(message []byte) {
	var ev SessionEvent
	if err := json.Unmarshal(message, &ev); err != nil {
		c.sendError(badRequest("invalid message: %v", err))
		return
	}

	if _, err := c.manager.Get(c.sessionID); err != nil {
		c.sendError(err)
		c.closeConnection()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	refresh := func(ctx context.Context) error { return c.manager.Refresh(ctx, c.sessionID) }
	if err := applyEvent(ctx, c.coordinator, refresh, ev); err != nil {
		c.logger.Debug().Err(err).Str("type", ev.Type).Msg("session event rejected")
		c.sendError(err)
	}
}

func (c *sessionClient) sendError(err error) {
	data, _ := json.Marshal(wsError{
		Type:   "error",
		Error:  err.Error(),
		Status: statusForError(err),
	})
	c.enqueue(data)
}

// closeConnection unsubscribes and closes the connection; safe to call more than once
func (c *sessionClient) closeConnection() {
	c.closeOnce.Do(func() {
		for _, unsubscribe := range c.unsubscribe {
			unsubscribe()
		}
		close(c.done)
		c.conn.Close()
		c.logger.Info().Msg("websocket closed")
	})
}
