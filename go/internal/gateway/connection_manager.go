package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/session"
	"github.com/mcdev12/planningpoker/go/internal/session/events"
	"github.com/rs/zerolog/log"
)

// ConnectionManager manages WebSocket connections grouped by room
type ConnectionManager struct {
	app RoomApp

	// Connection pools organized by room code
	roomConnections map[string]map[*Connection]bool
	// Number of connections per room fed by a local subscription
	localRooms map[string]int
	mu         sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	// Relayed envelopes from other instances
	broadcastCh chan BroadcastMessage

	// watcher is told when a room gains or loses its last local connection.
	watcher RoomWatcher
}

// RoomWatcher follows rooms that have local connections.
type RoomWatcher interface {
	Watch(roomCode string)
	Unwatch(roomCode string)
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID       string
	PlayerID string // empty for observers
	RoomCode string
	Observer bool
	Conn     *websocket.Conn
	Send     chan []byte
	Manager  *ConnectionManager

	ConnectedAt time.Time
	lastPing    atomic.Int64

	sub *session.Subscription

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	CommandTimeout  time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage represents a relayed envelope for the observers of a room
type BroadcastMessage struct {
	RoomCode string
	Event    *events.Envelope
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		CommandTimeout:  5 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(app RoomApp, config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		app:             app,
		roomConnections: make(map[string]map[*Connection]bool),
		localRooms:      make(map[string]int),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// SetWatcher installs the watcher notified about locally followed rooms.
func (cm *ConnectionManager) SetWatcher(w RoomWatcher) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.watcher = w
}

// Start processes relayed broadcasts until ctx is cancelled
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// AttachPlayer upgrades a joined player's connection and starts streaming the
// room to it. joined is sent first, followed by the current snapshot.
func (cm *ConnectionManager) AttachPlayer(w http.ResponseWriter, r *http.Request, joined events.JoinedPayload, roomCode string, sub *session.Subscription) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	c := cm.newConnection(conn, roomCode, joined.PlayerID, sub)
	env, err := events.NewEnvelope(roomCode, events.EventTypeJoined, 0, time.Now().UTC(), joined)
	if err == nil {
		c.sendEnvelope(env)
	}
	cm.start(c)
	return nil
}

// AttachObserver upgrades a read-only connection. sub is nil when the room is
// hosted elsewhere; the observer then only receives relayed envelopes.
func (cm *ConnectionManager) AttachObserver(w http.ResponseWriter, r *http.Request, roomCode string, sub *session.Subscription) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	c := cm.newConnection(conn, roomCode, "", sub)
	c.Observer = true
	cm.start(c)
	return nil
}

func (cm *ConnectionManager) newConnection(conn *websocket.Conn, roomCode, playerID string, sub *session.Subscription) *Connection {
	c := &Connection{
		ID:          uuid.New().String(),
		PlayerID:    playerID,
		RoomCode:    roomCode,
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		ConnectedAt: time.Now(),
		sub:         sub,
	}
	c.lastPing.Store(time.Now().UnixNano())
	return c
}

func (cm *ConnectionManager) start(c *Connection) {
	cm.registerConnection(c)

	go c.writePump()
	go c.readPump()
	if c.sub != nil {
		go c.forwardUpdates()
	}

	log.Info().
		Str("connection_id", c.ID).
		Str("player_id", c.PlayerID).
		Str("room_code", c.RoomCode).
		Bool("observer", c.Observer).
		Msg("WebSocket connection established")
}

// registerConnection adds a connection to the manager
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	if cm.roomConnections[conn.RoomCode] == nil {
		cm.roomConnections[conn.RoomCode] = make(map[*Connection]bool)
	}
	cm.roomConnections[conn.RoomCode][conn] = true

	var watch RoomWatcher
	if conn.sub != nil {
		cm.localRooms[conn.RoomCode]++
		if cm.localRooms[conn.RoomCode] == 1 {
			watch = cm.watcher
		}
	}
	total := len(cm.roomConnections[conn.RoomCode])
	cm.mu.Unlock()

	if watch != nil {
		watch.Watch(conn.RoomCode)
	}

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room_code", conn.RoomCode).
		Int("total_connections", total).
		Msg("connection registered")
}

// unregisterConnection removes a connection from the manager and closes its send queue
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	var unwatch RoomWatcher
	if connections, exists := cm.roomConnections[conn.RoomCode]; exists {
		if _, exists := connections[conn]; exists {
			delete(connections, conn)
			if len(connections) == 0 {
				delete(cm.roomConnections, conn.RoomCode)
			}
			if conn.sub != nil {
				cm.localRooms[conn.RoomCode]--
				if cm.localRooms[conn.RoomCode] <= 0 {
					delete(cm.localRooms, conn.RoomCode)
					unwatch = cm.watcher
				}
			}
		}
	}
	cm.mu.Unlock()

	conn.mu.Lock()
	if !conn.closed {
		conn.closed = true
		close(conn.Send)
	}
	conn.mu.Unlock()

	if unwatch != nil {
		unwatch.Unwatch(conn.RoomCode)
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("player_id", conn.PlayerID).
		Str("room_code", conn.RoomCode).
		Msg("connection unregistered")
}

// BroadcastToRoom queues a relayed envelope for the observers of a room
func (cm *ConnectionManager) BroadcastToRoom(roomCode string, event *events.Envelope) {
	select {
	case cm.broadcastCh <- BroadcastMessage{RoomCode: roomCode, Event: event}:
	default:
		log.Warn().Str("room_code", roomCode).Msg("broadcast channel full, dropping message")
	}
}

// handleBroadcast delivers a relayed envelope to observers without a local
// subscription; everyone else already sees the room directly.
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	var targets []*Connection
	for conn := range cm.roomConnections[message.RoomCode] {
		if conn.Observer && conn.sub == nil {
			targets = append(targets, conn)
		}
	}
	cm.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		if !conn.enqueue(data) {
			conn.close()
		}
	}

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Str("room_code", message.RoomCode).
		Int("connections", len(targets)).
		Msg("relayed event broadcasted")
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{RoomConnections: make(map[string]int, len(cm.roomConnections))}
	for code, connections := range cm.roomConnections {
		stats.TotalConnections += len(connections)
		stats.RoomConnections[code] = len(connections)
	}
	stats.ActiveRooms = len(cm.roomConnections)
	return stats
}

// ConnectionStats summarises open connections.
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveRooms      int            `json:"active_rooms"`
	RoomConnections  map[string]int `json:"room_connections"`
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	var all []*Connection
	for _, connections := range cm.roomConnections {
		for conn := range connections {
			all = append(all, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range all {
		conn.close()
	}
}

// enqueue queues data for the write pump. It reports false when the
// connection is gone or too slow to keep up.
func (c *Connection) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		log.Warn().
			Str("connection_id", c.ID).
			Str("player_id", c.PlayerID).
			Msg("connection send buffer full, closing connection")
		return false
	}
}

func (c *Connection) sendEnvelope(env *events.Envelope) bool {
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to marshal envelope")
		return true
	}
	return c.enqueue(data)
}

// close tears the connection down once: the send queue is closed so the
// write pump sends a close frame, and presence learns the player left.
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		c.Manager.unregisterConnection(c)
		if c.sub != nil {
			c.sub.Close()
		}
		if !c.Observer {
			c.Manager.app.Disconnected(c.RoomCode, c.PlayerID)
		}
	})
}

// forwardUpdates renders every room update for this connection.
func (c *Connection) forwardUpdates() {
	defer c.close()

	viewer := c.PlayerID
	for u := range c.sub.Updates() {
		if kick, ok := kickedBy(u, c.PlayerID); ok && !c.Observer {
			env, err := events.NewEnvelope(c.RoomCode, events.EventTypePlayerKicked, u.Room.Version, time.Now().UTC(), kick)
			if err == nil {
				c.sendEnvelope(env)
			}
			log.Info().
				Str("connection_id", c.ID).
				Str("player_id", c.PlayerID).
				Str("room_code", c.RoomCode).
				Msg("closing connection of kicked player")
			return
		}

		envs, err := renderUpdate(u, viewer, time.Now().UTC())
		if err != nil {
			log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to render room update")
			continue
		}
		for _, env := range envs {
			if !c.sendEnvelope(env) {
				return
			}
		}
	}
}

func kickedBy(u session.Update, playerID string) (events.PlayerKickedPayload, bool) {
	for _, ev := range u.Events {
		if ev.Type != events.EventTypePlayerKicked {
			continue
		}
		if p, ok := ev.Payload.(events.PlayerKickedPayload); ok && p.PlayerID == playerID {
			return p, true
		}
	}
	return events.PlayerKickedPayload{}, false
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.close()
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.lastPing.Store(time.Now().UnixNano())
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}

		if leave := c.handleClientMessage(message); leave {
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage runs one client command. It reports true when the
// client asked to leave.
func (c *Connection) handleClientMessage(message []byte) bool {
	msg, err := decodeClientMessage(message)
	if err != nil {
		log.Debug().Err(err).Str("connection_id", c.ID).Msg("rejected client frame")
		c.sendEnvelope(errorEnvelope(c.RoomCode, err, time.Now().UTC()))
		return false
	}

	log.Debug().
		Str("connection_id", c.ID).
		Str("player_id", c.PlayerID).
		Str("command", string(msg.Type)).
		Msg("received client message")

	if c.Observer {
		c.sendEnvelope(errorEnvelope(c.RoomCode, fmt.Errorf("observers cannot send commands: %w", models.ErrUnauthorized), time.Now().UTC()))
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Manager.config.CommandTimeout)
	defer cancel()

	app := c.Manager.app
	switch msg.Type {
	case CommandVote:
		err = app.CastVote(ctx, c.RoomCode, c.PlayerID, msg.Value)
	case CommandReveal:
		_, err = app.Reveal(ctx, c.RoomCode, c.PlayerID)
	case CommandReset:
		err = app.Reset(ctx, c.RoomCode, c.PlayerID)
	case CommandKick:
		err = app.KickPlayer(ctx, c.RoomCode, c.PlayerID, msg.PlayerID)
	case CommandTask:
		err = app.UpdateTask(ctx, c.RoomCode, c.PlayerID, models.Task{Title: msg.Title, Description: msg.Description})
	case CommandLeave:
		if err := app.Leave(ctx, c.RoomCode, c.PlayerID); err != nil {
			log.Warn().Err(err).Str("player_id", c.PlayerID).Msg("failed to leave room")
		}
		return true
	default:
		err = fmt.Errorf("%w: unknown command %q", models.ErrMalformedCommand, msg.Type)
	}

	if err != nil {
		c.sendEnvelope(errorEnvelope(c.RoomCode, err, time.Now().UTC()))
	}
	return false
}
