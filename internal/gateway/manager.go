// Package gateway is the push surface in front of the battle core: it fans
// notifications from NATS out to websocket clients and routes client
// commands (queue join/leave, accept, pick, answer) into the core.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// CommandHandler receives the client actions arriving over the socket.
type CommandHandler interface {
	JoinQueue(ctx context.Context, playerID uuid.UUID, rating int)
	LeaveQueue(ctx context.Context, playerID uuid.UUID)
	RespondToMatch(ctx context.Context, participantID uuid.UUID, accepted bool) error
	SelectCombatant(ctx context.Context, roundParticipantID, combatantID uuid.UUID) error
	SubmitAnswer(ctx context.Context, roundQuestionID, answerID uuid.UUID) error
}

// ConnectionConfig holds websocket tuning knobs.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns the defaults used in production.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  2048,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

type pushMessage struct {
	playerID uuid.UUID
	data     []byte
}

// ConnectionManager tracks live websocket connections per player.
type ConnectionManager struct {
	playerConns map[uuid.UUID]map[*Connection]bool
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	commands CommandHandler
	pushCh   chan pushMessage
}

// Connection is one client socket.
type Connection struct {
	ID       string
	PlayerID uuid.UUID
	Conn     *websocket.Conn
	Send     chan []byte
	Manager  *ConnectionManager

	ConnectedAt time.Time
}

func NewConnectionManager(config ConnectionConfig, commands CommandHandler) *ConnectionManager {
	return &ConnectionManager{
		playerConns: make(map[uuid.UUID]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:   config,
		commands: commands,
		pushCh:   make(chan pushMessage, 1000),
	}
}

// Start processes pushed messages until ctx is cancelled.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("gateway connection manager started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("gateway connection manager shutting down")
			return
		case msg := <-cm.pushCh:
			cm.deliver(msg)
		}
	}
}

// Push queues a payload for every connection the player has open. Overflow
// drops the message; delivery is best effort.
func (cm *ConnectionManager) Push(playerID uuid.UUID, data []byte) {
	select {
	case cm.pushCh <- pushMessage{playerID: playerID, data: data}:
	default:
		log.Warn().Str("player_id", playerID.String()).Msg("push channel full, dropping message")
	}
}

// UpgradeConnection upgrades an HTTP request to a websocket for a player.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, playerID uuid.UUID) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	c := &Connection{
		ID:          uuid.New().String(),
		PlayerID:    playerID,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}
	cm.register(c)

	go c.writePump()
	// The upgrade request's context dies as soon as the handler returns;
	// commands must run on a connection-lifetime context instead.
	go c.readPump(context.WithoutCancel(r.Context()))

	log.Info().
		Str("connection_id", c.ID).
		Str("player_id", playerID.String()).
		Msg("websocket connection established")
	return nil
}

func (cm *ConnectionManager) register(c *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.playerConns[c.PlayerID] == nil {
		cm.playerConns[c.PlayerID] = make(map[*Connection]bool)
	}
	cm.playerConns[c.PlayerID][c] = true
}

func (cm *ConnectionManager) unregister(c *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if conns, ok := cm.playerConns[c.PlayerID]; ok {
		if _, ok := conns[c]; ok {
			delete(conns, c)
			close(c.Send)
			if len(conns) == 0 {
				delete(cm.playerConns, c.PlayerID)
			}
		}
	}
}

func (cm *ConnectionManager) deliver(msg pushMessage) {
	cm.mu.RLock()
	conns, ok := cm.playerConns[msg.playerID]
	if !ok {
		cm.mu.RUnlock()
		return
	}
	// Send while still holding the read lock: unregister closes Send under
	// the write lock, so a send can never race the close.
	var overflowed []*Connection
	for c := range conns {
		select {
		case c.Send <- msg.data:
		default:
			overflowed = append(overflowed, c)
		}
	}
	cm.mu.RUnlock()

	for _, c := range overflowed {
		log.Warn().
			Str("connection_id", c.ID).
			Str("player_id", c.PlayerID.String()).
			Msg("send buffer full, closing connection")
		cm.unregister(c)
		c.Conn.Close()
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write message")
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) readPump(ctx context.Context) {
	defer func() {
		c.Manager.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected websocket close")
			}
			break
		}
		c.Manager.handleClientMessage(ctx, c, message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
