package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dreamweaver/internal/interfaces"
	"dreamweaver/internal/models"
)

// Темы и типы сообщений
const (
	TopicSession = "session"
	TopicHistory = "history"

	TypeSessionSnapshot = "session_snapshot"
	TypeStoryCompleted  = "story_completed"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second // Меньше pongWait
	maxMessageSize = 512
	sendBufferSize = 64
)

// Message - сообщение клиенту.
type Message struct {
	Type    string      `json:"type"`
	Topic   string      `json:"topic"`
	Payload interface{} `json:"payload"`
}

// clientCommand - подписка/отписка от темы.
type clientCommand struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

// Hub рассылает снимки сессии и события о завершенных историях подключенным клиентам.
type Hub struct {
	clients    map[uuid.UUID]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan Message
	done       chan struct{}

	snapshot func() models.SessionSnapshot
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

var _ interfaces.StoryEventPublisher = (*Hub)(nil)

// Client - одно websocket-соединение.
type Client struct {
	ID   uuid.UUID
	conn *websocket.Conn
	hub  *Hub
	send chan []byte

	mu     sync.RWMutex
	topics map[string]bool
}

// NewHub создает хаб. snapshot отдает текущее состояние новому клиенту.
// Пустой allowedOrigins разрешает любой Origin.
func NewHub(snapshot func() models.SessionSnapshot, allowedOrigins []string, logger *zap.Logger) *Hub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Hub{
		clients:    make(map[uuid.UUID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Message, 16),
		done:       make(chan struct{}),
		snapshot:   snapshot,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
		logger: logger.Named("WebSocketHub"),
	}
}

// Run обслуживает регистрацию и рассылку до отмены ctx.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for id, client := range h.clients {
			close(client.send)
			delete(h.clients, id)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("WebSocket hub stopped", zap.Int("clients", len(h.clients)))
			return

		case client := <-h.register:
			h.clients[client.ID] = client
			h.logger.Debug("Client connected", zap.Stringer("client_id", client.ID), zap.Int("clients", len(h.clients)))

		case client := <-h.unregister:
			if _, ok := h.clients[client.ID]; ok {
				close(client.send)
				delete(h.clients, client.ID)
				h.logger.Debug("Client disconnected", zap.Stringer("client_id", client.ID))
			}

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.logger.Error("Failed to marshal websocket message", zap.String("type", message.Type), zap.Error(err))
				continue
			}
			for id, client := range h.clients {
				if !client.IsSubscribed(message.Topic) {
					continue
				}
				select {
				case client.send <- data:
				default:
					// Клиент не успевает читать
					h.logger.Warn("Client send buffer full, dropping client", zap.Stringer("client_id", id))
					close(client.send)
					delete(h.clients, id)
				}
			}
		}
	}
}

// BroadcastSnapshot рассылает снимок сессии. Подходит как подписчик Session.Subscribe.
func (h *Hub) BroadcastSnapshot(snapshot models.SessionSnapshot) {
	h.send(Message{Type: TypeSessionSnapshot, Topic: TopicSession, Payload: snapshot})
}

// PublishStoryCompleted рассылает событие о завершенной истории.
func (h *Hub) PublishStoryCompleted(ctx context.Context, event models.StoryCompletedEvent) error {
	select {
	case h.broadcast <- Message{Type: TypeStoryCompleted, Topic: TopicHistory, Payload: event}:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) send(msg Message) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// ServeWS апгрейдит соединение, подписывает клиента на все темы и сразу отправляет текущий снимок.
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		ID:     uuid.New(),
		conn:   conn,
		hub:    h,
		send:   make(chan []byte, sendBufferSize),
		topics: map[string]bool{TopicSession: true, TopicHistory: true},
	}
	if h.snapshot != nil {
		data, err := json.Marshal(Message{Type: TypeSessionSnapshot, Topic: TopicSession, Payload: h.snapshot()})
		if err == nil {
			client.send <- data
		}
	}

	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump читает команды подписки и держит дедлайн по pong.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("WebSocket read error", zap.Stringer("client_id", c.ID), zap.Error(err))
			}
			return
		}

		var cmd clientCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.hub.logger.Debug("Invalid websocket command", zap.Stringer("client_id", c.ID), zap.Error(err))
			continue
		}
		switch cmd.Action {
		case "subscribe":
			c.Subscribe(cmd.Topic)
		case "unsubscribe":
			c.Unsubscribe(cmd.Topic)
		}
	}
}

// writePump пишет сообщения по одному на фрейм и шлет ping.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Subscribe подписывает клиента на тему
func (c *Client) Subscribe(topic string) {
	c.mu.Lock()
	c.topics[topic] = true
	c.mu.Unlock()
}

// Unsubscribe отписывает клиента от темы
func (c *Client) Unsubscribe(topic string) {
	c.mu.Lock()
	delete(c.topics, topic)
	c.mu.Unlock()
}

// IsSubscribed проверяет, подписан ли клиент на тему
func (c *Client) IsSubscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topics[topic]
}
