package services

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type WebSocketMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	TenantID  string      `json:"tenant_id"`
	UserID    string      `json:"user_id"`
	Timestamp time.Time   `json:"timestamp"`
}

type WebSocketClient struct {
	ID       string
	TenantID string
	UserID   string
	Conn     *websocket.Conn
	Send     chan WebSocketMessage
	Hub      *NotificationHub
}

// NotificationHub pushes in-app notifications to the websocket connections
// of a (tenant, user) pair.
type NotificationHub struct {
	clients    map[string]*WebSocketClient
	broadcast  chan WebSocketMessage
	register   chan *WebSocketClient
	unregister chan *WebSocketClient
	mutex      sync.RWMutex
	logger     *logrus.Logger
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS 由中间件处理
	},
}

func NewNotificationHub(logger *logrus.Logger) *NotificationHub {
	if logger == nil {
		logger = logrus.New()
	}
	return &NotificationHub{
		clients:    make(map[string]*WebSocketClient),
		broadcast:  make(chan WebSocketMessage, 256),
		register:   make(chan *WebSocketClient),
		unregister: make(chan *WebSocketClient),
		logger:     logger,
	}
}

// Run 处理注册/注销/推送，直到 done 关闭
func (h *NotificationHub) Run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			h.mutex.Lock()
			for id, client := range h.clients {
				close(client.Send)
				delete(h.clients, id)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client.ID] = client
			h.mutex.Unlock()
			h.logger.Debugf("ws client %s connected (tenant=%s user=%s)", client.ID, client.TenantID, client.UserID)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(client.Send)
				h.logger.Debugf("ws client %s disconnected", client.ID)
			}
			h.mutex.Unlock()

		case message := <-h.broadcast:
			h.mutex.Lock()
			for id, client := range h.clients {
				if client.TenantID != message.TenantID || client.UserID != message.UserID {
					continue
				}
				select {
				case client.Send <- message:
				default:
					close(client.Send)
					delete(h.clients, id)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// HandleWebSocket upgrades an authenticated request. Tenant and user come
// from the auth middleware, never from the query string.
func (h *NotificationHub) HandleWebSocket(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	userID := c.GetString("user_id")
	if tenantID == "" || userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "message": "tenant and user required"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	client := &WebSocketClient{
		ID:       fmt.Sprintf("client_%d", time.Now().UnixNano()),
		TenantID: tenantID,
		UserID:   userID,
		Conn:     conn,
		Send:     make(chan WebSocketMessage, 64),
		Hub:      h,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump only keeps the connection alive; clients do not send commands.
func (c *WebSocketClient) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(512)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Warnf("WebSocket error: %v", err)
			}
			return
		}
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(message); err != nil {
				c.Hub.logger.Warnf("WriteJSON error: %v", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendToUser queues a push without blocking; returns false when the hub is saturated.
func (h *NotificationHub) SendToUser(tenantID, userID, msgType string, data interface{}) bool {
	msg := WebSocketMessage{
		Type:      msgType,
		Data:      data,
		TenantID:  tenantID,
		UserID:    userID,
		Timestamp: time.Now(),
	}
	select {
	case h.broadcast <- msg:
		return true
	default:
		return false
	}
}

func (h *NotificationHub) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
