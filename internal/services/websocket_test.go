package services

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationHub_ClientManagement(t *testing.T) {
	hub := NewNotificationHub(nil)
	done := make(chan struct{})
	defer close(done)
	go hub.Run(done)

	client1 := &WebSocketClient{ID: "client-1", TenantID: "t1", UserID: "u1", Send: make(chan WebSocketMessage, 8), Hub: hub}
	client2 := &WebSocketClient{ID: "client-2", TenantID: "t1", UserID: "u2", Send: make(chan WebSocketMessage, 8), Hub: hub}

	hub.register <- client1
	hub.register <- client2
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, hub.GetClientCount())

	hub.unregister <- client1
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, hub.GetClientCount())
}

func TestNotificationHub_SendToUserScopedByTenant(t *testing.T) {
	hub := NewNotificationHub(nil)
	done := make(chan struct{})
	defer close(done)
	go hub.Run(done)

	target := &WebSocketClient{ID: "a", TenantID: "t1", UserID: "u1", Send: make(chan WebSocketMessage, 8), Hub: hub}
	sameUserOtherTenant := &WebSocketClient{ID: "b", TenantID: "t2", UserID: "u1", Send: make(chan WebSocketMessage, 8), Hub: hub}
	otherUser := &WebSocketClient{ID: "c", TenantID: "t1", UserID: "u2", Send: make(chan WebSocketMessage, 8), Hub: hub}
	hub.register <- target
	hub.register <- sameUserOtherTenant
	hub.register <- otherUser
	time.Sleep(50 * time.Millisecond)

	require.True(t, hub.SendToUser("t1", "u1", "notification", map[string]interface{}{"title": "hi"}))

	select {
	case msg := <-target.Send:
		assert.Equal(t, "notification", msg.Type)
		assert.Equal(t, "t1", msg.TenantID)
	case <-time.After(time.Second):
		t.Fatal("target should have received the push")
	}
	for _, c := range []*WebSocketClient{sameUserOtherTenant, otherUser} {
		select {
		case <-c.Send:
			t.Fatalf("client %s should not have received the push", c.ID)
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestNotificationHub_SendToUserDoesNotBlockWithoutRun(t *testing.T) {
	hub := NewNotificationHub(nil)
	sent := 0
	for i := 0; i < 300; i++ {
		if hub.SendToUser("t1", "u1", "notification", nil) {
			sent++
		}
	}
	assert.Equal(t, 256, sent)
}

func TestNotificationHub_HandleWebSocketRequiresIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewNotificationHub(nil)
	r := gin.New()
	r.GET("/ws", hub.HandleWebSocket)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/ws", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestNotificationHub_HandleWebSocketUpgrade(t *testing.T) {
	if !canBindLocal() {
		t.Skip("local TCP bind not permitted in this environment")
	}
	gin.SetMode(gin.TestMode)
	hub := NewNotificationHub(nil)
	done := make(chan struct{})
	defer close(done)
	go hub.Run(done)

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		c.Set("tenant_id", "t1")
		c.Set("user_id", "u1")
		hub.HandleWebSocket(c)
	})
	server := httptest.NewServer(r)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Skipf("WebSocket connection failed (expected in test environment): %v", err)
		return
	}
	defer conn.Close()
	defer resp.Body.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, hub.GetClientCount())

	hub.SendToUser("t1", "u1", "notification", map[string]interface{}{"title": "Cert expiring"})
	conn.SetReadDeadline(time.Now().Add(time.Second))
	var got WebSocketMessage
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "notification", got.Type)
}

// canBindLocal 尝试绑定本地临时端口，判断运行环境是否允许本地监听
func canBindLocal() bool {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
