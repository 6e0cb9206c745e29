package handlers

import (
	"net/http"
	"strconv"

	"complyhub/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// NotificationHandler 站内通知：列表、已读、websocket 推送
type NotificationHandler struct {
	service *services.NotificationService
	hub     *services.NotificationHub
	logger  *logrus.Logger
}

func NewNotificationHandler(service *services.NotificationService, hub *services.NotificationHub, logger *logrus.Logger) *NotificationHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &NotificationHandler{service: service, hub: hub, logger: logger}
}

// List 当前用户的通知
func (h *NotificationHandler) List(c *gin.Context) {
	actor, ok := requireTenant(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	items, err := h.service.ListNotifications(c.Request.Context(), actor.TenantID, actor.UserID, limit)
	if err != nil {
		respondError(c, h.logger, "Failed to list notifications", err)
		return
	}
	c.JSON(http.StatusOK, items)
}

// MarkRead 标记已读
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	actor, ok := requireTenant(c)
	if !ok {
		return
	}
	if err := h.service.MarkRead(c.Request.Context(), actor.TenantID, actor.UserID, c.Param("id")); err != nil {
		respondError(c, h.logger, "Failed to mark notification read", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "read"})
}

// WebSocket 升级连接；身份来自 AuthMiddleware
func (h *NotificationHandler) WebSocket(c *gin.Context) {
	if _, ok := requireTenant(c); !ok {
		return
	}
	h.hub.HandleWebSocket(c)
}

// Stats 在线连接数
func (h *NotificationHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"connected_clients": h.hub.GetClientCount()})
}

func RegisterNotificationRoutes(r *gin.RouterGroup, handler *NotificationHandler) {
	n := r.Group("/notifications")
	{
		n.GET("", handler.List)
		n.POST("/:id/read", handler.MarkRead)
	}
}

// RegisterWebSocketRoutes 挂在 /api/v1 下
func RegisterWebSocketRoutes(r *gin.RouterGroup, handler *NotificationHandler) {
	r.GET("/ws", handler.WebSocket)
	r.GET("/ws/stats", handler.Stats)
}
