package services

import (
	"context"
	"fmt"
	"time"

	"complyhub/internal/models"
	"complyhub/internal/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// NotificationMessage is one in-app notification addressed to a tenant member.
type NotificationMessage struct {
	TenantID  string
	UserID    string
	Title     string
	Message   string
	Type      string
	ActionURL string
}

// NotificationChannel delivers in-app notifications.
type NotificationChannel interface {
	Notify(ctx context.Context, msg NotificationMessage) error
}

// NotificationService persists notifications and pushes them to connected clients.
type NotificationService struct {
	store  store.RecordStore
	hub    *NotificationHub
	logger *logrus.Logger
	now    func() time.Time
}

// NewNotificationService 创建通知服务；hub 可为空
func NewNotificationService(st store.RecordStore, hub *NotificationHub, logger *logrus.Logger) *NotificationService {
	if logger == nil {
		logger = logrus.New()
	}
	return &NotificationService{store: st, hub: hub, logger: logger, now: time.Now}
}

// Notify stores the notification; the websocket push is best effort.
func (s *NotificationService) Notify(ctx context.Context, msg NotificationMessage) error {
	if msg.TenantID == "" || msg.UserID == "" {
		return fmt.Errorf("notification requires tenant and user")
	}
	n := &models.Notification{
		ID:        uuid.NewString(),
		TenantID:  msg.TenantID,
		UserID:    msg.UserID,
		Title:     msg.Title,
		Message:   msg.Message,
		Type:      firstNonEmpty(msg.Type, "info"),
		ActionURL: msg.ActionURL,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		return err
	}
	if s.hub != nil && !s.hub.SendToUser(n.TenantID, n.UserID, "notification", n) {
		s.logger.WithFields(logrus.Fields{"tenant_id": n.TenantID, "user_id": n.UserID}).
			Warn("notification push dropped: hub saturated")
	}
	return nil
}

// ListNotifications 获取当前用户的通知
func (s *NotificationService) ListNotifications(ctx context.Context, tenantID, userID string, limit int) ([]models.Notification, error) {
	return s.store.ListNotifications(ctx, tenantID, userID, limit)
}

// MarkRead 标记通知已读
func (s *NotificationService) MarkRead(ctx context.Context, tenantID, userID, id string) error {
	return s.store.MarkNotificationRead(ctx, tenantID, userID, id, s.now().UTC())
}
