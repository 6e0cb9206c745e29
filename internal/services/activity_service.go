package services

import (
	"context"
	"errors"
	"time"

	"complyhub/internal/models"
	"complyhub/internal/store"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Actor kinds recorded on activity entries.
const (
	ActorUser   = "user"
	ActorSystem = "system"
)

// ActivityEntry is one row for the tenant activity feed.
type ActivityEntry struct {
	TenantID      string
	ActorKind     string
	ActorIdentity string
	EventKind     string
	EntityKind    string
	EntityID      string
	Metadata      map[string]interface{}
}

// AuditSink receives rule firing records and activity entries. Both are append-only.
type AuditSink interface {
	RecordFiring(ctx context.Context, rec *models.AutomationAuditLog) error
	LogActivity(ctx context.Context, entry ActivityEntry) error
}

var ErrInvalidActivity = errors.New("activity: tenant and event kind required")

// ActivityService writes audit and activity rows. Callers treat it as best effort.
type ActivityService struct {
	store store.AuditStore
	clock func() time.Time
}

func NewActivityService(st store.AuditStore) *ActivityService {
	return &ActivityService{store: st, clock: time.Now}
}

func (s *ActivityService) RecordFiring(ctx context.Context, rec *models.AutomationAuditLog) error {
	if rec.TenantID == "" || rec.RuleID == "" {
		return ErrInvalidActivity
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.FiredAt.IsZero() {
		rec.FiredAt = s.clock().UTC()
	}
	return s.store.AppendAuditLog(ctx, rec)
}

func (s *ActivityService) LogActivity(ctx context.Context, e ActivityEntry) error {
	if e.TenantID == "" || e.EventKind == "" {
		return ErrInvalidActivity
	}
	return s.store.AppendActivity(ctx, &models.ActivityLog{
		TenantID:      e.TenantID,
		ActorKind:     firstNonEmpty(e.ActorKind, ActorSystem),
		ActorIdentity: e.ActorIdentity,
		EventKind:     e.EventKind,
		EntityKind:    e.EntityKind,
		EntityID:      e.EntityID,
		Metadata:      datatypes.JSONMap(e.Metadata),
		CreatedAt:     s.clock().UTC(),
	})
}

// ListAuditLogs returns the newest firings of a tenant.
func (s *ActivityService) ListAuditLogs(ctx context.Context, tenantID string, limit int) ([]models.AutomationAuditLog, error) {
	return s.store.ListAuditLogs(ctx, tenantID, limit)
}
