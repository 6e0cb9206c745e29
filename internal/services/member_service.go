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

// AddMemberRequest 添加成员请求
type AddMemberRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Email  string `json:"email" binding:"omitempty,email"`
	Name   string `json:"name"`
	Role   string `json:"role" binding:"omitempty,oneof=owner admin member"`
}

// MemberService adds organization members and raises member_added.
type MemberService struct {
	store    store.RecordStore
	triggers TriggerQueue
	activity AuditSink
	logger   *logrus.Logger
	now      func() time.Time
}

func NewMemberService(st store.RecordStore, triggers TriggerQueue, activity AuditSink, logger *logrus.Logger) *MemberService {
	if logger == nil {
		logger = logrus.New()
	}
	return &MemberService{store: st, triggers: triggers, activity: activity, logger: logger, now: time.Now}
}

// AddMember 添加成员；触发上下文的 actor 是新成员本人
func (s *MemberService) AddMember(ctx context.Context, actor Actor, req *AddMemberRequest) (*models.OrganizationMember, error) {
	if req == nil || req.UserID == "" {
		return nil, fmt.Errorf("%w: user_id required", ErrInvalidInput)
	}
	role := firstNonEmpty(req.Role, models.RoleMember)
	switch role {
	case models.RoleOwner, models.RoleAdmin, models.RoleMember:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	now := s.now().UTC()
	m := &models.OrganizationMember{
		ID:        uuid.NewString(),
		TenantID:  actor.TenantID,
		UserID:    req.UserID,
		Email:     req.Email,
		Name:      req.Name,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateMember(ctx, m); err != nil {
		return nil, err
	}
	if s.activity != nil {
		if err := s.activity.LogActivity(ctx, ActivityEntry{
			TenantID:      actor.TenantID,
			ActorKind:     ActorUser,
			ActorIdentity: actor.UserID,
			EventKind:     "member.added",
			EntityKind:    "member",
			EntityID:      m.ID,
			Metadata:      map[string]interface{}{"role": role},
		}); err != nil {
			s.logger.Warnf("activity write failed: %v", err)
		}
	}
	submitTrigger(ctx, s.triggers, s.logger, models.TriggerMemberAdded, AutomationContext{
		TenantID:    actor.TenantID,
		ActorUserID: m.UserID,
		ActorEmail:  m.Email,
		Resource: map[string]interface{}{
			"id":        m.ID,
			"tenant_id": m.TenantID,
			"user_id":   m.UserID,
			"email":     m.Email,
			"name":      m.Name,
			"role":      m.Role,
		},
		Metadata: map[string]interface{}{"addedBy": actor.UserID},
	})
	return m, nil
}
