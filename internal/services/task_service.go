package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"complyhub/internal/models"
	"complyhub/internal/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrInvalidInput marks request validation failures of the domain services.
var ErrInvalidInput = errors.New("invalid input")

// Actor identifies who performs a domain mutation.
type Actor struct {
	TenantID string
	UserID   string
	Email    string
}

// submitTrigger hands a trigger to the queue after the domain write has
// committed. A rejected submit is logged, never returned.
func submitTrigger(ctx context.Context, q TriggerQueue, logger *logrus.Logger, trigger models.TriggerKind, actx AutomationContext) {
	if q == nil {
		return
	}
	if err := q.Submit(ctx, trigger, actx); err != nil {
		logger.WithFields(logrus.Fields{"tenant_id": actx.TenantID, "trigger": trigger}).
			Warnf("automation trigger not submitted: %v", err)
	}
}

// TaskCreateRequest 创建任务请求
type TaskCreateRequest struct {
	Title       string     `json:"title" binding:"required"`
	Description string     `json:"description"`
	AssignedTo  string     `json:"assigned_to"`
	Priority    string     `json:"priority" binding:"omitempty,oneof=low medium high urgent"`
	DueDate     *time.Time `json:"due_date"`
}

// TaskService owns task writes and raises task_created / task_completed.
type TaskService struct {
	store    store.RecordStore
	triggers TriggerQueue
	activity AuditSink
	logger   *logrus.Logger
	now      func() time.Time
}

func NewTaskService(st store.RecordStore, triggers TriggerQueue, activity AuditSink, logger *logrus.Logger) *TaskService {
	if logger == nil {
		logger = logrus.New()
	}
	return &TaskService{store: st, triggers: triggers, activity: activity, logger: logger, now: time.Now}
}

// CreateTask 创建任务并触发 task_created
func (s *TaskService) CreateTask(ctx context.Context, actor Actor, req *TaskCreateRequest) (*models.Task, error) {
	if req == nil || req.Title == "" {
		return nil, fmt.Errorf("%w: title required", ErrInvalidInput)
	}
	if req.AssignedTo != "" {
		if _, err := s.store.GetMemberByUser(ctx, actor.TenantID, req.AssignedTo); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: assignee is not a member", ErrInvalidInput)
			}
			return nil, err
		}
	}
	now := s.now().UTC()
	var due *time.Time
	if req.DueDate != nil {
		d := req.DueDate.UTC()
		due = &d
	}
	task := &models.Task{
		ID:          uuid.NewString(),
		TenantID:    actor.TenantID,
		Title:       req.Title,
		Description: req.Description,
		AssignedTo:  firstNonEmpty(req.AssignedTo, actor.UserID),
		CreatedBy:   actor.UserID,
		Status:      models.TaskStatusPending,
		Priority:    firstNonEmpty(req.Priority, "medium"),
		DueDate:     due,
		Source:      "manual",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	s.logActivity(ctx, actor, "task.created", task.ID)
	submitTrigger(ctx, s.triggers, s.logger, models.TriggerTaskCreated, AutomationContext{
		TenantID:    actor.TenantID,
		ActorUserID: actor.UserID,
		ActorEmail:  actor.Email,
		Resource:    TaskResource(*task),
	})
	return task, nil
}

// CompleteTask 完成任务并触发 task_completed
func (s *TaskService) CompleteTask(ctx context.Context, actor Actor, id string) (*models.Task, error) {
	task, err := s.store.CompleteTask(ctx, actor.TenantID, id, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.logActivity(ctx, actor, "task.completed", task.ID)
	submitTrigger(ctx, s.triggers, s.logger, models.TriggerTaskCompleted, AutomationContext{
		TenantID:    actor.TenantID,
		ActorUserID: actor.UserID,
		ActorEmail:  actor.Email,
		Resource:    TaskResource(*task),
		Metadata:    map[string]interface{}{"assignee": task.AssignedTo},
	})
	return task, nil
}

// CertificateCreateRequest 登记证书请求
type CertificateCreateRequest struct {
	Name      string    `json:"name" binding:"required"`
	Issuer    string    `json:"issuer"`
	OwnerID   string    `json:"owner_id"`
	ExpiresAt time.Time `json:"expires_at" binding:"required"`
}

// CreateCertificate registers a certificate; the expiration scanner picks it up.
func (s *TaskService) CreateCertificate(ctx context.Context, actor Actor, req *CertificateCreateRequest) (*models.Certificate, error) {
	if req == nil || req.Name == "" || req.ExpiresAt.IsZero() {
		return nil, fmt.Errorf("%w: name and expires_at required", ErrInvalidInput)
	}
	owner := firstNonEmpty(req.OwnerID, actor.UserID)
	if _, err := s.store.GetMemberByUser(ctx, actor.TenantID, owner); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: owner is not a member", ErrInvalidInput)
		}
		return nil, err
	}
	now := s.now().UTC()
	cert := &models.Certificate{
		ID:        uuid.NewString(),
		TenantID:  actor.TenantID,
		OwnerID:   owner,
		Name:      req.Name,
		Issuer:    req.Issuer,
		Status:    "valid",
		ExpiresAt: req.ExpiresAt.UTC(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateCertificate(ctx, cert); err != nil {
		return nil, err
	}
	s.logActivity(ctx, actor, "certificate.created", cert.ID)
	return cert, nil
}

func (s *TaskService) logActivity(ctx context.Context, actor Actor, event, entityID string) {
	if s.activity == nil {
		return
	}
	entity := "task"
	if event == "certificate.created" {
		entity = "certificate"
	}
	if err := s.activity.LogActivity(ctx, ActivityEntry{
		TenantID:      actor.TenantID,
		ActorKind:     ActorUser,
		ActorIdentity: actor.UserID,
		EventKind:     event,
		EntityKind:    entity,
		EntityID:      entityID,
	}); err != nil {
		s.logger.Warnf("activity write failed: %v", err)
	}
}
