package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"complyhub/internal/models"
	"complyhub/internal/store"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
)

// ActionExecutor performs one side effect for a rule action.
//
// Execute must validate its config before touching any dependency so a
// malformed config never leaves partial state behind.
type ActionExecutor interface {
	Kind() models.ActionKind
	Execute(ctx context.Context, config map[string]interface{}, actx AutomationContext) error
}

// ExecutorDeps are the collaborators shared by the built-in executors.
type ExecutorDeps struct {
	Store         store.RecordStore
	Notifications NotificationChannel
	Mail          MailQueue
	Logger        *logrus.Logger
	Now           func() time.Time
}

// NewDefaultExecutors builds one executor per built-in action kind.
func NewDefaultExecutors(deps ExecutorDeps) []ActionExecutor {
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return []ActionExecutor{
		&notifyExecutor{deps: deps},
		&taskExecutor{deps: deps, kind: models.ActionCreateTask},
		&taskExecutor{deps: deps, kind: models.ActionAssignTask},
		&updateStatusExecutor{deps: deps},
		&emailExecutor{deps: deps},
		&escalateExecutor{deps: deps},
	}
}

var actionValidator = validator.New()

// decodeActionConfig decodes a loosely typed config map into out and
// validates it. Any problem is reported as ErrConfiguration.
func decodeActionConfig(kind models.ActionKind, raw map[string]interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
		TagName:          "mapstructure",
	})
	if err != nil {
		return configErrorf("%s: %v", kind, err)
	}
	if err := dec.Decode(raw); err != nil {
		return configErrorf("%s: %v", kind, err)
	}
	if err := actionValidator.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
			}
			return configErrorf("%s: invalid fields %s", kind, strings.Join(fields, ", "))
		}
		return configErrorf("%s: %v", kind, err)
	}
	return nil
}

// verifyMember refuses to act on a user that is not a member of the context tenant.
func verifyMember(ctx context.Context, st store.RecordStore, tenantID, userID string) error {
	m, err := st.GetMemberByUser(ctx, tenantID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: user %s is not a member of tenant %s", ErrTenantScopeViolation, userID, tenantID)
	}
	if err != nil {
		return dependencyError("lookup member", err)
	}
	if m.TenantID != tenantID {
		return fmt.Errorf("%w: member %s resolved under tenant %s", ErrTenantScopeViolation, userID, m.TenantID)
	}
	return nil
}

// ---- send_notification ----

type notificationActionConfig struct {
	Title     string `mapstructure:"title" validate:"required"`
	Message   string `mapstructure:"message"`
	Type      string `mapstructure:"type" validate:"omitempty,oneof=info success warning error"`
	ActionURL string `mapstructure:"actionUrl"`
	UserID    string `mapstructure:"userId"`
}

type notifyExecutor struct {
	deps ExecutorDeps
}

func (e *notifyExecutor) Kind() models.ActionKind { return models.ActionSendNotification }

func (e *notifyExecutor) Execute(ctx context.Context, raw map[string]interface{}, actx AutomationContext) error {
	var cfg notificationActionConfig
	if err := decodeActionConfig(e.Kind(), raw, &cfg); err != nil {
		return err
	}
	recipient := cfg.UserID
	if recipient == "" {
		recipient = actx.ActorUserID
	}
	if recipient == "" {
		e.deps.Logger.WithField("tenant_id", actx.TenantID).Debug("automation: send_notification has no recipient, skipped")
		return nil
	}
	if cfg.UserID != "" {
		if err := verifyMember(ctx, e.deps.Store, actx.TenantID, cfg.UserID); err != nil {
			return err
		}
	}
	msg := NotificationMessage{
		TenantID:  actx.TenantID,
		UserID:    recipient,
		Title:     cfg.Title,
		Message:   firstNonEmpty(cfg.Message, cfg.Title),
		Type:      firstNonEmpty(cfg.Type, "info"),
		ActionURL: cfg.ActionURL,
	}
	if err := e.deps.Notifications.Notify(ctx, msg); err != nil {
		return dependencyError("notify", err)
	}
	return nil
}

// ---- create_task / assign_task ----

type taskActionConfig struct {
	Title       string      `mapstructure:"title" validate:"required"`
	Description string      `mapstructure:"description"`
	AssignedTo  string      `mapstructure:"assignedTo"`
	DueDate     interface{} `mapstructure:"dueDate"`
	DueInDays   *int        `mapstructure:"dueInDays" validate:"omitempty,min=0"`
	Priority    string      `mapstructure:"priority" validate:"omitempty,oneof=low medium high urgent"`
}

type taskExecutor struct {
	deps ExecutorDeps
	kind models.ActionKind
}

func (e *taskExecutor) Kind() models.ActionKind { return e.kind }

func (e *taskExecutor) Execute(ctx context.Context, raw map[string]interface{}, actx AutomationContext) error {
	var cfg taskActionConfig
	if err := decodeActionConfig(e.kind, raw, &cfg); err != nil {
		return err
	}
	now := e.deps.Now().UTC()

	var due *time.Time
	switch {
	case cfg.DueDate != nil && cfg.DueDate != "":
		t, err := cast.ToTimeInDefaultLocationE(cfg.DueDate, time.UTC)
		if err != nil {
			return configErrorf("%s: dueDate: %v", e.kind, err)
		}
		t = t.UTC()
		due = &t
	case cfg.DueInDays != nil:
		t := now.AddDate(0, 0, *cfg.DueInDays)
		due = &t
	}

	assignee := cfg.AssignedTo
	if assignee == "" {
		assignee = actx.ActorUserID
	} else if err := verifyMember(ctx, e.deps.Store, actx.TenantID, assignee); err != nil {
		return err
	}
	if e.kind == models.ActionAssignTask && assignee == "" {
		return configErrorf("%s: no assignee resolvable", e.kind)
	}

	task := &models.Task{
		ID:          uuid.NewString(),
		TenantID:    actx.TenantID,
		Title:       cfg.Title,
		Description: cfg.Description,
		AssignedTo:  assignee,
		CreatedBy:   actx.ActorUserID,
		Status:      models.TaskStatusPending,
		Priority:    firstNonEmpty(cfg.Priority, "medium"),
		DueDate:     due,
		Source:      "automation",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.deps.Store.CreateTask(ctx, task); err != nil {
		return dependencyError("create task", err)
	}
	return nil
}

// ---- update_status ----

type updateStatusActionConfig struct {
	Table  string `mapstructure:"table" validate:"required,oneof=tasks certificates"`
	Status string `mapstructure:"status" validate:"required"`
}

type updateStatusExecutor struct {
	deps ExecutorDeps
}

func (e *updateStatusExecutor) Kind() models.ActionKind { return models.ActionUpdateStatus }

func (e *updateStatusExecutor) Execute(ctx context.Context, raw map[string]interface{}, actx AutomationContext) error {
	var cfg updateStatusActionConfig
	if err := decodeActionConfig(e.Kind(), raw, &cfg); err != nil {
		return err
	}
	id := actx.ResourceID()
	if id == "" {
		return configErrorf("update_status: context has no resource id")
	}
	if owner := cast.ToString(actx.Resource["tenant_id"]); owner != "" && owner != actx.TenantID {
		return fmt.Errorf("%w: resource %s belongs to tenant %s", ErrTenantScopeViolation, id, owner)
	}
	err := e.deps.Store.UpdateStatus(ctx, cfg.Table, actx.TenantID, id, cfg.Status)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrTenantMismatch):
		return fmt.Errorf("%w: %s %s", ErrTenantScopeViolation, cfg.Table, id)
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("update_status: %s %s: %w", cfg.Table, id, err)
	case errors.Is(err, store.ErrUnknownTable):
		return configErrorf("update_status: %v", err)
	default:
		return dependencyError("update status", err)
	}
}

// ---- send_email ----

type emailActionConfig struct {
	To       string                 `mapstructure:"to" validate:"omitempty,email"`
	Subject  string                 `mapstructure:"subject" validate:"required_without=Template"`
	Body     string                 `mapstructure:"body"`
	Template string                 `mapstructure:"template"`
	Data     map[string]interface{} `mapstructure:"data"`
}

type emailExecutor struct {
	deps ExecutorDeps
}

func (e *emailExecutor) Kind() models.ActionKind { return models.ActionSendEmail }

func (e *emailExecutor) Execute(ctx context.Context, raw map[string]interface{}, actx AutomationContext) error {
	var cfg emailActionConfig
	if err := decodeActionConfig(e.Kind(), raw, &cfg); err != nil {
		return err
	}
	to := firstNonEmpty(cfg.To, actx.ActorEmail)
	if to == "" {
		return configErrorf("send_email: no recipient")
	}
	if e.deps.Mail == nil {
		return fmt.Errorf("%w: no mail queue configured", ErrDependencyUnavailable)
	}
	msg := EmailMessage{
		ID:         uuid.NewString(),
		TenantID:   actx.TenantID,
		To:         to,
		Subject:    cfg.Subject,
		Body:       cfg.Body,
		Template:   cfg.Template,
		Data:       cfg.Data,
		ResourceID: actx.ResourceID(),
		QueuedAt:   e.deps.Now().UTC(),
	}
	if err := e.deps.Mail.Enqueue(ctx, msg); err != nil {
		if errors.Is(err, ErrDependencyUnavailable) {
			return err
		}
		return dependencyError("enqueue email", err)
	}
	return nil
}

// ---- escalate ----

type escalateActionConfig struct {
	Title     string `mapstructure:"title" validate:"required"`
	Message   string `mapstructure:"message"`
	ActionURL string `mapstructure:"actionUrl"`
}

var escalationRoles = []string{models.RoleOwner, models.RoleAdmin}

type escalateExecutor struct {
	deps ExecutorDeps
}

func (e *escalateExecutor) Kind() models.ActionKind { return models.ActionEscalate }

// Execute notifies every owner and admin of the tenant. Each recipient is
// attempted independently; failures are joined.
func (e *escalateExecutor) Execute(ctx context.Context, raw map[string]interface{}, actx AutomationContext) error {
	var cfg escalateActionConfig
	if err := decodeActionConfig(e.Kind(), raw, &cfg); err != nil {
		return err
	}
	admins, err := e.deps.Store.ListMembersByRoles(ctx, actx.TenantID, escalationRoles)
	if err != nil {
		return dependencyError("list admins", err)
	}
	if len(admins) == 0 {
		e.deps.Logger.WithField("tenant_id", actx.TenantID).Info("automation: escalate found no admins")
		return nil
	}

	var errs []error
	for _, m := range admins {
		if m.TenantID != actx.TenantID {
			errs = append(errs, fmt.Errorf("%w: admin %s resolved under tenant %s", ErrTenantScopeViolation, m.UserID, m.TenantID))
			continue
		}
		msg := NotificationMessage{
			TenantID:  actx.TenantID,
			UserID:    m.UserID,
			Title:     cfg.Title,
			Message:   firstNonEmpty(cfg.Message, cfg.Title),
			Type:      "warning",
			ActionURL: cfg.ActionURL,
		}
		if err := e.deps.Notifications.Notify(ctx, msg); err != nil {
			errs = append(errs, dependencyError("notify "+m.UserID, err))
		}
	}
	return errors.Join(errs...)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
