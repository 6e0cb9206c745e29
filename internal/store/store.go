// Package store is the persistence boundary of the automation engine.
//
// Every read and write takes the tenant id explicitly; implementations must
// filter on it and never return another tenant's records.
package store

import (
	"context"
	"time"

	"complyhub/internal/models"

	"github.com/pkg/errors"
)

var (
	ErrNotFound = errors.New("store: record not found")
	// ErrTenantMismatch is returned when a record exists but belongs to another tenant.
	ErrTenantMismatch = errors.New("store: record belongs to another tenant")
	ErrUnknownTable   = errors.New("store: unknown table")
)

// Tables update_status is allowed to touch.
const (
	TableTasks        = "tasks"
	TableCertificates = "certificates"
)

// RuleStore reads and maintains tenant automation rules.
type RuleStore interface {
	ListEnabledRules(ctx context.Context, tenantID string) ([]models.AutomationRule, error)
	ListRules(ctx context.Context, tenantID string) ([]models.AutomationRule, error)
	GetRule(ctx context.Context, tenantID, id string) (*models.AutomationRule, error)
	CreateRule(ctx context.Context, rule *models.AutomationRule) error
	SaveRule(ctx context.Context, rule *models.AutomationRule) error
	DeleteRule(ctx context.Context, tenantID, id string) error
	HasTemplateRule(ctx context.Context, tenantID, templateKey string) (bool, error)
}

// RecordStore is the query/insert/update surface used by actions, scanners and emitters.
type RecordStore interface {
	ListTenantIDs(ctx context.Context) ([]string, error)
	ListMembersByRoles(ctx context.Context, tenantID string, roles []string) ([]models.OrganizationMember, error)
	GetMemberByUser(ctx context.Context, tenantID, userID string) (*models.OrganizationMember, error)
	ListMembers(ctx context.Context, tenantID string) ([]models.OrganizationMember, error)
	CreateMember(ctx context.Context, m *models.OrganizationMember) error

	GetTask(ctx context.Context, tenantID, id string) (*models.Task, error)
	CreateTask(ctx context.Context, t *models.Task) error
	CompleteTask(ctx context.Context, tenantID, id string, at time.Time) (*models.Task, error)
	ListOverdueTasks(ctx context.Context, tenantID string, now time.Time) ([]models.Task, error)

	CreateCertificate(ctx context.Context, c *models.Certificate) error
	ListExpiringCertificates(ctx context.Context, tenantID string, from, to time.Time) ([]models.Certificate, error)

	// UpdateStatus sets the status column of a whitelisted table, scoped to id and tenant.
	UpdateStatus(ctx context.Context, table, tenantID, id, status string) error

	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, tenantID, userID string, limit int) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, tenantID, userID, id string, at time.Time) error
}

// AuditStore is append-only.
type AuditStore interface {
	AppendAuditLog(ctx context.Context, rec *models.AutomationAuditLog) error
	ListAuditLogs(ctx context.Context, tenantID string, limit int) ([]models.AutomationAuditLog, error)
	AppendActivity(ctx context.Context, entry *models.ActivityLog) error
	SaveScanCursor(ctx context.Context, cursor *models.ScanCursor) error
	GetScanCursor(ctx context.Context, tenantID, kind string) (*models.ScanCursor, error)
}

// Store is everything the service layer needs.
type Store interface {
	RuleStore
	RecordStore
	AuditStore
}
