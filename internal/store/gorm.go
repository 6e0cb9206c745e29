package store

import (
	"context"
	"time"

	"complyhub/internal/models"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements Store on top of gorm (postgres in production, sqlite in tests).
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB exposes the handle for health checks.
func (s *GormStore) DB() *gorm.DB { return s.db }

// AllModels lists the tables owned by the store, in migration order.
func AllModels() []interface{} {
	return []interface{}{
		&models.OrganizationMember{},
		&models.Task{},
		&models.Certificate{},
		&models.Notification{},
		&models.AutomationRule{},
		&models.AutomationAuditLog{},
		&models.ActivityLog{},
		&models.ScanCursor{},
		&models.FireWatermark{},
	}
}

// Migrate creates or updates all tables.
func (s *GormStore) Migrate() error {
	return errors.Wrap(s.db.AutoMigrate(AllModels()...), "auto migrate")
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// ---- rules ----

func (s *GormStore) ListEnabledRules(ctx context.Context, tenantID string) ([]models.AutomationRule, error) {
	var rules []models.AutomationRule
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND enabled = ?", tenantID, true).
		Order("position ASC, created_at ASC, id ASC").
		Find(&rules).Error
	return rules, errors.Wrap(err, "list enabled rules")
}

func (s *GormStore) ListRules(ctx context.Context, tenantID string) ([]models.AutomationRule, error) {
	var rules []models.AutomationRule
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("position ASC, created_at ASC, id ASC").
		Find(&rules).Error
	return rules, errors.Wrap(err, "list rules")
}

func (s *GormStore) GetRule(ctx context.Context, tenantID, id string) (*models.AutomationRule, error) {
	var rule models.AutomationRule
	if err := s.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).First(&rule).Error; err != nil {
		return nil, notFound(err)
	}
	return &rule, nil
}

func (s *GormStore) CreateRule(ctx context.Context, rule *models.AutomationRule) error {
	return errors.Wrap(s.db.WithContext(ctx).Create(rule).Error, "create rule")
}

func (s *GormStore) SaveRule(ctx context.Context, rule *models.AutomationRule) error {
	res := s.db.WithContext(ctx).
		Model(&models.AutomationRule{}).
		Where("id = ? AND tenant_id = ?", rule.ID, rule.TenantID).
		Select("name", "description", "trigger_kind", "conditions", "actions", "enabled", "position", "updated_at").
		Updates(rule)
	if res.Error != nil {
		return errors.Wrap(res.Error, "save rule")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) DeleteRule(ctx context.Context, tenantID, id string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).Delete(&models.AutomationRule{})
	if res.Error != nil {
		return errors.Wrap(res.Error, "delete rule")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) HasTemplateRule(ctx context.Context, tenantID, templateKey string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.AutomationRule{}).
		Where("tenant_id = ? AND template_key = ?", tenantID, templateKey).
		Count(&n).Error
	return n > 0, errors.Wrap(err, "count template rules")
}

// ---- members ----

func (s *GormStore) ListTenantIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.OrganizationMember{}).
		Distinct("tenant_id").
		Order("tenant_id").
		Pluck("tenant_id", &ids).Error
	return ids, errors.Wrap(err, "list tenants")
}

func (s *GormStore) ListMembersByRoles(ctx context.Context, tenantID string, roles []string) ([]models.OrganizationMember, error) {
	var members []models.OrganizationMember
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND role IN ?", tenantID, roles).
		Order("created_at ASC").
		Find(&members).Error
	return members, errors.Wrap(err, "list members by role")
}

func (s *GormStore) GetMemberByUser(ctx context.Context, tenantID, userID string) (*models.OrganizationMember, error) {
	var m models.OrganizationMember
	if err := s.db.WithContext(ctx).Where("tenant_id = ? AND user_id = ?", tenantID, userID).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (s *GormStore) ListMembers(ctx context.Context, tenantID string) ([]models.OrganizationMember, error) {
	var members []models.OrganizationMember
	err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Find(&members).Error
	return members, errors.Wrap(err, "list members")
}

func (s *GormStore) CreateMember(ctx context.Context, m *models.OrganizationMember) error {
	return errors.Wrap(s.db.WithContext(ctx).Create(m).Error, "create member")
}

// ---- tasks ----

func (s *GormStore) GetTask(ctx context.Context, tenantID, id string) (*models.Task, error) {
	var t models.Task
	if err := s.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).First(&t).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (s *GormStore) CreateTask(ctx context.Context, t *models.Task) error {
	return errors.Wrap(s.db.WithContext(ctx).Create(t).Error, "create task")
}

func (s *GormStore) CompleteTask(ctx context.Context, tenantID, id string, at time.Time) (*models.Task, error) {
	res := s.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ? AND tenant_id = ? AND status <> ?", id, tenantID, models.TaskStatusCompleted).
		Updates(map[string]interface{}{
			"status":       models.TaskStatusCompleted,
			"completed_at": at,
			"updated_at":   at,
		})
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "complete task")
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.GetTask(ctx, tenantID, id)
}

func (s *GormStore) ListOverdueTasks(ctx context.Context, tenantID string, now time.Time) ([]models.Task, error) {
	var tasks []models.Task
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ? AND due_date IS NOT NULL AND due_date < ?", tenantID, models.TaskStatusPending, now).
		Order("due_date ASC").
		Find(&tasks).Error
	return tasks, errors.Wrap(err, "list overdue tasks")
}

// ---- certificates ----

func (s *GormStore) CreateCertificate(ctx context.Context, c *models.Certificate) error {
	return errors.Wrap(s.db.WithContext(ctx).Create(c).Error, "create certificate")
}

func (s *GormStore) ListExpiringCertificates(ctx context.Context, tenantID string, from, to time.Time) ([]models.Certificate, error) {
	var certs []models.Certificate
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND expires_at >= ? AND expires_at <= ?", tenantID, from, to).
		Order("expires_at ASC").
		Find(&certs).Error
	return certs, errors.Wrap(err, "list expiring certificates")
}

// ---- generic status update ----

func statusModel(table string) (interface{}, error) {
	switch table {
	case TableTasks:
		return &models.Task{}, nil
	case TableCertificates:
		return &models.Certificate{}, nil
	default:
		return nil, errors.Wrapf(ErrUnknownTable, "%q", table)
	}
}

func (s *GormStore) UpdateStatus(ctx context.Context, table, tenantID, id, status string) error {
	model, err := statusModel(table)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(model).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now()})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "update %s status", table)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	// distinguish "missing" from "exists under another tenant"
	var n int64
	if err := s.db.WithContext(ctx).Model(model).Where("id = ?", id).Count(&n).Error; err != nil {
		return errors.Wrapf(err, "lookup %s", table)
	}
	if n > 0 {
		return ErrTenantMismatch
	}
	return ErrNotFound
}

// ---- notifications ----

func (s *GormStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	return errors.Wrap(s.db.WithContext(ctx).Create(n).Error, "create notification")
}

func (s *GormStore) ListNotifications(ctx context.Context, tenantID, userID string, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []models.Notification
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, errors.Wrap(err, "list notifications")
}

func (s *GormStore) MarkNotificationRead(ctx context.Context, tenantID, userID, id string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND tenant_id = ? AND user_id = ?", id, tenantID, userID).
		Update("read_at", at)
	if res.Error != nil {
		return errors.Wrap(res.Error, "mark notification read")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- audit ----

func (s *GormStore) AppendAuditLog(ctx context.Context, rec *models.AutomationAuditLog) error {
	return errors.Wrap(s.db.WithContext(ctx).Create(rec).Error, "append audit log")
}

func (s *GormStore) ListAuditLogs(ctx context.Context, tenantID string, limit int) ([]models.AutomationAuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []models.AutomationAuditLog
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("fired_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, errors.Wrap(err, "list audit logs")
}

func (s *GormStore) AppendActivity(ctx context.Context, entry *models.ActivityLog) error {
	return errors.Wrap(s.db.WithContext(ctx).Create(entry).Error, "append activity")
}

func (s *GormStore) SaveScanCursor(ctx context.Context, cursor *models.ScanCursor) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "scan_kind"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_scanned_at", "last_matched", "updated_at"}),
	}).Create(cursor).Error
	return errors.Wrap(err, "save scan cursor")
}

func (s *GormStore) GetScanCursor(ctx context.Context, tenantID, kind string) (*models.ScanCursor, error) {
	var c models.ScanCursor
	if err := s.db.WithContext(ctx).Where("tenant_id = ? AND scan_kind = ?", tenantID, kind).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// ---- watermarks ----

// ClaimWatermark records a firing for key unless one is still live.
// It returns true when the caller won the claim. The upsert is atomic, so
// concurrent scanners cannot both win.
func (s *GormStore) ClaimWatermark(ctx context.Context, key string, now time.Time, window time.Duration) (bool, error) {
	wm := &models.FireWatermark{Key: key, FiredAt: now, ExpiresAt: now.Add(window)}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "watermark_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"fired_at", "expires_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "fire_watermarks.expires_at <= ?", Vars: []interface{}{now}},
		}},
	}).Create(wm)
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "claim watermark")
	}
	return res.RowsAffected > 0, nil
}

// ReleaseWatermark drops a claim so the next sweep can fire again.
func (s *GormStore) ReleaseWatermark(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).Where("watermark_key = ?", key).Delete(&models.FireWatermark{}).Error
	return errors.Wrap(err, "release watermark")
}

// PruneWatermarks deletes expired watermarks.
func (s *GormStore) PruneWatermarks(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&models.FireWatermark{})
	return res.RowsAffected, errors.Wrap(res.Error, "prune watermarks")
}
