package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"complyhub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	dsn := "file:store_" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	st := NewGormStore(db)
	require.NoError(t, st.Migrate())
	return st
}

func rule(id, tenant string, trigger models.TriggerKind, enabled bool, position int) *models.AutomationRule {
	return &models.AutomationRule{
		ID:       id,
		TenantID: tenant,
		Name:     id,
		Trigger:  trigger,
		Actions:  models.ActionList{{Kind: models.ActionSendNotification, Config: map[string]interface{}{"title": "x"}}},
		Enabled:  enabled,
		Position: position,
	}
}

func TestGormStore_ListEnabledRules_FiltersAndOrders(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateRule(ctx, rule("r2", "t1", models.TriggerTaskCreated, true, 2)))
	require.NoError(t, st.CreateRule(ctx, rule("r1", "t1", models.TriggerTaskOverdue, true, 1)))
	require.NoError(t, st.CreateRule(ctx, rule("off", "t1", models.TriggerTaskCreated, false, 0)))
	require.NoError(t, st.CreateRule(ctx, rule("other", "t2", models.TriggerTaskCreated, true, 0)))

	rules, err := st.ListEnabledRules(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "r1", rules[0].ID)
	assert.Equal(t, "r2", rules[1].ID)
	require.Len(t, rules[0].Actions, 1)
	assert.Equal(t, models.ActionSendNotification, rules[0].Actions[0].Kind)
	assert.Equal(t, "x", rules[0].Actions[0].Config["title"])

	all, err := st.ListRules(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestGormStore_RuleCRUDIsTenantScoped(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	r := rule("r1", "t1", models.TriggerTaskCreated, true, 0)
	r.TemplateKey = "welcome_new_member"
	require.NoError(t, st.CreateRule(ctx, r))

	_, err := st.GetRule(ctx, "t2", "r1")
	assert.ErrorIs(t, err, ErrNotFound)

	r.Enabled = false
	r.Name = "renamed"
	require.NoError(t, st.SaveRule(ctx, r))
	got, err := st.GetRule(ctx, "t1", "r1")
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, "renamed", got.Name)

	foreign := *r
	foreign.TenantID = "t2"
	assert.ErrorIs(t, st.SaveRule(ctx, &foreign), ErrNotFound)

	has, err := st.HasTemplateRule(ctx, "t1", "welcome_new_member")
	require.NoError(t, err)
	assert.True(t, has)
	has, err = st.HasTemplateRule(ctx, "t2", "welcome_new_member")
	require.NoError(t, err)
	assert.False(t, has)

	assert.ErrorIs(t, st.DeleteRule(ctx, "t2", "r1"), ErrNotFound)
	require.NoError(t, st.DeleteRule(ctx, "t1", "r1"))
}

func TestGormStore_MembersByRole(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	for _, m := range []models.OrganizationMember{
		{ID: "m1", TenantID: "t1", UserID: "owner", Role: models.RoleOwner},
		{ID: "m2", TenantID: "t1", UserID: "admin", Role: models.RoleAdmin},
		{ID: "m3", TenantID: "t1", UserID: "member", Role: models.RoleMember},
		{ID: "m4", TenantID: "t2", UserID: "admin2", Role: models.RoleAdmin},
	} {
		m := m
		require.NoError(t, st.CreateMember(ctx, &m))
	}

	admins, err := st.ListMembersByRoles(ctx, "t1", []string{models.RoleOwner, models.RoleAdmin})
	require.NoError(t, err)
	require.Len(t, admins, 2)
	for _, a := range admins {
		assert.Equal(t, "t1", a.TenantID)
	}

	tenants, err := st.ListTenantIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, tenants)

	_, err = st.GetMemberByUser(ctx, "t2", "owner")
	assert.ErrorIs(t, err, ErrNotFound)

	roster, err := st.ListMembers(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, roster, 3)
}

func TestGormStore_UpdateStatus(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.CreateTask(ctx, &models.Task{ID: "task1", TenantID: "t1", Title: "x", Status: models.TaskStatusPending, Priority: "medium"}))

	require.NoError(t, st.UpdateStatus(ctx, TableTasks, "t1", "task1", models.TaskStatusInProgress))
	task, err := st.GetTask(ctx, "t1", "task1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusInProgress, task.Status)

	assert.ErrorIs(t, st.UpdateStatus(ctx, TableTasks, "t2", "task1", "completed"), ErrTenantMismatch)
	assert.ErrorIs(t, st.UpdateStatus(ctx, TableTasks, "t1", "missing", "completed"), ErrNotFound)
	assert.ErrorIs(t, st.UpdateStatus(ctx, "users", "t1", "task1", "completed"), ErrUnknownTable)

	task, err = st.GetTask(ctx, "t1", "task1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusInProgress, task.Status, "foreign tenant update must not apply")
}

func TestGormStore_OverdueAndCompletion(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-48 * time.Hour)
	future := now.Add(48 * time.Hour)

	require.NoError(t, st.CreateTask(ctx, &models.Task{ID: "late", TenantID: "t1", Title: "late", Status: models.TaskStatusPending, Priority: "medium", DueDate: &past}))
	require.NoError(t, st.CreateTask(ctx, &models.Task{ID: "ok", TenantID: "t1", Title: "ok", Status: models.TaskStatusPending, Priority: "medium", DueDate: &future}))
	require.NoError(t, st.CreateTask(ctx, &models.Task{ID: "nodue", TenantID: "t1", Title: "nodue", Status: models.TaskStatusPending, Priority: "medium"}))
	require.NoError(t, st.CreateTask(ctx, &models.Task{ID: "late-other", TenantID: "t2", Title: "x", Status: models.TaskStatusPending, Priority: "medium", DueDate: &past}))

	overdue, err := st.ListOverdueTasks(ctx, "t1", now)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, "late", overdue[0].ID)

	done, err := st.CompleteTask(ctx, "t1", "late", now)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	_, err = st.CompleteTask(ctx, "t1", "late", now)
	assert.ErrorIs(t, err, ErrNotFound, "completing twice is rejected")

	overdue, err = st.ListOverdueTasks(ctx, "t1", now)
	require.NoError(t, err)
	assert.Empty(t, overdue)
}

func TestGormStore_ListExpiringCertificates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	for id, exp := range map[string]time.Time{
		"expired": now.Add(-24 * time.Hour),
		"soon":    now.Add(10 * 24 * time.Hour),
		"later":   now.Add(60 * 24 * time.Hour),
	} {
		require.NoError(t, st.CreateCertificate(ctx, &models.Certificate{ID: id, TenantID: "t1", OwnerID: "u1", Name: id, Status: "valid", ExpiresAt: exp}))
	}

	certs, err := st.ListExpiringCertificates(ctx, "t1", now, now.Add(30*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, certs, 1)
	assert.Equal(t, "soon", certs[0].ID)
}

func TestGormStore_Notifications(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.CreateNotification(ctx, &models.Notification{ID: "n1", TenantID: "t1", UserID: "u1", Title: "hi", Type: "info", CreatedAt: time.Now()}))

	list, err := st.ListNotifications(ctx, "t1", "u1", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)

	assert.ErrorIs(t, st.MarkNotificationRead(ctx, "t1", "u2", "n1", time.Now()), ErrNotFound)
	require.NoError(t, st.MarkNotificationRead(ctx, "t1", "u1", "n1", time.Now()))
	list, err = st.ListNotifications(ctx, "t1", "u1", 10)
	require.NoError(t, err)
	assert.NotNil(t, list[0].ReadAt)
}

func TestGormStore_ScanCursorUpsert(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	first := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)

	require.NoError(t, st.SaveScanCursor(ctx, &models.ScanCursor{TenantID: "t1", ScanKind: "overdue_tasks", LastScannedAt: first, LastMatched: 3, UpdatedAt: first}))
	require.NoError(t, st.SaveScanCursor(ctx, &models.ScanCursor{TenantID: "t1", ScanKind: "overdue_tasks", LastScannedAt: first.Add(time.Hour), LastMatched: 1, UpdatedAt: first.Add(time.Hour)}))

	c, err := st.GetScanCursor(ctx, "t1", "overdue_tasks")
	require.NoError(t, err)
	assert.Equal(t, 1, c.LastMatched)
	assert.True(t, c.LastScannedAt.Equal(first.Add(time.Hour)))

	_, err = st.GetScanCursor(ctx, "t2", "overdue_tasks")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGormStore_ClaimWatermark(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)

	ok, err := st.ClaimWatermark(ctx, "k", now, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.ClaimWatermark(ctx, "k", now.Add(30*time.Minute), time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "live watermark blocks a second claim")

	ok, err = st.ClaimWatermark(ctx, "k", now.Add(2*time.Hour), time.Hour)
	require.NoError(t, err)
	assert.True(t, ok, "expired watermark can be reclaimed")

	n, err := st.PruneWatermarks(ctx, now.Add(10*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestGormStore_ReleaseWatermark(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)

	ok, err := st.ClaimWatermark(ctx, "k", now, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, st.ReleaseWatermark(ctx, "k"))
	ok, err = st.ClaimWatermark(ctx, "k", now.Add(time.Minute), time.Hour)
	require.NoError(t, err)
	assert.True(t, ok, "released watermark can be claimed inside the window")

	require.NoError(t, st.ReleaseWatermark(ctx, "missing"))
}

func TestGormStore_AuditAppendAndList(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)
	require.NoError(t, st.AppendAuditLog(ctx, &models.AutomationAuditLog{ID: "a1", TenantID: "t1", RuleID: "r1", Trigger: models.TriggerTaskOverdue, ActionsCount: 2, FiredAt: base}))
	require.NoError(t, st.AppendAuditLog(ctx, &models.AutomationAuditLog{ID: "a2", TenantID: "t1", RuleID: "r1", Trigger: models.TriggerTaskOverdue, ActionsCount: 2, FiredAt: base.Add(time.Minute)}))
	require.NoError(t, st.AppendAuditLog(ctx, &models.AutomationAuditLog{ID: "a3", TenantID: "t2", RuleID: "r9", Trigger: models.TriggerTaskOverdue, ActionsCount: 1, FiredAt: base}))

	logs, err := st.ListAuditLogs(ctx, "t1", 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "a2", logs[0].ID)

	require.NoError(t, st.AppendActivity(ctx, &models.ActivityLog{TenantID: "t1", ActorKind: "system", EventKind: "x", Metadata: map[string]interface{}{"k": "v"}}))
}
