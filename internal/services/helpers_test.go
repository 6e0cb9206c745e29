package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"complyhub/internal/models"
	"complyhub/internal/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *store.GormStore {
	t.Helper()
	dsn := "file:services_" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	st := store.NewGormStore(db)
	require.NoError(t, st.Migrate())
	return st
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func seedRule(t *testing.T, st store.Store, tenantID string, trigger models.TriggerKind, conditions map[string]interface{}, actions ...models.ActionSpec) *models.AutomationRule {
	t.Helper()
	r := &models.AutomationRule{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		Name:       string(trigger) + " rule",
		Trigger:    trigger,
		Conditions: conditions,
		Actions:    models.ActionList(actions),
		Enabled:    true,
	}
	require.NoError(t, st.CreateRule(context.Background(), r))
	return r
}

func seedMember(t *testing.T, st store.Store, tenantID, userID, role string) {
	t.Helper()
	require.NoError(t, st.CreateMember(context.Background(), &models.OrganizationMember{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		UserID:   userID,
		Email:    userID + "@example.com",
		Role:     role,
	}))
}

func action(kind models.ActionKind, cfg map[string]interface{}) models.ActionSpec {
	return models.ActionSpec{Kind: kind, Config: cfg}
}

// callLog records executor invocations across executors.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	l.calls = append(l.calls, s)
	l.mu.Unlock()
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type recordingExecutor struct {
	kind models.ActionKind
	log  *callLog
	err  error
	fn   func(ctx context.Context, cfg map[string]interface{}, actx AutomationContext) error
}

func (e *recordingExecutor) Kind() models.ActionKind { return e.kind }

func (e *recordingExecutor) Execute(ctx context.Context, cfg map[string]interface{}, actx AutomationContext) error {
	name := string(e.kind)
	if label, ok := cfg["label"].(string); ok {
		name = label
	}
	e.log.add(actx.TenantID + ":" + name)
	if e.fn != nil {
		return e.fn(ctx, cfg, actx)
	}
	return e.err
}

// recordingChannel is a NotificationChannel double.
type recordingChannel struct {
	mu   sync.Mutex
	sent []NotificationMessage
	fail map[string]error
}

func (c *recordingChannel) Notify(_ context.Context, msg NotificationMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail[msg.UserID]; err != nil {
		return err
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *recordingChannel) recipients() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sent))
	for _, m := range c.sent {
		out = append(out, m.TenantID+":"+m.UserID)
	}
	return out
}

type recordingMailQueue struct {
	mu   sync.Mutex
	msgs []EmailMessage
	err  error
}

func (q *recordingMailQueue) Enqueue(_ context.Context, msg EmailMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.msgs = append(q.msgs, msg)
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func auditLogs(t *testing.T, st store.Store, tenantID string) []models.AutomationAuditLog {
	t.Helper()
	logs, err := st.ListAuditLogs(context.Background(), tenantID, 0)
	require.NoError(t, err)
	return logs
}
