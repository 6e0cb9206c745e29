package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"complyhub/internal/config"
	"complyhub/internal/middleware"
	"complyhub/internal/models"
	"complyhub/internal/services"
	"complyhub/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var scanNow = time.Date(2026, 5, 10, 6, 0, 0, 0, time.UTC)

type submitted struct {
	trigger models.TriggerKind
	actx    services.AutomationContext
}

type recordingQueue struct {
	mu   sync.Mutex
	err  error
	subs []submitted
}

func (q *recordingQueue) Submit(_ context.Context, trigger models.TriggerKind, actx services.AutomationContext) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.subs = append(q.subs, submitted{trigger: trigger, actx: actx})
	return nil
}

func (q *recordingQueue) all() []submitted {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]submitted(nil), q.subs...)
}

type apiFixture struct {
	t      *testing.T
	cfg    *config.Config
	st     *store.GormStore
	queue  *recordingQueue
	engine *services.RuleEngine
	tokens *middleware.TokenManager
	router *gin.Engine
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:handlers_" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.GetDefaultConfig()
	cfg.JWT.Secret = "handler-secret"
	cfg.Security.RateLimiting.Enabled = false
	cfg.Monitoring.Tracing.Enabled = false

	db := newTestDB(t)
	st := store.NewGormStore(db)
	require.NoError(t, st.Migrate())

	log := quietLogger()
	notifications := services.NewNotificationService(st, nil, log)
	engine := services.NewRuleEngine(st, services.NewActivityService(st), log,
		services.WithExecutors(services.NewDefaultExecutors(services.ExecutorDeps{
			Store:         st,
			Notifications: notifications,
			Mail:          services.NewLogMailQueue(log),
			Logger:        log,
		})...),
	)
	queue := &recordingQueue{}
	activity := services.NewActivityService(st)
	deps := services.ScannerDeps{Store: st, Engine: engine, Logger: log, Now: func() time.Time { return scanNow }}

	tokens, err := middleware.NewTokenManager(cfg.JWT)
	require.NoError(t, err)

	hub := services.NewNotificationHub(log)
	router := SetupRouter(cfg, RouterDeps{
		Automation: NewAutomationHandler(services.NewAutomationService(st, engine, log), queue, log,
			services.NewCertificateExpirationScanner(deps, 30*24*time.Hour),
			services.NewOverdueTaskScanner(deps),
		),
		Tasks:         NewTaskHandler(services.NewTaskService(st, queue, activity, log), log),
		Members:       NewMemberHandler(services.NewMemberService(st, queue, activity, log), log),
		Notifications: NewNotificationHandler(notifications, hub, log),
		Health:        NewHealthHandler(db, nil, "test", log),
		Metrics:       NewMetricsHandler(hub, nil, "test"),
	})
	return &apiFixture{t: t, cfg: cfg, st: st, queue: queue, engine: engine, tokens: tokens, router: router}
}

func (f *apiFixture) token(userID, tenantID string, roles ...string) string {
	f.t.Helper()
	tok, err := f.tokens.Issue(time.Now(), userID, tenantID, userID+"@example.com", roles...)
	require.NoError(f.t, err)
	return tok
}

func (f *apiFixture) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}
