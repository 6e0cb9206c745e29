package cli

import (
	"context"
	"fmt"
	"time"

	"complyhub/internal/config"
	"complyhub/internal/services"
	"complyhub/internal/store"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// app is the wired component graph shared by run, scan and templates.
type app struct {
	cfg    *config.Config
	logger *logrus.Logger

	db    *gorm.DB
	store *store.GormStore
	redis redis.UniversalClient

	hub           *services.NotificationHub
	notifications *services.NotificationService
	activity      *services.ActivityService
	mail          services.MailQueue
	engine        *services.RuleEngine
	automation    *services.AutomationService

	certificates *services.PeriodicScanner
	overdue      *services.PeriodicScanner

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, logger: logrus.StandardLogger()}

	// 数据库
	level := logger.Warn
	if cfg.Log.Level == "debug" {
		level = logger.Info
	}
	db, err := store.Open(cfg.Database, cfg.Monitoring.Tracing.Enabled, level)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.store = store.NewGormStore(db)
	a.onClose(func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	if cfg.Database.AutoMigrate || cfg.Database.Driver == "sqlite" {
		if err := a.store.Migrate(); err != nil {
			a.close()
			return nil, err
		}
	}

	// Redis（可选）
	if cfg.Redis.Enabled {
		a.redis = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:        []string{cfg.Redis.Addr},
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
		})
		a.onClose(a.redis.Close)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.logger.Warnf("redis ping failed, continuing: %v", err)
		}
	}

	// 邮件队列：RabbitMQ 或日志，外面包一层熔断
	var mail services.MailQueue = services.NewLogMailQueue(a.logger)
	if cfg.RabbitMQ.Enabled {
		rq, err := services.DialRabbitMailQueue(cfg.RabbitMQ.URL, cfg.RabbitMQ.EmailQueue)
		if err != nil {
			a.logger.Warnf("rabbitmq unavailable, emails will only be logged: %v", err)
		} else {
			mail = rq
			a.onClose(rq.Close)
		}
	}
	a.mail = services.NewBreakerMailQueue(mail, services.NewCircuitBreaker())

	// 规则引擎
	a.hub = services.NewNotificationHub(a.logger)
	a.notifications = services.NewNotificationService(a.store, a.hub, a.logger)
	a.activity = services.NewActivityService(a.store)
	a.engine = services.NewRuleEngine(a.store, a.activity, a.logger,
		services.WithActionTimeout(cfg.Automation.ActionTimeout),
		services.WithRuleCacheTTL(cfg.Automation.RuleCacheTTL),
		services.WithExecutors(services.NewDefaultExecutors(services.ExecutorDeps{
			Store:         a.store,
			Notifications: a.notifications,
			Mail:          a.mail,
			Logger:        a.logger,
		})...),
	)
	a.automation = services.NewAutomationService(a.store, a.engine, a.logger)

	// 扫描器
	watermark, err := a.watermark()
	if err != nil {
		a.close()
		return nil, err
	}
	deps := services.ScannerDeps{
		Store:             a.store,
		Engine:            a.engine,
		Watermark:         watermark,
		DedupWindow:       cfg.Automation.Dedup.Window,
		TenantConcurrency: cfg.Automation.Scanners.TenantConcurrency,
		Logger:            a.logger,
		Now:               time.Now,
	}
	lookahead := time.Duration(cfg.Automation.Scanners.CertificateLookaheadDays) * 24 * time.Hour
	a.certificates = services.NewCertificateExpirationScanner(deps, lookahead)
	a.overdue = services.NewOverdueTaskScanner(deps)
	return a, nil
}

// watermark 去重后端；未启用时返回 nil（保持重复触发）
func (a *app) watermark() (services.FireWatermark, error) {
	d := a.cfg.Automation.Dedup
	if !d.Enabled {
		return nil, nil
	}
	switch d.Backend {
	case "redis":
		if a.redis == nil {
			return nil, fmt.Errorf("%w: dedup backend redis requires redis.enabled", services.ErrConfiguration)
		}
		return services.NewRedisWatermark(a.redis), nil
	case "", "database":
		return services.NewDBWatermark(a.store), nil
	default:
		return nil, fmt.Errorf("%w: unknown dedup backend %q", services.ErrConfiguration, d.Backend)
	}
}

func (a *app) scanners() []*services.PeriodicScanner {
	return []*services.PeriodicScanner{a.certificates, a.overdue}
}

func (a *app) onClose(fn func() error) { a.closers = append(a.closers, fn) }

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warnf("close: %v", err)
		}
	}
	a.closers = nil
}
