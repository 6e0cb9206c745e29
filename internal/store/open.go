package store

import (
	"fmt"

	"complyhub/internal/config"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

// Open connects to the configured database (postgres or sqlite) and applies
// the pool settings. With tracing on, every query gets an otel span.
func Open(cfg config.DatabaseConfig, tracing bool, level logger.LogLevel) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "postgres":
		dialector = postgres.Open(cfg.PostgresDSN())
	case "sqlite":
		path := cfg.SQLitePath
		if cfg.DSN != "" {
			path = cfg.DSN
		}
		dialector = sqlite.Open(path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(level)})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", dialector.Name())
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "sql handle")
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	// sqlite 只允许单写
	if dialector.Name() == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	}

	if tracing {
		if err := db.Use(gormtracing.NewPlugin()); err != nil {
			return nil, errors.Wrap(err, "gorm tracing plugin")
		}
	}
	return db, nil
}

// EnsureIndexes creates the composite indexes the scanners and audit views
// query by. Safe to run repeatedly.
func (s *GormStore) EnsureIndexes() error {
	stmts := []string{
		"CREATE INDEX IF NOT EXISTS idx_tasks_tenant_status_due ON tasks(tenant_id, status, due_date)",
		"CREATE INDEX IF NOT EXISTS idx_certificates_tenant_expires ON certificates(tenant_id, expires_at)",
		"CREATE INDEX IF NOT EXISTS idx_audit_tenant_fired ON automation_audit_logs(tenant_id, fired_at)",
		"CREATE INDEX IF NOT EXISTS idx_notifications_tenant_user_created ON notifications(tenant_id, user_id, created_at)",
	}
	for _, stmt := range stmts {
		if err := s.db.Exec(stmt).Error; err != nil {
			return errors.Wrap(err, "create index")
		}
	}
	return nil
}
