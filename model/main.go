// Package model holds the SQL-backed sinks: quota windows, the append-only
// audit log, and per-day metric aggregates.
package model

import (
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/modelmux/modelmux/common/logger"
)

// DB is the shared database handle. Nil until InitDB succeeds; callers that
// tolerate a missing database must check before use.
var DB *gorm.DB

// InitDB opens the database selected by the DSN and migrates the sink
// tables. Dialect is inferred from the DSN the same way across deployments:
// postgres:// or mysql-style DSNs pick their driver, anything else is
// treated as a SQLite path.
func InitDB(dsn string) error {
	if dsn == "" {
		return errors.New("empty sql dsn")
	}

	dialector := dialectorFor(dsn)
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return errors.Wrap(err, "open database")
	}

	if err := db.AutoMigrate(
		&QuotaUsage{},
		&AuditLogEntry{},
		&MetricDaily{},
	); err != nil {
		return errors.Wrap(err, "migrate sink tables")
	}

	DB = db
	logger.Logger.Info("database initialised", zap.String("dialect", dialector.Name()))
	return nil
}

func dialectorFor(dsn string) gorm.Dialector {
	switch {
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		return postgres.Open(dsn)
	case strings.Contains(dsn, "@tcp("):
		return mysql.Open(dsn)
	default:
		return sqlite.Open(dsn)
	}
}
