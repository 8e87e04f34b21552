package riftlands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
	}
)

// ModelUnixTime is an embeddable model with Unix timestamps for
// creation, update, and deletion.
type ModelUnixTime struct {
	CreatedAt int64          `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64          `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// CreateDB opens a database connection for the given type ("sqlite" or
// "postgres") and connection string, runs migrations, and returns the
// gorm handle.
func CreateDB(
	ctx context.Context,
	dbType string,
	dsn string,
	opts ...gorm.Option,
) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch dbType {
	case dbTypeSQLite:
		if dir := filepath.Dir(dsn); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("error creating database directory: %w", err)
			}
		}
		dialector = sqlite.Open(dsn)
	case dbTypePostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown database type: %q", dbType)
	}

	db, err := gorm.Open(dialector, opts...)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if dbType == dbTypeSQLite {
		sqlDB, dbErr := db.DB()
		if dbErr != nil {
			return nil, dbErr
		}
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)

		for _, pragma := range sqliteExecPragma {
			if rv := db.WithContext(ctx).Exec(pragma); rv.Error != nil {
				return nil, fmt.Errorf(
					"error executing %q: %w",
					pragma,
					rv.Error,
				)
			}
		}
	}

	if err = db.WithContext(ctx).AutoMigrate(
		&Scene{},
		&SceneAction{},
	); err != nil {
		return nil, fmt.Errorf("error migrating database: %w", err)
	}

	return db, nil
}

func newDBLogger(handler slog.Handler, slowThreshold time.Duration) gorm.Option {
	return &gorm.Config{
		Logger: newGORMLogger(handler, slowThreshold),
	}
}
