package database

import (
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Migrate applies all pending migrations
func Migrate(db *gorm.DB, logger *logrus.Logger) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(Dialect(db)); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if logger != nil {
		logger.Info("[DB] Running database migrations...")
	}
	if err := goose.Up(sqlDB, "migrations"); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	if logger != nil {
		logger.Info("[DB] Database migrations completed")
	}
	return nil
}
