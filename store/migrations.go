package store

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"

	"prizepick/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type gooseLogger struct{}

func (gooseLogger) Printf(format string, v ...interface{}) { logger.Debugf(format, v...) }
func (gooseLogger) Fatalf(format string, v ...interface{}) { logger.Fatalf(format, v...) }

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(gooseLogger{})

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
