package database

import (
	"context"
	"embed"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"dreamweaver/pkg/migration"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// MigratePostgres применяет встроенные миграции к PostgreSQL.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	return migration.NewPostgresMigrator(migration.Config{
		MigrationsFS:   migrationsFS,
		MigrationsPath: "migrations/postgres",
	}, pool, logger).Up(ctx)
}

// MigrateSQLite применяет встроенные миграции к файлу SQLite.
func MigrateSQLite(ctx context.Context, dsn string, logger *zap.Logger) error {
	return migration.NewSQLiteMigrator(migration.Config{
		MigrationsFS:   migrationsFS,
		MigrationsPath: "migrations/sqlite",
	}, dsn, logger).Up(ctx)
}
