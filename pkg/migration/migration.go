package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const migrationsTable = "schema_migrations"

// Config содержит настройки для миграций
type Config struct {
	MigrationsPath string
	MigrationsFS   fs.FS
}

// Migrator выполняет миграции базы данных
type Migrator struct {
	config     Config
	driverName string
	// openDriver открывает драйвер заново для каждой операции: migrate.Close закрывает и *sql.DB
	openDriver func(ctx context.Context) (database.Driver, error)
	logger     *zap.Logger
}

// NewPostgresMigrator создает мигратор поверх пула pgx.
func NewPostgresMigrator(config Config, pool *pgxpool.Pool, logger *zap.Logger) *Migrator {
	return &Migrator{
		config:     config,
		driverName: "postgres",
		openDriver: func(ctx context.Context) (database.Driver, error) {
			// Проверяем, что пул жив, до создания sql.DB
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to acquire connection: %w", err)
			}
			conn.Release()

			db := stdlib.OpenDBFromPool(pool)
			driver, err := postgres.WithInstance(db, &postgres.Config{
				MigrationsTable:       migrationsTable,
				MigrationsTableQuoted: true,
			})
			if err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("failed to create postgres driver: %w", err)
			}
			return driver, nil
		},
		logger: logger.Named("Migrator"),
	}
}

// NewSQLiteMigrator создает мигратор для файла SQLite. Соединение открывается отдельно от хранилища.
func NewSQLiteMigrator(config Config, dsn string, logger *zap.Logger) *Migrator {
	return &Migrator{
		config:     config,
		driverName: "sqlite",
		openDriver: func(ctx context.Context) (database.Driver, error) {
			db, err := sql.Open("sqlite", dsn)
			if err != nil {
				return nil, fmt.Errorf("failed to open sqlite: %w", err)
			}
			if err := db.PingContext(ctx); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("failed to ping sqlite: %w", err)
			}
			driver, err := sqlite.WithInstance(db, &sqlite.Config{MigrationsTable: migrationsTable})
			if err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
			}
			return driver, nil
		},
		logger: logger.Named("Migrator"),
	}
}

// Up применяет все доступные миграции
func (m *Migrator) Up(ctx context.Context) error {
	migrator, err := m.createMigrator(ctx)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer closeMigrator(migrator, m.logger)

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	m.logger.Info("Database migrations applied successfully", zap.String("driver", m.driverName))
	return nil
}

// Down откатывает все миграции
func (m *Migrator) Down(ctx context.Context) error {
	migrator, err := m.createMigrator(ctx)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer closeMigrator(migrator, m.logger)

	if err := migrator.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to rollback migrations: %w", err)
	}

	m.logger.Info("Database migrations rolled back successfully", zap.String("driver", m.driverName))
	return nil
}

// Version возвращает текущую версию миграции
func (m *Migrator) Version(ctx context.Context) (uint, bool, error) {
	migrator, err := m.createMigrator(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create migrator: %w", err)
	}
	defer closeMigrator(migrator, m.logger)

	version, dirty, err := migrator.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}

	return version, dirty, nil
}

// createMigrator создает экземпляр migrate.Migrate
func (m *Migrator) createMigrator(ctx context.Context) (*migrate.Migrate, error) {
	driver, err := m.openDriver(ctx)
	if err != nil {
		return nil, err
	}

	source, err := iofs.New(m.config.MigrationsFS, m.config.MigrationsPath)
	if err != nil {
		_ = driver.Close()
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, m.driverName, driver)
	if err != nil {
		_ = driver.Close()
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	migrator.LockTimeout = 30 * time.Second
	return migrator, nil
}

func closeMigrator(migrator *migrate.Migrate, logger *zap.Logger) {
	srcErr, dbErr := migrator.Close()
	if srcErr != nil || dbErr != nil {
		logger.Warn("Failed to close migrator", zap.NamedError("source_error", srcErr), zap.NamedError("db_error", dbErr))
	}
}
