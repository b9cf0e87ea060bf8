package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"dreamweaver/internal/interfaces"
	"dreamweaver/internal/models"
)

const (
	sqliteLoadHistoryQuery = `SELECT stories FROM story_history WHERE key = ?`
	sqliteSaveHistoryQuery = `
        INSERT INTO story_history (key, stories, updated_at)
        VALUES (?, ?, ?)
        ON CONFLICT (key) DO UPDATE SET
            stories = excluded.stories,
            updated_at = excluded.updated_at
    `
)

var _ interfaces.HistoryRepository = (*SQLiteHistoryRepository)(nil)

// SQLiteHistoryRepository хранит историю в локальном файле SQLite.
type SQLiteHistoryRepository struct {
	db     *sql.DB
	key    string
	logger *zap.Logger
}

// OpenSQLiteHistory открывает (или создает) файл, применяет миграции и возвращает хранилище.
func OpenSQLiteHistory(ctx context.Context, path, key string, logger *zap.Logger) (*SQLiteHistoryRepository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	if err := MigrateSQLite(ctx, dsn, logger); err != nil {
		return nil, fmt.Errorf("run sqlite migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	return &SQLiteHistoryRepository{
		db:     db,
		key:    key,
		logger: logger.Named("SQLiteHistoryRepo"),
	}, nil
}

// Load читает список историй. Отсутствие записи - пустой список.
func (r *SQLiteHistoryRepository) Load(ctx context.Context) ([]models.Story, error) {
	log := r.logger.With(zap.String("key", r.key))

	var data string
	err := r.db.QueryRowContext(ctx, sqliteLoadHistoryQuery, r.key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("Story history is empty")
			return []models.Story{}, nil
		}
		log.Error("Failed to load story history", zap.Error(err))
		return nil, fmt.Errorf("failed to load story history: %w", err)
	}

	stories, err := decodeStories([]byte(data))
	if err != nil {
		log.Error("Stored story history is corrupted", zap.Error(err))
		return nil, err
	}
	return stories, nil
}

// Save перезаписывает весь список.
func (r *SQLiteHistoryRepository) Save(ctx context.Context, stories []models.Story) error {
	log := r.logger.With(zap.String("key", r.key), zap.Int("count", len(stories)))

	data, err := encodeStories(stories)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, sqliteSaveHistoryQuery, r.key, string(data), time.Now().UTC().UnixMilli()); err != nil {
		log.Error("Failed to save story history", zap.Error(err))
		return fmt.Errorf("failed to save story history: %w", err)
	}
	log.Debug("Story history saved")
	return nil
}

// Close закрывает файл.
func (r *SQLiteHistoryRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}
