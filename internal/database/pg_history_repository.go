package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"dreamweaver/internal/interfaces"
	"dreamweaver/internal/models"
)

const (
	getStoryHistoryQuery    = `SELECT stories, updated_at FROM story_history WHERE key = $1`
	upsertStoryHistoryQuery = `
        INSERT INTO story_history (key, stories, updated_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (key) DO UPDATE SET
            stories = EXCLUDED.stories,
            updated_at = EXCLUDED.updated_at
    `
)

// DBTX - пул или транзакция.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type storyHistoryRow struct {
	Stories   []byte    `db:"stories"`
	UpdatedAt time.Time `db:"updated_at"`
}

var _ interfaces.HistoryRepository = (*pgHistoryRepository)(nil)

type pgHistoryRepository struct {
	db     DBTX
	key    string
	logger *zap.Logger
}

// NewPgHistoryRepository хранит список в jsonb-колонке одной строки таблицы story_history.
func NewPgHistoryRepository(querier DBTX, key string, logger *zap.Logger) interfaces.HistoryRepository {
	return &pgHistoryRepository{
		db:     querier,
		key:    key,
		logger: logger.Named("PgHistoryRepo"),
	}
}

func (r *pgHistoryRepository) Load(ctx context.Context) ([]models.Story, error) {
	log := r.logger.With(zap.String("key", r.key))

	var row storyHistoryRow
	if err := pgxscan.Get(ctx, r.db, &row, getStoryHistoryQuery, r.key); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			log.Debug("Story history row not found")
			return []models.Story{}, nil
		}
		log.Error("Error getting story history", zap.Error(err))
		return nil, fmt.Errorf("failed to load story history: %w", err)
	}

	stories, err := decodeStories(row.Stories)
	if err != nil {
		log.Error("Stored story history is corrupted", zap.Error(err))
		return nil, err
	}
	log.Debug("Story history loaded", zap.Int("count", len(stories)), zap.Time("updated_at", row.UpdatedAt))
	return stories, nil
}

func (r *pgHistoryRepository) Save(ctx context.Context, stories []models.Story) error {
	log := r.logger.With(zap.String("key", r.key), zap.Int("count", len(stories)))

	data, err := encodeStories(stories)
	if err != nil {
		return err
	}
	if _, err := r.db.Exec(ctx, upsertStoryHistoryQuery, r.key, data); err != nil {
		log.Error("Error upserting story history", zap.Error(err))
		return fmt.Errorf("failed to save story history: %w", err)
	}
	log.Debug("Story history saved")
	return nil
}
