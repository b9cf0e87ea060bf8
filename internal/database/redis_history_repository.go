package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"dreamweaver/internal/interfaces"
	"dreamweaver/internal/models"
)

var _ interfaces.HistoryRepository = (*redisHistoryRepository)(nil)

type redisHistoryRepository struct {
	client *redis.Client
	key    string
	logger *zap.Logger
}

// NewRedisHistoryRepository хранит весь список одной строкой под ключом key.
func NewRedisHistoryRepository(client *redis.Client, key string, logger *zap.Logger) interfaces.HistoryRepository {
	return &redisHistoryRepository{
		client: client,
		key:    key,
		logger: logger.Named("RedisHistoryRepo"),
	}
}

func (r *redisHistoryRepository) Load(ctx context.Context) ([]models.Story, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.logger.Debug("Story history key not found", zap.String("key", r.key))
			return []models.Story{}, nil
		}
		r.logger.Error("Failed to load story history from redis", zap.String("key", r.key), zap.Error(err))
		return nil, fmt.Errorf("failed to load story history: %w", err)
	}
	return decodeStories(data)
}

func (r *redisHistoryRepository) Save(ctx context.Context, stories []models.Story) error {
	data, err := encodeStories(stories)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		r.logger.Error("Failed to save story history to redis", zap.String("key", r.key), zap.Error(err))
		return fmt.Errorf("failed to save story history: %w", err)
	}
	return nil
}
