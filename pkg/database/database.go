package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RetryConfig - сколько раз и с какой паузой пытаться подключиться.
type RetryConfig struct {
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultRetry подходит для старта рядом с контейнером БД в docker compose.
var DefaultRetry = RetryConfig{MaxRetries: 10, RetryDelay: 3 * time.Second}

// PostgresConfig содержит настройки для подключения к PostgreSQL
type PostgresConfig struct {
	DSN         string
	MaxConns    int
	IdleTimeout time.Duration
	Retry       RetryConfig
}

// RedisConfig содержит настройки для подключения к Redis
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Retry    RetryConfig
}

// ConnectPostgres создает пул соединений и проверяет его пингом, повторяя попытки.
func ConnectPostgres(ctx context.Context, cfg PostgresConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("unable to parse postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.IdleTimeout > 0 {
		poolConfig.MaxConnIdleTime = cfg.IdleTimeout
	}

	retry := normalizeRetry(cfg.Retry)
	logger.Info("Attempting to connect to PostgreSQL",
		zap.Int("max_retries", retry.MaxRetries), zap.Duration("retry_delay", retry.RetryDelay))

	var lastErr error
	for attempt := 1; attempt <= retry.MaxRetries; attempt++ {
		connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
		pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
		connectCancel()
		if err != nil {
			lastErr = fmt.Errorf("unable to create postgres connection pool (attempt %d/%d): %w", attempt, retry.MaxRetries, err)
		} else {
			pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
			err = pool.Ping(pingCtx)
			pingCancel()
			if err == nil {
				logger.Info("Successfully connected and pinged PostgreSQL", zap.Int("attempt", attempt))
				return pool, nil
			}
			pool.Close()
			lastErr = fmt.Errorf("unable to ping postgres database (attempt %d/%d): %w", attempt, retry.MaxRetries, err)
		}

		logger.Warn("PostgreSQL connection failed, retrying...", zap.Int("attempt", attempt), zap.Error(lastErr))
		if attempt < retry.MaxRetries {
			if err := sleep(ctx, retry.RetryDelay); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("failed to connect to postgres after %d attempts: %w", retry.MaxRetries, lastErr)
}

// ConnectRedis создает клиент Redis и проверяет его пингом, повторяя попытки.
func ConnectRedis(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	retry := normalizeRetry(cfg.Retry)
	logger.Info("Attempting to connect to Redis",
		zap.String("address", opts.Addr), zap.Int("db", opts.DB), zap.Int("max_retries", retry.MaxRetries))

	var lastErr error
	for attempt := 1; attempt <= retry.MaxRetries; attempt++ {
		client := redis.NewClient(opts)
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := client.Ping(pingCtx).Result()
		pingCancel()
		if err == nil {
			logger.Info("Successfully connected and pinged Redis", zap.Int("attempt", attempt))
			return client, nil
		}
		_ = client.Close()
		lastErr = fmt.Errorf("unable to ping redis (attempt %d/%d): %w", attempt, retry.MaxRetries, err)

		logger.Warn("Redis ping failed, retrying...", zap.Int("attempt", attempt), zap.Error(err))
		if attempt < retry.MaxRetries {
			if err := sleep(ctx, retry.RetryDelay); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("failed to connect to redis after %d attempts: %w", retry.MaxRetries, lastErr)
}

func normalizeRetry(r RetryConfig) RetryConfig {
	if r.MaxRetries < 1 {
		r.MaxRetries = 1
	}
	return r
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
