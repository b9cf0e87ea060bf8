// Package app собирает компоненты сессии рассказчика для сервера и CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"dreamweaver/internal/audio"
	"dreamweaver/internal/config"
	"dreamweaver/internal/database"
	"dreamweaver/internal/generation"
	"dreamweaver/internal/interfaces"
	"dreamweaver/internal/messaging"
	"dreamweaver/internal/service"
	"dreamweaver/pkg/ai"
	pkgdb "dreamweaver/pkg/database"
	"dreamweaver/pkg/imagegen"
)

const (
	rabbitMaxRetries = 5
	rabbitRetryDelay = 3 * time.Second
)

// App - собранная сессия и ресурсы, которые нужно закрыть при выходе.
type App struct {
	Config  *config.Config
	Session *service.Session
	History interfaces.HistoryRepository
	Player  *audio.Player

	logger  *zap.Logger
	closers []func() error
}

// New подключает хранилище, генераторы и публикаторы и инициализирует сессию.
// extra - дополнительные получатели событий о завершенных историях (например, websocket hub).
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, extra ...interfaces.StoryEventPublisher) (*App, error) {
	a := &App{Config: cfg, logger: logger.Named("App")}

	generator, err := NewGenerator(cfg, logger)
	if err != nil {
		return nil, err
	}

	history, closeHistory, err := OpenHistory(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.History = history
	a.closers = append(a.closers, closeHistory)

	publishers := messaging.FanOut{}
	if cfg.Rabbit.URL != "" {
		rabbitPublisher, closeRabbit, err := connectRabbit(ctx, cfg, logger)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		publishers = append(publishers, rabbitPublisher)
		a.closers = append(a.closers, closeRabbit)
	} else {
		a.logger.Info("RABBITMQ_URL is empty, story events go to local subscribers only")
	}
	publishers = append(publishers, extra...)

	var publisher interfaces.StoryEventPublisher
	if len(publishers) > 0 {
		publisher = publishers
	}

	a.Player = audio.NewPlayer(logger)
	a.Session = service.NewSession(generator, history, a.Player, publisher, service.SessionConfig{
		GenerationTimeout: cfg.Session.GenerationTimeout,
		AmbientStopDelay:  cfg.Session.AmbientStopDelay,
	}, logger)

	if err := a.Session.Init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// Close останавливает сессию и освобождает ресурсы в обратном порядке.
func (a *App) Close() error {
	if a.Session != nil {
		a.Session.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// NewGenerator создает генератор историй по конфигурации AI и картинок.
func NewGenerator(cfg *config.Config, logger *zap.Logger) (*generation.Service, error) {
	aiClient, err := ai.NewAIClient(ai.Config{
		ClientType: cfg.AI.ClientType,
		BaseURL:    cfg.AI.BaseURL,
		Model:      cfg.AI.Model,
		APIKey:     cfg.AI.APIKey,
		Timeout:    cfg.AI.Timeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create AI client: %w", err)
	}

	images, err := imagegen.NewImageGenerator(imagegen.Config{
		Provider:      cfg.Image.Provider,
		Model:         cfg.Image.Model,
		APIKey:        cfg.Image.APIKey,
		BaseURL:       cfg.Image.BaseURL,
		Timeout:       cfg.AI.Timeout,
		SanaBaseURL:   cfg.Image.Sana.BaseURL,
		SanaTimeout:   time.Duration(cfg.Image.Sana.Timeout) * time.Second,
		SavePath:      cfg.Image.SavePath,
		PublicBaseURL: cfg.Image.PublicBaseURL,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create image generator: %w", err)
	}

	return generation.NewService(aiClient, images, generation.Config{
		MalformedPolicy: strings.ToLower(cfg.Session.MalformedResponsePolicy),
		MaxAttempts:     cfg.AI.MaxAttempts,
		BaseRetryDelay:  cfg.AI.BaseRetryDelay,
		Temperature:     cfg.AI.Temperature,
	}, logger), nil
}

// OpenHistory открывает выбранное хранилище истории и применяет миграции, если они нужны.
// Возвращенная функция закрывает соединение.
func OpenHistory(ctx context.Context, cfg *config.Config, logger *zap.Logger) (interfaces.HistoryRepository, func() error, error) {
	log := logger.With(zap.String("backend", cfg.History.Backend))

	switch strings.ToLower(cfg.History.Backend) {
	case config.HistoryBackendSQLite:
		repo, err := database.OpenSQLiteHistory(ctx, cfg.History.SQLitePath, cfg.History.Key, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite history: %w", err)
		}
		log.Info("History store ready", zap.String("path", cfg.History.SQLitePath))
		return repo, repo.Close, nil

	case config.HistoryBackendRedis:
		client, err := pkgdb.ConnectRedis(ctx, pkgdb.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Retry:    pkgdb.DefaultRetry,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		log.Info("History store ready", zap.String("addr", cfg.Redis.Addr))
		return database.NewRedisHistoryRepository(client, cfg.History.Key, logger), client.Close, nil

	case config.HistoryBackendPostgres:
		pool, err := pkgdb.ConnectPostgres(ctx, pkgdb.PostgresConfig{
			DSN:         cfg.PostgresDSN(),
			MaxConns:    cfg.DB.MaxConns,
			IdleTimeout: cfg.DB.IdleTimeout,
			Retry:       pkgdb.DefaultRetry,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres %s: %w", cfg.MaskedPostgresDSN(), err)
		}
		if err := database.MigratePostgres(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Info("History store ready", zap.String("dsn", cfg.MaskedPostgresDSN()))
		closePool := func() error {
			pool.Close()
			return nil
		}
		return database.NewPgHistoryRepository(pool, cfg.History.Key, logger), closePool, nil

	default:
		return nil, nil, fmt.Errorf("unknown history backend '%s'", cfg.History.Backend)
	}
}

func connectRabbit(ctx context.Context, cfg *config.Config, logger *zap.Logger) (interfaces.StoryEventPublisher, func() error, error) {
	conn, err := messaging.ConnectRabbitMQ(ctx, cfg.Rabbit.URL, rabbitMaxRetries, rabbitRetryDelay, logger)
	if err != nil {
		return nil, nil, err
	}
	publisher, err := messaging.NewRabbitMQStoryPublisher(conn, cfg.Rabbit.StoryExchange, logger)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	closeAll := func() error {
		return errors.Join(publisher.Close(), conn.Close())
	}
	return publisher, closeAll, nil
}
