package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"dreamweaver/internal/interfaces"
	"dreamweaver/internal/models"
)

const (
	storyExchangeType = "fanout"
	appID             = "dreamweaver"
	// StoryCompletedType - тип сообщения в заголовке Type.
	StoryCompletedType = "story_completed"
)

var _ interfaces.StoryEventPublisher = (*RabbitMQStoryPublisher)(nil)

// RabbitMQStoryPublisher публикует события о завершенных историях в fanout exchange.
type RabbitMQStoryPublisher struct {
	mu           sync.Mutex // amqp091.Channel не рассчитан на конкурентную публикацию
	ch           *amqp091.Channel
	exchangeName string
	logger       *zap.Logger
}

// NewRabbitMQStoryPublisher открывает канал и объявляет durable fanout exchange.
func NewRabbitMQStoryPublisher(conn *amqp091.Connection, exchangeName string, logger *zap.Logger) (*RabbitMQStoryPublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("rabbitmq connection is nil")
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchangeName,
		storyExchangeType,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare exchange '%s': %w", exchangeName, err)
	}
	logger.Info("Story events exchange declared", zap.String("exchange", exchangeName), zap.String("type", storyExchangeType))

	return &RabbitMQStoryPublisher{
		ch:           ch,
		exchangeName: exchangeName,
		logger:       logger.Named("StoryEventPublisher"),
	}, nil
}

// PublishStoryCompleted отправляет событие в exchange.
func (p *RabbitMQStoryPublisher) PublishStoryCompleted(ctx context.Context, event models.StoryCompletedEvent) error {
	log := p.logger.With(zap.Stringer("story_id", event.StoryID))

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal story completed event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx,
		p.exchangeName,
		"", // routing key не нужен для fanout
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Type:         StoryCompletedType,
			MessageId:    event.StoryID.String(),
			AppId:        appID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		log.Error("Failed to publish story completed event", zap.Error(err))
		return fmt.Errorf("failed to publish story completed event: %w", err)
	}
	log.Debug("Story completed event published", zap.String("exchange", p.exchangeName))
	return nil
}

// Close закрывает канал.
func (p *RabbitMQStoryPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil
	}
	return p.ch.Close()
}

// FanOut отправляет событие всем получателям. Ошибки собираются, доставка остальным не прерывается.
type FanOut []interfaces.StoryEventPublisher

var _ interfaces.StoryEventPublisher = FanOut(nil)

func (f FanOut) PublishStoryCompleted(ctx context.Context, event models.StoryCompletedEvent) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.PublishStoryCompleted(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
