package interfaces

import (
	"context"

	"dreamweaver/internal/models"
)

// StoryEventPublisher публикует события о завершенных историях.
type StoryEventPublisher interface {
	PublishStoryCompleted(ctx context.Context, event models.StoryCompletedEvent) error
}
