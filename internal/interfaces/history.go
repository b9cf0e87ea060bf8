package interfaces

import (
	"context"

	"dreamweaver/internal/models"
)

// HistoryRepository - хранилище завершенных историй.
// Один логический слот: Save всегда пишет полный список (новые первыми), последняя запись побеждает.
type HistoryRepository interface {
	Load(ctx context.Context) ([]models.Story, error)
	Save(ctx context.Context, stories []models.Story) error
}
