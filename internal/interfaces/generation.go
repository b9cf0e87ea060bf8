package interfaces

import (
	"context"

	"dreamweaver/internal/models"
)

// StoryGenerator - внешний генератор историй и иллюстраций.
// Любой метод может вернуть ошибку сети/сервиса или неразборчивый ответ,
// сессия трактует оба случая одинаково.
type StoryGenerator interface {
	// FetchIdeas возвращает 0-3 идеи с иллюстрациями в порядке, выданном моделью.
	FetchIdeas(ctx context.Context, categoryName string) ([]models.StoryIdea, error)
	// FetchOpeningStep генерирует первый шаг и описание персонажа.
	FetchOpeningStep(ctx context.Context, title string) (*models.GeneratedStep, error)
	// FetchNextStep продолжает историю после выбора ребенка.
	FetchNextStep(ctx context.Context, title, transcript, choice, characterDescription string) (*models.GeneratedStep, error)
	// FetchClosingStep пишет завершающий абзац. Варианты в ответе игнорируются вызывающим.
	FetchClosingStep(ctx context.Context, title, transcript, characterDescription string) (*models.GeneratedStep, error)
}
