package models

import (
	"time"

	"github.com/google/uuid"
)

// Ending - как завершилась история.
type Ending string

const (
	EndingNatural Ending = "natural" // Генератор не вернул вариантов
	EndingForced  Ending = "forced"  // Пользователь попросил закончить
)

// StoryCompletedEvent публикуется после сохранения завершенной истории.
type StoryCompletedEvent struct {
	StoryID     uuid.UUID `json:"story_id"`
	Title       string    `json:"title"`
	Category    string    `json:"category"`
	Steps       int       `json:"steps"`
	Ending      Ending    `json:"ending"`
	CompletedAt time.Time `json:"completed_at"`
}
