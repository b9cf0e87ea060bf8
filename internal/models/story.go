package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ConclusionChoice - значение choiceMade для шага, которым история была завершена принудительно.
const ConclusionChoice = "And they all lived happily ever after."

// MaxChoices - больше трех вариантов продолжения не бывает.
const MaxChoices = 3

// StoryStep - один шаг истории.
type StoryStep struct {
	NarrativeText   string `json:"part"`
	IllustrationRef string `json:"image"`
	// ChoiceMade пуст для первого шага, иначе текст выбора или ConclusionChoice.
	ChoiceMade string `json:"choiceMade"`
}

// Story - история в процессе или завершенная.
// Steps только дополняются, CurrentChoices пуст тогда и только тогда, когда история завершена.
type Story struct {
	ID                   uuid.UUID   `json:"id"`
	Title                string      `json:"title"`
	CategoryName         string      `json:"category"`
	Steps                []StoryStep `json:"steps"`
	CurrentChoices       []string    `json:"choices"`
	CharacterDescription string      `json:"characterDescription,omitempty"`
	CreatedAt            time.Time   `json:"createdAt"`
	CompletedAt          *time.Time  `json:"completedAt,omitempty"`
}

// NewStory создает историю из первого шага.
func NewStory(title, categoryName string, opening *GeneratedStep, now time.Time) *Story {
	return &Story{
		ID:           uuid.New(),
		Title:        title,
		CategoryName: categoryName,
		Steps: []StoryStep{{
			NarrativeText:   opening.NarrativeText,
			IllustrationRef: opening.IllustrationRef,
		}},
		CurrentChoices:       cloneStrings(opening.Choices),
		CharacterDescription: opening.CharacterDescription,
		CreatedAt:            now,
	}
}

// IsConcluded - у истории больше нет вариантов продолжения.
func (s *Story) IsConcluded() bool {
	return len(s.CurrentChoices) == 0
}

// HasChoice проверяет, что выбор есть среди текущих вариантов.
func (s *Story) HasChoice(choice string) bool {
	for _, c := range s.CurrentChoices {
		if c == choice {
			return true
		}
	}
	return false
}

// Transcript - все шаги в порядке следования: "> выбор\nтекст", разделенные пустой строкой.
func (s *Story) Transcript() string {
	parts := make([]string, 0, len(s.Steps))
	for _, step := range s.Steps {
		parts = append(parts, "> "+step.ChoiceMade+"\n"+step.NarrativeText)
	}
	return strings.Join(parts, "\n\n")
}

// WithStep возвращает копию истории с добавленным шагом и новыми вариантами.
// Исходная история не меняется, так что при ошибке сохранения откатывать нечего.
func (s *Story) WithStep(step StoryStep, choices []string) *Story {
	next := s.Clone()
	next.Steps = append(next.Steps, step)
	next.CurrentChoices = cloneStrings(choices)
	return next
}

// Clone - глубокая копия.
func (s *Story) Clone() *Story {
	if s == nil {
		return nil
	}
	c := *s
	c.Steps = append([]StoryStep(nil), s.Steps...)
	c.CurrentChoices = cloneStrings(s.CurrentChoices)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// CloneStories копирует список историй.
func CloneStories(stories []Story) []Story {
	out := make([]Story, 0, len(stories))
	for i := range stories {
		out = append(out, *stories[i].Clone())
	}
	return out
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	return append([]string(nil), in...)
}

// GeneratedStep - ответ генератора на запрос шага истории.
type GeneratedStep struct {
	NarrativeText        string
	Choices              []string
	IllustrationRef      string
	CharacterDescription string
}
