package models

// Phase - текущий экран сессии.
type Phase string

const (
	PhaseCategorySelect Phase = "category_select" // Начальное состояние
	PhaseStorySelect    Phase = "story_select"    // Выбор одной из идей
	PhaseTelling        Phase = "telling"         // История рассказывается
	PhaseEnded          Phase = "ended"           // История завершена
	PhaseHistory        Phase = "history"         // Просмотр истории
)

// AudioState - что должно играть в фоне.
type AudioState struct {
	Track   string  `json:"track"`
	Playing bool    `json:"playing"`
	Volume  float64 `json:"volume"`
	Loop    bool    `json:"loop"`
}

// SessionSnapshot - копия состояния сессии для отображения.
type SessionSnapshot struct {
	Phase           Phase       `json:"phase"`
	Categories      []Category  `json:"categories"`
	CurrentCategory *Category   `json:"currentCategory"`
	StoryIdeas      []StoryIdea `json:"storyIdeas"`
	CurrentStory    *Story      `json:"currentStory"`
	IsLoading       bool        `json:"isLoading"`
	LastError       *string     `json:"lastError"`
	Audio           AudioState  `json:"audio"`
	HistorySize     int         `json:"historySize"`
}
