package catalog

import (
	"strings"

	"dreamweaver/internal/models"
)

// Фоновые треки.
const (
	TrackHome      = "https://cdn.pixabay.com/audio/2022/11/17/audio_8529542615.mp3"
	TrackFantasy   = "https://cdn.pixabay.com/audio/2022/05/27/audio_3433c23924.mp3"
	TrackAdventure = "https://cdn.pixabay.com/audio/2023/08/03/audio_eb7c132053.mp3"
	TrackAnimals   = "https://cdn.pixabay.com/audio/2023/02/10/audio_5532435a29.mp3"
	TrackMystery   = "https://cdn.pixabay.com/audio/2022/08/04/audio_2dee654034.mp3"
	TrackSpace     = "https://cdn.pixabay.com/audio/2022/03/24/audio_386227419e.mp3"
)

var categories = []models.Category{
	{Name: "Fantasy", Emoji: "🧙", Description: "Magic castles and brave knights.", MusicRef: TrackFantasy},
	{Name: "Adventure", Emoji: "🗺️", Description: "Exploring jungles and finding treasure.", MusicRef: TrackAdventure},
	{Name: "Animals", Emoji: "🦊", Description: "Stories about friendly talking animals.", MusicRef: TrackAnimals},
	{Name: "Mystery", Emoji: "🔎", Description: "Solving clues and uncovering secrets.", MusicRef: TrackMystery},
	{Name: "Space", Emoji: "🚀", Description: "Traveling to new planets and stars.", MusicRef: TrackSpace},
}

// Categories возвращает копию фиксированного набора категорий.
func Categories() []models.Category {
	return append([]models.Category(nil), categories...)
}

// Find ищет категорию по имени без учета регистра.
func Find(name string) (models.Category, bool) {
	name = strings.TrimSpace(name)
	for _, c := range categories {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return models.Category{}, false
}
