package models

// Category - неизменяемое описание категории историй.
type Category struct {
	Name        string `json:"name"`
	Emoji       string `json:"emoji"`
	Description string `json:"description"`
	MusicRef    string `json:"music"`
}

// StoryIdea - кандидат на историю с превью-иллюстрацией. Живет только до старта истории.
type StoryIdea struct {
	Title           string `json:"title"`
	IllustrationRef string `json:"imageUrl"`
}
