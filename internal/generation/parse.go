package generation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"dreamweaver/internal/models"
	"dreamweaver/pkg/ai"
)

// errMalformedResponse - ответ модели не разобрался как ожидаемый JSON.
var errMalformedResponse = errors.New("malformed generation response")

type ideasResponse struct {
	Ideas []string `json:"ideas"`
}

type storyPartResponse struct {
	StoryPart            string   `json:"storyPart"`
	Choices              []string `json:"choices"`
	CharacterDescription string   `json:"characterDescription"`
}

// parseIdeas разбирает {"ideas": [...]}. Пустой список - валидный ответ.
func parseIdeas(raw string) ([]string, error) {
	var resp ideasResponse
	if err := json.Unmarshal([]byte(ai.ExtractJSON(raw)), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedResponse, err)
	}
	return normalizeList(resp.Ideas, models.MaxChoices), nil
}

// parseStoryPart разбирает шаг истории. Пустой текст шага считается битым ответом.
func parseStoryPart(raw string) (*storyPartResponse, error) {
	var resp storyPartResponse
	if err := json.Unmarshal([]byte(ai.ExtractJSON(raw)), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedResponse, err)
	}
	resp.StoryPart = strings.TrimSpace(resp.StoryPart)
	if resp.StoryPart == "" {
		return nil, fmt.Errorf("%w: storyPart is empty", errMalformedResponse)
	}
	resp.Choices = normalizeList(resp.Choices, models.MaxChoices)
	resp.CharacterDescription = strings.TrimSpace(resp.CharacterDescription)
	return &resp, nil
}

// lostWordsPart - замена битого ответа: без вариантов, то есть история завершается.
func lostWordsPart() *storyPartResponse {
	return &storyPartResponse{StoryPart: lostWordsNarrative, Choices: []string{}}
}

// normalizeList обрезает пробелы, выкидывает пустые строки и повторы, оставляет не больше limit.
func normalizeList(items []string, limit int) []string {
	out := make([]string, 0, limit)
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
		if len(out) == limit {
			break
		}
	}
	return out
}
