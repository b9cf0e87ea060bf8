package database

import (
	"encoding/json"
	"errors"
	"fmt"

	"dreamweaver/internal/models"
)

// ErrCorruptedHistory - сохраненный список не разбирается. Перезаписывать его пустым нельзя.
var ErrCorruptedHistory = errors.New("stored story history is corrupted")

// Весь список хранится одним JSON-массивом под одним ключом, новые истории первыми.
func encodeStories(stories []models.Story) ([]byte, error) {
	if stories == nil {
		stories = []models.Story{}
	}
	data, err := json.Marshal(stories)
	if err != nil {
		return nil, fmt.Errorf("failed to encode story history: %w", err)
	}
	return data, nil
}

func decodeStories(data []byte) ([]models.Story, error) {
	if len(data) == 0 {
		return []models.Story{}, nil
	}
	var stories []models.Story
	if err := json.Unmarshal(data, &stories); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedHistory, err)
	}
	if stories == nil {
		stories = []models.Story{}
	}
	return stories, nil
}
