package ai

import (
	"regexp"
	"strings"
)

// Блок ```json ... ``` (язык необязателен). (?s) - точка совпадает с переводом строки.
var jsonBlockRegex = regexp.MustCompile(`(?s)` + "```" + `(?:\w+)?\s*(.*?)\s*` + "```")

// ExtractJSON вытаскивает JSON из ответа модели: снимает markdown-обертку
// и обрезает мусор до первой '{' и после последней '}'.
// Результат не обязан быть валидным JSON, это решает вызывающий.
func ExtractJSON(rawText string) string {
	cleaned := strings.TrimSpace(rawText)

	if matches := jsonBlockRegex.FindStringSubmatch(cleaned); len(matches) > 1 {
		cleaned = strings.TrimSpace(matches[1])
	} else {
		// Неполная обертка: только открывающие или только закрывающие ```
		cleaned = strings.TrimSpace(strings.TrimSuffix(cleaned, "```"))
		if strings.HasPrefix(cleaned, "```") {
			if firstNewline := strings.Index(cleaned, "\n"); firstNewline != -1 {
				cleaned = strings.TrimSpace(cleaned[firstNewline+1:])
			} else {
				cleaned = strings.TrimSpace(strings.TrimPrefix(cleaned, "```"))
			}
		}
	}

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start != -1 && end > start {
		cleaned = cleaned[start : end+1]
	}
	return cleaned
}
