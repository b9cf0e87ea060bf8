package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Типы клиентов
const (
	ClientTypeOpenAI = "openai"
	ClientTypeOllama = "ollama"
)

// ErrAIGenerationFailed - ошибка при генерации текста AI
var ErrAIGenerationFailed = errors.New("ошибка генерации текста AI")

// GenerationParams - параметры генерации. Указатели отличают 0 от отсутствия значения.
type GenerationParams struct {
	Temperature *float64
	MaxTokens   *int
	TopP        *float64
	// JSONResponse просит модель вернуть JSON-объект (response_format / format=json).
	JSONResponse bool
}

// UsageInfo содержит информацию об использовании токенов
type UsageInfo struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	// Estimated - токены посчитаны tiktoken'ом, провайдер usage не вернул.
	Estimated bool
}

// Config настройки клиента.
type Config struct {
	ClientType string
	BaseURL    string
	Model      string
	APIKey     string
	Timeout    time.Duration
}

// AIClient интерфейс для взаимодействия с AI API
type AIClient interface {
	// GenerateText генерирует текст по системному промту и вводу пользователя.
	// operation попадает в метрики (ideas, opening, next, closing).
	GenerateText(ctx context.Context, operation string, systemPrompt string, userInput string, params GenerationParams) (string, UsageInfo, error)
}

// NewAIClient создает клиент в зависимости от конфигурации
func NewAIClient(cfg Config, logger *zap.Logger) (AIClient, error) {
	log := logger.Named("AIClient")
	switch strings.ToLower(cfg.ClientType) {
	case ClientTypeOpenAI:
		log.Info("Используется реализация AI клиента: OpenAI",
			zap.String("base_url", cfg.BaseURL), zap.String("model", cfg.Model), zap.Duration("timeout", cfg.Timeout))
		return newOpenAIClient(cfg, log), nil
	case ClientTypeOllama:
		log.Info("Используется реализация AI клиента: Ollama",
			zap.String("base_url", cfg.BaseURL), zap.String("model", cfg.Model), zap.Duration("timeout", cfg.Timeout))
		return newOllamaClient(cfg, log)
	default:
		return nil, fmt.Errorf("неизвестный тип AI клиента: '%s'", cfg.ClientType)
	}
}

// validatePrompt - общая проверка промтов для обоих клиентов.
func validatePrompt(systemPrompt string) error {
	if strings.TrimSpace(systemPrompt) == "" {
		return fmt.Errorf("%w: системный промт пуст", ErrAIGenerationFailed)
	}
	return nil
}

// float32Val конвертирует *float64 в float32, nil дает 1.0 (дефолт OpenAI для temperature/top_p).
func float32Val(f64 *float64) float32 {
	if f64 == nil {
		return 1.0
	}
	return float32(*f64)
}

// intVal: nil означает "без лимита".
func intVal(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}

// Float64Ptr - помощник для GenerationParams.
func Float64Ptr(v float64) *float64 {
	return &v
}
