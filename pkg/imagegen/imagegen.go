package imagegen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Провайдеры иллюстраций
const (
	ProviderOpenAI = "openai"
	ProviderSana   = "sana"
	ProviderNone   = "none"
)

// RatioLandscape - соотношение сторон иллюстраций к историям.
const RatioLandscape = "16:9"

// ErrImageGenerationFailed - ошибка при генерации изображения.
var ErrImageGenerationFailed = errors.New("image generation failed")

// ErrImageSaveFailed - ошибка при сохранении файла.
var ErrImageSaveFailed = errors.New("image save failed")

// ImageGenerator генерирует иллюстрацию и возвращает ссылку на нее (URL или data URL).
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string, ratio string) (string, error)
}

// Config настройки генератора.
type Config struct {
	Provider string
	// OpenAI Images
	Model   string
	APIKey  string
	BaseURL string
	Timeout time.Duration
	// SANA
	SanaBaseURL   string
	SanaTimeout   time.Duration
	SavePath      string
	PublicBaseURL string
}

// NewImageGenerator создает генератор по конфигурации.
func NewImageGenerator(cfg Config, logger *zap.Logger) (ImageGenerator, error) {
	log := logger.Named("ImageGenerator")
	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI:
		log.Info("Image provider: OpenAI", zap.String("model", cfg.Model))
		return newOpenAIImageGenerator(cfg, log), nil
	case ProviderSana:
		log.Info("Image provider: SANA", zap.String("base_url", cfg.SanaBaseURL))
		return newSanaImageGenerator(cfg, log)
	case ProviderNone:
		log.Info("Image provider disabled, illustrations will be empty")
		return noneGenerator{}, nil
	default:
		return nil, fmt.Errorf("unknown image provider '%s'", cfg.Provider)
	}
}

// noneGenerator возвращает пустую ссылку. Удобно для локальной работы без генератора картинок.
type noneGenerator struct{}

func (noneGenerator) Generate(ctx context.Context, _ string, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrImageGenerationFailed, err)
	}
	return "", nil
}
