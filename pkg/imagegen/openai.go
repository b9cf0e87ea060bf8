package imagegen

import (
	"context"
	"fmt"
	"net/http"
	"time"

	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// openAIImageGenerator генерирует картинки через OpenAI Images API и отдает их data URL'ом.
type openAIImageGenerator struct {
	client *openaigo.Client
	model  string
	logger *zap.Logger
}

func newOpenAIImageGenerator(cfg Config, logger *zap.Logger) *openAIImageGenerator {
	openaiConfig := openaigo.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		openaiConfig.BaseURL = cfg.BaseURL
	}
	openaiConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	model := cfg.Model
	if model == "" {
		model = openaigo.CreateImageModelDallE3
	}
	return &openAIImageGenerator{
		client: openaigo.NewClientWithConfig(openaiConfig),
		model:  model,
		logger: logger,
	}
}

// sizeForRatio подбирает размер DALL-E 3 под соотношение сторон.
func sizeForRatio(ratio string) string {
	switch ratio {
	case "16:9":
		return openaigo.CreateImageSize1792x1024
	case "9:16", "2:3":
		return openaigo.CreateImageSize1024x1792
	default:
		return openaigo.CreateImageSize1024x1024
	}
}

func (g *openAIImageGenerator) Generate(ctx context.Context, prompt string, ratio string) (string, error) {
	log := g.logger.With(zap.String("model", g.model), zap.String("ratio", ratio))
	start := time.Now()

	resp, err := g.client.CreateImage(ctx, openaigo.ImageRequest{
		Prompt:         prompt,
		Model:          g.model,
		N:              1,
		Size:           sizeForRatio(ratio),
		ResponseFormat: openaigo.CreateImageResponseFormatB64JSON,
	})
	duration := time.Since(start)
	if err != nil {
		log.Warn("OpenAI image request failed", zap.Duration("duration", duration), zap.Error(err))
		recordImageRequest(ProviderOpenAI, "error", duration)
		return "", fmt.Errorf("%w: %v", ErrImageGenerationFailed, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		log.Warn("OpenAI image response has no data", zap.Duration("duration", duration))
		recordImageRequest(ProviderOpenAI, "error_empty_response", duration)
		return "", fmt.Errorf("%w: API returned empty data", ErrImageGenerationFailed)
	}

	recordImageRequest(ProviderOpenAI, "success", duration)
	log.Debug("Illustration generated", zap.Duration("duration", duration), zap.Int("b64_size", len(resp.Data[0].B64JSON)))
	return "data:image/png;base64," + resp.Data[0].B64JSON, nil
}
