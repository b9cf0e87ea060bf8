package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// sanaImageGenerator вызывает локальный SANA сервер, сохраняет картинку на диск
// и возвращает ее публичный URL.
type sanaImageGenerator struct {
	baseURL       string
	client        *http.Client
	savePath      string
	publicBaseURL string
	logger        *zap.Logger
}

// SanaAPIRequest - структура запроса к SANA API.
type SanaAPIRequest struct {
	Prompt string `json:"prompt"`
	Ratio  string `json:"ratio"`
}

func newSanaImageGenerator(cfg Config, logger *zap.Logger) (*sanaImageGenerator, error) {
	if cfg.SanaBaseURL == "" {
		return nil, errors.New("SANA server base URL is not configured")
	}
	if cfg.SavePath == "" {
		return nil, errors.New("image save path (IMAGE_SAVE_PATH) is not configured")
	}
	if err := os.MkdirAll(cfg.SavePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image save path %s: %w", cfg.SavePath, err)
	}
	timeout := cfg.SanaTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &sanaImageGenerator{
		baseURL:       strings.TrimSuffix(cfg.SanaBaseURL, "/"),
		client:        &http.Client{Timeout: timeout},
		savePath:      cfg.SavePath,
		publicBaseURL: strings.TrimSuffix(cfg.PublicBaseURL, "/"),
		logger:        logger,
	}, nil
}

func (g *sanaImageGenerator) Generate(ctx context.Context, prompt string, ratio string) (string, error) {
	imageRef := uuid.NewString()
	log := g.logger.With(zap.String("image_reference", imageRef), zap.String("ratio", ratio))
	start := time.Now()

	imageData, err := g.callSanaAPI(ctx, prompt, ratio)
	if err != nil {
		log.Warn("SANA API call failed", zap.Error(err))
		recordImageRequest(ProviderSana, "error", time.Since(start))
		return "", fmt.Errorf("%w: %v", ErrImageGenerationFailed, err)
	}
	if len(imageData) == 0 {
		log.Warn("SANA API returned empty image data")
		recordImageRequest(ProviderSana, "error_empty_response", time.Since(start))
		return "", fmt.Errorf("%w: API returned empty data", ErrImageGenerationFailed)
	}

	fileName := imageRef + ".jpg"
	filePath := filepath.Join(g.savePath, fileName)
	if err := os.WriteFile(filePath, imageData, 0o644); err != nil {
		log.Error("Failed to save image to file", zap.String("path", filePath), zap.Error(err))
		recordImageRequest(ProviderSana, "error_save", time.Since(start))
		return "", fmt.Errorf("%w: %v", ErrImageSaveFailed, err)
	}

	recordImageRequest(ProviderSana, "success", time.Since(start))
	imageURL := g.publicBaseURL + "/" + fileName
	log.Debug("Illustration saved", zap.String("path", filePath), zap.String("url", imageURL), zap.Int("size_bytes", len(imageData)))
	return imageURL, nil
}

// callSanaAPI - POST {prompt, ratio} на /generate, в ответ байты картинки.
func (g *sanaImageGenerator) callSanaAPI(ctx context.Context, prompt string, ratio string) ([]byte, error) {
	reqBodyBytes, err := json.Marshal(SanaAPIRequest{Prompt: prompt, Ratio: ratio})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	endpointURL := g.baseURL + "/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(reqBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/*")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}
	if readErr != nil {
		return nil, fmt.Errorf("failed to read response body: %w", readErr)
	}
	return bodyBytes, nil
}
