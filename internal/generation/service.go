package generation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dreamweaver/internal/interfaces"
	"dreamweaver/internal/models"
	"dreamweaver/pkg/ai"
	"dreamweaver/pkg/imagegen"
)

// Метки операций для метрик и логов
const (
	opIdeas   = "ideas"
	opOpening = "opening"
	opNext    = "next"
	opClosing = "closing"
)

// Политики обработки неразборчивого ответа модели
const (
	PolicyDegrade = "degrade"
	PolicyFail    = "fail"
)

// Config настройки генератора историй.
type Config struct {
	MalformedPolicy string
	MaxAttempts     int
	BaseRetryDelay  time.Duration
	Temperature     float64
}

// Service реализует interfaces.StoryGenerator поверх текстовой модели и генератора картинок.
type Service struct {
	ai     ai.AIClient
	images imagegen.ImageGenerator
	cfg    Config
	logger *zap.Logger
	// wait - пауза между попытками, подменяется в тестах
	wait func(ctx context.Context, d time.Duration) error
}

var _ interfaces.StoryGenerator = (*Service)(nil)

// NewService создает генератор историй.
func NewService(aiClient ai.AIClient, images imagegen.ImageGenerator, cfg Config, logger *zap.Logger) *Service {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.MalformedPolicy == "" {
		cfg.MalformedPolicy = PolicyDegrade
	}
	return &Service{
		ai:     aiClient,
		images: images,
		cfg:    cfg,
		logger: logger.Named("StoryGenerator"),
		wait:   sleepCtx,
	}
}

// FetchIdeas запрашивает до трех идей и параллельно рисует к ним иллюстрации.
// Порядок результата совпадает с порядком идей, ошибка любой иллюстрации - ошибка всей операции.
func (s *Service) FetchIdeas(ctx context.Context, categoryName string) ([]models.StoryIdea, error) {
	log := s.logger.With(zap.String("operation", opIdeas), zap.String("category", categoryName))

	raw, err := s.generateText(ctx, opIdeas, ideasSystemPrompt, ideasPrompt(categoryName))
	if err != nil {
		return nil, err
	}

	titles, err := parseIdeas(raw)
	if err != nil {
		if s.cfg.MalformedPolicy == PolicyFail {
			log.Warn("Malformed ideas response", zap.Error(err))
			return nil, err
		}
		log.Warn("Malformed ideas response, returning no ideas", zap.Error(err))
		return []models.StoryIdea{}, nil
	}

	ideas := make([]models.StoryIdea, len(titles))
	g, gctx := errgroup.WithContext(ctx)
	for i, title := range titles {
		g.Go(func() error {
			ref, err := s.images.Generate(gctx, illustrationPrompt(title, ""), imagegen.RatioLandscape)
			if err != nil {
				return fmt.Errorf("illustration for idea %d: %w", i+1, err)
			}
			ideas[i] = models.StoryIdea{Title: title, IllustrationRef: ref}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Warn("Idea illustrations failed", zap.Error(err))
		return nil, err
	}

	log.Info("Story ideas generated", zap.Int("count", len(ideas)))
	return ideas, nil
}

// FetchOpeningStep генерирует начало истории. Иллюстрация рисуется по названию.
func (s *Service) FetchOpeningStep(ctx context.Context, title string) (*models.GeneratedStep, error) {
	part, err := s.generateStoryPart(ctx, opOpening, openingPrompt(title))
	if err != nil {
		return nil, err
	}
	ref, err := s.images.Generate(ctx, illustrationPrompt(title, part.CharacterDescription), imagegen.RatioLandscape)
	if err != nil {
		return nil, err
	}
	return &models.GeneratedStep{
		NarrativeText:        part.StoryPart,
		Choices:              part.Choices,
		IllustrationRef:      ref,
		CharacterDescription: part.CharacterDescription,
	}, nil
}

// FetchNextStep продолжает историю. Иллюстрация рисуется по новому тексту.
func (s *Service) FetchNextStep(ctx context.Context, title, transcript, choice, characterDescription string) (*models.GeneratedStep, error) {
	part, err := s.generateStoryPart(ctx, opNext, nextStepPrompt(title, transcript, choice))
	if err != nil {
		return nil, err
	}
	ref, err := s.images.Generate(ctx, illustrationPrompt(part.StoryPart, characterDescription), imagegen.RatioLandscape)
	if err != nil {
		return nil, err
	}
	return &models.GeneratedStep{
		NarrativeText:   part.StoryPart,
		Choices:         part.Choices,
		IllustrationRef: ref,
	}, nil
}

// FetchClosingStep пишет концовку. Варианты всегда пустые.
func (s *Service) FetchClosingStep(ctx context.Context, title, transcript, characterDescription string) (*models.GeneratedStep, error) {
	part, err := s.generateStoryPart(ctx, opClosing, closingPrompt(title, transcript))
	if err != nil {
		return nil, err
	}
	ref, err := s.images.Generate(ctx, illustrationPrompt(part.StoryPart, characterDescription), imagegen.RatioLandscape)
	if err != nil {
		return nil, err
	}
	return &models.GeneratedStep{
		NarrativeText:   part.StoryPart,
		Choices:         []string{},
		IllustrationRef: ref,
	}, nil
}

// generateStoryPart - текстовый запрос шага и разбор ответа с учетом политики.
func (s *Service) generateStoryPart(ctx context.Context, operation, userPrompt string) (*storyPartResponse, error) {
	raw, err := s.generateText(ctx, operation, storySystemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}
	part, err := parseStoryPart(raw)
	if err != nil {
		if s.cfg.MalformedPolicy == PolicyFail {
			s.logger.Warn("Malformed story response", zap.String("operation", operation), zap.Error(err))
			return nil, err
		}
		s.logger.Warn("Malformed story response, degrading to forced conclusion",
			zap.String("operation", operation), zap.Error(err))
		return lostWordsPart(), nil
	}
	return part, nil
}

// generateText вызывает модель с повторами: экспоненциальная задержка плюс +-10% джиттера.
// Повторяются только ошибки вызова. Отмена контекста прерывает повторы сразу.
func (s *Service) generateText(ctx context.Context, operation, systemPrompt, userPrompt string) (string, error) {
	log := s.logger.With(zap.String("operation", operation))
	params := ai.GenerationParams{Temperature: ai.Float64Ptr(s.cfg.Temperature), JSONResponse: true}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		text, _, err := s.ai.GenerateText(ctx, operation, systemPrompt, userPrompt, params)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		log.Warn("AI call failed", zap.Int("attempt", attempt), zap.Int("max_attempts", s.cfg.MaxAttempts), zap.Error(err))
		if attempt == s.cfg.MaxAttempts {
			break
		}

		delay := float64(s.cfg.BaseRetryDelay) * math.Pow(2, float64(attempt-1))
		jitter := delay * 0.1
		delay += jitter * (rand.Float64()*2 - 1)
		if err := s.wait(ctx, time.Duration(delay)); err != nil {
			break
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(lastErr, ctxErr) {
		return "", fmt.Errorf("%w (%v)", ctxErr, lastErr)
	}
	return "", lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
