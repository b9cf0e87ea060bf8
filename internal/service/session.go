package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dreamweaver/internal/catalog"
	"dreamweaver/internal/interfaces"
	"dreamweaver/internal/models"
)

// Значения по умолчанию
const (
	DefaultGenerationTimeout = 2 * time.Minute
	DefaultAmbientStopDelay  = 20 * time.Minute

	publishTimeout = 5 * time.Second
)

var errEmptyStep = errors.New("generator returned no step")

// SessionConfig настройки сессии.
type SessionConfig struct {
	// GenerationTimeout ограничивает каждый вызов генератора. Истечение - обычная ошибка операции.
	GenerationTimeout time.Duration
	// AmbientStopDelay - через сколько после завершения истории выключить музыку.
	AmbientStopDelay time.Duration
}

// stopper - отменяемый отложенный вызов (*time.Timer).
type stopper interface {
	Stop() bool
}

// Session - машина состояний одной сессии рассказчика.
// Все изменения состояния идут через методы ниже. Генератор вызывается без блокировки,
// результат применяется только если за время вызова сессию не сбросили.
type Session struct {
	generator interfaces.StoryGenerator
	history   interfaces.HistoryRepository
	player    interfaces.AmbientPlayer
	publisher interfaces.StoryEventPublisher // может быть nil
	cfg       SessionConfig
	logger    *zap.Logger

	now       func() time.Time
	afterFunc func(d time.Duration, f func()) stopper

	mu        sync.Mutex
	phase     models.Phase
	category  *models.Category
	ideas     []models.StoryIdea
	story     *models.Story
	loading   bool
	lastError string
	stories   []models.Story // Последний успешно сохраненный список, новые первыми
	storesRev uint64         // Растет при каждой замене stories

	epoch       uint64             // Растет при каждом старте операции и при goHome
	cancelCall  context.CancelFunc // Отмена текущего вызова генератора
	ambientStop stopper
	ambientSeq  uint64

	subsMu    sync.Mutex
	subs      map[int]func(models.SessionSnapshot)
	nextSubID int
}

// NewSession создает сессию в фазе выбора категории. Перед использованием нужен Init.
func NewSession(
	generator interfaces.StoryGenerator,
	history interfaces.HistoryRepository,
	player interfaces.AmbientPlayer,
	publisher interfaces.StoryEventPublisher,
	cfg SessionConfig,
	logger *zap.Logger,
) *Session {
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = DefaultGenerationTimeout
	}
	if cfg.AmbientStopDelay <= 0 {
		cfg.AmbientStopDelay = DefaultAmbientStopDelay
	}
	return &Session{
		generator: generator,
		history:   history,
		player:    player,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.Named("Session"),
		now:       time.Now,
		afterFunc: func(d time.Duration, f func()) stopper { return time.AfterFunc(d, f) },
		phase:     models.PhaseCategorySelect,
		ideas:     []models.StoryIdea{},
		stories:   []models.Story{},
		subs:      make(map[int]func(models.SessionSnapshot)),
	}
}

// Init читает историю из хранилища и включает домашний трек.
// Ошибка чтения возвращается как есть: с пустой историей следующее сохранение затерло бы старые записи.
func (s *Session) Init(ctx context.Context) error {
	stories, err := s.history.Load(ctx)
	if err != nil {
		sessionOperationsTotal.WithLabelValues(opInit, statusFailed).Inc()
		return fmt.Errorf("load story history: %w", err)
	}
	if stories == nil {
		stories = []models.Story{}
	}

	s.mu.Lock()
	s.stories = stories
	s.storesRev++
	s.player.Play(catalog.TrackHome)
	s.mu.Unlock()

	sessionOperationsTotal.WithLabelValues(opInit, statusSuccess).Inc()
	s.logger.Info("Session initialized", zap.Int("history_size", len(stories)))
	s.notify()
	return nil
}

// SelectCategory запрашивает идеи для категории и переходит к выбору идеи.
func (s *Session) SelectCategory(ctx context.Context, name string) error {
	category, ok := catalog.Find(name)
	if !ok {
		return s.reject(opSelectCategory, fmt.Errorf("%w: %q", models.ErrUnknownCategory, name))
	}

	callCtx, epoch, err := s.begin(ctx, opSelectCategory, func() error {
		return s.requirePhaseLocked(models.PhaseCategorySelect)
	})
	if err != nil {
		return err
	}

	start := time.Now()
	ideas, callErr := s.generator.FetchIdeas(callCtx, category.Name)
	sessionOperationDuration.WithLabelValues(opSelectCategory).Observe(time.Since(start).Seconds())

	_, err = s.settle(epoch, opSelectCategory, models.ErrIdeaFetchFailed, callErr, func() (*models.StoryCompletedEvent, error) {
		if ideas == nil {
			ideas = []models.StoryIdea{}
		}
		s.ideas = ideas
		s.category = &category
		s.phase = models.PhaseStorySelect
		return nil, nil
	})
	return err
}

// SelectStoryIdea начинает историю по одной из предложенных идей.
func (s *Session) SelectStoryIdea(ctx context.Context, title string) error {
	var category models.Category
	callCtx, epoch, err := s.begin(ctx, opSelectStoryIdea, func() error {
		if err := s.requirePhaseLocked(models.PhaseStorySelect); err != nil {
			return err
		}
		if s.category == nil {
			return fmt.Errorf("%w: no category selected", models.ErrInvalidPhase)
		}
		if !s.hasIdeaLocked(title) {
			return fmt.Errorf("%w: %q", models.ErrUnknownIdea, title)
		}
		category = *s.category
		return nil
	})
	if err != nil {
		return err
	}

	start := time.Now()
	step, callErr := s.generator.FetchOpeningStep(callCtx, title)
	sessionOperationDuration.WithLabelValues(opSelectStoryIdea).Observe(time.Since(start).Seconds())

	if callErr == nil && step == nil {
		callErr = errEmptyStep
	}
	var story *models.Story
	if callErr == nil {
		story = models.NewStory(title, category.Name, step, s.now())
		if story.IsConcluded() {
			// Генератор закончил историю первым же шагом
			event, err := s.conclude(ctx, epoch, opSelectStoryIdea, models.ErrStoryStartFailed, story, models.EndingNatural, func() {
				s.player.Play(category.MusicRef)
			})
			s.publish(ctx, event)
			return err
		}
	}

	_, err = s.settle(epoch, opSelectStoryIdea, models.ErrStoryStartFailed, callErr, func() (*models.StoryCompletedEvent, error) {
		s.story = story
		s.phase = models.PhaseTelling
		s.player.Play(category.MusicRef)
		return nil, nil
	})
	return err
}

// SelectChoice продолжает историю выбранным вариантом.
// Если генератор не вернул вариантов, история сохраняется в историю и сессия переходит в Ended.
func (s *Session) SelectChoice(ctx context.Context, choice string) error {
	var story *models.Story
	callCtx, epoch, err := s.begin(ctx, opSelectChoice, func() error {
		if err := s.requirePhaseLocked(models.PhaseTelling); err != nil {
			return err
		}
		if s.story == nil {
			return models.ErrNoActiveStory
		}
		if !s.story.HasChoice(choice) {
			return fmt.Errorf("%w: %q", models.ErrInvalidChoice, choice)
		}
		story = s.story
		return nil
	})
	if err != nil {
		return err
	}

	start := time.Now()
	step, callErr := s.generator.FetchNextStep(callCtx, story.Title, story.Transcript(), choice, story.CharacterDescription)
	sessionOperationDuration.WithLabelValues(opSelectChoice).Observe(time.Since(start).Seconds())

	if callErr == nil && step == nil {
		callErr = errEmptyStep
	}
	var next *models.Story
	if callErr == nil {
		next = story.WithStep(models.StoryStep{
			NarrativeText:   step.NarrativeText,
			IllustrationRef: step.IllustrationRef,
			ChoiceMade:      choice,
		}, step.Choices)
		if next.IsConcluded() {
			event, err := s.conclude(ctx, epoch, opSelectChoice, models.ErrStoryContinueFailed, next, models.EndingNatural, nil)
			s.publish(ctx, event)
			return err
		}
	}

	_, err = s.settle(epoch, opSelectChoice, models.ErrStoryContinueFailed, callErr, func() (*models.StoryCompletedEvent, error) {
		s.story = next
		return nil, nil
	})
	return err
}

// ForceFinish просит у генератора концовку и завершает историю досрочно.
// Варианты концовки отбрасываются, шаг помечается фразой ConclusionChoice.
func (s *Session) ForceFinish(ctx context.Context) error {
	var story *models.Story
	callCtx, epoch, err := s.begin(ctx, opForceFinish, func() error {
		if err := s.requirePhaseLocked(models.PhaseTelling); err != nil {
			return err
		}
		if s.story == nil {
			return models.ErrNoActiveStory
		}
		story = s.story
		return nil
	})
	if err != nil {
		return err
	}

	start := time.Now()
	step, callErr := s.generator.FetchClosingStep(callCtx, story.Title, story.Transcript(), story.CharacterDescription)
	sessionOperationDuration.WithLabelValues(opForceFinish).Observe(time.Since(start).Seconds())

	if callErr == nil && step == nil {
		callErr = errEmptyStep
	}
	if callErr != nil {
		_, err = s.settle(epoch, opForceFinish, models.ErrStoryFinishFailed, callErr, nil)
		return err
	}

	final := story.WithStep(models.StoryStep{
		NarrativeText:   step.NarrativeText,
		IllustrationRef: step.IllustrationRef,
		ChoiceMade:      models.ConclusionChoice,
	}, nil)
	event, err := s.conclude(ctx, epoch, opForceFinish, models.ErrStoryFinishFailed, final, models.EndingForced, nil)
	s.publish(ctx, event)
	return err
}

// GoHome сбрасывает сессию к выбору категории из любой фазы.
// Текущий вызов генератора отменяется, его результат будет отброшен.
func (s *Session) GoHome() {
	s.mu.Lock()
	s.epoch++
	if s.cancelCall != nil {
		s.cancelCall()
		s.cancelCall = nil
	}
	s.loading = false
	s.story = nil
	s.category = nil
	s.ideas = []models.StoryIdea{}
	s.lastError = ""
	s.phase = models.PhaseCategorySelect
	s.cancelAmbientStopLocked()
	s.player.Play(catalog.TrackHome)
	s.mu.Unlock()

	sessionOperationsTotal.WithLabelValues(opGoHome, statusSuccess).Inc()
	s.notify()
}

// ViewHistory открывает список завершенных историй.
func (s *Session) ViewHistory() error {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return s.reject(opViewHistory, models.ErrSessionBusy)
	}
	switch s.phase {
	case models.PhaseCategorySelect, models.PhaseTelling, models.PhaseEnded, models.PhaseHistory:
	default:
		phase := s.phase
		s.mu.Unlock()
		return s.reject(opViewHistory, fmt.Errorf("%w: %s", models.ErrInvalidPhase, phase))
	}
	s.phase = models.PhaseHistory
	s.mu.Unlock()

	sessionOperationsTotal.WithLabelValues(opViewHistory, statusSuccess).Inc()
	s.notify()
	return nil
}

// ReturnFromHistory возвращает к выбору категории и включает домашний трек.
// История, категория и идеи не трогаются.
func (s *Session) ReturnFromHistory() error {
	s.mu.Lock()
	if err := s.requirePhaseLocked(models.PhaseHistory); err != nil {
		s.mu.Unlock()
		return s.reject(opReturnFromHistory, err)
	}
	s.phase = models.PhaseCategorySelect
	s.cancelAmbientStopLocked()
	s.player.Play(catalog.TrackHome)
	s.mu.Unlock()

	sessionOperationsTotal.WithLabelValues(opReturnFromHistory, statusSuccess).Inc()
	s.notify()
	return nil
}

// OpenHistoryEntry показывает сохраненную историю. У нее нет вариантов, продолжить ее нельзя.
func (s *Session) OpenHistoryEntry(id uuid.UUID) error {
	s.mu.Lock()
	if err := s.requirePhaseLocked(models.PhaseHistory); err != nil {
		s.mu.Unlock()
		return s.reject(opOpenHistoryEntry, err)
	}
	var found *models.Story
	for i := range s.stories {
		if s.stories[i].ID == id {
			found = s.stories[i].Clone()
			break
		}
	}
	if found == nil {
		s.mu.Unlock()
		return s.reject(opOpenHistoryEntry, fmt.Errorf("%w: %s", models.ErrHistoryEntryNotFound, id))
	}
	s.story = found
	s.mu.Unlock()

	sessionOperationsTotal.WithLabelValues(opOpenHistoryEntry, statusSuccess).Inc()
	s.notify()
	return nil
}

// Snapshot возвращает копию состояния.
func (s *Session) Snapshot() models.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// History возвращает копию сохраненных историй, новые первыми.
func (s *Session) History() []models.Story {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.CloneStories(s.stories)
}

// Subscribe регистрирует получателя снимков. Возвращает функцию отписки.
// Получатель вызывается синхронно и не должен обращаться к методам, меняющим сессию.
func (s *Session) Subscribe(fn func(models.SessionSnapshot)) func() {
	s.subsMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

// Close отменяет текущий вызов и отложенную остановку музыки.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	if s.cancelCall != nil {
		s.cancelCall()
		s.cancelCall = nil
	}
	s.loading = false
	s.cancelAmbientStopLocked()
}

// begin проверяет предусловия, выставляет isLoading и возвращает контекст вызова с таймаутом.
func (s *Session) begin(ctx context.Context, op string, validate func() error) (context.Context, uint64, error) {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return nil, 0, s.reject(op, models.ErrSessionBusy)
	}
	if err := validate(); err != nil {
		s.mu.Unlock()
		return nil, 0, s.reject(op, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.GenerationTimeout)
	s.epoch++
	epoch := s.epoch
	s.cancelCall = cancel
	s.loading = true
	s.lastError = ""
	s.mu.Unlock()

	s.logger.Debug("Operation started", zap.String("operation", op), zap.Uint64("epoch", epoch))
	s.notify()
	return callCtx, epoch, nil
}

// settle применяет результат вызова. apply выполняется под блокировкой и только если
// сессию не сбрасывали. Ошибка вызова или apply оборачивается в failure и пишется в lastError,
// состояние при этом остается прежним. apply может быть nil, если вызов уже завершился ошибкой.
func (s *Session) settle(
	epoch uint64,
	op string,
	failure error,
	callErr error,
	apply func() (*models.StoryCompletedEvent, error),
) (*models.StoryCompletedEvent, error) {
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return nil, s.discard(op, epoch)
	}

	var event *models.StoryCompletedEvent
	err := callErr
	if err == nil && apply != nil {
		event, err = apply()
	}
	if s.cancelCall != nil {
		s.cancelCall()
		s.cancelCall = nil
	}
	s.loading = false

	if err != nil {
		wrapped := fmt.Errorf("%w: %v", failure, err)
		s.lastError = models.UserMessage(wrapped)
		phase := s.phase
		s.mu.Unlock()

		sessionOperationsTotal.WithLabelValues(op, statusFailed).Inc()
		s.logger.Warn("Operation failed",
			zap.String("operation", op),
			zap.String("phase", string(phase)),
			zap.Bool("timeout", errors.Is(err, context.DeadlineExceeded)),
			zap.Error(err),
		)
		s.notify()
		return nil, wrapped
	}
	phase := s.phase
	s.mu.Unlock()

	sessionOperationsTotal.WithLabelValues(op, statusSuccess).Inc()
	s.logger.Info("Operation completed", zap.String("operation", op), zap.String("phase", string(phase)))
	s.notify()
	return event, nil
}

// conclude сохраняет завершенную историю первой в списке и переводит сессию в Ended.
// Сохранение идет без блокировки, сессия на это время остается занятой, а GoHome отменяет его.
// Если сессию сбросили, успешно сохраненный список все равно принимается, фаза не меняется.
// При ошибке сохранения состояние прежнее. then вызывается под блокировкой после перехода.
func (s *Session) conclude(
	ctx context.Context,
	epoch uint64,
	op string,
	failure error,
	story *models.Story,
	ending models.Ending,
	then func(),
) (*models.StoryCompletedEvent, error) {
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return nil, s.discard(op, epoch)
	}
	completedAt := s.now()
	story.CompletedAt = &completedAt

	updated := make([]models.Story, 0, len(s.stories)+1)
	updated = append(updated, *story.Clone())
	updated = append(updated, s.stories...)
	rev := s.storesRev

	saveCtx, cancel := context.WithTimeout(ctx, s.cfg.GenerationTimeout)
	if s.cancelCall != nil {
		s.cancelCall()
	}
	s.cancelCall = cancel
	s.mu.Unlock()

	saveErr := s.history.Save(saveCtx, updated)
	if saveErr != nil {
		saveErr = fmt.Errorf("save story history: %w", saveErr)
	} else {
		s.mu.Lock()
		if rev == s.storesRev {
			s.stories = updated
			s.storesRev++
		}
		s.mu.Unlock()
	}

	return s.settle(epoch, op, failure, saveErr, func() (*models.StoryCompletedEvent, error) {
		s.story = story
		s.phase = models.PhaseEnded
		s.armAmbientStopLocked()
		if then != nil {
			then()
		}
		storiesCompletedTotal.WithLabelValues(string(ending)).Inc()

		s.logger.Info("Story completed",
			zap.Stringer("story_id", story.ID),
			zap.String("title", story.Title),
			zap.Int("steps", len(story.Steps)),
			zap.String("ending", string(ending)),
		)
		return &models.StoryCompletedEvent{
			StoryID:     story.ID,
			Title:       story.Title,
			Category:    story.CategoryName,
			Steps:       len(story.Steps),
			Ending:      ending,
			CompletedAt: completedAt,
		}, nil
	})
}

// discard отмечает результат операции, которую сбросили, пока шел вызов.
func (s *Session) discard(op string, epoch uint64) error {
	sessionOperationsTotal.WithLabelValues(op, statusReset).Inc()
	s.logger.Info("Discarding result of a reset operation", zap.String("operation", op), zap.Uint64("epoch", epoch))
	return models.ErrSessionReset
}

// publish отправляет событие о завершении. Ошибка только логируется.
func (s *Session) publish(ctx context.Context, event *models.StoryCompletedEvent) {
	if event == nil || s.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.PublishStoryCompleted(pubCtx, *event); err != nil {
		s.logger.Error("Failed to publish story completed event",
			zap.Stringer("story_id", event.StoryID), zap.Error(err))
	}
}

// armAmbientStopLocked ставит отложенную остановку музыки, заменяя предыдущую.
func (s *Session) armAmbientStopLocked() {
	s.cancelAmbientStopLocked()
	seq := s.ambientSeq
	s.ambientStop = s.afterFunc(s.cfg.AmbientStopDelay, func() {
		s.mu.Lock()
		if seq != s.ambientSeq {
			// Таймер успел сработать после отмены
			s.mu.Unlock()
			return
		}
		s.ambientStop = nil
		s.player.Stop()
		s.mu.Unlock()

		s.logger.Info("Ambient audio stopped after story conclusion")
		s.notify()
	})
}

func (s *Session) cancelAmbientStopLocked() {
	s.ambientSeq++
	if s.ambientStop != nil {
		s.ambientStop.Stop()
		s.ambientStop = nil
	}
}

func (s *Session) requirePhaseLocked(want models.Phase) error {
	if s.phase != want {
		return fmt.Errorf("%w: expected %s, got %s", models.ErrInvalidPhase, want, s.phase)
	}
	return nil
}

func (s *Session) hasIdeaLocked(title string) bool {
	for _, idea := range s.ideas {
		if idea.Title == title {
			return true
		}
	}
	return false
}

func (s *Session) reject(op string, err error) error {
	sessionOperationsTotal.WithLabelValues(op, statusRejected).Inc()
	s.logger.Debug("Operation rejected", zap.String("operation", op), zap.Error(err))
	return err
}

func (s *Session) snapshotLocked() models.SessionSnapshot {
	snap := models.SessionSnapshot{
		Phase:        s.phase,
		Categories:   catalog.Categories(),
		StoryIdeas:   append([]models.StoryIdea{}, s.ideas...),
		CurrentStory: s.story.Clone(),
		IsLoading:    s.loading,
		Audio:        s.player.State(),
		HistorySize:  len(s.stories),
	}
	if s.category != nil {
		c := *s.category
		snap.CurrentCategory = &c
	}
	if s.lastError != "" {
		msg := s.lastError
		snap.LastError = &msg
	}
	return snap
}

// notify рассылает снимок подписчикам. Вызывается без s.mu.
func (s *Session) notify() {
	s.subsMu.Lock()
	if len(s.subs) == 0 {
		s.subsMu.Unlock()
		return
	}
	subs := make([]func(models.SessionSnapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subsMu.Unlock()

	snap := s.Snapshot()
	for _, fn := range subs {
		fn(snap)
	}
}
