package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dreamweaver/internal/audio"
	"dreamweaver/internal/catalog"
	"dreamweaver/internal/interfaces/mocks"
	"dreamweaver/internal/models"
)

var testNow = time.Date(2024, 5, 1, 20, 30, 0, 0, time.UTC)

type fakeTimer struct {
	delay   time.Duration
	fire    func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (f *fakeTimers) afterFunc(d time.Duration, fn func()) stopper {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{delay: d, fire: fn}
	f.timers = append(f.timers, t)
	return t
}

func (f *fakeTimers) all() []*fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeTimer(nil), f.timers...)
}

type sessionDeps struct {
	gen       *mocks.StoryGenerator
	history   *mocks.HistoryRepository
	publisher *mocks.StoryEventPublisher
	player    *audio.Player
	timers    *fakeTimers
}

func newTestSession(t *testing.T, cfg SessionConfig) (*Session, *sessionDeps) {
	t.Helper()
	deps := &sessionDeps{
		gen:       mocks.NewStoryGenerator(t),
		history:   mocks.NewHistoryRepository(t),
		publisher: mocks.NewStoryEventPublisher(t),
		player:    audio.NewPlayer(zap.NewNop()),
		timers:    &fakeTimers{},
	}
	s := NewSession(deps.gen, deps.history, deps.player, deps.publisher, cfg, zap.NewNop())
	s.now = func() time.Time { return testNow }
	s.afterFunc = deps.timers.afterFunc
	return s, deps
}

func initSession(t *testing.T, s *Session, deps *sessionDeps, stored []models.Story) {
	t.Helper()
	deps.history.On("Load", mock.Anything).Return(stored, nil).Once()
	require.NoError(t, s.Init(context.Background()))
}

func fantasyIdeas() []models.StoryIdea {
	return []models.StoryIdea{
		{Title: "The Dragon Who Loved Books", IllustrationRef: "img-idea-1"},
		{Title: "The Moon Garden", IllustrationRef: "img-idea-2"},
		{Title: "A Star Named Pip", IllustrationRef: "img-idea-3"},
	}
}

// startTelling доводит сессию до фазы Telling с историей из одного шага.
func startTelling(t *testing.T, s *Session, deps *sessionDeps) {
	t.Helper()
	ctx := context.Background()
	deps.gen.On("FetchIdeas", mock.Anything, "Fantasy").Return(fantasyIdeas(), nil).Once()
	deps.gen.On("FetchOpeningStep", mock.Anything, "The Moon Garden").Return(&models.GeneratedStep{
		NarrativeText:        "Once upon a time, Luna found a silver seed.",
		Choices:              []string{"Plant it", "Show a friend", "Sing to it"},
		IllustrationRef:      "img-step-0",
		CharacterDescription: "a girl with a yellow raincoat",
	}, nil).Once()

	require.NoError(t, s.SelectCategory(ctx, "Fantasy"))
	require.NoError(t, s.SelectStoryIdea(ctx, "The Moon Garden"))
	require.Equal(t, models.PhaseTelling, s.Snapshot().Phase)
}

func TestSession_FantasyScenarioConcludesNaturally(t *testing.T) {
	s, deps := newTestSession(t, SessionConfig{})
	previous := models.Story{ID: uuid.New(), Title: "Yesterday", CategoryName: "Space", CurrentChoices: []string{}}
	initSession(t, s, deps, []models.Story{previous})
	ctx := context.Background()

	assert.Equal(t, models.AudioState{Track: catalog.TrackHome, Playing: true, Volume: audio.DefaultVolume, Loop: true}, s.Snapshot().Audio)

	deps.gen.On("FetchIdeas", mock.Anything, "Fantasy").Return(fantasyIdeas(), nil).Once()
	require.NoError(t, s.SelectCategory(ctx, "Fantasy"))

	snap := s.Snapshot()
	assert.Equal(t, models.PhaseStorySelect, snap.Phase)
	require.Len(t, snap.StoryIdeas, 3)
	require.NotNil(t, snap.CurrentCategory)
	assert.Equal(t, "Fantasy", snap.CurrentCategory.Name)

	deps.gen.On("FetchOpeningStep", mock.Anything, snap.StoryIdeas[1].Title).Return(&models.GeneratedStep{
		NarrativeText:        "Part 0",
		Choices:              []string{"c1", "c2", "c3"},
		IllustrationRef:      "img-0",
		CharacterDescription: "a fox",
	}, nil).Once()
	require.NoError(t, s.SelectStoryIdea(ctx, snap.StoryIdeas[1].Title))

	snap = s.Snapshot()
	assert.Equal(t, models.PhaseTelling, snap.Phase)
	assert.Equal(t, catalog.TrackFantasy, snap.Audio.Track)
	require.NotNil(t, snap.CurrentStory)
	assert.Len(t, snap.CurrentStory.Steps, 1)
	assert.Empty(t, snap.CurrentStory.Steps[0].ChoiceMade)

	deps.gen.On("FetchNextStep", mock.Anything, "The Moon Garden", "> \nPart 0", "c1", "a fox").
		Return(&models.GeneratedStep{NarrativeText: "Part 1", Choices: []string{"a1", "a2", "a3"}, IllustrationRef: "img-1"}, nil).Once()
	deps.gen.On("FetchNextStep", mock.Anything, "The Moon Garden", "> \nPart 0\n\n> c1\nPart 1", "a1", "a fox").
		Return(&models.GeneratedStep{NarrativeText: "Part 2", Choices: []string{"b1", "b2"}, IllustrationRef: "img-2"}, nil).Once()
	deps.gen.On("FetchNextStep", mock.Anything, "The Moon Garden", mock.Anything, "b1", "a fox").
		Return(&models.GeneratedStep{NarrativeText: "Part 3", Choices: []string{}, IllustrationRef: "img-3"}, nil).Once()

	deps.history.On("Save", mock.Anything, mock.MatchedBy(func(stories []models.Story) bool {
		return len(stories) == 2 &&
			stories[0].Title == "The Moon Garden" &&
			len(stories[0].Steps) == 4 &&
			stories[1].ID == previous.ID
	})).Return(nil).Once()
	deps.publisher.On("PublishStoryCompleted", mock.Anything, mock.MatchedBy(func(e models.StoryCompletedEvent) bool {
		return e.Title == "The Moon Garden" && e.Category == "Fantasy" && e.Steps == 4 &&
			e.Ending == models.EndingNatural && e.CompletedAt.Equal(testNow)
	})).Return(nil).Once()

	require.NoError(t, s.SelectChoice(ctx, "c1"))
	require.NoError(t, s.SelectChoice(ctx, "a1"))
	require.NoError(t, s.SelectChoice(ctx, "b1"))

	snap = s.Snapshot()
	assert.Equal(t, models.PhaseEnded, snap.Phase)
	assert.False(t, snap.IsLoading)
	assert.Nil(t, snap.LastError)
	assert.Equal(t, 2, snap.HistorySize)
	require.NotNil(t, snap.CurrentStory)
	require.Len(t, snap.CurrentStory.Steps, 4)
	assert.Equal(t, []string{"", "c1", "a1", "b1"}, []string{
		snap.CurrentStory.Steps[0].ChoiceMade,
		snap.CurrentStory.Steps[1].ChoiceMade,
		snap.CurrentStory.Steps[2].ChoiceMade,
		snap.CurrentStory.Steps[3].ChoiceMade,
	})
	assert.Empty(t, snap.CurrentStory.CurrentChoices)
	require.NotNil(t, snap.CurrentStory.CompletedAt)

	history := s.History()
	require.Len(t, history, 2)
	assert.Equal(t, snap.CurrentStory.ID, history[0].ID)
	assert.Equal(t, previous.ID, history[1].ID)

	timers := deps.timers.all()
	require.Len(t, timers, 1)
	assert.Equal(t, DefaultAmbientStopDelay, timers[0].delay)
	assert.True(t, s.Snapshot().Audio.Playing)

	timers[0].fire()
	assert.False(t, s.Snapshot().Audio.Playing)
	assert.Equal(t, catalog.TrackFantasy, s.Snapshot().Audio.Track)
}

func TestSession_SelectCategoryFailure(t *testing.T) {
	s, deps := newTestSession(t, SessionConfig{})
	initSession(t, s, deps, nil)

	deps.gen.On("FetchIdeas", mock.Anything, "Space").Return(nil, errors.New("connection refused")).Once()

	err := s.SelectCategory(context.Background(), "Space")
	require.ErrorIs(t, err, models.ErrIdeaFetchFailed)

	snap := s.Snapshot()
	assert.Equal(t, models.PhaseCategorySelect, snap.Phase)
	require.NotNil(t, snap.LastError)
	assert.Equal(t, models.MsgIdeaFetchFailed, *snap.LastError)
	assert.False(t, snap.IsLoading)
	assert.Empty(t, snap.StoryIdeas)
	assert.Nil(t, snap.CurrentCategory)

	// Повтор из той же фазы проходит и очищает ошибку
	deps.gen.On("FetchIdeas", mock.Anything, "Space").Return([]models.StoryIdea{}, nil).Once()
	require.NoError(t, s.SelectCategory(context.Background(), "Space"))

	snap = s.Snapshot()
	assert.Equal(t, models.PhaseStorySelect, snap.Phase)
	assert.Nil(t, snap.LastError)
	assert.NotNil(t, snap.StoryIdeas)
	assert.Empty(t, snap.StoryIdeas)
}

func TestSession_ForceFinish(t *testing.T) {
	s, deps := newTestSession(t, SessionConfig{})
	initSession(t, s, deps, nil)
	startTelling(t, s, deps)
	ctx := context.Background()

	deps.gen.On("FetchNextStep", mock.Anything, "The Moon Garden", mock.Anything, "Plant it", "a girl with a yellow raincoat").
		Return(&models.GeneratedStep{NarrativeText: "A sprout appeared.", Choices: []string{"Water it", "Wait"}, IllustrationRef: "img-1"}, nil).Once()
	require.NoError(t, s.SelectChoice(ctx, "Plant it"))
	require.Len(t, s.Snapshot().CurrentStory.Steps, 2)

	deps.gen.On("FetchClosingStep", mock.Anything, "The Moon Garden",
		mock.MatchedBy(func(transcript string) bool { return strings.Contains(transcript, "> Plant it\nA sprout appeared.") }),
		"a girl with a yellow raincoat").
		Return(&models.GeneratedStep{NarrativeText: "And the garden glowed.", Choices: []string{"ignored"}, IllustrationRef: "img-end"}, nil).Once()
	deps.history.On("Save", mock.Anything, mock.MatchedBy(func(stories []models.Story) bool {
		return len(stories) == 1 && len(stories[0].Steps) == 3
	})).Return(nil).Once()
	deps.publisher.On("PublishStoryCompleted", mock.Anything, mock.MatchedBy(func(e models.StoryCompletedEvent) bool {
		return e.Ending == models.EndingForced && e.Steps == 3
	})).Return(nil).Once()

	require.NoError(t, s.ForceFinish(ctx))

	snap := s.Snapshot()
	assert.Equal(t, models.PhaseEnded, snap.Phase)
	require.Len(t, snap.CurrentStory.Steps, 3)
	last := snap.CurrentStory.Steps[2]
	assert.Equal(t, models.ConclusionChoice, last.ChoiceMade)
	assert.Equal(t, "And the garden glowed.", last.NarrativeText)
	assert.Equal(t, "img-end", last.IllustrationRef)
	assert.NotNil(t, snap.CurrentStory.CurrentChoices)
	assert.Empty(t, snap.CurrentStory.CurrentChoices)
	assert.Equal(t, 1, snap.HistorySize)

	// После завершения продолжать историю нельзя
	assert.ErrorIs(t, s.SelectChoice(ctx, "Water it"), models.ErrInvalidPhase)
	assert.ErrorIs(t, s.ForceFinish(ctx), models.ErrInvalidPhase)
}

func TestSession_SaveFailureKeepsStoryRetryable(t *testing.T) {
	s, deps := newTestSession(t, SessionConfig{})
	initSession(t, s, deps, nil)
	startTelling(t, s, deps)
	ctx := context.Background()

	deps.gen.On("FetchNextStep", mock.Anything, "The Moon Garden", mock.Anything, "Sing to it", mock.Anything).
		Return(&models.GeneratedStep{NarrativeText: "The seed bloomed. The end.", Choices: nil, IllustrationRef: "img-1"}, nil).Twice()
	deps.history.On("Save", mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()

	err := s.SelectChoice(ctx, "Sing to it")
	require.ErrorIs(t, err, models.ErrStoryContinueFailed)

	snap := s.Snapshot()
	assert.Equal(t, models.PhaseTelling, snap.Phase)
	require.NotNil(t, snap.LastError)
	assert.Equal(t, models.MsgStoryContinueFailed, *snap.LastError)
	assert.Len(t, snap.CurrentStory.Steps, 1)
	assert.Len(t, snap.CurrentStory.CurrentChoices, 3)
	assert.Equal(t, 0, snap.HistorySize)
	assert.Empty(t, deps.timers.all())

	deps.history.On("Save", mock.Anything, mock.Anything).Return(nil).Once()
	deps.publisher.On("PublishStoryCompleted", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()

	// Ошибка публикации не влияет на сессию
	require.NoError(t, s.SelectChoice(ctx, "Sing to it"))
	snap = s.Snapshot()
	assert.Equal(t, models.PhaseEnded, snap.Phase)
	assert.Nil(t, snap.LastError)
	assert.Equal(t, 1, snap.HistorySize)
}

func TestSession_OpeningWithoutChoicesConcludesImmediately(t *testing.T) {
	s, deps := newTestSession(t, SessionConfig{})
	initSession(t, s, deps, nil)
	ctx := context.Background()

	deps.gen.On("FetchIdeas", mock.Anything, "Animals").Return([]models.StoryIdea{{Title: "Sleepy Bear"}}, nil).Once()
	deps.gen.On("FetchOpeningStep", mock.Anything, "Sleepy Bear").
		Return(&models.GeneratedStep{NarrativeText: "The storyteller seems to have lost their words!", Choices: []string{}}, nil).Once()
	deps.history.On("Save", mock.Anything, mock.MatchedBy(func(stories []models.Story) bool {
		return len(stories) == 1 && len(stories[0].Steps) == 1
	})).Return(nil).Once()
	deps.publisher.On("PublishStoryCompleted", mock.Anything, mock.Anything).Return(nil).Once()

	require.NoError(t, s.SelectCategory(ctx, "animals"))
	require.NoError(t, s.SelectStoryIdea(ctx, "Sleepy Bear"))

	snap := s.Snapshot()
	assert.Equal(t, models.PhaseEnded, snap.Phase)
	assert.Equal(t, catalog.TrackAnimals, snap.Audio.Track)
	assert.Len(t, deps.timers.all(), 1)
}

func TestSession_GoHomeFromAnyPhase(t *testing.T) {
	s, deps := newTestSession(t, SessionConfig{})
	initSession(t, s, deps, nil)

	assertHome := func(t *testing.T) {
		t.Helper()
		snap := s.Snapshot()
		assert.Equal(t, models.PhaseCategorySelect, snap.Phase)
		assert.Nil(t, snap.CurrentStory)
		assert.Nil(t, snap.CurrentCategory)
		assert.Nil(t, snap.LastError)
		assert.Empty(t, snap.StoryIdeas)
		assert.False(t, snap.IsLoading)
		assert.Equal(t, catalog.TrackHome, snap.Audio.Track)
		assert.True(t, snap.Audio.Playing)
	}

	s.GoHome()
	assertHome(t)
	s.GoHome()
	assertHome(t)

	startTelling(t, s, deps)
	s.GoHome()
	assertHome(t)

	require.NoError(t, s.ViewHistory())
	s.GoHome()
	assertHome(t)
}

func TestSession_GoHomeCancelsAmbientStop(t *testing.T) {
	s, deps := newTestSession(t, SessionConfig{AmbientStopDelay: time.Minute})
	initSession(t, s, deps, nil)
	startTelling(t, s, deps)

	deps.gen.On("FetchClosingStep", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&models.GeneratedStep{NarrativeText: "The end."}, nil).Once()
	deps.history.On("Save", mock.Anything, mock.Anything).Return(nil).Once()
	deps.publisher.On("PublishStoryCompleted", mock.Anything, mock.Anything).Return(nil).Once()
	require.NoError(t, s.ForceFinish(context.Background()))

	timers := deps.timers.all()
	require.Len(t, timers, 1)
	assert.Equal(t, time.Minute, timers[0].delay)

	s.GoHome()
	assert.True(t, timers[0].stopped)

	// Запоздалое срабатывание не выключает домашний трек
	timers[0].fire()
	audioState := s.Snapshot().Audio
	assert.Equal(t, catalog.TrackHome, audioState.Track)
	assert.True(t, audioState.Playing)
}

func TestSession_RejectsCallsOutsideContract(t *testing.T) {
	s, deps := newTestSession(t, SessionConfig{})
	initSession(t, s, deps, nil)
	ctx := context.Background()

	assert.ErrorIs(t, s.SelectCategory(ctx, "Cooking"), models.ErrUnknownCategory)
	assert.ErrorIs(t, s.SelectStoryIdea(ctx, "Anything"), models.ErrInvalidPhase)
	assert.ErrorIs(t, s.SelectChoice(ctx, "Anything"), models.ErrInvalidPhase)
	assert.ErrorIs(t, s.ForceFinish(ctx), models.ErrInvalidPhase)
	assert.ErrorIs(t, s.ReturnFromHistory(), models.ErrInvalidPhase)
	assert.ErrorIs(t, s.OpenHistoryEntry(uuid.New()), models.ErrInvalidPhase)

	deps.gen.On("FetchIdeas", mock.Anything, "Fantasy").Return(fantasyIdeas(), nil).Once()
	require.NoError(t, s.SelectCategory(ctx, "Fantasy"))
	assert.ErrorIs(t, s.SelectStoryIdea(ctx, "Not offered"), models.ErrUnknownIdea)
	assert.ErrorIs(t, s.ViewHistory(), models.ErrInvalidPhase)

	deps.gen.On("FetchOpeningStep", mock.Anything, "A Star Named Pip").
		Return(&models.GeneratedStep{NarrativeText: "Pip twinkled.", Choices: []string{"Fly"}}, nil).Once()
	require.NoError(t, s.SelectStoryIdea(ctx, "A Star Named Pip"))
	assert.ErrorIs(t, s.SelectChoice(ctx, "Swim"), models.ErrInvalidChoice)

	// Нарушения контракта не трогают lastError
	snap := s.Snapshot()
	assert.Nil(t, snap.LastError)
	assert.Equal(t, models.PhaseTelling, snap.Phase)
	assert.Len(t, snap.CurrentStory.Steps, 1)
}

func TestSession_BusyWhileLoading(t *testing.T) {
	s, deps := newTestSession(t, SessionConfig{})
	initSession(t, s, deps, nil)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	deps.gen.On("FetchIdeas", mock.Anything, "Space").
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(fantasyIdeas(), nil).Once()

	errCh := make(chan error, 1)
	go func() { errCh <- s.SelectCategory(ctx, "Space") }()
	<-started

	assert.True(t, s.Snapshot().IsLoading)
	assert.ErrorIs(t, s.SelectCategory(ctx, "Space"), models.ErrSessionBusy)
	assert.ErrorIs(t, s.ViewHistory(), models.ErrSessionBusy)

	close(release)
	require.NoError(t, <-errCh)
	snap := s.Snapshot()
	assert.False(t, snap.IsLoading)
	assert.Equal(t, models.PhaseStorySelect, snap.Phase)
}

func TestSession_GoHomeDiscardsInFlightResult(t *testing.T) {
	s, deps := newTestSession(t, SessionConfig{})
	initSession(t, s, deps, nil)
	ctx := context.Background()

	started := make(chan struct{})
	deps.gen.On("FetchIdeas", mock.Anything, "Mystery").
		Run(func(args mock.Arguments) {
			callCtx := args.Get(0).(context.Context)
			close(started)
			<-callCtx.Done()
		}).
		Return(fantasyIdeas(), nil).Once()

	errCh := make(chan error, 1)
	go func() { errCh <- s.SelectCategory(ctx, "Mystery") }()
	<-started

	s.GoHome()
	require.ErrorIs(t, <-errCh, models.ErrSessionReset)

	snap := s.Snapshot()
	assert.Equal(t, models.PhaseCategorySelect, snap.Phase)
	assert.Empty(t, snap.StoryIdeas)
	assert.Nil(t, snap.CurrentCategory)
	assert.Nil(t, snap.LastError)
	assert.False(t, snap.IsLoading)
}

func TestSession_GenerationTimeout(t *testing.T) {
	s, deps := newTestSession(t, SessionConfig{GenerationTimeout: 20 * time.Millisecond})
	initSession(t, s, deps, nil)

	deps.gen.On("FetchIdeas", mock.Anything, "Adventure").
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded).Once()

	err := s.SelectCategory(context.Background(), "Adventure")
	require.ErrorIs(t, err, models.ErrIdeaFetchFailed)

	snap := s.Snapshot()
	assert.Equal(t, models.PhaseCategorySelect, snap.Phase)
	assert.False(t, snap.IsLoading)
	require.NotNil(t, snap.LastError)
	assert.Equal(t, models.MsgIdeaFetchFailed, *snap.LastError)
}

func TestSession_HistoryNavigation(t *testing.T) {
	s, deps := newTestSession(t, SessionConfig{})
	older := models.Story{
		ID:             uuid.New(),
		Title:          "The Brave Little Rocket",
		CategoryName:   "Space",
		Steps:          []models.StoryStep{{NarrativeText: "Whoosh."}},
		CurrentChoices: []string{},
	}
	initSession(t, s, deps, []models.Story{older})

	require.NoError(t, s.ViewHistory())
	assert.Equal(t, models.PhaseHistory, s.Snapshot().Phase)
	assert.ErrorIs(t, s.OpenHistoryEntry(uuid.New()), models.ErrHistoryEntryNotFound)

	require.NoError(t, s.OpenHistoryEntry(older.ID))
	snap := s.Snapshot()
	assert.Equal(t, models.PhaseHistory, snap.Phase)
	require.NotNil(t, snap.CurrentStory)
	assert.Equal(t, older.ID, snap.CurrentStory.ID)
	assert.True(t, snap.CurrentStory.IsConcluded())

	require.NoError(t, s.ReturnFromHistory())
	snap = s.Snapshot()
	assert.Equal(t, models.PhaseCategorySelect, snap.Phase)
	require.NotNil(t, snap.CurrentStory)
	assert.Equal(t, older.ID, snap.CurrentStory.ID)

	// Просмотр не дает продолжить сохраненную историю
	assert.ErrorIs(t, s.SelectChoice(context.Background(), "anything"), models.ErrInvalidPhase)
}

func TestSession_ViewHistoryFromTellingAndEnded(t *testing.T) {
	s, deps := newTestSession(t, SessionConfig{})
	initSession(t, s, deps, nil)
	startTelling(t, s, deps)

	require.NoError(t, s.ViewHistory())
	require.NoError(t, s.ReturnFromHistory())
	assert.Equal(t, models.PhaseCategorySelect, s.Snapshot().Phase)
}

func TestSession_InitLoadFailure(t *testing.T) {
	s, deps := newTestSession(t, SessionConfig{})
	deps.history.On("Load", mock.Anything).Return(nil, errors.New("corrupted")).Once()

	err := s.Init(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupted")
}

func TestSession_SubscribersReceiveSnapshots(t *testing.T) {
	s, deps := newTestSession(t, SessionConfig{})
	initSession(t, s, deps, nil)

	var (
		mu        sync.Mutex
		snapshots []models.SessionSnapshot
	)
	unsubscribe := s.Subscribe(func(snap models.SessionSnapshot) {
		mu.Lock()
		snapshots = append(snapshots, snap)
		mu.Unlock()
	})

	deps.gen.On("FetchIdeas", mock.Anything, "Fantasy").Return(fantasyIdeas(), nil).Once()
	require.NoError(t, s.SelectCategory(context.Background(), "Fantasy"))

	mu.Lock()
	require.Len(t, snapshots, 2)
	assert.True(t, snapshots[0].IsLoading)
	assert.Equal(t, models.PhaseCategorySelect, snapshots[0].Phase)
	assert.False(t, snapshots[1].IsLoading)
	assert.Equal(t, models.PhaseStorySelect, snapshots[1].Phase)
	mu.Unlock()

	unsubscribe()
	s.GoHome()

	mu.Lock()
	assert.Len(t, snapshots, 2)
	mu.Unlock()
}

func TestSession_SnapshotIsACopy(t *testing.T) {
	s, deps := newTestSession(t, SessionConfig{})
	initSession(t, s, deps, nil)
	startTelling(t, s, deps)

	snap := s.Snapshot()
	snap.CurrentStory.CurrentChoices[0] = "tampered"
	snap.CurrentStory.Steps[0].NarrativeText = "tampered"
	snap.StoryIdeas[0].Title = "tampered"

	fresh := s.Snapshot()
	assert.Equal(t, "Plant it", fresh.CurrentStory.CurrentChoices[0])
	assert.NotEqual(t, "tampered", fresh.CurrentStory.Steps[0].NarrativeText)
	assert.Equal(t, "The Dragon Who Loved Books", fresh.StoryIdeas[0].Title)
}

func TestSession_GoHomeDoesNotWaitForHistorySave(t *testing.T) {
	s, deps := newTestSession(t, SessionConfig{GenerationTimeout: time.Minute})
	initSession(t, s, deps, nil)
	startTelling(t, s, deps)

	deps.gen.On("FetchClosingStep", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&models.GeneratedStep{NarrativeText: "The end."}, nil).Once()

	started := make(chan struct{})
	var hasDeadline bool
	deps.history.On("Save", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			saveCtx := args.Get(0).(context.Context)
			_, hasDeadline = saveCtx.Deadline()
			close(started)
			<-saveCtx.Done()
		}).
		Return(context.Canceled).Once()

	errCh := make(chan error, 1)
	go func() { errCh <- s.ForceFinish(context.WithoutCancel(context.Background())) }()
	<-started
	assert.True(t, hasDeadline)
	assert.True(t, s.Snapshot().IsLoading)

	homeDone := make(chan struct{})
	go func() {
		s.GoHome()
		close(homeDone)
	}()
	select {
	case <-homeDone:
	case <-time.After(time.Second):
		t.Fatal("GoHome blocked while history was being saved")
	}

	require.ErrorIs(t, <-errCh, models.ErrSessionReset)
	snap := s.Snapshot()
	assert.Equal(t, models.PhaseCategorySelect, snap.Phase)
	assert.Nil(t, snap.CurrentStory)
	assert.False(t, snap.IsLoading)
	assert.Equal(t, 0, snap.HistorySize)
	assert.Empty(t, deps.timers.all())
}

func TestSession_SaveCompletedAfterResetIsKept(t *testing.T) {
	s, deps := newTestSession(t, SessionConfig{})
	initSession(t, s, deps, nil)
	startTelling(t, s, deps)

	deps.gen.On("FetchClosingStep", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&models.GeneratedStep{NarrativeText: "The end."}, nil).Once()

	started := make(chan struct{})
	release := make(chan struct{})
	deps.history.On("Save", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(nil).Once()

	errCh := make(chan error, 1)
	go func() { errCh <- s.ForceFinish(context.Background()) }()
	<-started

	s.GoHome()
	close(release)

	require.ErrorIs(t, <-errCh, models.ErrSessionReset)
	snap := s.Snapshot()
	assert.Equal(t, models.PhaseCategorySelect, snap.Phase)
	assert.Nil(t, snap.CurrentStory)
	assert.Equal(t, 1, snap.HistorySize)
	require.Len(t, s.History(), 1)
	assert.Equal(t, "The Moon Garden", s.History()[0].Title)
}

func TestSession_ReturnFromHistoryRestoresHomeTrack(t *testing.T) {
	s, deps := newTestSession(t, SessionConfig{AmbientStopDelay: time.Minute})
	initSession(t, s, deps, nil)
	startTelling(t, s, deps)
	require.Equal(t, catalog.TrackFantasy, s.Snapshot().Audio.Track)

	deps.gen.On("FetchClosingStep", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&models.GeneratedStep{NarrativeText: "The end."}, nil).Once()
	deps.history.On("Save", mock.Anything, mock.Anything).Return(nil).Once()
	deps.publisher.On("PublishStoryCompleted", mock.Anything, mock.Anything).Return(nil).Once()
	require.NoError(t, s.ForceFinish(context.Background()))

	timers := deps.timers.all()
	require.Len(t, timers, 1)

	require.NoError(t, s.ViewHistory())
	assert.Equal(t, catalog.TrackFantasy, s.Snapshot().Audio.Track)
	require.NoError(t, s.ReturnFromHistory())

	assert.True(t, timers[0].stopped)
	timers[0].fire()

	snap := s.Snapshot()
	assert.Equal(t, models.PhaseCategorySelect, snap.Phase)
	assert.Equal(t, catalog.TrackHome, snap.Audio.Track)
	assert.True(t, snap.Audio.Playing)
}
