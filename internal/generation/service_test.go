package generation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dreamweaver/pkg/ai"
)

type mockAIClient struct {
	mock.Mock
}

func (m *mockAIClient) GenerateText(ctx context.Context, operation, systemPrompt, userInput string, params ai.GenerationParams) (string, ai.UsageInfo, error) {
	args := m.Called(ctx, operation, systemPrompt, userInput, params)
	return args.String(0), ai.UsageInfo{}, args.Error(1)
}

type mockImageGenerator struct {
	mock.Mock
}

func (m *mockImageGenerator) Generate(ctx context.Context, prompt, ratio string) (string, error) {
	args := m.Called(ctx, prompt, ratio)
	return args.String(0), args.Error(1)
}

func containing(sub string) interface{} {
	return mock.MatchedBy(func(s string) bool { return strings.Contains(s, sub) })
}

type recordedWaits struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedWaits) wait(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func newTestService(t *testing.T, policy string) (*Service, *mockAIClient, *mockImageGenerator, *recordedWaits) {
	t.Helper()
	aiClient := &mockAIClient{}
	images := &mockImageGenerator{}
	t.Cleanup(func() {
		aiClient.AssertExpectations(t)
		images.AssertExpectations(t)
	})
	svc := NewService(aiClient, images, Config{
		MalformedPolicy: policy,
		MaxAttempts:     3,
		BaseRetryDelay:  100 * time.Millisecond,
		Temperature:     0.9,
	}, zap.NewNop())
	waits := &recordedWaits{}
	svc.wait = waits.wait
	return svc, aiClient, images, waits
}

func TestFetchIdeas_KeepsModelOrder(t *testing.T) {
	svc, aiClient, images, _ := newTestService(t, PolicyDegrade)
	ctx := context.Background()

	aiClient.On("GenerateText", mock.Anything, opIdeas, ideasSystemPrompt, containing("'Fantasy'"), mock.Anything).
		Return(`{"ideas": ["The Dragon Who Loved Books", "The Moon Garden", "A Star Named Pip"]}`, nil).Once()

	// Картинки готовы в обратном порядке: Pip, затем Dragon, затем Moon
	var (
		mu       sync.Mutex
		finished []string
	)
	pipDone := make(chan struct{})
	dragonDone := make(chan struct{})
	record := func(name string) {
		mu.Lock()
		finished = append(finished, name)
		mu.Unlock()
	}
	images.On("Generate", mock.Anything, containing("The Dragon Who Loved Books"), "16:9").
		Run(func(mock.Arguments) {
			<-pipDone
			record("dragon")
			close(dragonDone)
		}).
		Return("img-dragon", nil).Once()
	images.On("Generate", mock.Anything, containing("The Moon Garden"), "16:9").
		Run(func(mock.Arguments) {
			<-dragonDone
			record("moon")
		}).
		Return("img-moon", nil).Once()
	images.On("Generate", mock.Anything, containing("A Star Named Pip"), "16:9").
		Run(func(mock.Arguments) {
			record("pip")
			close(pipDone)
		}).
		Return("img-pip", nil).Once()

	ideas, err := svc.FetchIdeas(ctx, "Fantasy")
	require.NoError(t, err)
	require.Len(t, ideas, 3)
	assert.Equal(t, "The Dragon Who Loved Books", ideas[0].Title)
	assert.Equal(t, "img-dragon", ideas[0].IllustrationRef)
	assert.Equal(t, "The Moon Garden", ideas[1].Title)
	assert.Equal(t, "img-moon", ideas[1].IllustrationRef)
	assert.Equal(t, "A Star Named Pip", ideas[2].Title)
	assert.Equal(t, "img-pip", ideas[2].IllustrationRef)

	mu.Lock()
	assert.Equal(t, []string{"pip", "dragon", "moon"}, finished)
	mu.Unlock()
}

func TestFetchIdeas_CapsAtThree(t *testing.T) {
	svc, aiClient, images, _ := newTestService(t, PolicyDegrade)

	aiClient.On("GenerateText", mock.Anything, opIdeas, mock.Anything, mock.Anything, mock.Anything).
		Return(`{"ideas": ["A", "B", "C", "D", "E"]}`, nil).Once()
	images.On("Generate", mock.Anything, mock.Anything, "16:9").Return("img", nil).Times(3)

	ideas, err := svc.FetchIdeas(context.Background(), "Animals")
	require.NoError(t, err)
	assert.Len(t, ideas, 3)
}

func TestFetchIdeas_IllustrationFailureFailsWholeOperation(t *testing.T) {
	svc, aiClient, images, _ := newTestService(t, PolicyDegrade)

	aiClient.On("GenerateText", mock.Anything, opIdeas, mock.Anything, mock.Anything, mock.Anything).
		Return(`{"ideas": ["A", "B"]}`, nil).Once()
	images.On("Generate", mock.Anything, containing(": A."), "16:9").Return("img-a", nil).Maybe()
	images.On("Generate", mock.Anything, containing(": B."), "16:9").Return("", errors.New("quota exceeded")).Once()

	ideas, err := svc.FetchIdeas(context.Background(), "Space")
	require.Error(t, err)
	assert.Nil(t, ideas)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestFetchIdeas_MalformedResponse(t *testing.T) {
	t.Run("degrade returns no ideas", func(t *testing.T) {
		svc, aiClient, _, _ := newTestService(t, PolicyDegrade)
		aiClient.On("GenerateText", mock.Anything, opIdeas, mock.Anything, mock.Anything, mock.Anything).
			Return("sorry, I can't", nil).Once()

		ideas, err := svc.FetchIdeas(context.Background(), "Space")
		require.NoError(t, err)
		assert.NotNil(t, ideas)
		assert.Empty(t, ideas)
	})

	t.Run("fail returns error", func(t *testing.T) {
		svc, aiClient, _, _ := newTestService(t, PolicyFail)
		aiClient.On("GenerateText", mock.Anything, opIdeas, mock.Anything, mock.Anything, mock.Anything).
			Return("sorry, I can't", nil).Once()

		_, err := svc.FetchIdeas(context.Background(), "Space")
		assert.ErrorIs(t, err, errMalformedResponse)
	})
}

func TestFetchOpeningStep_UsesFreshCharacterDescription(t *testing.T) {
	svc, aiClient, images, _ := newTestService(t, PolicyDegrade)

	aiClient.On("GenerateText", mock.Anything, opOpening, storySystemPrompt, containing(`"The Moon Garden"`), mock.Anything).
		Return("```json\n{\"storyPart\": \"Once upon a time...\", \"choices\": [\"Fly\", \"Swim\", \"Sing\"], \"characterDescription\": \"a small girl in a yellow raincoat\"}\n```", nil).Once()
	images.On("Generate", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, "The Moon Garden") && strings.Contains(p, "a small girl in a yellow raincoat")
	}), "16:9").Return("img-1", nil).Once()

	step, err := svc.FetchOpeningStep(context.Background(), "The Moon Garden")
	require.NoError(t, err)
	assert.Equal(t, "Once upon a time...", step.NarrativeText)
	assert.Equal(t, []string{"Fly", "Swim", "Sing"}, step.Choices)
	assert.Equal(t, "img-1", step.IllustrationRef)
	assert.Equal(t, "a small girl in a yellow raincoat", step.CharacterDescription)
}

func TestFetchNextStep_IllustratesNewText(t *testing.T) {
	svc, aiClient, images, _ := newTestService(t, PolicyDegrade)

	aiClient.On("GenerateText", mock.Anything, opNext, storySystemPrompt, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, "> \nOnce upon a time") && strings.Contains(p, `"Fly"`)
	}), mock.Anything).
		Return(`{"storyPart": "She flew over the hills.", "choices": ["Land", "Keep flying"]}`, nil).Once()
	images.On("Generate", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, "She flew over the hills.") && strings.Contains(p, "yellow raincoat")
	}), "16:9").Return("img-2", nil).Once()

	step, err := svc.FetchNextStep(context.Background(), "The Moon Garden", "> \nOnce upon a time", "Fly", "yellow raincoat")
	require.NoError(t, err)
	assert.Equal(t, "She flew over the hills.", step.NarrativeText)
	assert.Equal(t, []string{"Land", "Keep flying"}, step.Choices)
	assert.Equal(t, "img-2", step.IllustrationRef)
}

func TestFetchNextStep_MalformedDegradesToConclusion(t *testing.T) {
	svc, aiClient, images, _ := newTestService(t, PolicyDegrade)

	aiClient.On("GenerateText", mock.Anything, opNext, mock.Anything, mock.Anything, mock.Anything).
		Return(`{"storyPart": `, nil).Once()
	images.On("Generate", mock.Anything, containing(lostWordsNarrative), "16:9").Return("img-lost", nil).Once()

	step, err := svc.FetchNextStep(context.Background(), "T", "> \nx", "Fly", "")
	require.NoError(t, err)
	assert.Equal(t, lostWordsNarrative, step.NarrativeText)
	assert.Empty(t, step.Choices)
}

func TestFetchClosingStep_AlwaysWithoutChoices(t *testing.T) {
	svc, aiClient, images, _ := newTestService(t, PolicyDegrade)

	aiClient.On("GenerateText", mock.Anything, opClosing, storySystemPrompt, containing("concluding paragraph"), mock.Anything).
		Return(`{"storyPart": "And everyone slept soundly.", "choices": ["More?"]}`, nil).Once()
	images.On("Generate", mock.Anything, containing("And everyone slept soundly."), "16:9").Return("img-end", nil).Once()

	step, err := svc.FetchClosingStep(context.Background(), "T", "> \nx", "")
	require.NoError(t, err)
	assert.Equal(t, "And everyone slept soundly.", step.NarrativeText)
	assert.NotNil(t, step.Choices)
	assert.Empty(t, step.Choices)
}

func TestGenerateText_RetriesTransportErrors(t *testing.T) {
	svc, aiClient, images, waits := newTestService(t, PolicyDegrade)

	aiClient.On("GenerateText", mock.Anything, opOpening, mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("connection reset")).Twice()
	aiClient.On("GenerateText", mock.Anything, opOpening, mock.Anything, mock.Anything, mock.Anything).
		Return(`{"storyPart": "Hello.", "choices": ["A"]}`, nil).Once()
	images.On("Generate", mock.Anything, mock.Anything, "16:9").Return("img", nil).Once()

	step, err := svc.FetchOpeningStep(context.Background(), "T")
	require.NoError(t, err)
	assert.Equal(t, "Hello.", step.NarrativeText)

	require.Len(t, waits.delays, 2)
	// 100ms и 200ms с джиттером +-10%
	assert.InDelta(t, float64(100*time.Millisecond), float64(waits.delays[0]), float64(10*time.Millisecond)+1)
	assert.InDelta(t, float64(200*time.Millisecond), float64(waits.delays[1]), float64(20*time.Millisecond)+1)
}

func TestGenerateText_GivesUpAfterMaxAttempts(t *testing.T) {
	svc, aiClient, _, waits := newTestService(t, PolicyDegrade)
	transportErr := errors.New("service unavailable")

	aiClient.On("GenerateText", mock.Anything, opClosing, mock.Anything, mock.Anything, mock.Anything).
		Return("", transportErr).Times(3)

	_, err := svc.FetchClosingStep(context.Background(), "T", "x", "")
	assert.ErrorIs(t, err, transportErr)
	assert.Len(t, waits.delays, 2)
}

func TestGenerateText_DoesNotRetryAfterCancel(t *testing.T) {
	svc, aiClient, _, waits := newTestService(t, PolicyDegrade)
	ctx, cancel := context.WithCancel(context.Background())

	aiClient.On("GenerateText", mock.Anything, opIdeas, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return("", errors.New("request aborted")).Once()

	_, err := svc.FetchIdeas(ctx, "Space")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, waits.delays)
}

func TestGenerateText_MalformedIsNotRetried(t *testing.T) {
	svc, aiClient, _, waits := newTestService(t, PolicyFail)

	aiClient.On("GenerateText", mock.Anything, opOpening, mock.Anything, mock.Anything, mock.Anything).
		Return("not json at all", nil).Once()

	_, err := svc.FetchOpeningStep(context.Background(), "T")
	assert.ErrorIs(t, err, errMalformedResponse)
	assert.Empty(t, waits.delays)
}
