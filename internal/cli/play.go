package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dreamweaver/internal/app"
	"dreamweaver/internal/models"
)

// Ключи действий меню
const (
	actionCategory = "category"
	actionIdea     = "idea"
	actionChoice   = "choice"
	actionFinish   = "finish"
	actionHome     = "home"
	actionHistory  = "history"
	actionReturn   = "return"
	actionOpen     = "open"
	actionQuit     = "quit"
)

// storySession - операции сессии, которыми управляет терминальный клиент.
type storySession interface {
	SelectCategory(ctx context.Context, name string) error
	SelectStoryIdea(ctx context.Context, title string) error
	SelectChoice(ctx context.Context, choice string) error
	ForceFinish(ctx context.Context) error
	GoHome()
	ViewHistory() error
	ReturnFromHistory() error
	OpenHistoryEntry(id uuid.UUID) error
	Snapshot() models.SessionSnapshot
	History() []models.Story
}

func newPlayCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "play",
		Short: "Tell an interactive bedtime story",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			application, err := app.New(ctx, opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := application.Close(); err != nil {
					opts.logger.Warn("Failed to release resources", zap.Error(err))
				}
			}()

			loop := newPlayLoop(ctx, application.Session, huhPrompter{}, cmd.OutOrStdout())
			return loop.run()
		},
	}
}

// playLoop рисует текущий экран сессии и выполняет выбранное действие.
type playLoop struct {
	ctx     context.Context
	session storySession
	prompt  prompter
	out     io.Writer

	// Что уже напечатано, чтобы не повторять шаги при каждом проходе
	shownStory uuid.UUID
	shownSteps int
	shownEnd   bool
	lastAudio  models.AudioState
}

func newPlayLoop(ctx context.Context, session storySession, prompt prompter, out io.Writer) *playLoop {
	return &playLoop{ctx: ctx, session: session, prompt: prompt, out: out}
}

func (l *playLoop) run() error {
	fmt.Fprintln(l.out, "Welcome to DreamWeaver. What kind of story shall we tell tonight?")
	for {
		snap := l.session.Snapshot()
		l.showAudio(snap.Audio)

		title, options := l.menu(snap)
		value, err := l.prompt.Select(title, options)
		if err == errQuit {
			return nil
		}
		if err != nil {
			return err
		}
		if err := l.dispatch(value); err == errQuit {
			fmt.Fprintln(l.out, "Sweet dreams!")
			return nil
		}
	}
}

// menu строит меню для текущей фазы и печатает то, что нужно увидеть перед выбором.
func (l *playLoop) menu(snap models.SessionSnapshot) (string, []menuOption) {
	switch snap.Phase {
	case models.PhaseStorySelect:
		options := make([]menuOption, 0, len(snap.StoryIdeas)+1)
		for _, idea := range snap.StoryIdeas {
			options = append(options, menuOption{Label: idea.Title, Value: actionIdea + ":" + idea.Title})
		}
		options = append(options, menuOption{Label: "Back home", Value: actionHome})
		title := "Pick a story"
		if snap.CurrentCategory != nil {
			title = fmt.Sprintf("Pick a %s story", snap.CurrentCategory.Name)
		}
		if len(snap.StoryIdeas) == 0 {
			title = "No ideas this time. Try another category"
		}
		return title, options

	case models.PhaseTelling:
		l.showStory(snap.CurrentStory)
		options := []menuOption{}
		if snap.CurrentStory != nil {
			for _, choice := range snap.CurrentStory.CurrentChoices {
				options = append(options, menuOption{Label: choice, Value: actionChoice + ":" + choice})
			}
		}
		options = append(options,
			menuOption{Label: "Finish the story", Value: actionFinish},
			menuOption{Label: "Home", Value: actionHome},
			menuOption{Label: "History", Value: actionHistory},
		)
		return "What happens next?", options

	case models.PhaseEnded:
		l.showStory(snap.CurrentStory)
		return "Good night!", []menuOption{
			{Label: "Another story", Value: actionHome},
			{Label: "History", Value: actionHistory},
			{Label: "Quit", Value: actionQuit},
		}

	case models.PhaseHistory:
		stories := l.session.History()
		options := make([]menuOption, 0, len(stories)+2)
		for _, s := range stories {
			options = append(options, menuOption{
				Label: fmt.Sprintf("%s (%s, %s)", s.Title, s.CategoryName, formatTime(s.CompletedAt)),
				Value: actionOpen + ":" + s.ID.String(),
			})
		}
		options = append(options,
			menuOption{Label: "Back", Value: actionReturn},
			menuOption{Label: "Quit", Value: actionQuit},
		)
		return fmt.Sprintf("Story history (%d)", snap.HistorySize), options

	default:
		options := make([]menuOption, 0, len(snap.Categories)+2)
		for _, c := range snap.Categories {
			options = append(options, menuOption{
				Label: fmt.Sprintf("%s %s - %s", c.Emoji, c.Name, c.Description),
				Value: actionCategory + ":" + c.Name,
			})
		}
		options = append(options,
			menuOption{Label: "History", Value: actionHistory},
			menuOption{Label: "Quit", Value: actionQuit},
		)
		return "Choose a category", options
	}
}

func (l *playLoop) dispatch(value string) error {
	action, arg, _ := strings.Cut(value, ":")
	switch action {
	case actionCategory:
		return l.generate("Dreaming up stories...", func() error { return l.session.SelectCategory(l.ctx, arg) })
	case actionIdea:
		return l.generate("Opening the storybook...", func() error { return l.session.SelectStoryIdea(l.ctx, arg) })
	case actionChoice:
		return l.generate("Turning the page...", func() error { return l.session.SelectChoice(l.ctx, arg) })
	case actionFinish:
		return l.generate("Writing the ending...", func() error { return l.session.ForceFinish(l.ctx) })
	case actionHome:
		l.session.GoHome()
	case actionHistory:
		l.report(l.session.ViewHistory())
	case actionReturn:
		l.report(l.session.ReturnFromHistory())
	case actionOpen:
		id, err := uuid.Parse(arg)
		if err != nil {
			l.report(err)
			return nil
		}
		if err := l.session.OpenHistoryEntry(id); err != nil {
			l.report(err)
			return nil
		}
		if story := l.session.Snapshot().CurrentStory; story != nil {
			renderStory(l.out, story)
		}
	case actionQuit:
		return errQuit
	}
	return nil
}

// generate выполняет вызов генератора под спиннером.
func (l *playLoop) generate(title string, op func() error) error {
	l.report(l.prompt.Spin(title, op))
	return nil
}

// report печатает ошибку. Для сбоев генерации печатается текст для пользователя.
func (l *playLoop) report(err error) {
	if err == nil {
		return
	}
	if msg := models.UserMessage(err); msg != "" {
		fmt.Fprintf(l.out, "! %s\n", msg)
		return
	}
	fmt.Fprintf(l.out, "! %v\n", err)
}

// showStory допечатывает новые шаги текущей истории.
func (l *playLoop) showStory(story *models.Story) {
	if story == nil {
		return
	}
	if story.ID != l.shownStory {
		l.shownStory = story.ID
		l.shownSteps = 0
		l.shownEnd = false
		renderStoryHeader(l.out, story)
	}
	for ; l.shownSteps < len(story.Steps); l.shownSteps++ {
		renderStep(l.out, story.Steps[l.shownSteps])
	}
	if story.IsConcluded() && !l.shownEnd {
		l.shownEnd = true
		fmt.Fprintln(l.out, "\nThe End.")
	}
}

func (l *playLoop) showAudio(audio models.AudioState) {
	if audio == l.lastAudio {
		return
	}
	l.lastAudio = audio
	renderAudio(l.out, audio)
}
