package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"dreamweaver/internal/models"
)

const timeLayout = "2006-01-02 15:04"

func renderStep(w io.Writer, step models.StoryStep) {
	if step.ChoiceMade != "" {
		fmt.Fprintf(w, "\n> %s\n", step.ChoiceMade)
	}
	fmt.Fprintf(w, "\n%s\n", step.NarrativeText)
	if step.IllustrationRef != "" {
		fmt.Fprintf(w, "[illustration: %s]\n", shorten(step.IllustrationRef, 120))
	}
}

func renderStoryHeader(w io.Writer, story *models.Story) {
	fmt.Fprintf(w, "\n=== %s (%s) ===\n", story.Title, story.CategoryName)
}

// renderStory печатает историю целиком.
func renderStory(w io.Writer, story *models.Story) {
	renderStoryHeader(w, story)
	for _, step := range story.Steps {
		renderStep(w, step)
	}
	if story.IsConcluded() {
		fmt.Fprintln(w, "\nThe End.")
	}
}

func renderAudio(w io.Writer, audio models.AudioState) {
	if !audio.Playing {
		fmt.Fprintln(w, "♪ music is off")
		return
	}
	fmt.Fprintf(w, "♪ %s (volume %.0f%%)\n", audio.Track, audio.Volume*100)
}

// renderHistoryList печатает таблицу сохраненных историй.
func renderHistoryList(w io.Writer, stories []models.Story) error {
	if len(stories) == 0 {
		_, err := fmt.Fprintln(w, "No stories yet.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tCATEGORY\tSTEPS\tCOMPLETED")
	for _, s := range stories {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", s.ID, s.Title, s.CategoryName, len(s.Steps), formatTime(s.CompletedAt))
	}
	return tw.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

// shorten обрезает длинные data URL.
func shorten(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return strings.TrimSpace(s[:limit]) + "..."
}
