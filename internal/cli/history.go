package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"dreamweaver/internal/app"
	"dreamweaver/internal/models"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse finished stories",
	}
	cmd.AddCommand(newHistoryListCmd(opts), newHistoryShowCmd(opts))
	return cmd
}

func newHistoryListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List finished stories, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stories, err := loadHistory(cmd, opts)
			if err != nil {
				return err
			}
			return renderHistoryList(cmd.OutOrStdout(), stories)
		},
	}
}

func newHistoryShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a finished story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid story id %q: %w", args[0], err)
			}
			stories, err := loadHistory(cmd, opts)
			if err != nil {
				return err
			}
			for i := range stories {
				if stories[i].ID == id {
					renderStory(cmd.OutOrStdout(), &stories[i])
					return nil
				}
			}
			return fmt.Errorf("%w: %s", models.ErrHistoryEntryNotFound, id)
		},
	}
}

// loadHistory читает историю напрямую из хранилища, без генераторов и сессии.
func loadHistory(cmd *cobra.Command, opts *rootOptions) ([]models.Story, error) {
	repo, closeRepo, err := app.OpenHistory(cmd.Context(), opts.cfg, opts.logger)
	if err != nil {
		return nil, err
	}
	defer func() { _ = closeRepo() }()
	return repo.Load(cmd.Context())
}
