// Package cli - терминальный клиент рассказчика.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dreamweaver/internal/config"
	"dreamweaver/pkg/logger"
)

type rootOptions struct {
	envFile  string
	logLevel string

	cfg    *config.Config
	logger *zap.Logger
}

// NewRootCmd создает корневую команду storyteller.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "storyteller",
		Short:         "Interactive bedtime stories in the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load()
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "path to the .env file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	cmd.AddCommand(newPlayCmd(opts), newHistoryCmd(opts))
	return cmd
}

// Execute запускает CLI.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// load читает конфигурацию и строит логгер. Логи идут в stderr, чтобы не мешать меню.
func (o *rootOptions) load() error {
	cfg, err := config.Load(o.envFile)
	if err != nil {
		return err
	}
	log, err := logger.New(logger.Config{
		Level:      o.logLevel,
		Encoding:   "console",
		OutputPath: "stderr",
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	o.cfg = cfg
	o.logger = log
	return nil
}
