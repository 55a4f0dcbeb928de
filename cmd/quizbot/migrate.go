package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"quizbot/internal/app"
	"quizbot/internal/config"
	"quizbot/pkg/logx"
)

func migrateCommand() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logx.NewConsole("INFO")
			commonRun(log)
			// the token is not needed here, so the config is not validated
			cfg, err := config.NewManager(configFile).Parse()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return app.Migrate(ctx, cfg, log)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "give up after this long")
	return cmd
}
