package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"quizbot/internal/storage"
	"quizbot/pkg/logx"
)

const programName = "quizbot"

// exitStorage tells supervisors the database, not the bot, is at fault.
const exitStorage = 3

var configFile string

func commonRun(log logx.Logger) {
	// .env is optional; real environment variables win
	_ = godotenv.Load(".env")
	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, v ...any) {
		log.Debug(fmt.Sprintf(format, v...))
	})); err != nil {
		log.Warn("GOMAXPROCS not adjusted", logx.Err(err))
	}
}

func exitCode(err error) int {
	if errors.Is(err, storage.ErrUnavailable) {
		return exitStorage
	}
	return 1
}

func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Quiz content and notification bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serveRun,
	}
	rootCmd.PersistentFlags().
		StringVar(&configFile, "config", "./config.json", "path to config file (json or yaml)")

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(migrateCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(exitCode(err))
	}
}
