package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "unigigs-api",
		Short:         "UniGigs marketplace API",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
		RunE: runServe,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	cmd.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
	)
	return cmd
}

func newLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", "unigigs-api").Logger()
}
