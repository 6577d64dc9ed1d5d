package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noah-isme/unigigs-api/internal/config"
	"github.com/noah-isme/unigigs-api/internal/database"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			logger := newLogger()

			db, err := database.Open(cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}

			if err := database.Migrate(db); err != nil {
				return fmt.Errorf("migrate database: %w", err)
			}
			logger.Info().Msg("database migrated")
			return nil
		},
	}
}
