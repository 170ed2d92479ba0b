package cmd

import (
	"context"
	"errors"

	"github.com/anatech/leadscout/database"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required")
		}
		if err := database.ConnectWithConfig(cfg.DatabaseURL, &cfg.Unified.Database); err != nil {
			return err
		}
		defer database.Close()

		ctx := context.Background()
		if err := database.Migrate(ctx, database.DB); err != nil {
			return err
		}
		missing, err := database.MissingTables(ctx, database.DB)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			logrus.WithField("component", "Migrate").Warnf("Tables still missing: %v", missing)
			return errors.New("schema incomplete")
		}
		logrus.WithField("component", "Migrate").Info("Schema is up to date")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
