package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"allies-service/internal/config"
	"allies-service/internal/db"
)

func NewMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			logger := newLogger(cfg)

			database, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
			if err != nil {
				return err
			}
			defer database.Close()

			logger.Info("migrations applied", "driver", cfg.DBDriver)
			return nil
		},
	}
}
