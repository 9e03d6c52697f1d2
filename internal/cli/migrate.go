package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"videomonitoring/internal/store/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded database schema.",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, stop := signalContext()
		defer stop()

		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		db, err := openDB(ctx, cfg.Database)
		if err != nil {
			log.Error("open database", zap.Error(err))
			return err
		}
		defer db.Close()

		applied, err := postgres.Migrate(ctx, db)
		if err != nil {
			log.Error("migrate", zap.Error(err))
			return err
		}
		log.Info("migrations applied", zap.Strings("versions", applied))
		return nil
	},
}
