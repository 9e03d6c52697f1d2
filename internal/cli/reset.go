package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	billingapp "videomonitoring/internal/billing/application"
	"videomonitoring/internal/store"
	"videomonitoring/internal/store/postgres"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Run the monthly counter reset once.",
	Long: `Rolls every account still in a previous billing period into the current one.
Safe to run repeatedly: accounts already in the current period are skipped.`,
	Args: cobra.NoArgs,
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

		pg, err := postgres.New(db, log)
		if err != nil {
			return err
		}
		st := store.WithRetry(pg, retryPolicy(cfg), log)
		svc, err := billingapp.NewService(st, billingapp.WithLogger(log), billingapp.WithLocation(cfg.Location()))
		if err != nil {
			return err
		}

		report, err := svc.RunMonthlyReset(ctx)
		log.Info("monthly reset finished",
			zap.Time("period_start", report.PeriodStart),
			zap.Int("reset", report.Reset),
			zap.Int("skipped", report.Skipped),
			zap.Int("failed", report.Failed))
		return err
	},
}
