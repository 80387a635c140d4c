package worker

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/ops-messaging/internal/app"
	"github.com/jmehdipour/ops-messaging/internal/approval"
	"github.com/jmehdipour/ops-messaging/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sweeperCmd = &cobra.Command{
	Use:   "sweeper",
	Short: "Expire overdue pending workflows on an interval",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
		cfg, log, err := app.Bootstrap(cfgPath)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		metrics.MustRegister(prometheus.DefaultRegisterer)

		core, err := app.Build(cfg, log)
		if err != nil {
			return err
		}
		defer core.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("sweeper started",
			zap.Duration("interval", cfg.Approval.SweepInterval),
			zap.Int("batch", cfg.Approval.SweepBatchSize),
		)
		return approval.NewSweeper(core.Engine, cfg.Approval.SweepInterval, log.Named("sweeper")).Run(ctx)
	},
}
