package cmd

import (
	"context"
	"fmt"

	"github.com/jmehdipour/ops-messaging/internal/app"
	"github.com/jmehdipour/ops-messaging/internal/repository"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed demo operators (idempotent on api key)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := app.Bootstrap(cfgPath)
		if err != nil {
			return err
		}

		sqlDB, err := app.OpenMySQL(cfg)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		repo := repository.NewOperatorsRepository(sqlDB)
		ctx := context.Background()
		for _, op := range app.DemoOperators() {
			if err := repo.Upsert(ctx, op); err != nil {
				return fmt.Errorf("upsert operator %q: %w", op.Name, err)
			}
			log.Info("operator seeded", zap.String("name", op.Name), zap.String("status", op.Status))
		}
		return nil
	},
}
